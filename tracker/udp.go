package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/url"
	"time"
)

const (
	udpProtocolID  = 0x41727101980
	udpConnectOp   = 0
	udpAnnounceOp  = 1
	udpErrorOp     = 3
	udpConnectLen  = 16
	udpDialTimeout = 5 * time.Second
	udpMaxAttempts = 3
)

// UDPTracker announces over a BEP 15 UDP tracker URL.
type UDPTracker struct {
	announceURL string
}

// NewUDP constructs a UDPTracker for announceURL (a "udp://host:port/announce" URL).
func NewUDP(announceURL string) *UDPTracker {
	return &UDPTracker{announceURL: announceURL}
}

// Announce implements PeerSource for the UDP tracker protocol: a connect
// round trip followed by an announce round trip, retried up to
// udpMaxAttempts times with a growing deadline.
func (t *UDPTracker) Announce(ctx context.Context, p Params) (AnnounceResult, error) {
	u, err := url.Parse(t.announceURL)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: parsing UDP URL: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: resolving UDP address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: dialing UDP tracker: %w", err)
	}
	defer conn.Close()

	var lastErr error

	for attempt := 0; attempt < udpMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return AnnounceResult{}, ctx.Err()
		default:
		}

		result, err := t.roundTrip(conn, p, attempt)
		if err == nil {
			return result, nil
		}

		lastErr = err
		log.Printf("[FAIL]\ttracker: UDP attempt %d/%d to %s: %v\n", attempt+1, udpMaxAttempts, addr, err)
	}

	return AnnounceResult{}, fmt.Errorf("tracker: UDP announce failed after %d attempts: %w", udpMaxAttempts, lastErr)
}

func (t *UDPTracker) roundTrip(conn *net.UDPConn, p Params, attempt int) (AnnounceResult, error) {
	transactionID := rand.Uint32()

	deadline := time.Duration(5+attempt*2) * time.Second
	conn.SetDeadline(time.Now().Add(deadline))

	connectionID, err := connect(conn, transactionID)
	if err != nil {
		return AnnounceResult{}, err
	}

	conn.SetDeadline(time.Now().Add(udpDialTimeout))

	return announce(conn, connectionID, transactionID, p)
}

func connect(conn *net.UDPConn, transactionID uint32) (uint64, error) {
	req := make([]byte, udpConnectLen)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(req[8:12], udpConnectOp)
	binary.BigEndian.PutUint32(req[12:16], transactionID)

	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("tracker: sending connect: %w", err)
	}

	resp := make([]byte, udpConnectLen)

	n, err := conn.Read(resp)
	if err != nil {
		return 0, fmt.Errorf("tracker: reading connect response: %w", err)
	}

	if n < udpConnectLen {
		return 0, fmt.Errorf("tracker: short connect response: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action != udpConnectOp {
		return 0, fmt.Errorf("tracker: unexpected connect action %d", action)
	}

	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return 0, fmt.Errorf("tracker: connect transaction id mismatch")
	}

	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func announce(conn *net.UDPConn, connectionID uint64, transactionID uint32, p Params) (AnnounceResult, error) {
	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connectionID)
	binary.BigEndian.PutUint32(req[8:12], udpAnnounceOp)
	binary.BigEndian.PutUint32(req[12:16], transactionID)
	copy(req[16:36], p.InfoHash[:])
	copy(req[36:56], p.PeerID[:])
	binary.BigEndian.PutUint64(req[56:64], uint64(p.Downloaded))
	binary.BigEndian.PutUint64(req[64:72], uint64(p.Left))
	binary.BigEndian.PutUint64(req[72:80], uint64(p.Uploaded))
	binary.BigEndian.PutUint32(req[80:84], p.Event.udpEventCode())
	binary.BigEndian.PutUint32(req[84:88], 0) // IP, 0 = tracker should use the request's source address
	binary.BigEndian.PutUint32(req[88:92], rand.Uint32())
	binary.BigEndian.PutUint32(req[92:96], ^uint32(0)) // num_want, -1 = default
	binary.BigEndian.PutUint16(req[96:98], uint16(p.Port))

	if _, err := conn.Write(req); err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: sending announce: %w", err)
	}

	resp := make([]byte, 1024)

	n, err := conn.Read(resp)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: reading announce response: %w", err)
	}

	if n < 20 {
		return AnnounceResult{}, fmt.Errorf("tracker: short announce response: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])

	if action == udpErrorOp {
		return AnnounceResult{}, fmt.Errorf("tracker: error response: %s", string(resp[8:n]))
	}

	if action != udpAnnounceOp {
		return AnnounceResult{}, fmt.Errorf("tracker: unexpected announce action %d", action)
	}

	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return AnnounceResult{}, fmt.Errorf("tracker: announce transaction id mismatch")
	}

	interval := time.Duration(binary.BigEndian.Uint32(resp[8:12])) * time.Second
	leechers := int(binary.BigEndian.Uint32(resp[12:16]))
	seeders := int(binary.BigEndian.Uint32(resp[16:20]))

	peers, err := parseCompactPeers(resp[20:n])
	if err != nil {
		return AnnounceResult{}, err
	}

	return AnnounceResult{
		Peers:      peers,
		Interval:   interval,
		Complete:   seeders,
		Incomplete: leechers,
	}, nil
}
