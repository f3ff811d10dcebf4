package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
)

func TestParseCompactPeers(t *testing.T) {
	raw := []byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 2, 0x1A, 0xE2}

	peers, err := parseCompactPeers(raw)
	if err != nil {
		t.Fatalf("parseCompactPeers: %v", err)
	}

	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}

	if peers[0].IP != "127.0.0.1" || peers[0].Port != 0x1AE1 {
		t.Fatalf("unexpected first peer: %+v", peers[0])
	}

	if peers[1].IP != "10.0.0.2" || peers[1].Port != 0x1AE2 {
		t.Fatalf("unexpected second peer: %+v", peers[1])
	}
}

func TestParseCompactPeersRejectsBadLength(t *testing.T) {
	if _, err := parseCompactPeers([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for length not a multiple of 6")
	}
}

func TestUDPEventCodesMatchBEP15(t *testing.T) {
	cases := map[Event]uint32{
		EventNone:      0,
		EventCompleted: 1,
		EventStarted:   2,
		EventStopped:   3,
	}

	for ev, want := range cases {
		if got := ev.udpEventCode(); got != want {
			t.Fatalf("event %v: expected code %d, got %d", ev, want, got)
		}
	}
}

func TestHTTPAnnounceParsesCompactResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("compact") != "1" {
			t.Errorf("expected compact=1 in request")
		}

		var buf bytes.Buffer
		bencode.Marshal(&buf, map[string]interface{}{
			"interval":   900,
			"complete":   2,
			"incomplete": 1,
			"peers":      string([]byte{192, 168, 1, 1, 0x1F, 0x90}),
		})

		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := NewHTTP(server.URL)

	result, err := client.Announce(context.Background(), Params{
		InfoHash: [20]byte{1},
		PeerID:   [20]byte{2},
		Port:     6881,
		Left:     1000,
		Event:    EventStarted,
	})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	if result.Interval != 900*time.Second {
		t.Fatalf("expected interval 900s, got %v", result.Interval)
	}

	if len(result.Peers) != 1 || result.Peers[0].IP != "192.168.1.1" || result.Peers[0].Port != 8080 {
		t.Fatalf("unexpected peers: %+v", result.Peers)
	}
}

func TestHTTPAnnounceSurfacesFailureReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		bencode.Marshal(&buf, map[string]interface{}{"failure reason": "unregistered torrent"})
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := NewHTTP(server.URL)

	_, err := client.Announce(context.Background(), Params{})
	if err == nil {
		t.Fatalf("expected failure-reason error")
	}
}

// fakeUDPTracker answers one connect and one announce datagram, enough to
// exercise UDPTracker.Announce without a real tracker.
func fakeUDPTracker(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	go func() {
		buf := make([]byte, 1024)

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		transactionID := binary.BigEndian.Uint32(buf[12:16])

		connectResp := make([]byte, 16)
		binary.BigEndian.PutUint32(connectResp[0:4], udpConnectOp)
		binary.BigEndian.PutUint32(connectResp[4:8], transactionID)
		binary.BigEndian.PutUint64(connectResp[8:16], 42)
		conn.WriteToUDP(connectResp, addr)

		n, addr, err = conn.ReadFromUDP(buf)
		if err != nil || n < 98 {
			return
		}

		transactionID = binary.BigEndian.Uint32(buf[12:16])

		announceResp := make([]byte, 26)
		binary.BigEndian.PutUint32(announceResp[0:4], udpAnnounceOp)
		binary.BigEndian.PutUint32(announceResp[4:8], transactionID)
		binary.BigEndian.PutUint32(announceResp[8:12], 1800) // interval
		binary.BigEndian.PutUint32(announceResp[12:16], 1)   // leechers
		binary.BigEndian.PutUint32(announceResp[16:20], 2)   // seeders
		copy(announceResp[20:26], []byte{127, 0, 0, 1, 0x1A, 0xE1})
		conn.WriteToUDP(announceResp, addr)
	}()

	return conn
}

func TestUDPAnnounceRoundTrip(t *testing.T) {
	fake := fakeUDPTracker(t)
	defer fake.Close()

	client := NewUDP("udp://" + fake.LocalAddr().String() + "/announce")

	result, err := client.Announce(context.Background(), Params{
		InfoHash: [20]byte{1},
		PeerID:   [20]byte{2},
		Port:     6881,
		Left:     500,
		Event:    EventStarted,
	})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	if result.Interval != 1800*time.Second {
		t.Fatalf("expected interval 1800s, got %v", result.Interval)
	}

	if result.Complete != 2 || result.Incomplete != 1 {
		t.Fatalf("unexpected complete/incomplete: %+v", result)
	}

	if len(result.Peers) != 1 || result.Peers[0].IP != "127.0.0.1" {
		t.Fatalf("unexpected peers: %+v", result.Peers)
	}
}
