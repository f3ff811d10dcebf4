/*
Package tracker implements the HTTP and UDP tracker announce dialogue
(spec.md §9 via SPEC_FULL.md §4.9): producing the initial and periodic
PeerSource peer list and driving SwarmCounters through the announce event
sequence.

HTTP announce (query construction, compact-peer decode via
github.com/jackpal/bencode-go) is reworked from
lvbealr-BitTorrent/torrent/tracker.go's SendHTTPTrackerRequest; UDP
announce (BEP 15 connect/announce datagram exchange) is reworked from the
same file's SendUDPTrackerRequest and CreateAnnounceRequest, re-expressed
in this repo's log.Printf/fmt.Errorf idiom. Compact peer-list decoding is
shared with ParsePeers from lvbealr-BitTorrent/torrent/utils.go.

Per spec.md §9's redesign flag, the UDP "stopped" event always encodes as
the standard BEP 15 action/event code 3, not the non-standard 1 the
original source used.
*/
package tracker

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Event mirrors the tracker announce event parameter.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

// udpEventCode implements the BEP 15 standard event codes used on the wire
// for UDP announces (spec.md §9 redesign flag: stopped is code 3).
func (e Event) udpEventCode() uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

func (e Event) httpValue() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

// PeerAddr is one peer entry from a compact tracker response.
type PeerAddr struct {
	IP   string
	Port uint16
}

func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP, fmt.Sprintf("%d", p.Port))
}

// Params carries the announce request fields that change across calls
// (spec.md §3's SwarmCounters plus local identity).
type Params struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// AnnounceResult is a single announce response, flavor-agnostic.
type AnnounceResult struct {
	Peers      []PeerAddr
	Interval   time.Duration
	Complete   int
	Incomplete int
}

// PeerSource is the interface the Scheduler consumes, satisfied by both
// the HTTP and UDP client below.
type PeerSource interface {
	Announce(ctx context.Context, p Params) (AnnounceResult, error)
}

// parseCompactPeers decodes a compact peer list (6 bytes per peer: 4-byte
// IP, 2-byte big-endian port), grounded on ParsePeers.
func parseCompactPeers(raw []byte) ([]PeerAddr, error) {
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("tracker: invalid compact peers length %d, not a multiple of 6", len(raw))
	}

	peers := make([]PeerAddr, 0, len(raw)/6)
	for i := 0; i < len(raw); i += 6 {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3]).String()
		port := uint16(raw[i+4])<<8 | uint16(raw[i+5])
		peers = append(peers, PeerAddr{IP: ip, Port: port})
	}

	return peers, nil
}
