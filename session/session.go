/*
Package session implements the Peer Session (spec.md §4.4): handshake,
initial bitfield, and a steady-state of three concurrent activities
(receiver, requester, keepalive) over one peer connection.

Reworked from lvbealr-BitTorrent/torrent/p2p.go's PerformHandshake and
DownloadFromPeer — the teacher ran one goroutine per peer mixing
handshake, request loop, and response handling together; this version
splits those into the three activities spec.md §4.4 names explicitly,
following original_source/objects.py's peer class for the exact state
(four booleans, _max_pipeline=5, per-peer lock serializing writes).
*/
package session

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"goleech/bitfield"
	"goleech/wire"
)

const (
	blockSize        = 16384
	maxPipeline      = 5
	dialTimeout      = 3 * time.Second
	handshakeTimeout = 3 * time.Second
	receiveTimeout   = 5 * time.Second
	keepaliveEvery   = 2 * time.Minute
	idleTimeout      = 120 * time.Second
	requesterIdle    = 50 * time.Millisecond
)

// PieceSource is the subset of piecestore.Store a session needs.
type PieceSource interface {
	AcceptBlock(index int, offset int64, data []byte)
	ReadBlock(index int, offset, length int64) ([]byte, error)
	IsVerified(index int) bool
	IsNeeded(index int) bool
}

// Queue is the subset of workqueue.Queue a session needs.
type Queue interface {
	TakeOne(predicate func(index int) bool) (int, bool)
	ReturnHead(index int)
	AnyMatch(predicate func(index int) bool) bool
}

// Session is a state machine for one connected peer (spec.md §3's "Peer
// Session State").
type Session struct {
	conn   net.Conn
	connMu sync.Mutex // serializes writes (spec.md §5's per-session socket lock)

	remoteAddr string
	remotePeer [20]byte

	store      PieceSource
	queue      Queue
	numPieces  int
	pieceLen   int64
	lastLen    int64

	remoteBitfield bitfield.Bitfield

	mu              sync.Mutex
	amChoking       bool
	amInterested    bool
	peerChoking     bool
	peerInterested  bool
	inFlight        int
	downloadedSince int64
	downloadedSnap  int64
	lastMessageAt   time.Time
	reservedPiece   int
	hasReserved     bool
	cancelled       map[[2]int64]bool

	alive int32 // atomic bool

	closeOnce sync.Once
	done      chan struct{}
}

// SetupResult is the outcome of a successful outbound Connect: a live,
// handshaken connection plus the remote peer id it reported.
type SetupResult struct {
	Conn         net.Conn
	RemotePeerID [20]byte
}

// Connect implements spec.md §4.4 phases 1-2 for an outbound session: TCP
// dial with a 3s timeout, then handshake with a 3s read deadline.
func Connect(addr string, localPeerID, infoHash [20]byte) (*SetupResult, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	if err := doHandshake(conn, localPeerID, infoHash); err != nil {
		conn.Close()
		return nil, err
	}

	remote, err := readHandshakeResponse(conn, infoHash)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &SetupResult{Conn: conn, RemotePeerID: remote.PeerID}, nil
}

func doHandshake(conn net.Conn, localPeerID, infoHash [20]byte) error {
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetWriteDeadline(time.Time{})

	hs := wire.Handshake{InfoHash: infoHash, PeerID: localPeerID}
	_, err := conn.Write(hs.Serialize())

	return err
}

func readHandshakeResponse(conn net.Conn, infoHash [20]byte) (*wire.Handshake, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	return wire.ReadHandshake(conn, infoHash)
}

// New constructs a Session over an already-handshaken connection (used by
// both outbound Connect and the Listener's inbound accept path). It starts
// nothing; Run starts the steady-state activities (spec.md §4.4 phase 4).
func New(conn net.Conn, remoteAddr string, remotePeerID [20]byte, store PieceSource, queue Queue, numPieces int, pieceLen, lastLen int64) *Session {
	s := &Session{
		conn:           conn,
		remoteAddr:     remoteAddr,
		remotePeer:     remotePeerID,
		store:          store,
		queue:          queue,
		numPieces:      numPieces,
		pieceLen:       pieceLen,
		lastLen:        lastLen,
		amChoking:      true,
		amInterested:   false,
		peerChoking:    true,
		peerInterested: false,
		lastMessageAt:  time.Now(),
		cancelled:      make(map[[2]int64]bool),
		alive:          1,
		done:           make(chan struct{}),
	}

	s.remoteBitfield = bitfield.New(numPieces)

	return s
}

// ReadInitialBitfield implements spec.md §4.4 phase 3: optionally read one
// message; if BITFIELD, store it; otherwise default to all-zero.
func (s *Session) ReadInitialBitfield() {
	s.conn.SetReadDeadline(time.Now().Add(receiveTimeout))
	msg, err := wire.ReadMessage(s.conn)
	s.conn.SetReadDeadline(time.Time{})

	if err != nil || msg == nil || msg.ID != wire.MsgBitfield {
		return // remoteBitfield already defaults to all-zero from New
	}

	bf, err := bitfield.FromWire(msg.Payload, s.numPieces)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.remoteBitfield = bf
	s.mu.Unlock()
}

// Run starts the receiver, requester, and keepalive activities and blocks
// until the session dies.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); s.receiveLoop() }()
	go func() { defer wg.Done(); s.requestLoop() }()
	go func() { defer wg.Done(); s.keepaliveLoop() }()

	wg.Wait()
	s.teardown()
}

// IsAlive reports whether the session is still active.
func (s *Session) IsAlive() bool {
	return atomic.LoadInt32(&s.alive) == 1
}

// RemoteAddr returns the peer's endpoint string, for logging.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Close triggers session death (spec.md §4.4 "Session death"). Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.alive, 0)
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) teardown() {
	s.mu.Lock()
	reserved, has := s.reservedPiece, s.hasReserved
	s.hasReserved = false
	s.mu.Unlock()

	if has {
		s.queue.ReturnHead(reserved)
		log.Printf("[INFO]\t%s: returned piece %d to work queue on session death\n", s.remoteAddr, reserved)
	}
}

// PeerInterested reports the last known peer_interested value, read by the
// choking controller.
func (s *Session) PeerInterested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.peerInterested
}

// AmChoking reports the last known am_choking value.
func (s *Session) AmChoking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.amChoking
}

// DownloadRateSince returns bytes downloaded since the last choke-tick
// snapshot, then refreshes the snapshot (spec.md §4.5 step 1).
func (s *Session) DownloadRateSince() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := s.downloadedSince - s.downloadedSnap
	s.downloadedSnap = s.downloadedSince

	return delta
}

// SetChoking sets am_choking and sends the corresponding wire message.
func (s *Session) SetChoking(choked bool) error {
	s.mu.Lock()
	changed := s.amChoking != choked
	s.amChoking = choked
	s.mu.Unlock()

	if !changed {
		return nil
	}

	id := wire.MsgUnchoke
	if choked {
		id = wire.MsgChoke
	}

	return s.send(&wire.Message{ID: id})
}

// BroadcastHave sends a HAVE message for index to this peer, implementing
// piecestore.HaveBroadcaster.
func (s *Session) BroadcastHave(index int) {
	if !s.IsAlive() {
		return
	}

	if err := s.send(wire.NewHave(index)); err != nil {
		log.Printf("[FAIL]\t%s: sending HAVE(%d): %v\n", s.remoteAddr, index, err)
	}
}

// send serializes and writes msg under the per-session write lock (spec.md
// §5: "serialised by a per-session lock so receiver-triggered responses
// and requester-triggered REQUESTs do not interleave bytes").
func (s *Session) send(msg *wire.Message) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	defer s.conn.SetWriteDeadline(time.Time{})

	_, err := s.conn.Write(msg.Serialize())

	return err
}

// touch resets last_message_at; called by every wire message handler.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastMessageAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return time.Since(s.lastMessageAt)
}
