/*
Package listener implements the Listener (spec.md §4.6): binds a TCP port
and accepts inbound connections, performing the handshake-responder role
before handing each connection to a new Peer Session.

The accept loop is grounded on other_examples' Taipei-Torrent main.go
listener goroutine (net.Listen + unbounded Accept loop feeding a channel);
the handshake-responder logic reuses goleech/wire's Handshake type the
same way goleech/session's outbound Connect does, following
lvbealr-BitTorrent's PerformHandshake for the read-validate-reply shape.
*/
package listener

import (
	"fmt"
	"log"
	"net"
	"time"

	"goleech/bitfield"
	"goleech/wire"
)

const acceptHandshakeTimeout = 3 * time.Second

// Store is the subset of piecestore.Store needed to answer an inbound
// handshake with a BITFIELD (spec.md §4.6).
type Store interface {
	LocalBitfield() bitfield.Bitfield
}

// SessionFactory constructs and runs a Peer Session over an
// already-handshaken inbound connection. Supplied by the Supervisor so
// this package never imports goleech/session directly.
type SessionFactory func(conn net.Conn, remoteAddr string, remotePeerID [20]byte)

// Listener accepts inbound peer connections on one TCP port.
type Listener struct {
	ln net.Listener

	localPeerID [20]byte
	infoHash    [20]byte
	store       Store
	newSession  SessionFactory
}

// Listen binds port on all interfaces. Caller must call Serve to start
// accepting.
func Listen(port int, localPeerID, infoHash [20]byte, store Store, newSession SessionFactory) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listener: binding port %d: %w", port, err)
	}

	return &Listener{
		ln:          ln,
		localPeerID: localPeerID,
		infoHash:    infoHash,
		store:       store,
		newSession:  newSession,
	}, nil
}

// Addr returns the bound address, mainly for tests.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve runs the accept loop until the listener is closed (spec.md §4.6:
// "accepts connections indefinitely"). Each accepted connection is
// handshaken and handed off on its own goroutine so a slow or hostile
// peer cannot stall the accept loop.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			log.Printf("[FAIL]\tlistener: accept: %v\n", err)
			return
		}

		go l.handle(conn)
	}
}

// handle implements the handshake-responder role: read 68 bytes, validate
// infohash, reply with the local handshake followed by a BITFIELD, then
// construct a Peer Session identically to an outbound one. Malformed
// handshakes are dropped without a reply.
func (l *Listener) handle(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(acceptHandshakeTimeout))

	remote, err := wire.ReadHandshake(conn, l.infoHash)
	if err != nil {
		log.Printf("[FAIL]\tlistener: %s: rejecting handshake: %v\n", conn.RemoteAddr(), err)
		conn.Close()

		return
	}

	conn.SetReadDeadline(time.Time{})

	reply := wire.Handshake{InfoHash: l.infoHash, PeerID: l.localPeerID}

	conn.SetWriteDeadline(time.Now().Add(acceptHandshakeTimeout))

	if _, err := conn.Write(reply.Serialize()); err != nil {
		log.Printf("[FAIL]\tlistener: %s: sending handshake reply: %v\n", conn.RemoteAddr(), err)
		conn.Close()

		return
	}

	bf := l.store.LocalBitfield()
	bitfieldMsg := wire.NewBitfield(bf)

	if _, err := conn.Write(bitfieldMsg.Serialize()); err != nil {
		log.Printf("[FAIL]\tlistener: %s: sending initial bitfield: %v\n", conn.RemoteAddr(), err)
		conn.Close()

		return
	}

	conn.SetWriteDeadline(time.Time{})

	log.Printf("[INFO]\tlistener: accepted %s\n", conn.RemoteAddr())

	l.newSession(conn, conn.RemoteAddr().String(), remote.PeerID)
}
