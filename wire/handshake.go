/*
Package wire implements the Wire Codec (spec.md §4.1): the fixed 68-byte
handshake and the length-prefixed peer message frame.

Reworked from lvbealr-BitTorrent/torrent/p2p.go's Handshake struct and
PerformHandshake, split by concern the way
leonhfr-torrent-client/handshake and /message do.
*/
package wire

import (
	"bytes"
	"fmt"
	"io"
)

const protocolString = "BitTorrent protocol"

// HandshakeLen is the fixed wire size of a handshake message.
const HandshakeLen = 49 + len(protocolString)

// Handshake is the 68-byte opening exchange (spec.md §4.1).
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize encodes h into its 68-byte wire form.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolString))

	curr := 1
	curr += copy(buf[curr:], protocolString)
	curr += copy(buf[curr:], make([]byte, 8)) // reserved, all zero
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])

	return buf
}

// ReadHandshake reads exactly 68 bytes from r and validates the protocol
// tag and infohash against wantInfoHash. A handshake is accepted iff its
// length is exactly 68, its protocol string matches, and its infohash
// equals wantInfoHash (spec.md §4.1); any other case aborts the session.
func ReadHandshake(r io.Reader, wantInfoHash [20]byte) (*Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: reading handshake: %w", err)
	}

	if buf[0] != byte(len(protocolString)) {
		return nil, fmt.Errorf("wire: bad protocol string length %d", buf[0])
	}

	if string(buf[1:1+len(protocolString)]) != protocolString {
		return nil, fmt.Errorf("wire: unexpected protocol string %q", buf[1:1+len(protocolString)])
	}

	var h Handshake

	offset := 1 + len(protocolString) + 8
	copy(h.InfoHash[:], buf[offset:offset+20])
	copy(h.PeerID[:], buf[offset+20:offset+40])

	if !bytes.Equal(h.InfoHash[:], wantInfoHash[:]) {
		return nil, fmt.Errorf("wire: info hash mismatch")
	}

	return &h, nil
}
