/*
message.go implements the nine message kinds plus keep-alive as a single
tagged Message, replacing the teacher's numeric-id switch scattered across
call sites (spec.md §9's "message polymorphism" redesign note) with typed
constructors and parsers in one place.
*/
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies a peer message kind.
type ID uint8

const (
	MsgChoke         ID = 0
	MsgUnchoke       ID = 1
	MsgInterested    ID = 2
	MsgNotInterested ID = 3
	MsgHave          ID = 4
	MsgBitfield      ID = 5
	MsgRequest       ID = 6
	MsgPiece         ID = 7
	MsgCancel        ID = 8
	MsgPort          ID = 9
)

// maxMessageLen bounds how large a declared frame length may be before it
// is treated as a framing error (spec.md §4.1). It is a fixed ceiling, not
// derived from the torrent's piece length.
const maxMessageLen = 1 << 20 // 1 MiB; generous over any 16 KiB block plus header

// Message is a decoded wire frame. A length-0 frame decodes to nil, the
// keep-alive sentinel.
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize encodes m (or a keep-alive, if m is nil) into its length-prefixed
// wire form.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4) // length-0 keep-alive
	}

	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)

	return buf
}

// ReadMessage reads one framed message from r, looping until the declared
// length is fully read (spec.md §4.1's reader contract). Returns (nil, nil)
// for a keep-alive.
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}

	if length > maxMessageLen {
		return nil, fmt.Errorf("wire: declared length %d exceeds ceiling %d", length, maxMessageLen)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading payload: %w", err)
	}

	return &Message{ID: ID(payload[0]), Payload: payload[1:]}, nil
}

// NewHave builds a HAVE message for piece index.
func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))

	return &Message{ID: MsgHave, Payload: payload}
}

// NewBitfield builds a BITFIELD message from raw bitfield bytes.
func NewBitfield(bits []byte) *Message {
	return &Message{ID: MsgBitfield, Payload: append([]byte(nil), bits...)}
}

// NewRequest builds a REQUEST message for (index, begin, length). CANCEL
// uses the same payload shape; see NewCancel.
func NewRequest(index, begin, length int) *Message {
	return &Message{ID: MsgRequest, Payload: blockPayload(index, begin, length)}
}

// NewCancel builds a CANCEL message mirroring the REQUEST it cancels.
func NewCancel(index, begin, length int) *Message {
	return &Message{ID: MsgCancel, Payload: blockPayload(index, begin, length)}
}

func blockPayload(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))

	return payload
}

// NewPiece builds a PIECE message delivering block at (index, begin).
func NewPiece(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)

	return &Message{ID: MsgPiece, Payload: payload}
}

// RequestFields parses a REQUEST or CANCEL payload.
func (m *Message) RequestFields() (index, begin, length int, err error) {
	if len(m.Payload) != 12 {
		return 0, 0, 0, fmt.Errorf("wire: expected 12-byte payload, got %d", len(m.Payload))
	}

	index = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(m.Payload[8:12]))

	return index, begin, length, nil
}

// PieceFields parses a PIECE payload into its index, begin offset, and
// block bytes (shared backing array with the message payload).
func (m *Message) PieceFields() (index, begin int, block []byte, err error) {
	if len(m.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("wire: PIECE payload too short: %d", len(m.Payload))
	}

	index = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	block = m.Payload[8:]

	return index, begin, block, nil
}

// HaveIndex parses a HAVE payload.
func (m *Message) HaveIndex() (int, error) {
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("wire: expected 4-byte HAVE payload, got %d", len(m.Payload))
	}

	return int(binary.BigEndian.Uint32(m.Payload)), nil
}
