package session

import (
	"log"
	"time"

	"goleech/wire"
)

// receiveLoop implements the Receiver activity (spec.md §4.4): blocks on
// the socket with a bounded wait, dispatches each framed message, and
// tears the session down on idle timeout or framing error.
func (s *Session) receiveLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		// Wait no longer than what is left of the idle window since the
		// last message, so a read error is either a real socket/framing
		// error or the idle timeout itself.
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout - s.idleFor()))
		msg, err := wire.ReadMessage(s.conn)

		if err != nil {
			if s.idleFor() > idleTimeout {
				log.Printf("[FAIL]\t%s: idle for %s, dropping session\n", s.remoteAddr, s.idleFor())
			} else {
				log.Printf("[FAIL]\t%s: read error: %v\n", s.remoteAddr, err)
			}

			s.Close()

			return
		}

		if s.idleFor() > idleTimeout {
			log.Printf("[FAIL]\t%s: exceeded 120s without a message, dropping session\n", s.remoteAddr)
			s.Close()

			return
		}

		s.touch()

		if msg == nil {
			continue // keep-alive: liveness bookkeeping only
		}

		s.dispatch(msg)
	}
}

// dispatch implements the message handlers table from spec.md §4.4.
func (s *Session) dispatch(msg *wire.Message) {
	switch msg.ID {
	case wire.MsgChoke:
		s.mu.Lock()
		s.peerChoking = true
		s.mu.Unlock()

	case wire.MsgUnchoke:
		s.mu.Lock()
		s.peerChoking = false
		s.mu.Unlock()

	case wire.MsgInterested:
		s.mu.Lock()
		s.peerInterested = true
		s.mu.Unlock()

	case wire.MsgNotInterested:
		s.mu.Lock()
		s.peerInterested = false
		s.mu.Unlock()

	case wire.MsgHave:
		index, err := msg.HaveIndex()
		if err != nil {
			log.Printf("[FAIL]\t%s: malformed HAVE: %v\n", s.remoteAddr, err)
			return
		}

		s.mu.Lock()
		s.remoteBitfield.Set(index)
		s.mu.Unlock()

	case wire.MsgBitfield:
		// Only valid as the first message after handshake; ReadInitialBitfield
		// already consumed that slot. Any later BITFIELD is out of phase.
		log.Printf("[FAIL]\t%s: out-of-phase BITFIELD, dropping session\n", s.remoteAddr)
		s.Close()

	case wire.MsgRequest:
		s.handleRequest(msg)

	case wire.MsgPiece:
		s.handlePiece(msg)

	case wire.MsgCancel:
		s.handleCancel(msg)

	case wire.MsgPort:
		// DHT port advertisement; ignored by this core (spec.md §4.1).

	default:
		log.Printf("[FAIL]\t%s: unknown message id %d\n", s.remoteAddr, msg.ID)
	}
}

// handleRequest serves a block from the Piece Store unless am_choking
// (protocol violation — drop silently) or a CANCEL suppressed it meanwhile.
func (s *Session) handleRequest(msg *wire.Message) {
	index, begin, length, err := msg.RequestFields()
	if err != nil {
		log.Printf("[FAIL]\t%s: malformed REQUEST: %v\n", s.remoteAddr, err)
		return
	}

	s.mu.Lock()
	choking := s.amChoking
	s.mu.Unlock()

	if choking {
		return // peer requested while choked: protocol violation, drop silently
	}

	data, err := s.store.ReadBlock(index, int64(begin), int64(length))
	if err != nil {
		log.Printf("[FAIL]\t%s: REQUEST(%d,%d,%d) rejected: %v\n", s.remoteAddr, index, begin, length, err)
		return
	}

	key := [2]int64{int64(index), int64(begin)}

	s.mu.Lock()
	cancelled := s.cancelled[key]
	delete(s.cancelled, key)
	s.mu.Unlock()

	if cancelled {
		return // CANCEL arrived for this exact request; suppress the reply once
	}

	if err := s.send(wire.NewPiece(index, begin, data)); err != nil {
		log.Printf("[FAIL]\t%s: sending PIECE(%d,%d): %v\n", s.remoteAddr, index, begin, err)
	}
}

// handlePiece feeds a PIECE message into the Piece Store and updates
// in-flight/rate bookkeeping.
func (s *Session) handlePiece(msg *wire.Message) {
	index, begin, block, err := msg.PieceFields()
	if err != nil {
		log.Printf("[FAIL]\t%s: malformed PIECE: %v\n", s.remoteAddr, err)
		return
	}

	s.store.AcceptBlock(index, int64(begin), block)

	s.mu.Lock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.downloadedSince += int64(len(block))
	s.mu.Unlock()
}

// handleCancel records a pending cancellation: the next matching outbound
// PIECE for the same (index, begin) is suppressed exactly once.
func (s *Session) handleCancel(msg *wire.Message) {
	index, begin, _, err := msg.RequestFields()
	if err != nil {
		log.Printf("[FAIL]\t%s: malformed CANCEL: %v\n", s.remoteAddr, err)
		return
	}

	key := [2]int64{int64(index), int64(begin)}

	s.mu.Lock()
	s.cancelled[key] = true
	s.mu.Unlock()
}

// keepaliveLoop implements spec.md §4.4's Keepalive activity: a
// length-0 frame roughly every two minutes.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send(nil); err != nil {
				log.Printf("[FAIL]\t%s: keep-alive send failed: %v\n", s.remoteAddr, err)
				s.Close()

				return
			}
		}
	}
}
