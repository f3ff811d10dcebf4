package session

import (
	"log"
	"time"

	"goleech/wire"
)

// requestLoop implements spec.md §4.4's Requester activity: while
// peer_choking is false and a suitable piece is available, reserve a piece
// from the Work Queue whose remote bitfield bit is set, then issue block
// REQUESTs at 16384-byte offsets until the pipeline is saturated or the
// piece is exhausted. Interest is signalled on transition, suppressing
// redundant sends.
func (s *Session) requestLoop() {
	var lastInterested bool

	for {
		select {
		case <-s.done:
			return
		default:
		}

		wantSomething := s.queue.AnyMatch(s.remoteHas)

		if wantSomething != lastInterested {
			id := wire.MsgNotInterested
			if wantSomething {
				id = wire.MsgInterested
			}

			if err := s.send(&wire.Message{ID: id}); err != nil {
				log.Printf("[FAIL]\t%s: sending interest signal: %v\n", s.remoteAddr, err)
				s.Close()

				return
			}

			s.mu.Lock()
			s.amInterested = wantSomething
			s.mu.Unlock()

			lastInterested = wantSomething
		}

		s.mu.Lock()
		choking := s.peerChoking
		hasReserved := s.hasReserved
		s.mu.Unlock()

		if choking {
			time.Sleep(requesterIdle)
			continue
		}

		if !hasReserved {
			index, ok := s.queue.TakeOne(s.remoteHas)
			if !ok {
				time.Sleep(requesterIdle)
				continue
			}

			s.mu.Lock()
			s.reservedPiece = index
			s.hasReserved = true
			s.mu.Unlock()
		}

		if s.driveReservedPiece() {
			return // session died mid-drive
		}
	}
}

// remoteHas is the TakeOne/AnyMatch predicate: does the remote peer's
// bitfield claim piece index.
func (s *Session) remoteHas(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remoteBitfield.Has(index)
}

// driveReservedPiece issues REQUESTs for the currently reserved piece
// until it completes, the peer chokes, or the piece is claimed elsewhere
// (verified by another session, or reset to needed by a hash failure).
// Returns true if the session died during the drive.
func (s *Session) driveReservedPiece() bool {
	s.mu.Lock()
	index := s.reservedPiece
	s.mu.Unlock()

	effectiveLen := s.pieceLen
	if index == s.numPieces-1 {
		effectiveLen = s.lastLen
	}

	for offset := int64(0); offset < effectiveLen; offset += blockSize {
		select {
		case <-s.done:
			return true
		default:
		}

		if s.store.IsVerified(index) {
			// Completed by another session concurrently.
			s.releaseReserved()
			return false
		}

		length := blockSize
		if remaining := effectiveLen - offset; remaining < blockSize {
			length = int(remaining)
		}

		if !s.awaitPipelineSlot() {
			return true
		}

		s.mu.Lock()
		choking := s.peerChoking
		s.mu.Unlock()

		if choking {
			return false // requester suspends; outer loop will resume on unchoke
		}

		if err := s.send(wire.NewRequest(index, int(offset), length)); err != nil {
			log.Printf("[FAIL]\t%s: sending REQUEST(%d,%d,%d): %v\n", s.remoteAddr, index, offset, length, err)
			s.Close()

			return true
		}

		s.mu.Lock()
		s.inFlight++
		s.mu.Unlock()
	}

	// All blocks requested; wait for verification or failure before
	// releasing the reservation, so a concurrent winner doesn't race us
	// into re-reserving the same index.
	for s.pieceStillInProgress(index) {
		select {
		case <-s.done:
			return true
		case <-time.After(requesterIdle):
		}
	}

	if s.store.IsNeeded(index) {
		// Hash verification failed: the Piece Store reset the piece to
		// needed but has no Work Queue handle of its own, so the session
		// that drove the failed attempt puts it back in circulation.
		s.queue.ReturnHead(index)
		log.Printf("[FAIL]\t%s: piece %d failed hash verification, returned to work queue\n", s.remoteAddr, index)
	}

	s.releaseReserved()

	return false
}

// pieceStillInProgress is a best-effort check used only to decide whether
// to keep waiting on a piece this session is pipelining blocks for; the
// Piece Store is the source of truth for verified/needed.
func (s *Session) pieceStillInProgress(index int) bool {
	return !s.store.IsVerified(index) && !s.store.IsNeeded(index)
}

// awaitPipelineSlot blocks (cooperatively) until in_flight < max_pipeline,
// the session dies, or the peer chokes mid-piece. Returns false if the
// session died while waiting.
func (s *Session) awaitPipelineSlot() bool {
	for {
		s.mu.Lock()
		slotFree := s.inFlight < maxPipeline
		choking := s.peerChoking
		s.mu.Unlock()

		if choking || slotFree {
			return true
		}

		select {
		case <-s.done:
			return false
		case <-time.After(requesterIdle):
		}
	}
}

func (s *Session) releaseReserved() {
	s.mu.Lock()
	s.hasReserved = false
	s.mu.Unlock()
}
