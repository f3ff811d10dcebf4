/*
Package piecestore implements the Piece Store (spec.md §4.2): in-flight
block buffers, hash verification against the torrent's piece digests,
writes to the output file at the correct offset, and the local "have"
bitfield.

Reworked from lvbealr-BitTorrent/torrent/p2p.go's StartDownload (the
piece-to-file write logic and HasPiece) and original_source/utils.py's
parsePeerMsg/verifyWholePiece/verifyHash (the exact rollback-on-mismatch
semantics). Unlike the teacher's single download loop draining a buffered
channel, this is an owned value threaded through every Peer Session by
handle — spec.md §9's "process-wide mutable singleton" redesign note.

Last-piece length is always derived from Metainfo.NumPieces()-1, never from
the high-water mark of a buffer map (spec.md §9 flags the latter as a bug
in the source this spec was distilled from).
*/
package piecestore

import (
	"crypto/sha1"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"goleech/bitfield"
	"goleech/metainfo"
	"goleech/swarm"
)

// status is a piece's place in the spec.md §3 state machine.
type status int

const (
	statusNeeded status = iota
	statusInProgress
	statusVerified
)

type pieceState struct {
	status    status
	blocks    map[int64][]byte // offset -> bytes
	bytesHave int64
}

// HaveBroadcaster is notified whenever a piece verifies, so every Peer
// Session can emit a HAVE message (spec.md §4.2's "notify all sessions").
type HaveBroadcaster interface {
	BroadcastHave(index int)
}

// Store is the Piece Store. It exclusively owns the output file handle,
// the piece status/buffer map, and the SwarmCounters mutations (spec.md
// §3's ownership rule): every mutating operation locks all three together.
type Store struct {
	mu sync.Mutex

	meta     *metainfo.Metainfo
	file     *os.File
	pieces   []pieceState
	counters *swarm.Counters

	broadcaster HaveBroadcaster
}

// New creates a Store that writes into a truncated file named after
// meta.Name inside outputDir (spec.md §6 persistence contract: no rename,
// no temp file, no manifest).
func New(meta *metainfo.Metainfo, outputDir string, counters *swarm.Counters) (*Store, error) {
	path := filepath.Join(outputDir, meta.Name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("piecestore: creating output file: %w", err)
	}

	if err := f.Truncate(meta.TotalLength); err != nil {
		f.Close()
		return nil, fmt.Errorf("piecestore: truncating output file: %w", err)
	}

	pieces := make([]pieceState, meta.NumPieces())

	return &Store{meta: meta, file: f, pieces: pieces, counters: counters}, nil
}

// SetBroadcaster wires the component (typically the Supervisor) that
// relays verified-piece notifications to every live Peer Session.
func (s *Store) SetBroadcaster(b HaveBroadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcaster = b
}

// Close releases the output file handle. Called once at process shutdown.
func (s *Store) Close() error {
	return s.file.Close()
}

// expectedLength returns the expected byte length of piece index i,
// branching on whether i is the final piece.
func (s *Store) expectedLength(index int) int64 {
	return s.meta.PieceLengthAt(index)
}

// AcceptBlock implements spec.md §4.2's accept_block. If the piece is
// already verified, the block is discarded silently (spec.md §8's
// idempotence property: feeding the same block twice leaves counters
// unchanged after the second call). If bytesHave reaches the piece's
// expected length, verification is attempted inline.
func (s *Store) AcceptBlock(index int, offset int64, data []byte) {
	s.mu.Lock()

	if index < 0 || index >= len(s.pieces) {
		s.mu.Unlock()
		return
	}

	p := &s.pieces[index]

	if p.status == statusVerified {
		s.mu.Unlock()
		return
	}

	if p.blocks == nil {
		p.blocks = make(map[int64][]byte)
	}

	if _, dup := p.blocks[offset]; dup {
		s.mu.Unlock()
		return
	}

	effectiveLen := s.expectedLength(index)
	if offset < 0 || offset+int64(len(data)) > effectiveLen {
		s.mu.Unlock()
		return
	}

	block := append([]byte(nil), data...)
	p.blocks[offset] = block
	p.bytesHave += int64(len(block))
	p.status = statusInProgress

	s.counters.AddDownloaded(int64(len(block)))

	ready := p.bytesHave >= effectiveLen

	s.mu.Unlock()

	if ready {
		s.verifyAndCommit(index)
	}
}

// verifyAndCommit implements spec.md §4.2's verify_and_commit: assemble
// blocks in ascending offset order, SHA-1, compare to the expected digest.
// On match, write to disk and transition to verified; on mismatch, roll
// back counters and reset the piece to needed. The Store does not reinsert
// the index into the Work Queue itself — it has no queue handle — so the
// reserving session's requester loop is responsible for calling
// WorkQueue.ReturnHead once it observes IsNeeded(index) after its requests
// complete (see session/requester.go's driveReservedPiece).
func (s *Store) verifyAndCommit(index int) (verified bool) {
	s.mu.Lock()

	p := &s.pieces[index]
	if p.status == statusVerified {
		s.mu.Unlock()
		return true
	}

	effectiveLen := s.expectedLength(index)

	assembled := make([]byte, 0, effectiveLen)
	for off := int64(0); off < effectiveLen; off += blockSize {
		b, ok := p.blocks[off]
		if !ok {
			// Not actually complete; a concurrent duplicate accounting
			// race shouldn't get here, but bail safely.
			s.mu.Unlock()
			return false
		}

		assembled = append(assembled, b...)
	}

	sum := sha1.Sum(assembled)
	want := s.meta.PieceDigests[index]

	if sum != want {
		log.Printf("[ERROR]\tpiece %d failed hash verification, rolling back\n", index)

		s.counters.RollbackDownloaded(p.bytesHave)
		p.blocks = nil
		p.bytesHave = 0
		p.status = statusNeeded

		s.mu.Unlock()

		return false
	}

	p.status = statusVerified
	p.blocks = nil

	broadcaster := s.broadcaster

	s.mu.Unlock()

	if _, err := s.file.WriteAt(assembled, int64(index)*s.meta.PieceLength); err != nil {
		// Disk I/O errors on the output file are fatal to the process
		// (spec.md §7).
		log.Fatalf("[FATAL]\tpiecestore: writing piece %d to disk: %v\n", index, err)
	}

	log.Printf("[INFO]\tpiece %d verified and committed\n", index)

	if broadcaster != nil {
		broadcaster.BroadcastHave(index)
	}

	return true
}

const blockSize = 16384

// ReadBlock implements spec.md §4.2's read_block for serving peers: reads
// from the output file at index*pieceLength+offset. Fails if the piece is
// not yet verified or the range is out of bounds.
func (s *Store) ReadBlock(index int, offset, length int64) ([]byte, error) {
	s.mu.Lock()

	if index < 0 || index >= len(s.pieces) {
		s.mu.Unlock()
		return nil, fmt.Errorf("piecestore: index %d out of range", index)
	}

	if s.pieces[index].status != statusVerified {
		s.mu.Unlock()
		return nil, fmt.Errorf("piecestore: piece %d not yet verified", index)
	}

	effectiveLen := s.expectedLength(index)

	s.mu.Unlock()

	if offset < 0 || offset+length > effectiveLen {
		return nil, fmt.Errorf("piecestore: request out of bounds for piece %d: offset=%d length=%d effective=%d", index, offset, length, effectiveLen)
	}

	buf := make([]byte, length)

	if _, err := s.file.ReadAt(buf, int64(index)*s.meta.PieceLength+offset); err != nil {
		return nil, fmt.Errorf("piecestore: reading piece %d: %w", index, err)
	}

	return buf, nil
}

// LocalBitfield implements spec.md §4.2's local_bitfield: a snapshot of
// verified pieces as a bit-sequence.
func (s *Store) LocalBitfield() bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()

	bf := bitfield.New(len(s.pieces))
	for i, p := range s.pieces {
		if p.status == statusVerified {
			bf.Set(i)
		}
	}

	return bf
}

// IsVerified reports whether piece index has completed verification.
func (s *Store) IsVerified(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pieces) {
		return false
	}

	return s.pieces[index].status == statusVerified
}

// IsNeeded reports whether piece index is back in the "needed" state
// (either never started, or reset after a hash-mismatch rollback).
func (s *Store) IsNeeded(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pieces) {
		return false
	}

	return s.pieces[index].status == statusNeeded
}

// BytesHave returns the number of bytes currently buffered for piece index,
// for tests and diagnostics (spec.md §8's "bytes_have[i] <= expected_length(i)"
// invariant).
func (s *Store) BytesHave(index int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pieces) {
		return 0
	}

	return s.pieces[index].bytesHave
}
