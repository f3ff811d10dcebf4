/*
Package workqueue implements the Work Queue (spec.md §4.3): an ordered
collection of piece indices still needed, supporting take/return for
failure recovery.

Reworked from original_source/bt-client.py's workDeque (a raw
collections.deque mutated ad hoc by multiple threads) into an owned type
with atomic take/return operations and its own lock, kept separate from
the Piece Store's lock per spec.md §5 ("No component may block holding the
Work Queue lock").
*/
package workqueue

import "sync"

// Queue is an ordered, thread-safe collection of piece indices.
type Queue struct {
	mu      sync.Mutex
	indices []int
}

// New populates a Queue with 0..numPieces, in order.
func New(numPieces int) *Queue {
	indices := make([]int, numPieces)
	for i := range indices {
		indices[i] = i
	}

	return &Queue{indices: indices}
}

// TakeOne removes and returns the first index for which predicate holds,
// used to filter by a remote peer's bitfield. Returns (0, false) if no
// index satisfies predicate.
func (q *Queue) TakeOne(predicate func(index int) bool) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, idx := range q.indices {
		if predicate(idx) {
			q.indices = append(q.indices[:i], q.indices[i+1:]...)
			return idx, true
		}
	}

	return 0, false
}

// ReturnHead reinserts index at the front of the queue, used on failure
// (hash mismatch, peer drop mid-piece).
func (q *Queue) ReturnHead(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.indices = append([]int{index}, q.indices...)
}

// Contains reports whether index is currently queued. Interest signalling
// uses AnyMatch instead.
func (q *Queue) Contains(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, idx := range q.indices {
		if idx == index {
			return true
		}
	}

	return false
}

// Len returns the number of queued indices.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.indices)
}

// AnyMatch reports whether any queued index satisfies predicate, without
// removing it. Used by the session's interest-signalling computation.
func (q *Queue) AnyMatch(predicate func(index int) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, idx := range q.indices {
		if predicate(idx) {
			return true
		}
	}

	return false
}
