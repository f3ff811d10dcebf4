package workqueue

import "testing"

func TestTakeOneFiltersByPredicate(t *testing.T) {
	q := New(5) // 0,1,2,3,4

	idx, ok := q.TakeOne(func(i int) bool { return i == 3 })
	if !ok || idx != 3 {
		t.Fatalf("expected to take index 3, got %d ok=%v", idx, ok)
	}

	if q.Contains(3) {
		t.Fatalf("index 3 should have been removed")
	}

	if q.Len() != 4 {
		t.Fatalf("expected length 4, got %d", q.Len())
	}
}

func TestTakeOneNoneMatch(t *testing.T) {
	q := New(3)

	_, ok := q.TakeOne(func(i int) bool { return i == 99 })
	if ok {
		t.Fatalf("expected no match")
	}

	if q.Len() != 3 {
		t.Fatalf("queue should be untouched, got len %d", q.Len())
	}
}

func TestReturnHeadPutsAtFront(t *testing.T) {
	q := New(3) // 0,1,2

	q.TakeOne(func(i int) bool { return i == 0 })
	q.ReturnHead(0)

	idx, ok := q.TakeOne(func(i int) bool { return true })
	if !ok || idx != 0 {
		t.Fatalf("expected index 0 back at head, got %d", idx)
	}
}

func TestAnyMatch(t *testing.T) {
	q := New(5)

	if !q.AnyMatch(func(i int) bool { return i == 4 }) {
		t.Fatalf("expected match for index 4")
	}

	if q.AnyMatch(func(i int) bool { return i == 99 }) {
		t.Fatalf("expected no match for index 99")
	}

	if q.Len() != 5 {
		t.Fatalf("AnyMatch must not remove entries, got len %d", q.Len())
	}
}
