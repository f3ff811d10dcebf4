package choke

import (
	"sync"
	"testing"
)

type fakePeer struct {
	id         string
	alive      bool
	interested bool
	choking    bool
	rate       int64

	mu      sync.Mutex
	choked  []bool // history of SetChoking calls
}

func (p *fakePeer) IsAlive() bool          { return p.alive }
func (p *fakePeer) PeerInterested() bool   { return p.interested }
func (p *fakePeer) AmChoking() bool        { p.mu.Lock(); defer p.mu.Unlock(); return p.choking }
func (p *fakePeer) DownloadRateSince() int64 { return p.rate }
func (p *fakePeer) RemoteAddr() string     { return p.id }

func (p *fakePeer) SetChoking(choked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.choking = choked
	p.choked = append(p.choked, choked)

	return nil
}

type fakeRegistry struct {
	peers []Peer
}

func (r *fakeRegistry) Sessions() []Peer { return r.peers }

func TestFireUnchokesTopRatedInterestedPeers(t *testing.T) {
	a := &fakePeer{id: "a", alive: true, interested: true, choking: true, rate: 100}
	b := &fakePeer{id: "b", alive: true, interested: true, choking: true, rate: 50}
	c := &fakePeer{id: "c", alive: true, interested: true, choking: true, rate: 10}
	d := &fakePeer{id: "d", alive: true, interested: true, choking: true, rate: 1}

	c2 := New(&fakeRegistry{peers: []Peer{a, b, c, d}}, 3)
	c2.fire()

	if a.choking || b.choking || c.choking {
		t.Fatalf("expected top-3 rated interested peers unchoked")
	}

	if !d.choking {
		t.Fatalf("expected 4th-ranked interested peer to remain choked")
	}
}

func TestFireFillsFromAllAliveWhenFewInterested(t *testing.T) {
	interested := &fakePeer{id: "i", alive: true, interested: true, choking: true, rate: 5}
	uninterestedHigh := &fakePeer{id: "u1", alive: true, interested: false, choking: true, rate: 100}
	uninterestedLow := &fakePeer{id: "u2", alive: true, interested: false, choking: true, rate: 1}

	c := New(&fakeRegistry{peers: []Peer{interested, uninterestedHigh, uninterestedLow}}, 3)
	c.fire()

	if interested.choking {
		t.Fatalf("expected the sole interested peer unchoked")
	}

	if uninterestedHigh.choking {
		t.Fatalf("expected the highest-rate uninterested peer to fill a spare unchoke slot")
	}
}

func TestFireChokesPeersNotSelected(t *testing.T) {
	a := &fakePeer{id: "a", alive: true, interested: true, choking: false, rate: 1}
	b := &fakePeer{id: "b", alive: true, interested: true, choking: false, rate: 2}
	c := &fakePeer{id: "c", alive: true, interested: true, choking: false, rate: 3}
	d := &fakePeer{id: "d", alive: true, interested: true, choking: false, rate: 0}

	ctl := New(&fakeRegistry{peers: []Peer{a, b, c, d}}, 3)
	ctl.fire()

	if d.AmChoking() != true {
		t.Fatalf("expected 4th peer (lowest rate, beyond the top-3) to be choked")
	}
}

func TestFireSkipsDeadPeers(t *testing.T) {
	dead := &fakePeer{id: "dead", alive: false, interested: true, choking: true, rate: 1000}

	ctl := New(&fakeRegistry{peers: []Peer{dead}}, 3)
	ctl.fire()

	if !dead.choking {
		t.Fatalf("dead peer should never be touched")
	}

	if len(dead.choked) != 0 {
		t.Fatalf("expected SetChoking never called on a dead peer")
	}
}

func TestOptimisticUnchokeEveryThirdTick(t *testing.T) {
	a := &fakePeer{id: "a", alive: true, interested: false, choking: true, rate: 0}
	b := &fakePeer{id: "b", alive: true, interested: false, choking: true, rate: 0}
	c := &fakePeer{id: "c", alive: true, interested: false, choking: true, rate: 0}
	d := &fakePeer{id: "d", alive: true, interested: false, choking: true, rate: 0}

	ctl := New(&fakeRegistry{peers: []Peer{a, b, c, d}}, 0)

	ctl.fire() // tick 1
	ctl.fire() // tick 2

	unchokedBeforeOptimistic := countUnchoked([]*fakePeer{a, b, c, d})
	if unchokedBeforeOptimistic != MinUnchoked {
		t.Fatalf("expected exactly %d unchoked before the optimistic tick, got %d", MinUnchoked, unchokedBeforeOptimistic)
	}

	ctl.fire() // tick 3: optimistic slot fires

	unchokedAfterOptimistic := countUnchoked([]*fakePeer{a, b, c, d})
	if unchokedAfterOptimistic != MinUnchoked+1 {
		t.Fatalf("expected %d unchoked on the optimistic tick, got %d", MinUnchoked+1, unchokedAfterOptimistic)
	}
}

func countUnchoked(peers []*fakePeer) int {
	n := 0
	for _, p := range peers {
		if !p.AmChoking() {
			n++
		}
	}
	return n
}
