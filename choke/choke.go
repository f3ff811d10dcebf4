/*
Package choke implements the Choking Controller (spec.md §4.5): a single
global 10-second tick loop that rewrites every session's am_choking flag
from observed download rate.

Reworked from original_source/utils.py's unchoke_algorithm (the sorted-rate
top-K and the every-third-tick optimistic unchoke; its
num_to_unchoke = max(len(interested_peers), 3) count is not carried over:
here the number of regular slots is fixed) into a Go ticker loop
over a caller-supplied session list, following the teacher's goroutine+
log.Printf idiom instead of a raw Python thread.
*/
package choke

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Peer is the subset of session.Session the controller needs. Kept local
// (rather than importing goleech/session) so the controller stays testable
// without a live socket.
type Peer interface {
	IsAlive() bool
	PeerInterested() bool
	AmChoking() bool
	DownloadRateSince() int64
	SetChoking(choked bool) error
	RemoteAddr() string
}

const (
	tickPeriod = 10 * time.Second

	// MinUnchoked is the default number of regular unchoke slots. The top
	// MinUnchoked interested peers by rate get them; when fewer peers are
	// interested, the spare slots go to the highest-rate alive peers
	// regardless of interest. More interested peers than slots does not
	// raise the count.
	MinUnchoked = 3

	// optimisticEvery fires the additional random-peer unchoke slot
	// every third tick, i.e. roughly every 30s at a 10s tick period.
	optimisticEvery = 3
)

// Registry supplies the controller with the live session set on each tick.
// Sessions come and go as the Listener/Supervisor create and tear them
// down, so the controller never owns the slice itself.
type Registry interface {
	Sessions() []Peer
}

// Controller runs the global choking loop.
type Controller struct {
	registry    Registry
	minUnchoked int

	mu   sync.Mutex
	tick int

	done chan struct{}
	stop sync.Once
}

// New constructs a Controller. minUnchoked overrides MinUnchoked; pass 0 to
// use the spec default.
func New(registry Registry, minUnchoked int) *Controller {
	if minUnchoked <= 0 {
		minUnchoked = MinUnchoked
	}

	return &Controller{
		registry:    registry,
		minUnchoked: minUnchoked,
		done:        make(chan struct{}),
	}
}

// Run blocks, firing a choking decision every tickPeriod, until Stop is
// called.
func (c *Controller) Run() {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.fire()
		}
	}
}

// Stop ends the controller's loop. Idempotent.
func (c *Controller) Stop() {
	c.stop.Do(func() { close(c.done) })
}

// fire implements spec.md §4.5 steps 1-5 for a single tick.
func (c *Controller) fire() {
	c.mu.Lock()
	c.tick++
	optimistic := c.tick%optimisticEvery == 0
	c.mu.Unlock()

	peers := c.registry.Sessions()

	alive := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if p.IsAlive() {
			alive = append(alive, p)
		}
	}

	type scored struct {
		peer Peer
		rate int64
	}

	var interested, rest []scored

	for _, p := range alive {
		rate := p.DownloadRateSince() // also refreshes the rate snapshot for every alive peer
		s := scored{peer: p, rate: rate}

		if p.PeerInterested() {
			interested = append(interested, s)
		} else {
			rest = append(rest, s)
		}
	}

	sort.SliceStable(interested, func(i, j int) bool { return interested[i].rate > interested[j].rate })

	// spec.md §4.5: unchoke the top k interested peers by rate, k fixed at
	// minUnchoked — NOT inflated to the full interested count, so with more
	// than minUnchoked interested peers only the top-rated ones get in.
	k := c.minUnchoked

	unchoke := make(map[Peer]bool, k+1)
	for i := 0; i < k && i < len(interested); i++ {
		unchoke[interested[i].peer] = true
	}

	// If fewer than k interested peers exist, spec.md §4.5 says "all
	// alive peers may be considered" to fill the remaining slots.
	if len(unchoke) < k {
		candidates := append(append([]scored{}, interested[len(unchoke):]...), rest...)
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].rate > candidates[j].rate })

		for _, s := range candidates {
			if len(unchoke) >= k {
				break
			}
			unchoke[s.peer] = true
		}
	}

	if optimistic {
		if pick := randomOutsideSet(alive, unchoke); pick != nil {
			unchoke[pick] = true
		}
	}

	for _, p := range alive {
		want := unchoke[p]

		if want && p.AmChoking() {
			if err := p.SetChoking(false); err != nil {
				log.Printf("[FAIL]\t%s: sending UNCHOKE: %v\n", p.RemoteAddr(), err)
			}
		} else if !want && !p.AmChoking() {
			if err := p.SetChoking(true); err != nil {
				log.Printf("[FAIL]\t%s: sending CHOKE: %v\n", p.RemoteAddr(), err)
			}
		}
	}
}

func randomOutsideSet(alive []Peer, chosen map[Peer]bool) Peer {
	candidates := make([]Peer, 0, len(alive))
	for _, p := range alive {
		if !chosen[p] {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	return candidates[rand.Intn(len(candidates))]
}
