package tracker

import (
	"context"
	"log"
	"time"
)

const fallbackInterval = 5 * time.Minute

// ParamsFunc produces fresh announce Params (current counters, event) for
// each re-announce tick.
type ParamsFunc func() Params

// Scheduler drives periodic re-announces on the tracker-supplied interval
// until stopped (SPEC_FULL.md §4.9: "a background goroutine re-announces
// on the tracker-supplied interval until shutdown").
type Scheduler struct {
	source   PeerSource
	params   ParamsFunc
	onResult func(AnnounceResult)

	done chan struct{}
}

// NewScheduler constructs a Scheduler. onResult is invoked with every
// successful announce (including the first), typically to feed newly
// discovered peers to the Supervisor.
func NewScheduler(source PeerSource, params ParamsFunc, onResult func(AnnounceResult)) *Scheduler {
	return &Scheduler{
		source:   source,
		params:   params,
		onResult: onResult,
		done:     make(chan struct{}),
	}
}

// Run announces once immediately, then re-announces on the interval the
// tracker returns (falling back to fallbackInterval if the tracker
// reports zero) until Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	interval := fallbackInterval

	for {
		result, err := s.source.Announce(ctx, s.params())
		if err != nil {
			log.Printf("[FAIL]\ttracker: announce: %v\n", err)
		} else {
			if result.Interval > 0 {
				interval = result.Interval
			}

			s.onResult(result)
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Stop ends the scheduler's loop, optionally after the caller sends one
// final "stopped" event announce of its own.
func (s *Scheduler) Stop() {
	close(s.done)
}
