package progress

import (
	"testing"
	"time"

	"goleech/swarm"
)

func TestTickComputesWindowedRate(t *testing.T) {
	counters := swarm.NewCounters(1000)
	r := New("test.bin", 1000, counters)

	counters.AddDownloaded(100)
	rate1 := r.Tick()
	if rate1 <= 0 {
		t.Fatalf("expected positive rate after first delta, got %f", rate1)
	}

	time.Sleep(10 * time.Millisecond)

	counters.AddDownloaded(200)
	rate2 := r.Tick()
	if rate2 <= 0 {
		t.Fatalf("expected positive rate after second delta, got %f", rate2)
	}
}

func TestTickZeroProgressYieldsZeroRate(t *testing.T) {
	counters := swarm.NewCounters(1000)
	r := New("test.bin", 1000, counters)

	rate := r.Tick()
	if rate != 0 {
		t.Fatalf("expected zero rate with no downloaded bytes, got %f", rate)
	}
}

func TestPrintPeerTableDoesNotPanic(t *testing.T) {
	PrintPeerTable([]PeerStatus{
		{Addr: "1.2.3.4:6881", Choked: true, Interested: false},
		{Addr: "5.6.7.8:6881", Choked: false, Interested: true},
	})
}
