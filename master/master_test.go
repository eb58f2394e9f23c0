package master

import (
	"testing"

	"main/canvas"
	"main/constants"
	"main/ring8"
)

func newTestMaster(nWorkers int) (*Master, []*ring8.Ring) {
	queues := make([]*ring8.Ring, nWorkers)
	for i := range queues {
		queues[i] = ring8.New(constants.SPSCCapacity)
	}
	return New(queues, canvas.New(), canvas.NewPublisher()), queues
}

// TestDrainAppliesLastWriteWins pushes two writes to the same cell through
// one queue; queue order must decide the survivor.
func TestDrainAppliesLastWriteWins(t *testing.T) {
	m, qs := newTestMaster(1)
	qs[0].Push(canvas.PackWrite(5, 5, 2, 1))
	qs[0].Push(canvas.PackWrite(5, 5, 9, 2))
	if n := m.drainOnce(); n != 2 {
		t.Fatalf("applied %d, want 2", n)
	}
	if got := m.canvas.At(5, 5); got != 9 {
		t.Fatalf("cell = %d, want 9 (later write wins)", got)
	}
}

// TestDrainRoundRobinOrder verifies the cross-worker merge order: with one
// write per queue to the same cell, the higher-indexed worker's write lands
// later and wins.
func TestDrainRoundRobinOrder(t *testing.T) {
	m, qs := newTestMaster(2)
	qs[0].Push(canvas.PackWrite(5, 5, 2, 1)) // worker A
	qs[1].Push(canvas.PackWrite(5, 5, 9, 2)) // worker B, polled after A
	m.drainOnce()
	if got := m.canvas.At(5, 5); got != 9 {
		t.Fatalf("cell = %d, want 9 (round-robin serializes A then B)", got)
	}
}

// TestDrainBatchBound caps the per-queue pop count at MasterBatchDrain per
// pass, leaving the overflow queued for the next iteration.
func TestDrainBatchBound(t *testing.T) {
	m, qs := newTestMaster(1)
	total := constants.MasterBatchDrain + 10
	for i := 0; i < total; i++ {
		if !qs[0].Push(canvas.PackWrite(uint16(i%1000), 0, 1, 1)) {
			t.Fatalf("test ring too small at %d", i)
		}
	}
	if n := m.drainOnce(); n != constants.MasterBatchDrain {
		t.Fatalf("first pass applied %d, want %d", n, constants.MasterBatchDrain)
	}
	if n := m.drainOnce(); n != 10 {
		t.Fatalf("second pass applied %d, want 10", n)
	}
}

// TestVersionAdvancesPerBatch bumps the version once per pass that applied
// work and never on idle passes.
func TestVersionAdvancesPerBatch(t *testing.T) {
	m, qs := newTestMaster(1)
	if m.drainOnce(); m.Snapshot().Version != 0 {
		t.Fatal("idle pass advanced the version")
	}
	qs[0].Push(canvas.PackWrite(1, 1, 1, 1))
	qs[0].Push(canvas.PackWrite(2, 2, 2, 1))
	m.drainOnce()
	if v := m.Snapshot().Version; v != 1 {
		t.Fatalf("version = %d after one batch, want 1", v)
	}
}

// TestRegionTracksAndResets unions the drained writes into the active
// region, publishes, and starts the next interval empty.
func TestRegionTracksAndResets(t *testing.T) {
	m, qs := newTestMaster(1)
	qs[0].Push(canvas.PackWrite(10, 20, 1, 1))
	qs[0].Push(canvas.PackWrite(700, 3, 2, 1))
	m.drainOnce()

	want := canvas.Region{MinX: 10, MinY: 3, MaxX: 700, MaxY: 20}
	if m.region != want {
		t.Fatalf("region = %+v, want %+v", m.region, want)
	}

	if !m.publishIfDue(m.lastPublishMS + constants.BroadcastIntervalMS) {
		t.Fatal("due publish skipped")
	}
	if !m.region.Empty() {
		t.Fatal("region not reset after publish")
	}

	// Published region must be readable through the publisher.
	local := make([]byte, constants.CanvasSize)
	_, got, ok := m.pub.CopyRegion(local)
	if !ok || got != want {
		t.Fatalf("published region = %+v (ok=%v), want %+v", got, ok, want)
	}
}

// TestPublishThrottle holds publishes below the broadcast cadence.
func TestPublishThrottle(t *testing.T) {
	m, _ := newTestMaster(1)
	base := m.lastPublishMS
	if m.publishIfDue(base + constants.BroadcastIntervalMS - 1) {
		t.Fatal("published before the deadline")
	}
	if !m.publishIfDue(base + constants.BroadcastIntervalMS) {
		t.Fatal("publish at the deadline skipped")
	}
}

// TestCrossWorkerConvergence serializes two workers racing one cell: A writes (5,5,2),
// B writes (5,5,9); after the drain the cell is 9 and a subsequent publish
// exposes 9 to broadcasters.
func TestCrossWorkerConvergence(t *testing.T) {
	m, qs := newTestMaster(2)
	qs[0].Push(canvas.PackWrite(5, 5, 2, 100))
	qs[1].Push(canvas.PackWrite(5, 5, 9, 200))
	m.drainOnce()
	m.publishIfDue(m.lastPublishMS + constants.BroadcastIntervalMS)

	full := make([]byte, constants.CanvasSize)
	if _, ok := m.pub.CopyAll(full); !ok {
		t.Fatal("CopyAll failed")
	}
	if full[5*constants.CanvasWidth+5] != 9 {
		t.Fatal("published canvas does not converge to the later write")
	}
}
