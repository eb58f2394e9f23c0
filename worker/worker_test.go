package worker

import (
	"testing"

	"main/canvas"
	"main/clock"
	"main/codec"
	"main/constants"
	"main/ring8"
	"main/wheel"
)

// newPipelineWorker wires a worker to a master queue without any network.
func newPipelineWorker(q *ring8.Ring) *Worker {
	w := newTestWorker()
	w.masterQ = q
	w.wheel = wheel.New()
	return w
}

// TestPixelIngestForwardsToMaster pushes one valid datagram through the
// ingest path and expects the packed write on the master queue plus the
// eager local-canvas write.
func TestPixelIngestForwardsToMaster(t *testing.T) {
	q := ring8.New(constants.SPSCCapacity)
	w := newPipelineWorker(q)

	wire := codec.AppendDatagram(nil, codec.PixelDatagram{X: 100, Y: 200, Color: 7, UserID: 42})
	w.handlePixel(ingestMsg{c: &conn{}, data: wire})

	if w.counters.RxPixels != 1 {
		t.Fatalf("rx pixels = %d, want 1", w.counters.RxPixels)
	}
	if w.local[200*constants.CanvasWidth+100] != 7 {
		t.Fatal("eager local write missing")
	}
	v, ok := q.Pop()
	if !ok {
		t.Fatal("master queue empty")
	}
	x, y, color, user := canvas.UnpackWrite(v)
	if x != 100 || y != 200 || color != 7 || user != 42 {
		t.Fatalf("queued write = (%d,%d,%d,%d)", x, y, color, user)
	}
}

// TestPixelIngestCooldownGate verifies the second write by the same user
// within the window is rejected and never reaches the master.
func TestPixelIngestCooldownGate(t *testing.T) {
	q := ring8.New(constants.SPSCCapacity)
	w := newPipelineWorker(q)
	c := &conn{lastRejectMS: clock.NowMS()} // throttle the reject frame

	first := codec.AppendDatagram(nil, codec.PixelDatagram{X: 0, Y: 0, Color: 1, UserID: 7})
	second := codec.AppendDatagram(nil, codec.PixelDatagram{X: 0, Y: 0, Color: 2, UserID: 7})

	w.handlePixel(ingestMsg{c: c, data: first})
	w.handlePixel(ingestMsg{c: c, data: second})

	if w.counters.RxPixels != 1 || w.counters.CooldownRejects != 1 {
		t.Fatalf("rx=%d rejects=%d, want 1/1", w.counters.RxPixels, w.counters.CooldownRejects)
	}
	if _, ok := q.Pop(); !ok {
		t.Fatal("accepted write missing from master queue")
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("rejected write reached the master queue")
	}
	if w.local[0] != 1 {
		t.Fatalf("local cell = %d, canvas must be unchanged by the reject", w.local[0])
	}

	// After a full wheel rotation the user may place again.
	for i := 0; i < constants.WheelSlots; i++ {
		w.wheel.Advance()
	}
	w.handlePixel(ingestMsg{c: c, data: second})
	if w.counters.RxPixels != 2 {
		t.Fatal("write after cooldown expiry rejected")
	}
	if w.local[0] != 2 {
		t.Fatal("post-cooldown write not applied locally")
	}
}

// TestPixelIngestDecodeErrors routes malformed datagrams to the error
// counter without touching canvas or queue.
func TestPixelIngestDecodeErrors(t *testing.T) {
	q := ring8.New(constants.SPSCCapacity)
	w := newPipelineWorker(q)

	bad := [][]byte{
		make([]byte, 8), // short
		codec.AppendDatagram(nil, codec.PixelDatagram{X: 1000, Y: 0, Color: 1, UserID: 1}),
		codec.AppendDatagram(nil, codec.PixelDatagram{X: 0, Y: 0, Color: 16, UserID: 1}),
		codec.AppendDatagram(nil, codec.PixelDatagram{X: 0, Y: 0, Color: 1, UserID: constants.MaxUserID}),
	}
	for _, b := range bad {
		w.handlePixel(ingestMsg{c: &conn{}, data: b})
	}
	if w.counters.DecodeErrors != uint64(len(bad)) {
		t.Fatalf("decode errors = %d, want %d", w.counters.DecodeErrors, len(bad))
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("invalid datagram reached the master queue")
	}
}

// TestMasterQueueBackpressure fills the SPSC ring; further accepted writes
// must drop with a counter, not block.
func TestMasterQueueBackpressure(t *testing.T) {
	q := ring8.New(4) // tiny ring for the test
	w := newPipelineWorker(q)

	for i := 0; i < 6; i++ {
		wire := codec.AppendDatagram(nil, codec.PixelDatagram{
			X: uint16(i), Y: 0, Color: 1, UserID: uint32(i), // distinct users: no cooldown
		})
		w.handlePixel(ingestMsg{c: &conn{}, data: wire})
	}
	if w.counters.RxPixels != 4 {
		t.Fatalf("rx pixels = %d, want 4", w.counters.RxPixels)
	}
	if w.counters.MasterQueueDrops != 2 {
		t.Fatalf("queue drops = %d, want 2", w.counters.MasterQueueDrops)
	}
}

// TestUserIdentityBindsOnFirstMessage latches the first asserted user id on
// the connection.
func TestUserIdentityBindsOnFirstMessage(t *testing.T) {
	q := ring8.New(constants.SPSCCapacity)
	w := newPipelineWorker(q)
	c := &conn{}

	w.handlePixel(ingestMsg{c: c, data: codec.AppendDatagram(nil,
		codec.PixelDatagram{X: 1, Y: 1, Color: 1, UserID: 55})})
	if !c.hasUser || c.userID != 55 {
		t.Fatalf("identity not bound: hasUser=%v id=%d", c.hasUser, c.userID)
	}
	w.handlePixel(ingestMsg{c: c, data: codec.AppendDatagram(nil,
		codec.PixelDatagram{X: 2, Y: 2, Color: 1, UserID: 77})})
	if c.userID != 55 {
		t.Fatal("bound identity overwritten by later message")
	}
}
