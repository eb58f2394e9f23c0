// ============================================================================
// MASTER — AUTHORITATIVE MERGE & SNAPSHOT PUBLICATION
// ============================================================================
//
// The singleton master thread drains every worker's SPSC pixel ring in a
// fixed round-robin, applies writes to the authoritative canvas (later write
// wins, in merge order), unions the active region, and on the broadcast
// cadence publishes a consistent snapshot through the canvas publisher.
//
// Ordering guarantees: within one worker queue, writes apply FIFO; across
// workers, the fixed polling order defines a total merge order observable to
// every broadcaster. There is no global real-time order between clients —
// by construction, not omission.
//
// The master never blocks a worker: a full ring is the worker's problem
// (drop + counter) and an empty ring costs the master one failed pop. Idle
// periods degrade from hot spin through PAUSE relaxation to bounded sleeps
// capped at MasterBackoffMaxUS.

package master

import (
	"runtime"
	"sync/atomic"
	"time"

	"main/canvas"
	"main/clock"
	"main/constants"
	"main/control"
	"main/debug"
	"main/ring8"
	"main/utils"
)

// Master owns the authoritative canvas. Single-threaded.
type Master struct {
	queues []*ring8.Ring
	canvas *canvas.Canvas
	pub    *canvas.Publisher

	region  canvas.Region
	version uint64

	applied   uint64 // total writes merged (telemetry)
	publishes uint64 // total snapshots published (telemetry)

	lastPublishMS int64
}

// New wires the master to its worker queues and the shared publisher.
func New(queues []*ring8.Ring, cv *canvas.Canvas, pub *canvas.Publisher) *Master {
	return &Master{
		queues: queues,
		canvas: cv,
		pub:    pub,
		region: canvas.EmptyRegion(),
	}
}

// drainOnce performs one round-robin pass over all worker queues, popping at
// most MasterBatchDrain writes per queue. Returns the number applied.
func (m *Master) drainOnce() int {
	applied := 0
	for _, q := range m.queues {
		for i := 0; i < constants.MasterBatchDrain; i++ {
			v, ok := q.Pop()
			if !ok {
				break
			}
			x, y, color, _ := canvas.UnpackWrite(v)
			m.canvas.Set(int(x), int(y), color)
			m.region.Union(x, y)
			applied++
		}
	}
	if applied > 0 {
		atomic.AddUint64(&m.version, 1)
		atomic.AddUint64(&m.applied, uint64(applied))
	}
	return applied
}

// publishIfDue publishes the canvas at the broadcast cadence and resets the
// active region. Returns true when a publish happened.
func (m *Master) publishIfDue(nowMS int64) bool {
	if nowMS-m.lastPublishMS < constants.BroadcastIntervalMS {
		return false
	}
	m.lastPublishMS = nowMS
	m.pub.Publish(m.canvas.Bytes(), atomic.LoadUint64(&m.version), m.region)
	m.region = canvas.EmptyRegion()
	atomic.AddUint64(&m.publishes, 1)
	return true
}

// Run executes the merge loop on the calling goroutine, locked to an OS
// thread pinned to core. Returns when shutdown is signaled.
func (m *Master) Run(core int) {
	runtime.LockOSThread()
	ring8.PinCurrentThread(core)
	control.ShutdownWG.Add(1)
	defer func() {
		runtime.UnlockOSThread()
		control.ShutdownWG.Done()
	}()

	m.lastPublishMS = clock.NowMS()
	idleSpins := 0

	for !control.Stopping() {
		applied := m.drainOnce()
		m.publishIfDue(clock.NowMS())

		if applied > 0 {
			idleSpins = 0
			continue
		}

		// Idle backoff: stay in PAUSE spin while traffic is hot, otherwise
		// escalate toward the bounded sleep cap.
		control.PollCooldown()
		if control.Hot() {
			ring8.Relax()
			continue
		}
		idleSpins++
		switch {
		case idleSpins < 64:
			ring8.Relax()
		case idleSpins < 128:
			time.Sleep(time.Microsecond)
		default:
			time.Sleep(constants.MasterBackoffMaxUS * time.Microsecond)
		}
	}

	debug.DropMessage("MASTER", "stopped after "+utils.Itoa(int(atomic.LoadUint64(&m.applied)))+" writes")
}

// Stats is the master's telemetry snapshot.
type Stats struct {
	Applied   uint64 `json:"applied"`
	Publishes uint64 `json:"publishes"`
	Version   uint64 `json:"version"`
}

// Snapshot reads the counters; safe from any goroutine.
func (m *Master) Snapshot() Stats {
	return Stats{
		Applied:   atomic.LoadUint64(&m.applied),
		Publishes: atomic.LoadUint64(&m.publishes),
		Version:   atomic.LoadUint64(&m.version),
	}
}
