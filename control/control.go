// control.go — Global control flags and shutdown coordination
// ============================================================================
// SYSTEM CONTROL ORCHESTRATION
// ============================================================================
//
// Control provides the lightweight global signaling infrastructure shared by
// the pinned master thread and every worker loop: a stop flag polled once per
// loop iteration, a hot flag that keeps the master in tight-spin while pixel
// traffic is flowing, and a WaitGroup that gates process exit on all
// subsystems having observed the stop flag.
//
// Threading model:
//   • Workers call SignalActivity() when they forward accepted pixel writes.
//   • The master polls Hot()/PollCooldown() to choose spin vs sleep backoff.
//   • Shutdown() flips the stop flag once; every loop polls Stopping() at its
//     suspension points and returns, then Done()s the WaitGroup.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// GLOBAL STATE
// ============================================================================

var (
	hot  atomic.Uint32 // 1 = pixel traffic within the cooldown window
	stop atomic.Uint32 // 1 = graceful shutdown requested

	lastHot    atomic.Int64             // nanosecond timestamp of last activity
	cooldownNs = int64(1 * time.Second) // idle period before hot clears

	// ShutdownWG counts the running worker and master loops; the stats
	// reporter does not join it. main waits on it after signaling Shutdown.
	ShutdownWG sync.WaitGroup
)

// ============================================================================
// ACTIVITY SIGNALING
// ============================================================================

// SignalActivity marks the system as actively carrying pixel traffic. Called
// from worker loops when writes are forwarded to the master.
func SignalActivity() {
	hot.Store(1)
	lastHot.Store(time.Now().UnixNano())
}

// PollCooldown clears the hot flag after a quiet period. Integrated into the
// master's spin loop so an idle canvas stops burning a core.
func PollCooldown() {
	if hot.Load() == 1 && time.Now().UnixNano()-lastHot.Load() > cooldownNs {
		hot.Store(0)
	}
}

// Hot reports whether traffic arrived within the cooldown window.
func Hot() bool {
	return hot.Load() == 1
}

// ============================================================================
// SHUTDOWN
// ============================================================================

// Shutdown requests graceful termination. Idempotent.
func Shutdown() {
	stop.Store(1)
}

// Stopping reports whether shutdown has been requested. Polled once per loop
// iteration by every subsystem.
func Stopping() bool {
	return stop.Load() == 1
}

// Reset rearms the flags. Test hook only.
func Reset() {
	stop.Store(0)
	hot.Store(0)
}
