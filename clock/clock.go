// clock.go — Coarse shared clock for hot loops
//
// Worker and master loops consult wall time on every iteration (broadcast
// deadlines, wheel ticks, idle sweeps). A time.Now() per iteration per core
// is measurable at target load, so a single background updater stores the
// current millisecond timestamp into an atomic that everyone reads for free.
//
// Resolution is 1 ms, which is an order of magnitude finer than the smallest
// deadline consuming it (the 20 ms sweep throttle).

package clock

import (
	"sync/atomic"
	"time"
)

var nowMS atomic.Int64

func init() {
	nowMS.Store(time.Now().UnixMilli())
}

// Start launches the updater goroutine. Call once at init, before any worker
// is running. The goroutine runs for the process lifetime.
func Start() {
	go func() {
		t := time.NewTicker(time.Millisecond)
		for range t.C {
			nowMS.Store(time.Now().UnixMilli())
		}
	}()
}

// NowMS returns the coarse current time in Unix milliseconds.
//
//go:inline
func NowMS() int64 {
	return nowMS.Load()
}

// NowSec returns the coarse current time in Unix seconds.
//
//go:inline
func NowSec() int64 {
	return nowMS.Load() / 1000
}
