//go:build linux

// setaffinity_linux.go
//
// Linux-only binding for sched_setaffinity(2) that pins **this** OS thread
// to a single logical CPU. Ultra-lightweight: no heap allocations, no
// per-call masks built on the stack.
//
// Design notes
// ------------
//   • A package-level array, filled once at init, holds one uintptr bitmask
//     per logical CPU 0–63; the kernel sees a contiguous 8-byte buffer, exactly what
//     sched_setaffinity expects on 64-bit.
//   • CPUs ≥ 64 are ignored; the first 64 cores cover the supported
//     topologies and the fast path stays allocation-free.
//   • Errors are deliberately swallowed: inside cgroup-restricted
//     containers the call may return EPERM/EINVAL; the fallback is simply
//     "no pin".

package ring8

import (
	"syscall"
	"unsafe"
)

// Pre-computed one-word affinity masks for logical CPUs 0-63.
var cpuMasks = func() (m [64][1]uintptr) {
	for i := range m {
		m[i][0] = 1 << uint(i)
	}
	return
}()

// PinCurrentThread pins the calling OS thread to the given logical CPU.
// The caller must already hold runtime.LockOSThread. Out-of-range indices
// are ignored for portability.
func PinCurrentThread(cpu int) {
	if cpu < 0 || cpu >= len(cpuMasks) {
		return
	}
	mask := &cpuMasks[cpu]
	_, _, _ = syscall.RawSyscall(
		syscall.SYS_SCHED_SETAFFINITY,
		0, // pid 0 → current thread
		uintptr(unsafe.Sizeof(mask[0])),
		uintptr(unsafe.Pointer(mask)),
	)
}
