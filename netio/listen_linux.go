//go:build linux

// listen_linux.go — worker socket construction, ring-first
//
// The io_uring path is preferred; any setup failure (seccomp-filtered
// syscall, pre-5.19 kernel, locked memory limits) logs once and degrades to
// the plain reuseport socket. The server keeps running either way.

package netio

import (
	"net"

	"main/debug"
)

// Listen opens this worker's share of the listening port. core is the CPU
// the ring loop pins to when the ring path is taken.
func Listen(port, core int) (net.PacketConn, *Stats, error) {
	stats := &Stats{}
	if conn, err := newRingConn(port, core, stats); err == nil {
		return conn, stats, nil
	} else {
		debug.DropError("RING_INIT", err)
		debug.DropMessage("RING_MODE", "io_uring unavailable, plain socket fallback")
	}
	pc, err := listenReusePort(port)
	if err != nil {
		return nil, nil, err
	}
	return pc, stats, nil
}
