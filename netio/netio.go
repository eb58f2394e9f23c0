// ============================================================================
// WORKER PACKET I/O — RING-BACKED PACKETCONN WITH PLAIN-SOCKET FALLBACK
// ============================================================================
//
// Every worker owns one UDP socket bound to the shared port with
// SO_REUSEPORT, so the kernel spreads incoming 4-tuples across workers and a
// connection stays on its worker for life. On Linux the socket is serviced
// by an io_uring with a provided-buffer group and multishot receive; the
// ring loop runs on the worker's pinned OS thread and hands packets to the
// QUIC stack through the net.PacketConn interface. When ring setup fails
// (container seccomp, old kernel) the worker degrades to a plain reuseport
// UDP socket and keeps serving.

package netio

import (
	"context"
	"net"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"main/constants"
	"main/txpool"
	"main/utils"
)

// Stats exposes the I/O-path counters an external monitor reads.
type Stats struct {
	// RingMode reports whether the io_uring path is active.
	RingMode bool

	// RxQueueDrops counts packets discarded because the protocol layer fell
	// behind the ring loop.
	RxQueueDrops atomic.Uint64

	// Tx is the transmit record pool (nil on the fallback path; the plain
	// socket writes synchronously).
	Tx *txpool.Pool
}

// TxDrops returns the transmit-exhaustion counter, zero on the fallback path.
func (s *Stats) TxDrops() uint64 {
	if s.Tx == nil {
		return 0
	}
	return s.Tx.Drops()
}

// listenReusePort opens the shared UDP port with SO_REUSEPORT and the large
// kernel buffers; this is both the non-Linux path and the Linux fallback.
func listenReusePort(port int) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			cerr := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, constants.SocketRecvBufSize)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, constants.SocketSendBufSize)
			})
			if cerr != nil {
				return cerr
			}
			return serr
		},
	}
	return lc.ListenPacket(context.Background(), "udp4", "0.0.0.0:"+utils.Itoa(port))
}
