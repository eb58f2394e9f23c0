//go:build linux

// ringconn_linux.go — io_uring-backed net.PacketConn for one worker
//
// Receive path: a 128 MiB buffer slab (65,535 × 2 KiB) is handed to the
// kernel as a provided-buffer group; one multishot recvmsg stays armed and
// every completion names a buffer id, a length and a source address. The
// ring loop parses the recvmsg_out layout in place and forwards a
// descriptor to the protocol layer's ReadFrom; the buffer id is re-provided
// to the group as soon as ReadFrom has copied the payload out.
//
// Transmit path: WriteTo pops a TxRecord index, copies the payload and
// destination into the preallocated record, and queues the index for the
// ring loop, which pins a sendmsg submission to the record's own
// iovec/msghdr/sockaddr triple. The completion returns the index to the
// free stack. Pool exhaustion drops the datagram and counts it.
//
// Kernels without multishot receive degrade to one-shot recvmsg slots that
// are re-armed per packet; kernels without io_uring at all never construct
// this type (see Listen).

package netio

import (
	"net"
	"net/netip"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"main/constants"
	"main/control"
	"main/debug"
	"main/ring8"
	"main/txpool"
	"main/uring"
	"main/utils"
)

// oneshotSlots is the number of pinned recvmsg slots used on kernels that
// reject multishot receive. Slots reuse the low buffer ids of the slab.
const oneshotSlots = 256

// recvmsgOutSize is the fixed header io_uring prepends to multishot recvmsg
// payloads: namelen, controllen, payloadlen, flags (4 × u32).
const recvmsgOutSize = 16

// sockaddrInCap is the msg_namelen capacity reserved in every receive
// buffer (sizeof(sockaddr_in)).
const sockaddrInCap = 16

// rxDesc travels from the ring loop to ReadFrom.
type rxDesc struct {
	off  uint32
	n    uint32
	buf  uint16
	addr netip.AddrPort
}

// RingConn implements net.PacketConn over one io_uring + UDP socket.
type RingConn struct {
	ring  *uring.Ring
	sock  int
	core  int
	local *net.UDPAddr
	stats *Stats

	slab []byte // NumRecvBuffers × PktBufSize, registered with the kernel

	rx        chan rxDesc // ring loop → ReadFrom
	release   *ring8.Ring // ReadFrom → ring loop: buffer ids to re-provide
	txPending chan uint32 // WriteTo → ring loop: filled TxRecord indices

	pool    *txpool.Pool
	txAddrs []unix.RawSockaddrInet4
	txIovs  []unix.Iovec
	txMsgs  []unix.Msghdr

	// One-shot fallback state.
	osMsgs  []unix.Msghdr
	osIovs  []unix.Iovec
	osNames []unix.RawSockaddrInet4

	recvMsg unix.Msghdr   // multishot template: caps only
	tickTS  unix.Timespec // pinned timeout payload

	multishot bool
	heldBufs  int // buffers currently outside the provided group

	addrCache map[netip.AddrPort]*net.UDPAddr

	closed atomic.Bool
}

func htons(p uint16) uint16 {
	return p<<8 | p>>8
}

// newRingConn builds the socket, the ring and the pools, arms the initial
// receive, and starts the ring loop pinned to core.
func newRingConn(port, core int, stats *Stats) (*RingConn, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	_ = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(sock)
		return nil, err
	}
	_ = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_RCVBUF, constants.SocketRecvBufSize)
	_ = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_SNDBUF, constants.SocketSendBufSize)
	if err := unix.Bind(sock, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(sock)
		return nil, err
	}

	r, err := uring.Setup(constants.SQDepth)
	if err != nil {
		unix.Close(sock)
		return nil, err
	}

	c := &RingConn{
		ring:      r,
		sock:      sock,
		core:      core,
		local:     &net.UDPAddr{IP: net.IPv4zero, Port: port},
		stats:     stats,
		slab:      make([]byte, constants.NumRecvBuffers*constants.PktBufSize),
		rx:        make(chan rxDesc, constants.IngestQueueDepth),
		release:   ring8.New(nextPow2(constants.NumRecvBuffers)),
		txPending: make(chan uint32, constants.TxCapacity),
		pool:      txpool.New(constants.TxCapacity),
		txAddrs:   make([]unix.RawSockaddrInet4, constants.TxCapacity),
		txIovs:    make([]unix.Iovec, constants.TxCapacity),
		txMsgs:    make([]unix.Msghdr, constants.TxCapacity),
		multishot: true,
		addrCache: make(map[netip.AddrPort]*net.UDPAddr),
	}
	c.recvMsg.Namelen = sockaddrInCap
	stats.RingMode = true
	stats.Tx = c.pool

	// Hand the whole slab to the provided-buffer group and arm the first
	// multishot receive before the loop starts.
	if err := r.PushProvideBuffers(unsafe.Pointer(&c.slab[0]),
		constants.PktBufSize, constants.NumRecvBuffers, constants.BufferGroupID, 0, 0); err != nil {
		c.teardown()
		return nil, err
	}
	if err := r.PushRecvMsg(c.sock, &c.recvMsg, constants.BufferGroupID, true, constants.TagIncoming); err != nil {
		c.teardown()
		return nil, err
	}
	if _, err := r.Submit(); err != nil {
		c.teardown()
		return nil, err
	}

	go c.loop()
	return c, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *RingConn) teardown() {
	c.ring.Close()
	_ = unix.Close(c.sock)
}

// ───────────────────────────────── ring loop ────────────────────────────────

// loop is the worker's I/O thread: it owns submission and completion for the
// ring, re-provides receive buffers, and flushes pending transmissions.
func (c *RingConn) loop() {
	runtime.LockOSThread()
	ring8.PinCurrentThread(c.core)
	defer func() {
		c.teardown()
		close(c.rx)
		runtime.UnlockOSThread()
	}()

	tickArmed := false
	for {
		if c.closed.Load() || control.Stopping() {
			return
		}

		c.reprovideReleased()
		c.flushPending()

		if !tickArmed {
			c.tickTS = unix.Timespec{Nsec: constants.RingWaitNS}
			if err := c.ring.PushTimeout(&c.tickTS, constants.TagTick); err != nil {
				debug.DropError("RING_FATAL", err)
				return
			}
			tickArmed = true
		}
		if _, err := c.ring.SubmitAndWait(1); err != nil {
			debug.DropError("RING_FATAL", err)
			return
		}

		for {
			cqe, ok := c.ring.PopCQE()
			if !ok {
				break
			}
			switch cqe.UserData & 0xFF {
			case constants.TagTick:
				tickArmed = false
			case constants.TagOutgoing:
				c.pool.Put(uint32(cqe.UserData >> 8))
			case constants.TagIncoming:
				if c.multishot {
					c.onMultishotCQE(cqe)
				} else {
					c.onOneshotCQE(cqe)
				}
			default:
				// provide-buffers acknowledgements carry user_data 0
				if cqe.Res < 0 {
					debug.DropError("RING_PROVIDE", unix.Errno(-cqe.Res))
				}
			}
		}
	}
}

// reprovideReleased returns every buffer id ReadFrom has finished with back
// to the kernel: to the provided group in multishot mode, or by re-arming
// the slot's recvmsg in one-shot mode.
func (c *RingConn) reprovideReleased() {
	for {
		v, ok := c.release.Pop()
		if !ok {
			return
		}
		bufID := uint16(v)
		if !c.multishot {
			c.armOneshotSlot(bufID)
			continue
		}
		off := int(bufID) * constants.PktBufSize
		if err := c.ring.PushProvideBuffers(unsafe.Pointer(&c.slab[off]),
			constants.PktBufSize, 1, constants.BufferGroupID, bufID, 0); err != nil {
			debug.DropError("RING_FATAL", err)
			return
		}
		c.heldBufs--
	}
}

// flushPending turns queued TxRecord indices into sendmsg submissions.
func (c *RingConn) flushPending() {
	for {
		select {
		case idx := <-c.txPending:
			rec := c.pool.Record(idx)
			sa := &c.txAddrs[idx]
			sa.Family = unix.AF_INET
			sa.Port = htons(rec.Addr.Port())
			sa.Addr = rec.Addr.Addr().As4()

			iov := &c.txIovs[idx]
			iov.Base = &rec.Buf[0]
			iov.SetLen(rec.Len)

			msg := &c.txMsgs[idx]
			*msg = unix.Msghdr{}
			msg.Name = (*byte)(unsafe.Pointer(sa))
			msg.Namelen = sockaddrInCap
			msg.Iov = iov
			msg.SetIovlen(1)

			if err := c.ring.PushSendMsg(c.sock, msg, constants.TagOutgoing|uint64(idx)<<8); err != nil {
				debug.DropError("RING_FATAL", err)
				c.pool.Put(idx)
				return
			}
		default:
			return
		}
	}
}

// onMultishotCQE handles one multishot receive completion: locate the
// provided buffer, parse the recvmsg_out layout, and forward the payload.
func (c *RingConn) onMultishotCQE(cqe uring.CQE) {
	rearm := cqe.Flags&uring.CQEFMore == 0

	if cqe.Res < 0 {
		if unix.Errno(-cqe.Res) == unix.EINVAL {
			// Kernel predates multishot recvmsg: fall back to pinned
			// one-shot slots re-armed per packet.
			debug.DropMessage("RING_MODE", "multishot unsupported, one-shot fallback")
			c.multishot = false
			c.armOneshot()
			return
		}
		if rearm {
			_ = c.ring.PushRecvMsg(c.sock, &c.recvMsg, constants.BufferGroupID, true, constants.TagIncoming)
		}
		return
	}

	if cqe.Flags&uring.CQEFBuffer != 0 {
		bufID := uint16(cqe.Flags >> uring.CQEBufferShift)
		off := int(bufID) * constants.PktBufSize
		buf := c.slab[off : off+constants.PktBufSize]

		namelen := utils.Load32LE(buf[0:])
		payloadLen := utils.Load32LE(buf[8:])
		payloadOff := recvmsgOutSize + sockaddrInCap

		if namelen >= 8 && payloadLen > 0 &&
			payloadOff+int(payloadLen) <= constants.PktBufSize {
			addr := parseSockaddrIn(buf[recvmsgOutSize:])
			c.forward(rxDesc{
				off:  uint32(off + payloadOff),
				n:    payloadLen,
				buf:  bufID,
				addr: addr,
			})
		} else {
			c.reprovideNow(bufID)
		}
	}

	if rearm {
		_ = c.ring.PushRecvMsg(c.sock, &c.recvMsg, constants.BufferGroupID, true, constants.TagIncoming)
	}
}

// forward hands a descriptor to the protocol layer, or drops the packet and
// re-provides its buffer immediately when ReadFrom has fallen behind.
func (c *RingConn) forward(d rxDesc) {
	c.heldBufs++
	if c.heldBufs > constants.NumRecvBuffers {
		panic("netio: provided-buffer accounting broken")
	}
	select {
	case c.rx <- d:
	default:
		c.stats.RxQueueDrops.Add(1)
		c.reprovideNow(d.buf)
		c.heldBufs--
	}
}

func (c *RingConn) reprovideNow(bufID uint16) {
	off := int(bufID) * constants.PktBufSize
	_ = c.ring.PushProvideBuffers(unsafe.Pointer(&c.slab[off]),
		constants.PktBufSize, 1, constants.BufferGroupID, bufID, 0)
}

// armOneshot pins oneshotSlots recvmsg operations, each with its own
// msghdr/iovec/name triple over a dedicated slab slot.
func (c *RingConn) armOneshot() {
	c.osMsgs = make([]unix.Msghdr, oneshotSlots)
	c.osIovs = make([]unix.Iovec, oneshotSlots)
	c.osNames = make([]unix.RawSockaddrInet4, oneshotSlots)
	for i := 0; i < oneshotSlots; i++ {
		c.armOneshotSlot(uint16(i))
	}
}

func (c *RingConn) armOneshotSlot(slot uint16) {
	off := int(slot) * constants.PktBufSize
	iov := &c.osIovs[slot]
	iov.Base = &c.slab[off]
	iov.SetLen(constants.PktBufSize)

	msg := &c.osMsgs[slot]
	*msg = unix.Msghdr{}
	msg.Name = (*byte)(unsafe.Pointer(&c.osNames[slot]))
	msg.Namelen = sockaddrInCap
	msg.Iov = iov
	msg.SetIovlen(1)

	if err := c.ring.PushRecvMsgPlain(c.sock, msg, constants.TagIncoming|uint64(slot)<<8); err != nil {
		debug.DropError("RING_FATAL", err)
	}
}

// onOneshotCQE handles a one-shot receive completion and re-arms its slot.
func (c *RingConn) onOneshotCQE(cqe uring.CQE) {
	slot := uint16(cqe.UserData >> 8)
	if cqe.Res > 0 {
		sa := &c.osNames[slot]
		port := htons(sa.Port)
		addr := netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), port)
		off := int(slot) * constants.PktBufSize
		// One-shot slots are not group buffers; copy out before re-arming so
		// the kernel never writes under a pending ReadFrom.
		n := int(cqe.Res)
		d := rxDesc{off: uint32(off), n: uint32(n), buf: slot, addr: addr}
		select {
		case c.rx <- d:
			// ReadFrom will copy; hold off re-arming until release.
			return
		default:
			c.stats.RxQueueDrops.Add(1)
		}
	}
	c.armOneshotSlot(slot)
}

// parseSockaddrIn decodes a raw sockaddr_in written by the kernel.
func parseSockaddrIn(b []byte) netip.AddrPort {
	port := uint16(b[2])<<8 | uint16(b[3])
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte(b[4:8])), port)
}

// ─────────────────────────── net.PacketConn surface ─────────────────────────

// ReadFrom blocks until the ring loop delivers a packet, copies the payload
// into p, and releases the buffer back to the provided group.
func (c *RingConn) ReadFrom(p []byte) (int, net.Addr, error) {
	d, ok := <-c.rx
	if !ok {
		return 0, nil, net.ErrClosed
	}
	n := copy(p, c.slab[d.off:d.off+d.n])
	for !c.release.Push(uint64(d.buf)) {
		ring8.Relax() // loop drains the release ring every iteration
	}

	ua := c.addrCache[d.addr]
	if ua == nil {
		ua = net.UDPAddrFromAddrPort(d.addr)
		c.addrCache[d.addr] = ua
	}
	return n, ua, nil
}

// WriteTo copies p into a free TxRecord and queues it for ring submission.
// When the pool is exhausted the datagram is dropped (and counted); loss
// recovery belongs to the protocol layer.
func (c *RingConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	ua, ok := addr.(*net.UDPAddr)
	if !ok || len(p) > constants.DgramMaxSendSize {
		return 0, unix.EINVAL
	}
	idx, rec, ok := c.pool.Get()
	if !ok {
		return len(p), nil // dropped and counted by the pool
	}
	rec.Len = copy(rec.Buf[:], p)
	rec.Addr = ua.AddrPort()
	c.txPending <- idx
	return len(p), nil
}

// Close stops the ring loop; in-flight ReadFrom calls return net.ErrClosed
// once the loop has drained out.
func (c *RingConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *RingConn) LocalAddr() net.Addr { return c.local }

// Deadlines are not used by the QUIC stack on the server path; the contract
// here is close-to-unblock.
func (c *RingConn) SetDeadline(t time.Time) error      { return nil }
func (c *RingConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *RingConn) SetWriteDeadline(t time.Time) error { return nil }
