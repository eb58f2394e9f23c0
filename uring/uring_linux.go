//go:build linux

// ============================================================================
// IO_URING BINDING — SUBMISSION/COMPLETION RINGS, PROVIDED BUFFERS
// ============================================================================
//
// Minimal io_uring layer carrying exactly the four operations the data path
// needs: PROVIDE_BUFFERS, RECVMSG (multishot when the kernel offers it),
// SENDMSG, and a relative TIMEOUT used to bound kernel waits so pending TX
// work is picked up within a millisecond.
//
// The binding talks to the kernel directly through the raw syscalls in
// golang.org/x/sys/unix and lays the ABI structs out by hand; offsets match
// include/uapi/linux/io_uring.h. Ring memory is mmapped and shared with the
// kernel; head/tail cursors are accessed with acquire/release atomics.
//
// Threading: one goroutine (the worker's ring loop, locked to its OS
// thread) owns submission and completion; nothing here is safe for
// concurrent use.
//
// Failure semantics: Setup errors are fatal-init (caller falls back to the
// plain-socket path); a failed Enter with EINTR retries; anything else on
// the submission side is fatal-runtime for the worker.

package uring

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ───────────────────────────── ABI constants ────────────────────────────────

const (
	offSQRing = 0x0        // IORING_OFF_SQ_RING
	offCQRing = 0x8000000  // IORING_OFF_CQ_RING
	offSQEs   = 0x10000000 // IORING_OFF_SQES

	opSendmsg        = 9  // IORING_OP_SENDMSG
	opRecvmsg        = 10 // IORING_OP_RECVMSG
	opTimeout        = 11 // IORING_OP_TIMEOUT
	opProvideBuffers = 31 // IORING_OP_PROVIDE_BUFFERS

	sqeBufferSelect = 1 << 5 // IOSQE_BUFFER_SELECT
	recvMultishot   = 1 << 1 // IORING_RECV_MULTISHOT (in sqe.ioprio)

	enterGetevents = 1 // IORING_ENTER_GETEVENTS

	setupCoopTaskrun  = 1 << 8  // IORING_SETUP_COOP_TASKRUN
	setupSingleIssuer = 1 << 12 // IORING_SETUP_SINGLE_ISSUER

	featSingleMmap = 1 << 0 // IORING_FEAT_SINGLE_MMAP

	// CQE flag bits.
	CQEFBuffer     = 1 << 0 // IORING_CQE_F_BUFFER: buffer id in flags>>16
	CQEFMore       = 1 << 1 // IORING_CQE_F_MORE: multishot stays armed
	CQEBufferShift = 16
)

// ───────────────────────────── ABI structures ───────────────────────────────

type sqringOffsets struct {
	head, tail, ringMask, ringEntries uint32
	flags, dropped, array, resv1      uint32
	userAddr                          uint64
}

type cqringOffsets struct {
	head, tail, ringMask, ringEntries uint32
	overflow, cqes, flags, resv1      uint32
	userAddr                          uint64
}

type setupParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32
	sqOff        sqringOffsets
	cqOff        cqringOffsets
}

// sqe is the 64-byte submission queue entry. Union fields are named for the
// operations this binding issues.
type sqe struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64 // addr2 / starting buffer id
	addr        uint64
	len         uint32
	opFlags     uint32 // msg_flags / timeout_flags
	userData    uint64
	bufGroup    uint16 // buf_index / buf_group union
	personality uint16
	spliceFDIn  int32
	_           [2]uint64
}

// CQE is the 16-byte completion queue entry, copied out for the caller.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// ─────────────────────────────── Ring state ─────────────────────────────────

// Ring is one io_uring instance with its mapped memory and cursor pointers.
type Ring struct {
	fd int

	sqMem  []byte
	cqMem  []byte
	sqeMem []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqArray   *uint32 // base of the index array
	sqEntries uint32
	sqes      *sqe // base of the SQE array

	cqHead    *uint32
	cqTail    *uint32
	cqMask    uint32
	cqes      *CQE // base of the CQE array
	cqEntries uint32

	pending uint32 // SQEs appended since the last enter
}

func at32(mem []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// Setup creates a ring with the given SQ depth. It first asks for the
// cooperative task-run + single-issuer fast path and retries without flags
// on kernels that predate them.
func Setup(depth uint32) (*Ring, error) {
	var p setupParams
	p.flags = setupCoopTaskrun | setupSingleIssuer
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(depth), uintptr(unsafe.Pointer(&p)), 0)
	if errno == unix.EINVAL {
		p = setupParams{}
		fd, _, errno = unix.Syscall(unix.SYS_IO_URING_SETUP,
			uintptr(depth), uintptr(unsafe.Pointer(&p)), 0)
	}
	if errno != 0 {
		return nil, errno
	}

	r := &Ring{fd: int(fd)}

	sqSize := int(p.sqOff.array) + int(p.sqEntries)*4
	cqSize := int(p.cqOff.cqes) + int(p.cqEntries)*16
	if p.features&featSingleMmap != 0 {
		if cqSize > sqSize {
			sqSize = cqSize
		}
		cqSize = sqSize
	}

	var err error
	r.sqMem, err = unix.Mmap(r.fd, offSQRing, sqSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Close(r.fd)
		return nil, err
	}
	if p.features&featSingleMmap != 0 {
		r.cqMem = r.sqMem
	} else {
		r.cqMem, err = unix.Mmap(r.fd, offCQRing, cqSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			r.Close()
			return nil, err
		}
	}
	r.sqeMem, err = unix.Mmap(r.fd, offSQEs, int(p.sqEntries)*int(unsafe.Sizeof(sqe{})),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.sqHead = at32(r.sqMem, p.sqOff.head)
	r.sqTail = at32(r.sqMem, p.sqOff.tail)
	r.sqMask = *at32(r.sqMem, p.sqOff.ringMask)
	r.sqArray = at32(r.sqMem, p.sqOff.array)
	r.sqEntries = p.sqEntries
	r.sqes = (*sqe)(unsafe.Pointer(&r.sqeMem[0]))

	r.cqHead = at32(r.cqMem, p.cqOff.head)
	r.cqTail = at32(r.cqMem, p.cqOff.tail)
	r.cqMask = *at32(r.cqMem, p.cqOff.ringMask)
	r.cqes = (*CQE)(unsafe.Pointer(&r.cqMem[p.cqOff.cqes]))
	r.cqEntries = p.cqEntries

	return r, nil
}

// Close unmaps the rings and closes the fd.
func (r *Ring) Close() {
	if r.sqeMem != nil {
		_ = unix.Munmap(r.sqeMem)
		r.sqeMem = nil
	}
	if r.cqMem != nil && len(r.cqMem) > 0 && (&r.cqMem[0] != &r.sqMem[0]) {
		_ = unix.Munmap(r.cqMem)
	}
	r.cqMem = nil
	if r.sqMem != nil {
		_ = unix.Munmap(r.sqMem)
		r.sqMem = nil
	}
	if r.fd >= 0 {
		_ = unix.Close(r.fd)
		r.fd = -1
	}
}

// ───────────────────────────── Submission side ──────────────────────────────

// push appends one SQE. Returns false when the submission queue is full; the
// caller flushes with Submit and retries.
func (r *Ring) push(e sqe) bool {
	tail := *r.sqTail
	if tail-atomic.LoadUint32(r.sqHead) >= r.sqEntries {
		return false
	}
	idx := tail & r.sqMask
	slot := (*sqe)(unsafe.Add(unsafe.Pointer(r.sqes), uintptr(idx)*unsafe.Sizeof(sqe{})))
	*slot = e
	arr := (*uint32)(unsafe.Add(unsafe.Pointer(r.sqArray), uintptr(idx)*4))
	*arr = idx
	atomic.StoreUint32(r.sqTail, tail+1)
	r.pending++
	return true
}

// mustPush appends an SQE, flushing the queue to the kernel if it is full.
// Submission failure after a flush indicates unrecoverable ring state.
func (r *Ring) mustPush(e sqe) error {
	if r.push(e) {
		return nil
	}
	if _, err := r.Submit(); err != nil {
		return err
	}
	if !r.push(e) {
		return unix.EIO
	}
	return nil
}

// PushProvideBuffers hands nbufs buffers of bufLen bytes starting at addr to
// the provided-buffer group bgid, with buffer ids starting at startBid.
func (r *Ring) PushProvideBuffers(addr unsafe.Pointer, bufLen, nbufs int32, bgid, startBid uint16, userData uint64) error {
	return r.mustPush(sqe{
		opcode:   opProvideBuffers,
		fd:       nbufs,
		addr:     uint64(uintptr(addr)),
		len:      uint32(bufLen),
		off:      uint64(startBid),
		bufGroup: bgid,
		userData: userData,
	})
}

// PushRecvMsg arms a receive on fd using provided buffers from bgid. With
// multishot the kernel keeps posting completions until it reports otherwise
// via the CQE flags.
func (r *Ring) PushRecvMsg(fd int, msg *unix.Msghdr, bgid uint16, multishot bool, userData uint64) error {
	e := sqe{
		opcode:   opRecvmsg,
		flags:    sqeBufferSelect,
		fd:       int32(fd),
		addr:     uint64(uintptr(unsafe.Pointer(msg))),
		len:      1,
		bufGroup: bgid,
		userData: userData,
	}
	if multishot {
		e.ioprio = recvMultishot
	}
	return r.mustPush(e)
}

// PushRecvMsgPlain arms a one-shot receive whose msghdr carries its own
// iovec and name buffer; used on kernels without multishot receive.
func (r *Ring) PushRecvMsgPlain(fd int, msg *unix.Msghdr, userData uint64) error {
	return r.mustPush(sqe{
		opcode:   opRecvmsg,
		fd:       int32(fd),
		addr:     uint64(uintptr(unsafe.Pointer(msg))),
		len:      1,
		userData: userData,
	})
}

// PushSendMsg submits a sendmsg on fd described by msg. The msghdr and
// everything it points at must stay pinned until the completion arrives.
func (r *Ring) PushSendMsg(fd int, msg *unix.Msghdr, userData uint64) error {
	return r.mustPush(sqe{
		opcode:   opSendmsg,
		fd:       int32(fd),
		addr:     uint64(uintptr(unsafe.Pointer(msg))),
		len:      1,
		userData: userData,
	})
}

// PushTimeout arms a relative timeout so a blocking Enter wakes within ts.
func (r *Ring) PushTimeout(ts *unix.Timespec, userData uint64) error {
	return r.mustPush(sqe{
		opcode:   opTimeout,
		addr:     uint64(uintptr(unsafe.Pointer(ts))),
		len:      1,
		userData: userData,
	})
}

// Submit pushes pending SQEs to the kernel without waiting.
func (r *Ring) Submit() (int, error) {
	return r.enter(0)
}

// SubmitAndWait pushes pending SQEs and blocks until at least min
// completions are available.
func (r *Ring) SubmitAndWait(min uint32) (int, error) {
	return r.enter(min)
}

func (r *Ring) enter(min uint32) (int, error) {
	n := r.pending
	r.pending = 0
	var flags uintptr
	if min > 0 {
		flags = enterGetevents
	}
	for {
		consumed, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
			uintptr(r.fd), uintptr(n), uintptr(min), flags, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, errno
		}
		return int(consumed), nil
	}
}

// ───────────────────────────── Completion side ──────────────────────────────

// PopCQE copies out the next completion. ok is false when the queue is empty.
//
//go:nosplit
func (r *Ring) PopCQE() (CQE, bool) {
	head := *r.cqHead
	if head == atomic.LoadUint32(r.cqTail) {
		return CQE{}, false
	}
	idx := head & r.cqMask
	c := *(*CQE)(unsafe.Add(unsafe.Pointer(r.cqes), uintptr(idx)*unsafe.Sizeof(CQE{})))
	atomic.StoreUint32(r.cqHead, head+1)
	return c, true
}
