// ============================================================================
// LOCK-FREE SPSC RING BUFFER — 8-BYTE PAYLOAD
// ============================================================================
//
// Single-producer/single-consumer ring queue carrying packed 64-bit pixel
// writes between a worker and the master. One ring exists per worker; the
// worker is the only producer and the master the only consumer, so no
// atomic read-modify-write is ever needed.
//
// Architecture overview:
//   - Separated head/tail cursors on isolated cache lines
//   - Sequence-stamped slots signal availability without fences
//   - Power-of-2 sizing with bit masking for O(1) operations
//   - Zero allocation after construction
//
// Safety model:
//   - SPSC discipline required: one producer goroutine, one consumer
//   - Push returns false when full; the producer drops and counts
//   - No blocking operations; both sides stay wait-free

package ring8

import "sync/atomic"

// slot couples an 8-byte payload with its sequence stamp. Four slots share a
// cache line; producer and consumer touch disjoint slots except at the
// wrap-around boundary.
type slot struct {
	val uint64 // packed payload
	seq uint64 // position in the sequence space
}

// Ring is a fixed-capacity circular buffer dedicated to one producer and one
// consumer. Cursor fields are isolated on their own cache lines to eliminate
// false sharing.
type Ring struct {
	_    [64]byte // isolate head cursor
	head uint64   // consumer read position

	_    [56]byte // isolate tail cursor
	tail uint64   // producer write position

	_    [56]byte
	mask uint64 // size-1 for bit-mask modulo
	step uint64 // size, for sequence reset on Pop
	buf  []slot
}

// New allocates a ring whose size must be a power of two; otherwise it panics
// so the bit-masking arithmetic stays valid.
func New(size int) *Ring {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring8: size must be >0 and a power of two")
	}
	r := &Ring{
		mask: uint64(size - 1),
		step: uint64(size),
		buf:  make([]slot, size),
	}
	for i := range r.buf {
		r.buf[i].seq = uint64(i)
	}
	return r
}

// Push enqueues v, returning false if the buffer is full.
//
//go:nosplit
func (r *Ring) Push(v uint64) bool {
	t := r.tail
	s := &r.buf[t&r.mask]
	if atomic.LoadUint64(&s.seq) != t {
		return false // consumer has not yet reclaimed the slot
	}
	s.val = v
	atomic.StoreUint64(&s.seq, t+1)
	r.tail = t + 1
	return true
}

// Pop dequeues one payload; ok is false if the buffer is empty.
//
//go:nosplit
func (r *Ring) Pop() (uint64, bool) {
	h := r.head
	s := &r.buf[h&r.mask]
	if atomic.LoadUint64(&s.seq) != h+1 {
		return 0, false // producer has not yet published to the slot
	}
	v := s.val
	atomic.StoreUint64(&s.seq, h+r.step)
	r.head = h + 1
	return v, true
}
