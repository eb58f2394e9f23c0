// ============================================================================
// SNAPSHOT PUBLISHER — RCU POOL + PER-SLOT SEQUENCE LOCK
// ============================================================================
//
// The master publishes a consistent (grid, RLE payload, version, region)
// tuple to every worker without locks. Publication is RCU-like over a fixed
// pool of snapshot buffers:
//
//	• the master cycles through SnapshotPoolSize slots with a bitmask,
//	  filling the *next* slot while workers read the *active* one;
//	• a per-slot sequence counter (odd = write in progress) lets a slow
//	  reader detect the rare case where the master has lapped the pool and
//	  is rewriting the very slot it is copying from;
//	• the active-index store is the release point — a worker that loads the
//	  index observes the slot contents fully written.
//
// Readers always copy out of the slot (snapshot payloads are sent long after
// the read), so the sequence validation brackets exactly the copy.
//
// A mutex here would serialize every worker broadcast against every master
// apply; the pool keeps the master wait-free and readers retry-free except
// when lapped (pool size 16 ≈ 1.6 s of lag at the default cadence).

package canvas

import (
	"sync/atomic"

	"main/constants"
)

// Publisher owns the snapshot pool. Exactly one writer (the master).
type Publisher struct {
	seq    atomic.Uint64 // publish counter; workers poll it for "new tick?"
	active atomic.Uint32 // pool index workers read from

	gens [constants.SnapshotPoolSize]atomic.Uint64 // per-slot seqlock

	snaps    [constants.SnapshotPoolSize][]byte // full canvas copies
	rle      [constants.SnapshotPoolSize][]byte // RLE payloads, resliced per publish
	versions [constants.SnapshotPoolSize]uint64
	regions  [constants.SnapshotPoolSize]uint64 // packed Region
}

// NewPublisher preallocates every pool buffer; nothing allocates after this.
func NewPublisher() *Publisher {
	p := &Publisher{}
	for i := 0; i < constants.SnapshotPoolSize; i++ {
		p.snaps[i] = make([]byte, constants.CanvasSize)
		p.rle[i] = make([]byte, 0, constants.RLEWorstCase)
	}
	// Slot 0 starts valid: the zero canvas, so a connection admitted before
	// the first master publish still bootstraps with a well-formed snapshot.
	p.rle[0] = AppendRLE(p.rle[0], p.snaps[0])
	return p
}

// Publish copies src into the next pool slot, RLE-compresses it, and flips
// the active index. Master-only.
func (p *Publisher) Publish(src []byte, version uint64, region Region) {
	next := (p.active.Load() + 1) & constants.SnapshotPoolMask
	g := p.gens[next].Load()
	p.gens[next].Store(g + 1) // odd: write in progress

	copy(p.snaps[next], src)
	p.rle[next] = AppendRLE(p.rle[next][:0], p.snaps[next])
	p.versions[next] = version
	p.regions[next] = region.Pack()

	p.gens[next].Store(g + 2) // even: slot stable
	p.active.Store(next)      // release point for readers
	p.seq.Add(1)
}

// Seq returns the publish counter; a worker compares it against the last
// value it broadcast to decide whether a new tick is available.
func (p *Publisher) Seq() uint64 {
	return p.seq.Load()
}

// maxReadRetries bounds validation loops; a reader that is being lapped this
// persistently is stalled beyond repair for this tick and skips it.
const maxReadRetries = 4

// SnapshotRLE copies the active RLE payload into buf (which must have
// RLEWorstCase capacity) and returns the resliced payload with its version.
// ok is false only when the reader was lapped maxReadRetries times.
func (p *Publisher) SnapshotRLE(buf []byte) (payload []byte, version uint64, ok bool) {
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		slot := p.active.Load()
		g := p.gens[slot].Load()
		if g&1 != 0 {
			continue // master mid-write on this slot; index will move on
		}
		n := len(p.rle[slot])
		payload = append(buf[:0], p.rle[slot][:n]...)
		version = p.versions[slot]
		if p.gens[slot].Load() == g {
			return payload, version, true
		}
	}
	return nil, 0, false
}

// CopyAll copies the entire active snapshot into dst (CanvasSize bytes).
// Used on forced-full broadcast ticks to resynchronize a worker's local and
// last-sent copies in one pass.
func (p *Publisher) CopyAll(dst []byte) (version uint64, ok bool) {
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		slot := p.active.Load()
		g := p.gens[slot].Load()
		if g&1 != 0 {
			continue
		}
		copy(dst, p.snaps[slot])
		version = p.versions[slot]
		if p.gens[slot].Load() == g {
			return version, true
		}
	}
	return 0, false
}

// CopyRegion copies the active snapshot's published region into dst (a full
// canvas-sized buffer, region rows only) and returns the version and region.
// An empty region copies nothing and still reports ok; callers check
// region.Empty(). ok is false only when the reader was lapped
// maxReadRetries times.
func (p *Publisher) CopyRegion(dst []byte) (version uint64, region Region, ok bool) {
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		slot := p.active.Load()
		g := p.gens[slot].Load()
		if g&1 != 0 {
			continue
		}
		region = UnpackRegion(p.regions[slot])
		version = p.versions[slot]
		if !region.Empty() {
			src := p.snaps[slot]
			w := int(region.MaxX) - int(region.MinX) + 1
			for y := int(region.MinY); y <= int(region.MaxY); y++ {
				off := y*constants.CanvasWidth + int(region.MinX)
				copy(dst[off:off+w], src[off:off+w])
			}
		}
		if p.gens[slot].Load() == g {
			return version, region, true
		}
	}
	return 0, Region{}, false
}
