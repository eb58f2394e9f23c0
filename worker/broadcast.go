// broadcast.go — Shared broadcast frames and the region diff builder
//
// One frame payload is built per tick and fanned out to every connection on
// the worker; a reference count returns the frame to the freelist once the
// last per-connection writer has flushed it. Per-connection payload copies
// at 500k connections would dwarf the canvas itself — sharing one buffer is
// the whole trick.

package worker

import (
	"sync/atomic"

	"main/canvas"
	"main/codec"
	"main/constants"
	"main/utils"
)

// frame is a shared outbound payload with a reference count. The builder
// holds one reference while fanning out; each enqueued connection holds one
// until its writer goroutine finishes the stream write.
type frame struct {
	b    []byte
	refs atomic.Int32
	w    *Worker
}

func (f *frame) retain() {
	f.refs.Add(1)
}

// release drops one reference and recycles the frame when it was the last.
func (f *frame) release() {
	if f.refs.Add(-1) == 0 {
		select {
		case f.w.framePool <- f:
		default: // freelist full; let the collector take it
		}
	}
}

// getFrame pops a recycled frame or allocates a fresh one (cold path).
func (w *Worker) getFrame() *frame {
	select {
	case f := <-w.framePool:
		f.b = f.b[:0]
		f.refs.Store(1)
		return f
	default:
		f := &frame{b: make([]byte, 0, constants.DiffBufferInitialCap), w: w}
		f.refs.Store(1)
		return f
	}
}

// buildDiffFrame scans the active region, emits a DIFF frame for every cell
// where local differs from lastSent, and advances lastSent to match. Returns
// nil when no cell changed.
func (w *Worker) buildDiffFrame(region canvas.Region) *frame {
	f := w.getFrame()
	f.b = codec.AppendFrameHeader(f.b, codec.KindDiff, 0)
	f.b = append(f.b, 0, 0, 0, 0) // count, patched below
	count := 0
	for y := int(region.MinY); y <= int(region.MaxY); y++ {
		row := y * constants.CanvasWidth
		for x := int(region.MinX); x <= int(region.MaxX); x++ {
			i := row + x
			if w.local[i] != w.lastSent[i] {
				f.b = codec.AppendDiffEntry(f.b, uint16(x), uint16(y), w.local[i])
				w.lastSent[i] = w.local[i]
				count++
			}
		}
	}
	if count == 0 {
		f.release()
		return nil
	}
	utils.Put32LE(f.b[codec.FrameHeaderSize:], uint32(count))
	codec.PatchFrameLength(f.b, 0, len(f.b)-codec.FrameHeaderSize)
	return f
}

// buildSnapshotFrame wraps an RLE payload of the currently published canvas
// into an RLE_SNAPSHOT frame. Returns nil when the publisher reader was
// lapped (retried next tick).
func (w *Worker) buildSnapshotFrame() *frame {
	payload, _, ok := w.pub.SnapshotRLE(w.snapBuf)
	if !ok {
		return nil
	}
	w.snapBuf = payload[:0] // keep the (possibly regrown) backing array
	f := w.getFrame()
	f.b = codec.AppendFrameHeader(f.b, codec.KindRLESnapshot, len(payload))
	f.b = append(f.b, payload...)
	return f
}

// enqueue offers f to one connection without ever blocking: a full queue
// drops this frame for this connection only.
func (w *Worker) enqueue(c *conn, f *frame) bool {
	f.retain()
	select {
	case c.sendCh <- f:
		return true
	default:
		f.release()
		atomic.AddUint64(&w.counters.BroadcastDrops, 1)
		return false
	}
}
