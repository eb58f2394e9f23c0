// ============================================================================
// WORKER — CONNECTION OWNERSHIP, PIXEL INGEST, BROADCAST FAN-OUT
// ============================================================================
//
// One worker per core. A worker owns: its share of the listening port (one
// reuseport socket serviced by its own kernel ring), every QUIC connection
// the kernel hashes onto that socket for the connection's whole life, a
// cooldown wheel, a local canvas copy, and the SPSC ring to the master.
//
// All mutable worker state is confined to the single run() goroutine. The
// QUIC library's per-connection goroutines touch nothing of the worker's:
// inbound datagrams funnel through the ingest channel into run(), and
// outbound frames leave through per-connection queues drained by dedicated
// writer goroutines. A full queue anywhere drops and counts — nothing on
// the data path ever blocks the worker loop.
//
// Loop duties per iteration (each bounded):
//   1. admit or refuse new connections (cap MaxConnsPerWorker)
//   2. decode pixel datagrams, gate on the cooldown wheel, write the local
//      canvas, forward accepted writes to the master
//   3. advance the wheel on its tick boundary
//   4. broadcast: initial RLE snapshot per connection, then shared diffs of
//      the published active region; forced full snapshot every 60 ticks
//   5. maintenance: evict idle and protocol-closed connections
//
// Failure semantics: protocol and decode errors close or discard at
// connection/packet scope and never unwind the loop.

package worker

import (
	"context"
	"crypto/tls"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"main/canvas"
	"main/clock"
	"main/codec"
	"main/constants"
	"main/control"
	"main/debug"
	"main/netio"
	"main/ring8"
	"main/utils"
	"main/wheel"
)

// Application error codes surfaced in CONNECTION_CLOSE frames.
const (
	codeShutdown quic.ApplicationErrorCode = 0x0
	codeBusy     quic.ApplicationErrorCode = 0x1
	codeIdle     quic.ApplicationErrorCode = 0x2
)

// conn is one admitted QUIC connection. All fields are owned by the worker
// loop except sendCh, which the writer goroutine consumes.
type conn struct {
	qc     quic.Connection
	stream quic.SendStream
	sendCh chan *frame

	lastActive   int64 // ms, worker-loop clock
	lastRejectMS int64
	userID       uint32
	hasUser      bool
	snapshotSent bool
}

// ingestMsg carries one raw pixel datagram from a connection receiver into
// the worker loop.
type ingestMsg struct {
	c    *conn
	data []byte
}

// Worker owns one slice of the connection space.
type Worker struct {
	id   int
	core int

	pconn   net.PacketConn
	iostats *netio.Stats
	tr      *quic.Transport
	ln      *quic.Listener

	masterQ *ring8.Ring
	pub     *canvas.Publisher
	wheel   *wheel.Wheel

	local    []byte // worker canvas copy: eager writes + published syncs
	lastSent []byte // state last broadcast to this worker's connections
	snapBuf  []byte // scratch for publisher RLE reads

	ingest    chan ingestMsg
	admit     chan quic.Connection
	framePool chan *frame

	conns map[*conn]struct{}

	counters Counters

	lastSeq     uint64 // publisher sequence last consumed
	ticks       uint32 // broadcast tick counter
	lastSweepMS int64
}

// New binds the worker's socket, builds its QUIC endpoint, and preallocates
// every buffer. Errors here are fatal-init.
func New(id, core, port int, masterQ *ring8.Ring, pub *canvas.Publisher, tlsConf *tls.Config) (*Worker, error) {
	pconn, iostats, err := netio.Listen(port, core)
	if err != nil {
		return nil, err
	}
	tr := &quic.Transport{Conn: pconn}
	ln, err := tr.Listen(tlsConf, quicConfig())
	if err != nil {
		_ = pconn.Close()
		return nil, err
	}
	w := &Worker{
		id:        id,
		core:      core,
		pconn:     pconn,
		iostats:   iostats,
		tr:        tr,
		ln:        ln,
		masterQ:   masterQ,
		pub:       pub,
		wheel:     wheel.New(),
		local:     make([]byte, constants.CanvasSize),
		lastSent:  make([]byte, constants.CanvasSize),
		snapBuf:   make([]byte, 0, constants.RLEWorstCase),
		ingest:    make(chan ingestMsg, constants.IngestQueueDepth),
		admit:     make(chan quic.Connection, 64),
		framePool: make(chan *frame, 64),
		conns:     make(map[*conn]struct{}, constants.MaxConnsPerWorker),
	}
	return w, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:                 constants.IdleTimeoutMS * time.Millisecond,
		HandshakeIdleTimeout:           constants.QuicHandshakeTimeoutMS * time.Millisecond,
		InitialStreamReceiveWindow:     constants.QuicInitialMaxStreamData,
		InitialConnectionReceiveWindow: constants.QuicInitialMaxData,
		MaxIncomingStreams:             -1, // clients never open streams
		MaxIncomingUniStreams:          -1,
		EnableDatagrams:                true,
	}
}

// Start launches the accept loop and the worker loop.
func (w *Worker) Start() {
	control.ShutdownWG.Add(1)
	go w.acceptLoop()
	go w.run()
}

// acceptLoop blocks on the QUIC listener and hands handshaken connections to
// the worker loop for the admission decision.
func (w *Worker) acceptLoop() {
	for {
		qc, err := w.ln.Accept(context.Background())
		if err != nil {
			return // listener closed during shutdown
		}
		w.admit <- qc
	}
}

// run is the worker loop. It locks to an OS thread pinned to the worker's
// core and polls the stop flag at every suspension point.
func (w *Worker) run() {
	runtime.LockOSThread()
	ring8.PinCurrentThread(w.core)
	defer func() {
		runtime.UnlockOSThread()
		control.ShutdownWG.Done()
	}()

	broadcastT := time.NewTicker(constants.BroadcastIntervalMS * time.Millisecond)
	wheelT := time.NewTicker(constants.WheelTickMS * time.Millisecond)
	maintT := time.NewTicker(time.Second)
	defer broadcastT.Stop()
	defer wheelT.Stop()
	defer maintT.Stop()

	for !control.Stopping() {
		select {
		case qc := <-w.admit:
			w.admitConn(qc)
		case m := <-w.ingest:
			w.handlePixel(m)
		case <-wheelT.C:
			w.wheel.Advance()
		case <-broadcastT.C:
			w.broadcastTick()
		case <-maintT.C:
			w.maintenance()
		}
	}
	w.shutdown()
}

// ───────────────────────────────── admission ────────────────────────────────

// admitConn enforces the per-worker cap and wires up an admitted connection:
// the server-push stream, the datagram receiver, and the stream writer.
func (w *Worker) admitConn(qc quic.Connection) {
	if len(w.conns) >= constants.MaxConnsPerWorker {
		atomic.AddUint64(&w.counters.AdmissionDrops, 1)
		_ = qc.CloseWithError(codeBusy, "at capacity")
		return
	}
	stream, err := qc.OpenUniStream()
	if err != nil {
		_ = qc.CloseWithError(codeBusy, "no stream")
		return
	}
	c := &conn{
		qc:         qc,
		stream:     stream,
		sendCh:     make(chan *frame, constants.BroadcastQueueDepth),
		lastActive: clock.NowMS(),
	}
	w.conns[c] = struct{}{}
	atomic.AddUint64(&w.counters.ConnsOpen, 1)
	atomic.AddUint64(&w.counters.ConnsTotal, 1)
	go w.recvLoop(c)
	go w.writeLoop(c)
}

// recvLoop pulls pixel datagrams off one connection and funnels them into
// the worker loop. It exits when the connection dies; the maintenance sweep
// reaps the state.
func (w *Worker) recvLoop(c *conn) {
	for {
		data, err := c.qc.ReceiveDatagram(context.Background())
		if err != nil {
			return
		}
		select {
		case w.ingest <- ingestMsg{c: c, data: data}:
		default:
			atomic.AddUint64(&w.counters.IngestDrops, 1)
		}
	}
}

// writeLoop drains one connection's frame queue onto its server-push stream.
// A write error closes the connection; queued frames still release.
func (w *Worker) writeLoop(c *conn) {
	failed := false
	for f := range c.sendCh {
		if !failed {
			if _, err := c.stream.Write(f.b); err != nil {
				failed = true
				_ = c.qc.CloseWithError(codeIdle, "write failed")
			}
		}
		f.release()
	}
}

// ─────────────────────────────── pixel ingest ───────────────────────────────

// handlePixel decodes, validates, rate-limits, and forwards one submission.
func (w *Worker) handlePixel(m ingestMsg) {
	atomic.AddUint64(&w.counters.RxDatagrams, 1)
	d, err := codec.ParsePixelDatagram(m.data)
	if err != nil {
		atomic.AddUint64(&w.counters.DecodeErrors, 1)
		return
	}
	c := m.c
	c.lastActive = clock.NowMS()
	if !c.hasUser {
		// First pixel message binds the client-asserted identity.
		c.userID = d.UserID
		c.hasUser = true
	}

	if w.wheel.IsOnCooldown(d.UserID) {
		atomic.AddUint64(&w.counters.CooldownRejects, 1)
		w.maybeSendReject(c, d.UserID)
		return
	}
	w.wheel.Mark(d.UserID)

	// Eager local write. Broadcasts carry only published master state: the
	// next region or full copy that covers this cell overwrites it before
	// any diff is built.
	w.local[int(d.Y)*constants.CanvasWidth+int(d.X)] = d.Color

	if w.masterQ.Push(canvas.PackWrite(d.X, d.Y, d.Color, d.UserID)) {
		atomic.AddUint64(&w.counters.RxPixels, 1)
		control.SignalActivity()
	} else {
		// Master behind; the cell converges on the next accepted write.
		atomic.AddUint64(&w.counters.MasterQueueDrops, 1)
	}
}

// maybeSendReject tells the client how long its cooldown has left, framed on
// the push stream, at most once per window per connection.
func (w *Worker) maybeSendReject(c *conn, user uint32) {
	now := clock.NowMS()
	if now-c.lastRejectMS < constants.WheelSlots*constants.WheelTickMS {
		return
	}
	c.lastRejectMS = now
	f := w.getFrame()
	f.b = codec.AppendCooldownReject(f.b, user, w.wheel.RemainingMS(user))
	w.enqueue(c, f)
	f.release()
}

// ─────────────────────────────── broadcasting ───────────────────────────────

// broadcastTick pushes state to every connection: a shared DIFF of the
// published active region, an initial RLE snapshot to connections that have
// never seen one, and a forced full snapshot every FullBroadcastInterval
// ticks.
func (w *Worker) broadcastTick() {
	if len(w.conns) == 0 {
		return
	}
	w.ticks++
	full := w.ticks == 1 || w.ticks%constants.FullBroadcastInterval == 0

	var diffFrame *frame
	if seq := w.pub.Seq(); seq != w.lastSeq {
		w.lastSeq = seq
		if full {
			// Full resync: adopt the whole published grid so lastSent and
			// local agree with what the snapshot frame will carry.
			if _, ok := w.pub.CopyAll(w.local); ok {
				copy(w.lastSent, w.local)
			}
		} else if _, region, ok := w.pub.CopyRegion(w.local); ok && !region.Empty() {
			diffFrame = w.buildDiffFrame(region)
		}
	}

	var snapFrame *frame
	needSnap := full
	if !needSnap {
		for c := range w.conns {
			if !c.snapshotSent {
				needSnap = true
				break
			}
		}
	}
	if needSnap {
		snapFrame = w.buildSnapshotFrame()
	}

	for c := range w.conns {
		switch {
		case !c.snapshotSent:
			// Bootstrap: one snapshot before any diff; diff skipped this tick.
			if snapFrame != nil && w.enqueue(c, snapFrame) {
				c.snapshotSent = true
				atomic.AddUint64(&w.counters.SnapshotsSent, 1)
			}
		case full:
			if snapFrame != nil && w.enqueue(c, snapFrame) {
				atomic.AddUint64(&w.counters.SnapshotsSent, 1)
			}
		case diffFrame != nil:
			if w.enqueue(c, diffFrame) {
				atomic.AddUint64(&w.counters.DiffsSent, 1)
			}
		}
	}

	if diffFrame != nil {
		diffFrame.release()
	}
	if snapFrame != nil {
		snapFrame.release()
	}
}

// ─────────────────────────────── maintenance ────────────────────────────────

// maintenance evicts protocol-closed and idle connections. Throttled so a
// sweep over tens of thousands of connections cannot monopolize the loop.
func (w *Worker) maintenance() {
	now := clock.NowMS()
	if now-w.lastSweepMS < constants.ConnSweepThrottleMS {
		return
	}
	w.lastSweepMS = now
	for c := range w.conns {
		closed := c.qc.Context().Err() != nil
		idle := now-c.lastActive > constants.IdleTimeoutMS
		if !closed && !idle {
			continue
		}
		if idle && !closed {
			_ = c.qc.CloseWithError(codeIdle, "idle timeout")
		}
		w.dropConn(c)
	}
}

// dropConn removes a connection's worker-side state. The writer goroutine
// exits when its queue closes; the receiver exits on the closed connection.
func (w *Worker) dropConn(c *conn) {
	delete(w.conns, c)
	close(c.sendCh)
	atomic.AddUint64(&w.counters.Evictions, 1)
	atomic.AddUint64(&w.counters.ConnsOpen, ^uint64(0))
}

// shutdown closes every connection and the endpoint, then lets run() return.
func (w *Worker) shutdown() {
	for c := range w.conns {
		_ = c.qc.CloseWithError(codeShutdown, "server shutdown")
		w.dropConn(c)
	}
	_ = w.ln.Close()
	_ = w.tr.Close()
	_ = w.pconn.Close()
	debug.DropMessage("WORKER", "worker "+utils.Itoa(w.id)+" stopped")
}

// ───────────────────────────────── telemetry ────────────────────────────────

// Stats assembles the externally visible counter snapshot.
func (w *Worker) Stats() Snapshot {
	return Snapshot{
		Worker:           w.id,
		RingMode:         w.iostats.RingMode,
		RxDatagrams:      atomic.LoadUint64(&w.counters.RxDatagrams),
		RxPixels:         atomic.LoadUint64(&w.counters.RxPixels),
		DecodeErrors:     atomic.LoadUint64(&w.counters.DecodeErrors),
		CooldownRejects:  atomic.LoadUint64(&w.counters.CooldownRejects),
		MasterQueueDrops: atomic.LoadUint64(&w.counters.MasterQueueDrops),
		AdmissionDrops:   atomic.LoadUint64(&w.counters.AdmissionDrops),
		IngestDrops:      atomic.LoadUint64(&w.counters.IngestDrops),
		BroadcastDrops:   atomic.LoadUint64(&w.counters.BroadcastDrops),
		TxDrops:          w.iostats.TxDrops(),
		RxQueueDrops:     w.iostats.RxQueueDrops.Load(),
		SnapshotsSent:    atomic.LoadUint64(&w.counters.SnapshotsSent),
		DiffsSent:        atomic.LoadUint64(&w.counters.DiffsSent),
		ConnsOpen:        atomic.LoadUint64(&w.counters.ConnsOpen),
		ConnsTotal:       atomic.LoadUint64(&w.counters.ConnsTotal),
		Evictions:        atomic.LoadUint64(&w.counters.Evictions),
	}
}
