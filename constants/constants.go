// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Global Server Tunables (single source of truth)
//
// Purpose:
//   - Defines all compile-time constants for the canvas server: transport,
//     buffer pools, cooldown wheel, broadcast cadence, and QUIC limits.
//   - Base constants come first; derived constants are computed from them.
//
// Notes:
//   - Every package imports from here instead of defining its own magic numbers.
//   - Sized for hundreds of thousands of connections and ~1M pixel msgs/sec
//     on a single host; power-of-2 alignment wherever a ring or mask needs it.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Network & Transport ──────────────────────────

const (
	// ServerPort is the default QUIC/UDP listening port.
	ServerPort = 4433

	// ALPN is the application protocol identifier negotiated during the
	// TLS 1.3 handshake. Four bytes: 'c' 'n' 'v' 's'.
	ALPN = "cnvs"

	// PktBufSize is the size of one receive buffer. A full QUIC packet fits
	// inside a standard MTU ceiling with headroom.
	PktBufSize = 2048

	// DgramMaxSendSize caps a single outbound UDP payload (one TxRecord).
	DgramMaxSendSize = 1500

	// SocketRecvBufSize / SocketSendBufSize are the kernel UDP buffer sizes
	// requested per worker socket.
	SocketRecvBufSize = 32 << 20 // 32 MiB
	SocketSendBufSize = 32 << 20 // 32 MiB
)

// ─────────────────────── Per-Worker Connection Limits ────────────────────────

const (
	// MaxConnsPerWorker is the admission cap. It is the primary tuning knob:
	// TX capacity and the receive buffer count are sized to match, and the
	// 16-bit connection-index space bounds it from above.
	MaxConnsPerWorker = 1 << 16 // 65,536

	// IdleTimeoutMS evicts connections with no inbound traffic.
	IdleTimeoutMS = 30_000

	// ConnSweepThrottleMS bounds how often the idle/closed sweep runs; at
	// tens of thousands of connections an unthrottled sweep dominates the
	// worker loop.
	ConnSweepThrottleMS = 20
)

// ──────────────────────────────── Canvas ─────────────────────────────────────

const (
	// CanvasWidth / CanvasHeight are fixed; the canvas never resizes.
	CanvasWidth  = 1000
	CanvasHeight = 1000

	// CanvasSize is the dense byte-grid length, one color byte per cell.
	CanvasSize = CanvasWidth * CanvasHeight

	// PaletteSize is the number of valid colors; a color is 4 bits on the
	// wire and stored one-per-byte in the grid.
	PaletteSize = 16

	// SnapshotPoolSize is the number of snapshot buffers in the RCU-like
	// publish pool. Must be a power of two so the master can advance with a
	// bitmask.
	SnapshotPoolSize = 16
	SnapshotPoolMask = SnapshotPoolSize - 1

	// RLEWorstCase bounds the RLE output for one canvas: every cell its own
	// run of length 1 costs 3 bytes (color u8 + run u16).
	RLEWorstCase = CanvasSize * 3
)

// ─────────────────────────── User Identity & Cooldown ────────────────────────

const (
	// MaxUserID bounds the client-asserted user-id space; ids at or above
	// this are rejected at decode time.
	MaxUserID = 1 << 20 // 1,048,576

	// WheelSlots is the number of rotating cooldown bitmaps. A marked user
	// stays on cooldown for exactly WheelSlots ticks.
	WheelSlots = 8

	// WheelTickMS is the wheel advance period. Cooldown window is therefore
	// WheelSlots × WheelTickMS = 2 s.
	WheelTickMS = 250

	// WheelWords is the per-slot bitmap length in 64-bit words.
	WheelWords = MaxUserID / 64 // 16,384 words = 128 KiB per slot
)

// ──────────────────────────────── io_uring ───────────────────────────────────

const (
	// NumRecvBuffers is the provided-buffer count per worker ring; capped at
	// the u16 buffer-id limit of the provided-buffer interface.
	NumRecvBuffers = 65_535

	// SQDepth is the submission queue depth (power of two). Completion depth
	// is at least this (the kernel doubles it by default).
	SQDepth = 4096

	// BufferGroupID identifies the provided-buffer group on the ring.
	BufferGroupID = 0

	// CQE user_data tags distinguishing completion kinds.
	TagIncoming = 1 // multishot / one-shot receive completion
	TagOutgoing = 2 // sendmsg completion; TxRecord index in the high bits
	TagTick     = 3 // bounded-wait timeout completion

	// RingWaitNS bounds a single kernel wait so pending TX submissions from
	// the protocol layer are picked up within one millisecond.
	RingWaitNS = 1_000_000
)

// ─────────────────────────────── TX Pool ─────────────────────────────────────

const (
	// TxCapacity is the number of preallocated outbound records per worker,
	// one slot per admissible connection. When the free stack is empty the
	// datagram is dropped, never blocked on.
	TxCapacity = MaxConnsPerWorker
)

// ───────────────────────── Master ↔ Worker Pipeline ──────────────────────────

const (
	// SPSCCapacity is the per-worker pixel queue depth (power of two).
	SPSCCapacity = 1024

	// MasterBatchDrain bounds how many pixel writes the master pops from one
	// worker queue per round-robin visit.
	MasterBatchDrain = 128

	// MasterBackoffMaxUS caps the master's idle sleep between drain rounds.
	MasterBackoffMaxUS = 100
)

// ────────────────────────────── Broadcasting ─────────────────────────────────

const (
	// BroadcastIntervalMS is the master publish cadence and the worker
	// broadcast tick.
	BroadcastIntervalMS = 100

	// FullBroadcastInterval forces a full RLE snapshot (instead of a diff)
	// every N broadcast ticks, resynchronizing clients that lost datagrams.
	FullBroadcastInterval = 60

	// DiffBufferInitialCap seeds the reusable per-worker diff buffer.
	DiffBufferInitialCap = 1024

	// BroadcastQueueDepth is the per-connection outbound frame queue; a full
	// queue drops the frame for that connection (back-pressure, no stall).
	BroadcastQueueDepth = 32

	// IngestQueueDepth is the per-worker inbound pixel-datagram queue fed by
	// the per-connection receivers.
	IngestQueueDepth = 4096
)

// ──────────────────────────── QUIC Configuration ─────────────────────────────

const (
	// QuicInitialMaxData is the connection-level flow control window.
	QuicInitialMaxData = 10_000_000

	// QuicInitialMaxStreamData is the per-stream flow control window for the
	// server-push stream.
	QuicInitialMaxStreamData = 1_000_000

	// QuicHandshakeTimeoutMS bounds the QUIC/TLS handshake.
	QuicHandshakeTimeoutMS = 10_000
)

// ─────────────────────────── Memory Guardrails ───────────────────────────────

const (
	// HeapSoftLimit is the runtime soft memory limit handed to the Go
	// runtime before entering the serving phase.
	HeapSoftLimit = 4 << 30 // 4 GiB

	// GCPercent relaxes collection frequency for the serving phase; the
	// steady-state data path allocates nothing, so most garbage is
	// protocol-layer transients.
	GCPercent = 200
)

// ──────────────────────────────── Telemetry ──────────────────────────────────

const (
	// StatsIntervalMS is the cadence of the JSON counters line.
	StatsIntervalMS = 5_000
)
