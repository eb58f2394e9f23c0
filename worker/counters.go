// counters.go — Per-worker metric counters
//
// Counters are the primary failure-telemetry signal: every drop class the
// server can take increments exactly one field. The owning worker loop and
// its per-connection receiver goroutines (IngestDrops) are the writers; the
// stats reporter reads with atomic loads.

package worker

// Counters is one worker's metric block. Fields are written with atomic adds
// so the external reader never sees torn values.
type Counters struct {
	RxDatagrams      uint64 // pixel datagrams received from the QUIC layer
	RxPixels         uint64 // accepted writes forwarded to the master
	DecodeErrors     uint64 // malformed/invalid pixel datagrams discarded
	CooldownRejects  uint64 // writes rejected by the timing wheel
	MasterQueueDrops uint64 // accepted writes lost to a full SPSC ring
	AdmissionDrops   uint64 // connections refused at the per-worker cap
	IngestDrops      uint64 // datagrams lost to a full ingest queue
	BroadcastDrops   uint64 // frames lost to a full per-connection queue
	SnapshotsSent    uint64 // RLE_SNAPSHOT frames enqueued
	DiffsSent        uint64 // DIFF frames enqueued
	ConnsOpen        uint64 // currently admitted connections
	ConnsTotal       uint64 // lifetime admissions
	Evictions        uint64 // idle or closed connections swept
}

// Snapshot is the JSON-facing copy of Counters plus the I/O-path drops.
type Snapshot struct {
	Worker           int    `json:"worker"`
	RingMode         bool   `json:"ring_mode"`
	RxDatagrams      uint64 `json:"rx_datagrams"`
	RxPixels         uint64 `json:"rx_pixels"`
	DecodeErrors     uint64 `json:"decode_errors"`
	CooldownRejects  uint64 `json:"cooldown_rejects"`
	MasterQueueDrops uint64 `json:"master_queue_drops"`
	AdmissionDrops   uint64 `json:"admission_drops"`
	IngestDrops      uint64 `json:"ingest_drops"`
	BroadcastDrops   uint64 `json:"broadcast_drops"`
	TxDrops          uint64 `json:"tx_drops"`
	RxQueueDrops     uint64 `json:"rx_queue_drops"`
	SnapshotsSent    uint64 `json:"snapshots_sent"`
	DiffsSent        uint64 `json:"diffs_sent"`
	ConnsOpen        uint64 `json:"conns_open"`
	ConnsTotal       uint64 `json:"conns_total"`
	Evictions        uint64 `json:"evictions"`
}
