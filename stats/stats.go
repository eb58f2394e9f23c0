// stats.go — Periodic counters line
//
// Counters are the supported failure telemetry: every drop class, admission
// decision and broadcast is countable here and nowhere else. The reporter
// serializes all per-worker snapshots plus the master's into one JSON line
// per interval so an external monitor can scrape stderr without touching the
// process.

package stats

import (
	"time"

	"github.com/sugawarayuuta/sonnet"

	"main/constants"
	"main/control"
	"main/debug"
	"main/master"
	"main/utils"
	"main/worker"
)

// report is the serialized shape of one interval.
type report struct {
	Master  master.Stats      `json:"master"`
	Workers []worker.Snapshot `json:"workers"`
}

// Reporter emits the metrics stream.
type Reporter struct {
	workers []*worker.Worker
	m       *master.Master
}

// New builds a reporter over the live topology.
func New(workers []*worker.Worker, m *master.Master) *Reporter {
	return &Reporter{workers: workers, m: m}
}

// Start launches the reporting loop. The reporter is a daemon: it never
// joins shutdown, the last partial interval is simply not reported.
func (r *Reporter) Start() {
	go r.run()
}

func (r *Reporter) run() {
	t := time.NewTicker(constants.StatsIntervalMS * time.Millisecond)
	defer t.Stop()

	rep := report{Workers: make([]worker.Snapshot, len(r.workers))}
	for !control.Stopping() {
		<-t.C
		rep.Master = r.m.Snapshot()
		for i, w := range r.workers {
			rep.Workers[i] = w.Stats()
		}
		b, err := sonnet.Marshal(&rep)
		if err != nil {
			debug.DropError("STATS", err)
			continue
		}
		debug.DropMessage("STATS", utils.B2s(b))
	}
}
