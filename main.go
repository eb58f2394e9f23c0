// ════════════════════════════════════════════════════════════════════════════════════════════════
// Shared-Canvas QUIC Server - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Main Entry Point & System Orchestration
//
// Description:
//   System orchestration with phased initialization and clean separation of
//   concerns. Topology → Memory Optimization → Production Serving.
//
// Architecture:
//   - Phase 0: Flags, TLS material, core partitioning
//   - Phase 1: Subsystem construction (publisher, workers, master, stats)
//   - Phase 2: Memory cleanup and runtime tuning before production
//   - Phase 3: Master merge loop on the main thread until shutdown
//
// Topology: core 0 runs the master; cores 1..N run workers, each with its
// own reuseport socket and kernel ring. NIC interrupt pinning is left to the
// deployment layer.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"os"
	"os/signal"
	"runtime"
	rtdebug "runtime/debug"
	"syscall"

	"github.com/spf13/pflag"

	"main/canvas"
	"main/certs"
	"main/clock"
	"main/constants"
	"main/control"
	"main/debug"
	"main/master"
	"main/ring8"
	"main/stats"
	"main/utils"
	"main/worker"
)

func main() {
	// PHASE 0: Flags, TLS material, topology.
	var (
		flagWorkers = pflag.Int("workers", defaultWorkers(), "worker thread count")
		flagPort    = pflag.Int("port", constants.ServerPort, "UDP listening port")
		flagCert    = pflag.String("cert", "", "TLS certificate PEM (empty: self-signed)")
		flagKey     = pflag.String("key", "", "TLS private key PEM (empty: self-signed)")
	)
	pflag.Parse()

	nWorkers := *flagWorkers
	if nWorkers < 1 {
		nWorkers = 1
	}

	cert, err := certs.Load(*flagCert, *flagKey)
	if err != nil {
		debug.DropError("CERT_INIT", err)
		os.Exit(1)
	}
	tlsConf := certs.Config(cert)

	debug.DropMessage("INIT", "canvas server: "+utils.Itoa(nWorkers)+
		" workers, port "+utils.Itoa(*flagPort))

	// PHASE 1: Subsystem construction. The master pins to core 0; workers
	// take cores 1..N (their ring loops pin alongside).
	clock.Start()

	cv := canvas.New()
	pub := canvas.NewPublisher()

	queues := make([]*ring8.Ring, nWorkers)
	workers := make([]*worker.Worker, nWorkers)
	for i := 0; i < nWorkers; i++ {
		queues[i] = ring8.New(constants.SPSCCapacity)
		w, err := worker.New(i, 1+i, *flagPort, queues[i], pub, tlsConf)
		if err != nil {
			debug.DropError("WORKER_INIT", err)
			os.Exit(1)
		}
		workers[i] = w
	}

	m := master.New(queues, cv, pub)

	setupSignalHandling()

	// PHASE 2: Memory optimization before production. Consolidate the
	// startup garbage, then relax collection for the serving phase — the
	// steady-state data path allocates nothing.
	runtime.GC()
	runtime.GC()
	rtdebug.FreeOSMemory()
	rtdebug.SetGCPercent(constants.GCPercent)
	rtdebug.SetMemoryLimit(constants.HeapSoftLimit)

	for _, w := range workers {
		w.Start()
	}
	stats.New(workers, m).Start()

	debug.DropMessage("READY", "serving")

	// PHASE 3: Master merge loop on the main thread until shutdown.
	m.Run(0)

	// Master observed the stop flag; wait for the workers.
	control.ShutdownWG.Wait()
	debug.DropMessage("SHUTDOWN", "all subsystems stopped")
	os.Exit(0)
}

// defaultWorkers leaves one core for the master.
func defaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// setupSignalHandling flips the shared stop flag on SIGINT/SIGTERM; every
// loop observes it at its next suspension point.
func setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "interrupt received, shutting down")
		control.Shutdown()
	}()
}
