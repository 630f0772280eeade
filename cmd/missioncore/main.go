// Package main — cmd/missioncore/main.go
//
// Mission execution core entrypoint.
//
// Startup sequence:
//  1. Parse flags, handle -version.
//  2. Load and validate config from /etc/missioncore/config.yaml.
//  3. Initialise structured logger (zap, JSON format by default).
//  4. Root context with cancellation.
//  5. Open BoltDB-backed logging manager.
//  6. Build the registry, debug bus, metrics registry, and vehicle
//     interface; start the Prometheus metrics server.
//  7. Normalize the configured computation graph into pipelines; assemble
//     the ExecutorBase and StandardExecutor hooks.
//  8. Start the operator control socket.
//  9. Start the config watcher (fsnotify + SIGHUP), which re-validates
//     the file on change.
// 10. Request realtime scheduling priority for the mission loop thread
//     (best-effort).
// 11. Run the mission loop until it exits or SIGINT/SIGTERM interrupts it.
//
// Shutdown sequence:
//  1. SIGINT/SIGTERM cancels the root context and calls Interrupt() on
//     the executor, which completes its current tick and switches to the
//     recovery pipeline before stopping.
//  2. Run() returns once the executor reaches Terminated; every started
//     component's Cleanup is guaranteed to have run.
//  3. Close the logging manager (flushes BoltDB).
//  4. Flush the logger.
//  5. Exit 0, or 1 if Run() returned an error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gemstack/missioncore/internal/clock"
	"github.com/gemstack/missioncore/internal/config"
	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/executor"
	"github.com/gemstack/missioncore/internal/logging"
	"github.com/gemstack/missioncore/internal/metrics"
	"github.com/gemstack/missioncore/internal/operator"
	"github.com/gemstack/missioncore/internal/registry"
	"github.com/gemstack/missioncore/internal/state"
	"github.com/gemstack/missioncore/internal/vehicle"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/missioncore/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("missioncore %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("mission executor starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open BoltDB logging manager ───────────────────────────────────
	logMgr, err := logging.Open(cfg.Logging.DBPath, log)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err),
			zap.String("path", cfg.Logging.DBPath))
	}
	defer logMgr.Close() //nolint:errcheck
	log.Info("mission log opened", zap.String("path", cfg.Logging.DBPath))

	// ── Step 4: Registry, debug bus, metrics, vehicle ─────────────────────────
	reg := registry.New()
	bus := debug.New()
	m := metrics.New()
	veh := vehicle.Null{}

	go func() {
		if err := m.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 5: Assemble the executor ─────────────────────────────────────────
	base := executor.New(reg, bus, logMgr, veh, log, m, cfg.Run.RequireEngaged, cfg.Run.InitialPipeline)

	pipelines, err := cfg.Pipelines()
	if err != nil {
		log.Fatal("computation graph normalization failed", zap.Error(err))
	}
	for name, phases := range pipelines {
		if err := base.AddPipeline(name, phases[0], phases[1], phases[2]); err != nil {
			log.Fatal("pipeline assembly failed", zap.String("pipeline", name), zap.Error(err))
		}
	}
	alwaysRun, err := cfg.AlwaysRun()
	if err != nil {
		log.Fatal("always_run normalization failed", zap.Error(err))
	}
	if err := base.SetAlwaysRun(alwaysRun); err != nil {
		log.Fatal("always_run assembly failed", zap.Error(err))
	}

	hooks := executor.NewStandardExecutor(base, veh, log)

	// ── Step 6: Operator control socket ───────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, execAdapter{base}, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator socket error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	} else {
		log.Info("operator socket disabled")
	}

	// ── Step 7: Config watcher — fsnotify + SIGHUP ────────────────────────────
	go watchConfig(ctx, *configPath, log)

	// ── Step 8: Realtime priority (best-effort) ───────────────────────────────
	if cfg.Run.RealtimePriority {
		runtime.LockOSThread()
		if err := clock.RequestRealtimePriority(); err != nil {
			log.Warn("failed to acquire realtime scheduling priority", zap.Error(err))
		} else {
			log.Info("realtime scheduling priority acquired")
		}
	}

	// ── Step 9: Signal handling ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		base.Interrupt()
		cancel()
	}()

	// ── Step 10: Run the mission loop ─────────────────────────────────────────
	var s state.AllState
	if err := base.Run(ctx, hooks, &s); err != nil {
		log.Error("mission executor exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("mission executor exited", zap.String("reason", base.ExitReason()))
}

// watchConfig re-validates config.yaml on SIGHUP or a filesystem change
// and logs the result. No field of the reloaded config is applied to the
// running process; every change takes effect only after a restart.
func watchConfig(ctx context.Context, path string, log *zap.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
		watcher = nil
	} else {
		defer watcher.Close()
		if err := watcher.Add(path); err != nil {
			log.Warn("config watcher failed to watch file", zap.Error(err), zap.String("path", path))
		}
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	reload := func() {
		if _, err := config.Load(path); err != nil {
			log.Error("config reload failed — retaining running config", zap.Error(err))
			return
		}
		log.Info("config reload validated; restart required to apply computation-graph changes")
	}

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sighup:
			log.Info("signal received, reloading config", zap.String("signal", sig.String()))
			reload()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Info("config file changed, reloading", zap.String("op", ev.Op.String()))
				reload()
			}
		}
	}
}

// execAdapter translates between executor.StatusSnapshot and
// operator.Snapshot so *executor.ExecutorBase can serve as an
// operator.StatusProvider without the executor package importing
// operator: neither package depends on the other, and only main knows
// both.
type execAdapter struct {
	b *executor.ExecutorBase
}

func (a execAdapter) Snapshot() operator.Snapshot {
	s := a.b.Snapshot()
	return operator.Snapshot{
		State:           s.State,
		Pipeline:        s.Pipeline,
		TimeInStateSecs: s.TimeInState.Seconds(),
		ExitReason:      s.ExitReason,
		ComponentHealth: s.ComponentHealth,
	}
}

func (a execAdapter) RequestSwitch(pipeline string) error { return a.b.RequestSwitch(pipeline) }

func (a execAdapter) Event(desc string) { a.b.Event(desc) }

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
