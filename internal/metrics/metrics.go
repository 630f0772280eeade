// Package metrics — metrics.go
//
// Prometheus metrics for the mission execution core.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback by default; the server listens on whatever address is
// configured.
//
// Metric naming convention: missioncore_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Component name is used as a label (bounded by the computation
//     graph descriptor, not by runtime state).
//   - Pipeline name is used as a label (bounded: drive, recovery, ...).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the mission
// execution core.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Scheduling ───────────────────────────────────────────────────────────

	// ComponentUpdatesTotal counts update_now invocations, by component.
	ComponentUpdatesTotal *prometheus.CounterVec

	// ComponentOverrunsTotal counts scheduling overruns, by component.
	ComponentOverrunsTotal *prometheus.CounterVec

	// ComponentOverrunSeconds records the distribution of overrun
	// magnitude, by component.
	ComponentOverrunSeconds *prometheus.HistogramVec

	// ComponentHealthy is 1 if the component is healthy, 0 otherwise.
	ComponentHealthy *prometheus.GaugeVec

	// ComponentExceptionsTotal counts update_now exceptions (panics or
	// returned errors), by component.
	ComponentExceptionsTotal *prometheus.CounterVec

	// ─── Pipelines ────────────────────────────────────────────────────────────

	// PipelineSwitchesTotal counts pipeline switches, by from and to
	// pipeline name.
	PipelineSwitchesTotal *prometheus.CounterVec

	// CurrentPipeline is 1 for the active pipeline's label value, 0 for
	// all others.
	CurrentPipeline *prometheus.GaugeVec

	// LifecycleState is 1 for the current lifecycle state's label
	// value, 0 for all others.
	LifecycleState *prometheus.GaugeVec

	// ─── Sensor validation ────────────────────────────────────────────────────

	// SensorValidationSeconds records how long sensor validation took
	// to converge (or fail).
	SensorValidationSeconds prometheus.Histogram

	// ─── Hardware faults ──────────────────────────────────────────────────────

	// HardwareFaultsTotal counts newly observed faults, by fault name.
	HardwareFaultsTotal *prometheus.CounterVec

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency is the histogram for BoltDB write transaction
	// latency. It is registered, but the logging manager does not observe
	// into it, so it stays empty.
	StorageWriteLatency prometheus.Histogram

	// ─── Process ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the executor started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// New creates and registers all mission-executor Prometheus metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ComponentUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncore",
			Subsystem: "component",
			Name:      "updates_total",
			Help:      "Total update_now invocations, by component.",
		}, []string{"component"}),

		ComponentOverrunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncore",
			Subsystem: "component",
			Name:      "overruns_total",
			Help:      "Total scheduling overruns, by component.",
		}, []string{"component"}),

		ComponentOverrunSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "missioncore",
			Subsystem: "component",
			Name:      "overrun_seconds",
			Help:      "Distribution of overrun magnitude, by component.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"component"}),

		ComponentHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "missioncore",
			Subsystem: "component",
			Name:      "healthy",
			Help:      "1 if the component is healthy, 0 otherwise.",
		}, []string{"component"}),

		ComponentExceptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncore",
			Subsystem: "component",
			Name:      "exceptions_total",
			Help:      "Total update_now exceptions (panics or returned errors), by component.",
		}, []string{"component"}),

		PipelineSwitchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncore",
			Subsystem: "pipeline",
			Name:      "switches_total",
			Help:      "Total pipeline switches, by source and destination pipeline.",
		}, []string{"from", "to"}),

		CurrentPipeline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "missioncore",
			Subsystem: "pipeline",
			Name:      "current",
			Help:      "1 for the active pipeline's label value, 0 for all others.",
		}, []string{"pipeline"}),

		LifecycleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "missioncore",
			Subsystem: "executor",
			Name:      "lifecycle_state",
			Help:      "1 for the current lifecycle state's label value, 0 for all others.",
		}, []string{"state"}),

		SensorValidationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "missioncore",
			Subsystem: "executor",
			Name:      "sensor_validation_seconds",
			Help:      "Time for sensor validation to converge or fail.",
			Buckets:   prometheus.DefBuckets,
		}),

		HardwareFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncore",
			Subsystem: "vehicle",
			Name:      "hardware_faults_total",
			Help:      "Total newly observed hardware faults, by fault name.",
		}, []string{"fault"}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "missioncore",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "missioncore",
			Subsystem: "executor",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the executor started.",
		}),
	}

	reg.MustRegister(
		m.ComponentUpdatesTotal,
		m.ComponentOverrunsTotal,
		m.ComponentOverrunSeconds,
		m.ComponentHealthy,
		m.ComponentExceptionsTotal,
		m.PipelineSwitchesTotal,
		m.CurrentPipeline,
		m.LifecycleState,
		m.SensorValidationSeconds,
		m.HardwareFaultsTotal,
		m.StorageWriteLatency,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
