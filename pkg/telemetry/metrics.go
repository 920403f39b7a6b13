package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// metricsNamespace prefixes every metric name. The names below are an
// interface operators alert on, so the namespace is not configurable.
const metricsNamespace = "tdp"

// Metrics collects the Prometheus metrics for run and step execution.
// A disabled configuration yields a no-op instance whose Record
// methods are safe to call.
type Metrics struct {
	config MetricsConfig

	runsTotal         *prometheus.CounterVec
	operationsTotal   *prometheus.CounterVec
	retriesTotal      prometheus.Counter
	operationDuration *prometheus.HistogramVec
	runDuration       prometheus.Histogram
	activeRuns        prometheus.Gauge
	planSize          prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry, so
// tdp metrics never mix with whatever the default registry holds.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Total number of runs by terminal status",
			},
			[]string{"status"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of executed operations by operation and terminal status",
			},
			[]string{"operation", "status"},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "Total number of step retry attempts",
			},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operation execution in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_runs",
				Help:      "Current number of executing runs",
			},
		),
		planSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "plan_size",
				Help:      "Step count of the most recently planned run",
			},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.operationsTotal,
		m.retriesTotal,
		m.operationDuration,
		m.runDuration,
		m.activeRuns,
		m.planSize,
	)

	return m, nil
}

// RecordRunStarted marks a run as executing.
func (m *Metrics) RecordRunStarted() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// RecordRunFinished records a run reaching its terminal status.
func (m *Metrics) RecordRunFinished(status string, duration time.Duration) {
	if m.runsTotal == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordOperation records one executed step with its terminal status
// and duration.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m.operationsTotal == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSkipped counts a step whose success was inherited from the
// resume lineage. Skips take no time, so no duration is observed.
func (m *Metrics) RecordSkipped(operation string) {
	if m.operationsTotal == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, "skipped").Inc()
}

// RecordRetry counts one retry attempt.
func (m *Metrics) RecordRetry() {
	if m.retriesTotal == nil {
		return
	}
	m.retriesTotal.Inc()
}

// SetPlanSize records the step count of the plan about to execute.
func (m *Metrics) SetPlanSize(steps int) {
	if m.planSize == nil {
		return
	}
	m.planSize.Set(float64(steps))
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background.
// A disabled configuration is a no-op.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", m.config.ListenAddress).Str("path", path).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return nil
}
