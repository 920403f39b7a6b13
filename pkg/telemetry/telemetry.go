package telemetry

import (
	"context"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// Telemetry bundles the logger, metrics and tracer one tdp process
// runs with.
type Telemetry struct {
	Logger  *Logger
	Metrics *Metrics
	Tracer  *Tracer
	Config  *Config
}

// New creates a telemetry bundle from configuration.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
		Config:  cfg,
	}, nil
}

// EventSink returns the sink the runner should publish to: events
// fan out to the log, the metrics and the tracer.
func (t *Telemetry) EventSink() engine.EventSink {
	return engine.MultiSink(
		NewLogSink(t.Logger),
		NewMetricsSink(t.Metrics),
		NewTraceSink(t.Tracer),
	)
}

// StartMetricsServer serves the metrics endpoint in the background if
// metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Shutdown flushes and stops the tracer. The metrics server keeps
// serving until the process exits.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}
