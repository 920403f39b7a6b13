package telemetry

import (
	"fmt"
	"time"
)

// Config carries the observability settings for a tdp process.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is the version reported alongside ServiceName.
	ServiceVersion string

	// Environment names the deployment environment (dev, staging, prod).
	Environment string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Tracing configures distributed tracing.
	Tracing TracingConfig

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog-backed logger.
type LoggingConfig struct {
	// Level is the minimum level emitted (trace, debug, info, warn,
	// error, fatal).
	Level string

	// Format selects the encoding: "console" for human-readable
	// output, "json" for machine-readable lines.
	Format string

	// Output is where log lines go: "stdout", "stderr", or a file
	// path.
	Output string
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled controls whether spans are created at all.
	Enabled bool

	// Exporter selects where spans go: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address, host:port.
	Endpoint string

	// SamplingRate is the head sampling ratio, 0.0 to 1.0.
	SamplingRate float64

	// MaxExportBatchSize bounds one export batch.
	MaxExportBatchSize int

	// ExportTimeout bounds one export attempt.
	ExportTimeout time.Duration

	// Headers are extra headers sent to the OTLP collector.
	Headers map[string]string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool
}

// MetricsConfig configures the Prometheus registry and its HTTP
// endpoint.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// ListenAddress is the address of the metrics HTTP server.
	ListenAddress string

	// Path is the HTTP path metrics are served on.
	Path string

	// DurationBuckets are the histogram buckets, in seconds, shared
	// by the run and operation duration histograms. Operations here
	// are ansible-playbook invocations, so the buckets run from
	// seconds to tens of minutes.
	DurationBuckets []float64
}

// DefaultConfig returns the settings a bare tdp invocation runs with:
// console logs on stderr, no tracing, no metrics endpoint.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tdp",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			DurationBuckets: []float64{
				1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800,
			},
		},
	}
}

// Validate checks the configuration for values the constructors would
// reject later.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	return nil
}
