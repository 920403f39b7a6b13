// Package telemetry provides the observability stack for tdp:
// structured logging with zerolog, Prometheus metrics, and
// OpenTelemetry tracing, all fed by the runner's event stream.
//
// # Setup
//
// A process builds one bundle at startup and wires its sink into the
// runner:
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	tel.Logger.InstallGlobal()
//
//	runner := engine.NewRunner(store, executor, engine.RunnerOptions{
//	    Sink: tel.EventSink(),
//	})
//
// Everything downstream is driven by the events the runner publishes;
// no engine code imports this package.
//
// # Logging
//
// Logger wraps zerolog. Lines carry a stable field vocabulary:
// run_id, node_id, operation, attempt, status, duration, component.
// InstallGlobal points the process-global zerolog logger at the
// configured output so packages logging through rs/zerolog/log land
// in the same place.
//
// # Metrics
//
// Metrics live in their own registry and are served on the configured
// listen address. The set:
//
//	tdp_runs_total{status}
//	tdp_operations_total{operation,status}
//	tdp_retries_total
//	tdp_operation_duration_seconds{operation}
//	tdp_run_duration_seconds
//	tdp_active_runs
//	tdp_plan_size
//
// Step successes inherited on resume count under status "skipped"
// and contribute no duration observations.
//
// # Tracing
//
// Each run becomes one span with a child span per step, attributed
// with node.id, operation and attempt. Exporters: "otlp" for a
// collector, "stdout" for development, "none" to generate spans
// without exporting them.
//
// # Sinks
//
// The runner publishes events synchronously between its persistence
// writes, so every sink here returns quickly: LogSink writes one
// line, MetricsSink bumps counters, TraceSink opens or closes a span
// under a batching provider, and ChannelSink drops events rather
// than block when its consumer falls behind.
package telemetry
