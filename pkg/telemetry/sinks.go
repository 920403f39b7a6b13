package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// LogSink logs runner events through a Logger. The runner publishes
// synchronously, which suits zerolog's non-blocking writes.
type LogSink struct {
	logger *Logger
}

// NewLogSink creates a sink logging events under the run component.
func NewLogSink(logger *Logger) *LogSink {
	return &LogSink{logger: logger.NewComponentLogger("run")}
}

// Publish implements engine.EventSink.
func (s *LogSink) Publish(e engine.Event) {
	zl := s.logger.zlog.With().Str("run_id", e.RunID).Logger()
	if e.NodeID != "" {
		zl = zl.With().Str("node_id", e.NodeID).Str("operation", string(e.Operation)).Logger()
	}

	switch e.Type {
	case engine.EventRunStarted:
		zl.Info().Msg("run started")
	case engine.EventRunFinished:
		evt := zl.Info()
		switch e.Status {
		case string(engine.RunStatusFailure):
			evt = zl.Error()
		case string(engine.RunStatusStopped):
			evt = zl.Warn()
		}
		evt.Str("status", e.Status).Dur("duration", e.Elapsed).Msg("run finished")
	case engine.EventStepStarted:
		zl.Debug().Msg("step started")
	case engine.EventStepFinished:
		evt := zl.Info()
		if e.Status == string(engine.RecordStatusFailure) {
			evt = zl.Error()
		}
		if e.Message != "" {
			evt = evt.Str("detail", e.Message)
		}
		evt.Str("status", e.Status).Dur("duration", e.Elapsed).Msg("step finished")
	case engine.EventStepRetried:
		zl.Warn().Int("attempt", e.Attempt).Str("detail", e.Message).Msg("step retrying")
	case engine.EventStepSkipped:
		zl.Info().Str("detail", e.Message).Msg("step skipped")
	}
}

// MetricsSink feeds runner events into the Prometheus metrics.
type MetricsSink struct {
	metrics *Metrics
}

// NewMetricsSink creates a sink recording events on the given
// metrics collector.
func NewMetricsSink(metrics *Metrics) *MetricsSink {
	return &MetricsSink{metrics: metrics}
}

// Publish implements engine.EventSink.
func (s *MetricsSink) Publish(e engine.Event) {
	switch e.Type {
	case engine.EventRunStarted:
		s.metrics.RecordRunStarted()
	case engine.EventRunFinished:
		s.metrics.RecordRunFinished(e.Status, e.Elapsed)
	case engine.EventStepFinished:
		s.metrics.RecordOperation(string(e.Operation), e.Status, e.Elapsed)
	case engine.EventStepRetried:
		s.metrics.RecordRetry()
	case engine.EventStepSkipped:
		s.metrics.RecordSkipped(string(e.Operation))
	}
}

// TraceSink turns runner events into spans: one span per run with one
// child span per step. Steps of a parallel batch publish from worker
// goroutines, so the open-span bookkeeping is mutex-guarded.
type TraceSink struct {
	tracer *Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

// runSpans tracks the open spans of one executing run.
type runSpans struct {
	ctx   context.Context
	span  trace.Span
	steps map[string]trace.Span
}

// NewTraceSink creates a sink emitting spans through the given
// tracer.
func NewTraceSink(tracer *Tracer) *TraceSink {
	return &TraceSink{
		tracer: tracer,
		runs:   make(map[string]*runSpans),
	}
}

// Publish implements engine.EventSink. Span creation under a batching
// provider is cheap, so this holds up the runner no longer than the
// other sinks do.
func (s *TraceSink) Publish(e engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Type {
	case engine.EventRunStarted:
		ctx, span := s.tracer.StartRunSpan(context.Background(), e.RunID)
		s.runs[e.RunID] = &runSpans{
			ctx:   ctx,
			span:  span,
			steps: make(map[string]trace.Span),
		}

	case engine.EventRunFinished:
		rt, ok := s.runs[e.RunID]
		if !ok {
			return
		}
		// A halted run can leave step spans open.
		for _, span := range rt.steps {
			span.End()
		}
		rt.span.SetAttributes(AttrRunStatus.String(e.Status))
		switch e.Status {
		case string(engine.RunStatusSuccess):
			rt.span.SetStatus(codes.Ok, "")
		case string(engine.RunStatusFailure):
			rt.span.SetStatus(codes.Error, e.Message)
		}
		rt.span.End()
		delete(s.runs, e.RunID)

	case engine.EventStepStarted:
		rt, ok := s.runs[e.RunID]
		if !ok {
			return
		}
		_, span := s.tracer.StartStepSpan(rt.ctx, e.NodeID, string(e.Operation))
		rt.steps[e.NodeID] = span

	case engine.EventStepRetried:
		rt, ok := s.runs[e.RunID]
		if !ok {
			return
		}
		if span, ok := rt.steps[e.NodeID]; ok {
			span.AddEvent("retrying", trace.WithAttributes(AttrAttempt.Int(e.Attempt)))
			span.SetAttributes(AttrAttempt.Int(e.Attempt))
		}

	case engine.EventStepFinished:
		rt, ok := s.runs[e.RunID]
		if !ok {
			return
		}
		span, ok := rt.steps[e.NodeID]
		if !ok {
			return
		}
		if e.Status == string(engine.RecordStatusFailure) {
			RecordError(span, errors.New(stepFailureMessage(e)))
		} else {
			RecordSuccess(span)
		}
		span.End()
		delete(rt.steps, e.NodeID)

	case engine.EventStepSkipped:
		rt, ok := s.runs[e.RunID]
		if !ok {
			return
		}
		rt.span.AddEvent("step skipped", trace.WithAttributes(
			AttrNodeID.String(e.NodeID),
			AttrOperation.String(string(e.Operation)),
		))
	}
}

func stepFailureMessage(e engine.Event) string {
	if e.Message != "" {
		return e.Message
	}
	return "step failed"
}

// ChannelSink buffers runner events for a consumer such as a live
// progress display. Publish never blocks: when the consumer falls
// behind, events are dropped and counted.
type ChannelSink struct {
	events  chan engine.Event
	dropped atomic.Uint64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{events: make(chan engine.Event, buffer)}
}

// Publish implements engine.EventSink.
func (s *ChannelSink) Publish(e engine.Event) {
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the channel the consumer reads from.
func (s *ChannelSink) Events() <-chan engine.Event {
	return s.events
}

// Dropped reports how many events were discarded because the buffer
// was full.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close closes the event channel. Call only after the run has
// returned; the runner publishes nothing past its terminal event.
func (s *ChannelSink) Close() {
	close(s.events)
}
