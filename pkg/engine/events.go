package engine

import (
	"time"
)

// EventType classifies runner progress events.
type EventType string

const (
	// EventRunStarted indicates a run moved to running.
	EventRunStarted EventType = "run_started"

	// EventRunFinished indicates a run reached a terminal status.
	EventRunFinished EventType = "run_finished"

	// EventStepStarted indicates a step moved to running.
	EventStepStarted EventType = "step_started"

	// EventStepFinished indicates a step reached a terminal status.
	EventStepFinished EventType = "step_finished"

	// EventStepRetried indicates a step is being re-invoked after a
	// failed attempt.
	EventStepRetried EventType = "step_retried"

	// EventStepSkipped indicates a step inherited its success from the
	// resume lineage.
	EventStepSkipped EventType = "step_skipped"
)

// Event is one progress notification emitted by the runner. Events are
// advisory: the durable record of a run lives in the Store, events
// only feed logs, metrics and live display.
type Event struct {
	// Type classifies the event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// NodeID is set for step events.
	NodeID string `json:"node_id,omitempty"`

	// Operation is set for step events.
	Operation Operation `json:"operation,omitempty"`

	// Status is the resulting status for finished events.
	Status string `json:"status,omitempty"`

	// Attempt is the upcoming attempt number for retry events.
	Attempt int `json:"attempt,omitempty"`

	// Elapsed is how long the step or run took, for finished events.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// Message carries extra context such as error text.
	Message string `json:"message,omitempty"`
}

// EventSink receives runner progress events. The runner publishes
// synchronously between persistence writes, so implementations must
// return quickly and never block.
type EventSink interface {
	// Publish delivers one event.
	Publish(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(event Event) {
	f(event)
}

// MultiSink fans events out to several sinks in order.
func MultiSink(sinks ...EventSink) EventSink {
	return EventSinkFunc(func(event Event) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(event)
			}
		}
	})
}
