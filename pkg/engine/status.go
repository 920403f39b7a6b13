package engine

import (
	"encoding/json"
	"fmt"
)

// Operation identifies one lifecycle operation of a service component.
// Operations are the unit of planning and execution: every node in the
// dependency graph is one (service, component, operation) triple.
type Operation string

const (
	// OperationInstall lays a component's software down on its hosts.
	OperationInstall Operation = "install"

	// OperationConfig renders and applies a component's configuration.
	OperationConfig Operation = "config"

	// OperationStart brings a component online.
	OperationStart Operation = "start"

	// OperationStop takes a component offline. Stop plans run in
	// reverse dependency order.
	OperationStop Operation = "stop"

	// OperationRestart bounces a component in place. Restart plans run
	// in forward dependency order like start.
	OperationRestart Operation = "restart"
)

// Forward returns true if plans for this operation run in forward
// dependency order. Only stop runs in reverse.
func (o Operation) Forward() bool {
	return o != OperationStop
}

// Declarable returns true if components may declare graph nodes of
// this operation. Stop and restart are never declared: they are
// planned over the start nodes they act on.
func (o Operation) Declarable() bool {
	return o == OperationInstall || o == OperationConfig || o == OperationStart
}

// Base returns the declared operation whose graph nodes this operation
// is planned over. Stop and restart act on the running processes that
// start brought up, so both plan over start nodes; the declarable
// operations plan over their own nodes.
func (o Operation) Base() Operation {
	switch o {
	case OperationStop, OperationRestart:
		return OperationStart
	default:
		return o
	}
}

// Validate checks if the operation is valid.
func (o Operation) Validate() error {
	switch o {
	case OperationInstall, OperationConfig, OperationStart,
		OperationStop, OperationRestart:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// ParseOperation converts a string into a validated Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if err := op.Validate(); err != nil {
		return "", err
	}
	return op, nil
}

// RunStatus represents the overall status of a plan execution run.
type RunStatus string

const (
	// RunStatusCreated indicates the run is recorded but not yet executing.
	RunStatusCreated RunStatus = "created"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess indicates every step of the run succeeded.
	RunStatusSuccess RunStatus = "success"

	// RunStatusFailure indicates a step failed and the run halted.
	RunStatusFailure RunStatus = "failure"

	// RunStatusStopped indicates an operator halted the run between
	// steps before it reached the end of its plan.
	RunStatusStopped RunStatus = "stopped"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailure || s == RunStatusStopped
}

// IsActive returns true if the run still owns its plan's nodes
// (created or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusCreated || s == RunStatusRunning
}

// IsResumable returns true if a new run may be created to pick up
// where this one left off.
func (s RunStatus) IsResumable() bool {
	return s == RunStatusFailure || s == RunStatusStopped
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusCreated, RunStatusRunning, RunStatusSuccess,
		RunStatusFailure, RunStatusStopped:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// RecordStatus represents the status of a single operation record
// within a run.
type RecordStatus string

const (
	// RecordStatusPending indicates the step has not started yet.
	RecordStatusPending RecordStatus = "pending"

	// RecordStatusRunning indicates the step is currently executing.
	RecordStatusRunning RecordStatus = "running"

	// RecordStatusSuccess indicates the step completed successfully.
	RecordStatusSuccess RecordStatus = "success"

	// RecordStatusFailure indicates the step failed after exhausting
	// its retry budget.
	RecordStatusFailure RecordStatus = "failure"
)

// IsTerminal returns true if the record status represents a final
// state. A record never leaves a terminal status within the same run.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusSuccess || s == RecordStatusFailure
}

// Validate checks if the record status is valid.
func (s RecordStatus) Validate() error {
	switch s {
	case RecordStatusPending, RecordStatusRunning, RecordStatusSuccess, RecordStatusFailure:
		return nil
	default:
		return fmt.Errorf("invalid record status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
// Plan snapshots round-trip through JSON, so a corrupted operation is
// caught at decode time rather than at execution time.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = Operation(str)
	return o.Validate()
}
