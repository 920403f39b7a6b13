package engine

import (
	"context"
)

// Executor carries out one step of a plan. Implementations invoke the
// configuration management tool (or a stand-in) and translate its
// result into an Outcome.
//
// Returning an Outcome with a failure status means the tool ran and
// reported failure. Returning an error means the invocation itself
// broke; the runner retries it only when the error classifies as
// retryable.
type Executor interface {
	// Execute performs a single step and reports its outcome.
	Execute(ctx context.Context, step Step) (*Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, step Step) (*Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, step Step) (*Outcome, error) {
	return f(ctx, step)
}

// Transition is one step status change to record durably.
type Transition struct {
	// RunID is the run the record belongs to.
	RunID string `json:"run_id"`

	// NodeID is the graph node the step was planned over.
	NodeID string `json:"node_id"`

	// Operation is the operation the step performs.
	Operation Operation `json:"operation"`

	// Status is the status the record moves to.
	Status RecordStatus `json:"status"`

	// Attempts is the number of executor invocations made so far.
	Attempts int `json:"attempts"`

	// Detail carries the error message or annotation to record.
	Detail string `json:"detail,omitempty"`
}

// RunFilter narrows run history queries.
type RunFilter struct {
	// Status keeps only runs with this status. Empty keeps all.
	Status RunStatus `json:"status,omitempty"`

	// Service keeps only runs whose plan touches the named service.
	Service string `json:"service,omitempty"`

	// Limit caps the number of runs returned. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// Store persists runs and operation records. Every write is durable
// before the call returns: a crash immediately after a successful
// RecordTransition must not lose the transition.
type Store interface {
	// CreateRun persists a new run in created status with its plan
	// snapshotted. It fails with a CONCURRENT_RUN error when any
	// active run's plan shares a node with the given plan; the check
	// and the insert are one atomic operation.
	CreateRun(ctx context.Context, plan *Plan, parentRunID string) (*Run, error)

	// UpdateRunStatus moves a run to the given status.
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error

	// RecordTransition records one step status change. An open record
	// for the (run, node) pair is updated in place; a terminal record
	// is closed with its end timestamp and never touched again.
	RecordTransition(ctx context.Context, t Transition) error

	// GetRun loads a run with its plan snapshot and records.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns runs matching the filter, newest first, without
	// their record lists.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// DeployedState returns the most recent successful outcome per
	// node across all runs, sorted by node ID.
	DeployedState(ctx context.Context) ([]DeployedNode, error)

	// LineageSuccesses maps node IDs to the run in which they last
	// succeeded within the resume lineage ending at runID. The lineage
	// is the chain of parent runs, the given run excluded.
	LineageSuccesses(ctx context.Context, runID string) (map[string]string, error)

	// ReleaseRun force-finishes an active run as a failure, freeing
	// its nodes for new runs. Used when a crashed process left a run
	// behind in an active status.
	ReleaseRun(ctx context.Context, runID string) error

	// Close releases the underlying database handle.
	Close() error
}

// PolicyViolation is one rule violation reported by a policy gate.
type PolicyViolation struct {
	// Rule is the policy rule that fired.
	Rule string `json:"rule"`

	// Message is the human-readable violation.
	Message string `json:"message"`

	// NodeID is the step that triggered the rule, when applicable.
	NodeID string `json:"node_id,omitempty"`
}

// PolicyGate evaluates a plan against operator policy before a run is
// created. A non-empty violation list blocks the run.
type PolicyGate interface {
	// Evaluate returns the violations the plan triggers, if any.
	Evaluate(ctx context.Context, plan *Plan) ([]PolicyViolation, error)
}
