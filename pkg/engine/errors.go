package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: unreachable hosts, network timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict.
	// Examples: an overlapping run still active, a record already terminal.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid definitions, a cyclic graph, an unknown selection.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes for the failure taxonomy. The code identifies what went
// wrong; the class says whether retrying can help.
const (
	// ErrCodeValidation marks malformed definitions or a graph that
	// violates its invariants.
	ErrCodeValidation = "VALIDATION"

	// ErrCodePlanning marks a plan request that cannot be satisfied:
	// unknown selection names, an empty match, an unsupported mode.
	ErrCodePlanning = "PLANNING"

	// ErrCodeExecution marks a step that reached terminal failure
	// after exhausting its retry budget.
	ErrCodeExecution = "EXECUTION"

	// ErrCodeNotResumable marks a resume request against a run whose
	// status does not allow resuming.
	ErrCodeNotResumable = "NOT_RESUMABLE"

	// ErrCodeConcurrentRun marks a run creation rejected because an
	// active run's plan overlaps the requested one.
	ErrCodeConcurrentRun = "CONCURRENT_RUN"

	// ErrCodePolicy marks a plan blocked by the policy gate.
	ErrCodePolicy = "POLICY"

	// ErrCodeStore marks a persistence failure.
	ErrCodeStore = "STORE"

	// ErrCodeNotFound marks a lookup of a run or node that does not exist.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout marks an operation that exceeded its deadline.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeInternal marks a bug or an unclassified failure.
	ErrCodeInternal = "INTERNAL"
)

// EngineError represents a classified error with deployment context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the taxonomy code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Node is the graph node involved, if applicable.
	Node string `json:"node,omitempty"`

	// Run is the run involved, if applicable.
	Run string `json:"run,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Class, e.Code, e.Message)
	}
	if e.Node != "" {
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.Run != "" {
		msg += fmt.Sprintf(" (run=%s)", e.Run)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a permanent error for malformed
// definitions or graph invariant violations.
func NewValidationError(format string, args ...interface{}) *EngineError {
	return NewPermanentError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeValidation)
}

// NewPlanningError creates a permanent error for a plan request that
// cannot be satisfied.
func NewPlanningError(format string, args ...interface{}) *EngineError {
	return NewPermanentError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodePlanning)
}

// NewExecutionFailure creates a permanent error for a step that
// reached terminal failure.
func NewExecutionFailure(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeExecution)
}

// NewNotResumableError creates a permanent error for a resume request
// against a run that is not in a resumable status.
func NewNotResumableError(runID string, status RunStatus) *EngineError {
	return NewPermanentError(
		fmt.Sprintf("run is %s, only failure or stopped runs can be resumed", status), nil).
		WithCode(ErrCodeNotResumable).
		WithRun(runID)
}

// NewConcurrentRunError creates a conflict error for a run creation
// rejected because an active run's plan overlaps the requested one.
func NewConcurrentRunError(activeRunID string, nodeID string) *EngineError {
	return NewConflictError(
		fmt.Sprintf("node %s is owned by active run %s", nodeID, activeRunID), nil).
		WithCode(ErrCodeConcurrentRun).
		WithNode(nodeID).
		WithRun(activeRunID)
}

// NewNotFoundError creates a permanent error for a missing run or node.
func NewNotFoundError(kind, id string) *EngineError {
	return NewPermanentError(fmt.Sprintf("%s not found: %s", kind, id), nil).
		WithCode(ErrCodeNotFound)
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(nodeID string) *EngineError {
	e.Node = nodeID
	return e
}

// WithRun adds run context to an error.
func (e *EngineError) WithRun(runID string) *EngineError {
	e.Run = runID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// HasCode returns true if the error carries the given taxonomy code.
func HasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConcurrentRun returns true if the error marks a rejected
// overlapping run.
func IsConcurrentRun(err error) bool {
	return HasCode(err, ErrCodeConcurrentRun)
}

// IsNotResumable returns true if the error marks a rejected resume.
func IsNotResumable(err error) bool {
	return HasCode(err, ErrCodeNotResumable)
}

// IsNotFound returns true if the error marks a missing run or node.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}
