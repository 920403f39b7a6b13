package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// RetryPolicy bounds how the runner retries a failing step before
// recording a terminal failure.
type RetryPolicy struct {
	// MaxRetries is the number of re-invocations after the first
	// attempt. Zero disables retries.
	MaxRetries int `json:"max_retries"`

	// BaseDelay is the backoff before the first retry. Each further
	// retry doubles it.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy returns the retry policy used when none is
// configured: three invocations at most, one second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	}
}

// Backoff calculates the delay before the retry following the given
// zero-based attempt: exponential growth from a class-specific base,
// capped at MaxDelay, with ±12.5% jitter so retrying runs do not
// thunder against the same hosts.
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	switch {
	case IsThrottled(err):
		base *= 5
	case IsConflict(err):
		base *= 2
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))

	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	if delay > ceiling {
		delay = ceiling
	}

	jitter := time.Duration((rand.Float64() - 0.5) * 0.25 * float64(delay))
	return delay + jitter
}

// RunnerOptions configure plan execution.
type RunnerOptions struct {
	// Retry bounds per-step retries.
	Retry RetryPolicy

	// MaxParallel caps concurrent steps within one dependency level.
	// Values below 2 select strict sequential execution.
	MaxParallel int

	// Sink receives progress events. Nil discards them.
	Sink EventSink
}

// Runner drives one run at a time through an executor, recording every
// transition through the store before moving on. A runner may be
// reused across runs but never concurrently.
type Runner struct {
	store    Store
	executor Executor
	opts     RunnerOptions

	stopRequested atomic.Bool
}

// NewRunner creates a runner.
func NewRunner(store Store, executor Executor, opts RunnerOptions) *Runner {
	return &Runner{
		store:    store,
		executor: executor,
		opts:     opts,
	}
}

// Stop requests a halt between steps. The step in flight is allowed to
// complete: killing a configuration management invocation midway would
// leave its node in an ambiguous state. Safe to call from any
// goroutine.
func (r *Runner) Stop() {
	r.stopRequested.Store(true)
}

// Run executes a freshly created run to a terminal status and returns
// it reloaded from the store, so the caller sees every recorded
// outcome. The error is non-nil for step failures and infrastructure
// errors; a completed run and an operator stop both return nil.
func (r *Runner) Run(ctx context.Context, run *Run) (*Run, error) {
	if run == nil || run.Plan == nil {
		return nil, NewPermanentError("run has no plan", nil).WithCode(ErrCodeInternal)
	}
	if run.Status != RunStatusCreated {
		return nil, NewConflictError(
			fmt.Sprintf("run is %s, expected %s", run.Status, RunStatusCreated), nil).
			WithRun(run.ID)
	}
	if r.executor == nil {
		return nil, NewPermanentError("no executor configured", nil).WithCode(ErrCodeInternal)
	}
	r.stopRequested.Store(false)

	// A resumed run inherits the successes of its lineage; a fresh run
	// starts from nothing.
	lineage := map[string]string{}
	if run.ParentRunID != "" {
		var err error
		lineage, err = r.store.LineageSuccesses(ctx, run.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := r.store.UpdateRunStatus(ctx, run.ID, RunStatusRunning); err != nil {
		return nil, err
	}
	started := time.Now()
	r.publish(Event{Type: EventRunStarted, RunID: run.ID})

	status, runErr := r.execute(ctx, run, lineage)

	// Terminal writes must land even when the context died mid-run.
	writeCtx := context.WithoutCancel(ctx)
	if err := r.store.UpdateRunStatus(writeCtx, run.ID, status); err != nil {
		return nil, err
	}
	r.publish(Event{
		Type:    EventRunFinished,
		RunID:   run.ID,
		Status:  string(status),
		Elapsed: time.Since(started),
	})

	final, err := r.store.GetRun(writeCtx, run.ID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}

func (r *Runner) execute(ctx context.Context, run *Run, lineage map[string]string) (RunStatus, error) {
	if r.opts.MaxParallel > 1 {
		return r.executeLevels(ctx, run, lineage)
	}
	return r.executeSequential(ctx, run, lineage)
}

// executeSequential runs the plan strictly in step order, halting at
// the first failure.
func (r *Runner) executeSequential(ctx context.Context, run *Run, lineage map[string]string) (RunStatus, error) {
	for _, step := range run.Plan.Steps {
		if r.halted(ctx) {
			return RunStatusStopped, nil
		}
		res, err := r.executeStep(ctx, run, step, lineage)
		if err != nil {
			return RunStatusFailure, err
		}
		if res.status == RecordStatusFailure {
			return r.failed(ctx, run, step, res)
		}
	}
	return RunStatusSuccess, nil
}

// executeLevels runs the plan level by level, steps within one level
// concurrently. Every batch member's outcome is durably recorded even
// when another member fails; the run halts between levels, never
// inside one.
func (r *Runner) executeLevels(ctx context.Context, run *Run, lineage map[string]string) (RunStatus, error) {
	for _, batch := range run.Plan.Levels() {
		if r.halted(ctx) {
			return RunStatusStopped, nil
		}
		results, err := r.executeBatch(ctx, run, batch, lineage)
		if err != nil {
			return RunStatusFailure, err
		}
		for i, res := range results {
			// A nil result means the step was never dispatched
			// because a halt arrived mid-batch.
			if res != nil && res.status == RecordStatusFailure {
				return r.failed(ctx, run, batch[i], res)
			}
		}
	}
	return RunStatusSuccess, nil
}

// executeBatch dispatches one level's steps to a bounded worker pool
// and waits for all of them.
func (r *Runner) executeBatch(ctx context.Context, run *Run, batch []Step, lineage map[string]string) ([]*stepResult, error) {
	if len(batch) == 1 {
		res, err := r.executeStep(ctx, run, batch[0], lineage)
		if err != nil {
			return nil, err
		}
		return []*stepResult{res}, nil
	}

	workerCount := r.opts.MaxParallel
	if len(batch) < workerCount {
		workerCount = len(batch)
	}

	type work struct {
		idx  int
		step Step
	}
	workQueue := make(chan work, len(batch))
	for i, step := range batch {
		workQueue <- work{idx: i, step: step}
	}
	close(workQueue)

	results := make([]*stepResult, len(batch))
	errChan := make(chan error, len(batch))
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workQueue {
				// A halt skips steps not yet dispatched; steps
				// already in flight run to completion.
				if r.halted(ctx) {
					continue
				}
				res, err := r.executeStep(ctx, run, w.step, lineage)
				if err != nil {
					errChan <- err
					continue
				}
				results[w.idx] = res
			}
		}()
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return nil, err
	}
	return results, nil
}

// failed translates a terminal step failure into the run's terminal
// status. A failure caused by context cancellation counts as an
// operator stop, not a deployment failure.
func (r *Runner) failed(ctx context.Context, run *Run, step Step, res *stepResult) (RunStatus, error) {
	if ctx.Err() != nil {
		return RunStatusStopped, nil
	}
	msg := fmt.Sprintf("step failed after %d attempts", res.attempts)
	if res.detail != "" {
		msg += ": " + res.detail
	}
	return RunStatusFailure, NewExecutionFailure(msg, nil).
		WithNode(step.NodeID).
		WithRun(run.ID).
		WithDetail("attempts", res.attempts)
}

// stepResult is the in-memory echo of the record executeStep wrote.
type stepResult struct {
	status   RecordStatus
	attempts int
	detail   string
}

// executeStep drives one step to a terminal record. Lineage successes
// are inherited without touching the executor; noop steps succeed
// without an invocation. Every transition is written through the store
// before the function returns, so a crash never loses one.
func (r *Runner) executeStep(ctx context.Context, run *Run, step Step, lineage map[string]string) (*stepResult, error) {
	writeCtx := context.WithoutCancel(ctx)

	if priorRun, ok := lineage[step.NodeID]; ok {
		detail := SkippedDetail(priorRun)
		err := r.store.RecordTransition(writeCtx, Transition{
			RunID:     run.ID,
			NodeID:    step.NodeID,
			Operation: step.Operation,
			Status:    RecordStatusSuccess,
			Detail:    detail,
		})
		if err != nil {
			return nil, err
		}
		r.publish(Event{
			Type:      EventStepSkipped,
			RunID:     run.ID,
			NodeID:    step.NodeID,
			Operation: step.Operation,
			Message:   detail,
		})
		return &stepResult{status: RecordStatusSuccess, detail: detail}, nil
	}

	err := r.store.RecordTransition(writeCtx, Transition{
		RunID:     run.ID,
		NodeID:    step.NodeID,
		Operation: step.Operation,
		Status:    RecordStatusRunning,
	})
	if err != nil {
		return nil, err
	}
	started := time.Now()
	r.publish(Event{
		Type:      EventStepStarted,
		RunID:     run.ID,
		NodeID:    step.NodeID,
		Operation: step.Operation,
	})

	res := r.attempt(ctx, run.ID, step)

	err = r.store.RecordTransition(writeCtx, Transition{
		RunID:     run.ID,
		NodeID:    step.NodeID,
		Operation: step.Operation,
		Status:    res.status,
		Attempts:  res.attempts,
		Detail:    res.detail,
	})
	if err != nil {
		return nil, err
	}
	r.publish(Event{
		Type:      EventStepFinished,
		RunID:     run.ID,
		NodeID:    step.NodeID,
		Operation: step.Operation,
		Status:    string(res.status),
		Elapsed:   time.Since(started),
		Message:   res.detail,
	})
	return res, nil
}

// attempt invokes the executor under the retry policy and returns the
// terminal result for the step. Outcome failures and retryable errors
// consume the retry budget; a non-retryable error or a cancelled
// context ends the loop at once.
func (r *Runner) attempt(ctx context.Context, runID string, step Step) *stepResult {
	if step.Noop {
		return &stepResult{status: RecordStatusSuccess, detail: "noop"}
	}

	var outcome *Outcome
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.opts.Retry.MaxRetries; attempt++ {
		attempts = attempt + 1
		outcome, lastErr = r.executor.Execute(ctx, step)

		if lastErr == nil && outcome != nil && outcome.Status == RecordStatusSuccess {
			break
		}
		if lastErr != nil && !IsRetryable(lastErr) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt >= r.opts.Retry.MaxRetries {
			break
		}

		backoff := r.opts.Retry.Backoff(attempt, lastErr)
		r.publish(Event{
			Type:      EventStepRetried,
			RunID:     runID,
			NodeID:    step.NodeID,
			Operation: step.Operation,
			Attempt:   attempts + 1,
			Message:   fmt.Sprintf("retrying in %s", backoff.Round(time.Millisecond)),
		})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return &stepResult{
				status:   RecordStatusFailure,
				attempts: attempts,
				detail:   "canceled while waiting to retry",
			}
		}
	}

	switch {
	case lastErr != nil:
		return &stepResult{status: RecordStatusFailure, attempts: attempts, detail: lastErr.Error()}
	case outcome == nil:
		return &stepResult{status: RecordStatusFailure, attempts: attempts, detail: "executor returned no outcome"}
	case outcome.Status == RecordStatusSuccess:
		return &stepResult{status: RecordStatusSuccess, attempts: attempts, detail: outcome.Message}
	default:
		return &stepResult{status: RecordStatusFailure, attempts: attempts, detail: outcome.Message}
	}
}

// halted reports whether execution should stop before the next step.
func (r *Runner) halted(ctx context.Context) bool {
	return r.stopRequested.Load() || ctx.Err() != nil
}

// publish sends an event to the configured sink, stamping the time.
func (r *Runner) publish(e Event) {
	if r.opts.Sink == nil {
		return
	}
	e.Timestamp = time.Now().UTC()
	r.opts.Sink.Publish(e)
}
