// Package engine implements the deployment core: the dependency graph
// of (service, component, operation) nodes, the deterministic planner,
// and the run state machine that drives plans through an executor while
// durably recording every outcome.
//
// # Overview
//
// A deployment flows through four stages:
//
//  1. Graph - BuildGraph validates resolved service definitions and
//     produces the operation DAG. Cycles, duplicate nodes and dangling
//     dependency references are rejected here, never later.
//  2. Plan - Planner computes an immutable, deterministic, ordered
//     sequence of steps for a requested action over a target
//     selection. Forward actions pull in the dependency closure of the
//     selection; stop pulls in the dependent closure and orders it in
//     reverse.
//  3. Run - Runner executes a plan step by step through an Executor,
//     applying the bounded RetryPolicy and recording every transition
//     through the Store before moving on. A failed or stopped run can
//     be resumed into a new run that inherits prior successes.
//  4. Query - Run status, history and the derived deployed state are
//     read back from the Store. Deployed state is a query over
//     recorded outcomes, never a separately maintained table.
//
// # Core Domain Types
//
//   - Node: one operation of one service component, the unit of
//     planning and execution
//   - Plan: an ordered, immutable sequence of steps with a recorded
//     action, selection and derivation mode
//   - Run: one execution attempt of a plan, optionally linked to the
//     run it resumes
//   - OperationRecord: the durable outcome of one step within one run
//
// # External Capabilities
//
// The engine owns orchestration and delegates everything else through
// small interfaces:
//
//   - Executor: carries out a single step (typically by invoking a
//     configuration management tool out of process)
//   - Store: persists runs and operation records synchronously
//   - PolicyGate: evaluates a plan against operator policy before a
//     run is created
//   - EventSink: receives progress events for logging, metrics and
//     live display
//
// # Error Classification
//
// Errors are classified for retry logic and carry a stable code for
// the failure taxonomy (validation, planning, execution, concurrent
// run, not resumable). Use the predicate helpers to inspect them:
//
//	if engine.IsRetryable(err) {
//	    // the runner will re-invoke the executor after a backoff
//	}
//
// # Concurrency
//
// Graph and Plan are immutable after construction and safe for
// concurrent use. A Runner drives one run at a time; the Store's
// run-creation guard refuses a new run whose plan overlaps a run that
// is still active.
package engine
