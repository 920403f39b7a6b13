package engine

import (
	"context"
	"fmt"
	"strings"
)

// Orchestrator is the high-level deployment API: plan, run, resume,
// and the query surface over recorded runs. It ties the planner, the
// store, the executor and the optional policy gate together; the CLI
// drives nothing but this type.
type Orchestrator struct {
	graph   *Graph
	planner *Planner
	store   Store
	runner  *Runner
	gate    PolicyGate
}

// OrchestratorConfig wires an orchestrator's collaborators.
type OrchestratorConfig struct {
	// Graph is the validated dependency graph. Required.
	Graph *Graph

	// Store persists runs and records. Required.
	Store Store

	// Executor carries out steps. Required for Run and Resume; an
	// orchestrator used only for planning and queries may omit it.
	Executor Executor

	// Gate blocks plans that violate policy. Optional.
	Gate PolicyGate

	// Runner configures execution.
	Runner RunnerOptions
}

// NewOrchestrator creates an orchestrator from its collaborators.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Graph == nil {
		return nil, NewPermanentError("graph is required", nil).WithCode(ErrCodeValidation)
	}
	if cfg.Store == nil {
		return nil, NewPermanentError("store is required", nil).WithCode(ErrCodeValidation)
	}
	return &Orchestrator{
		graph:   cfg.Graph,
		planner: NewPlanner(cfg.Graph),
		store:   cfg.Store,
		runner:  NewRunner(cfg.Store, cfg.Executor, cfg.Runner),
		gate:    cfg.Gate,
	}, nil
}

// Graph returns the dependency graph the orchestrator plans over.
func (o *Orchestrator) Graph() *Graph {
	return o.graph
}

// Plan computes a closure-mode plan for an action over a selection.
func (o *Orchestrator) Plan(sel Selection, action Operation) (*Plan, error) {
	return o.planner.Plan(sel, action)
}

// PlanFrom computes a plan covering the selection and everything
// downstream of it.
func (o *Orchestrator) PlanFrom(sel Selection, action Operation) (*Plan, error) {
	return o.planner.PlanFrom(sel, action)
}

// PlanExact computes a plan over exactly the named nodes.
func (o *Orchestrator) PlanExact(nodeIDs []string, action Operation) (*Plan, error) {
	return o.planner.PlanExact(nodeIDs, action)
}

// Run gates, persists and executes a plan as a new run. On a step
// failure the terminal run is returned together with the execution
// error, so callers can report which node failed and decide whether to
// resume.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (*Run, error) {
	if err := o.checkPolicy(ctx, plan); err != nil {
		return nil, err
	}
	run, err := o.store.CreateRun(ctx, plan, "")
	if err != nil {
		return nil, err
	}
	return o.runner.Run(ctx, run)
}

// Resume creates a new run from a failed or stopped one, reusing its
// plan snapshot unmodified. A changed topology requires a fresh plan,
// never an implicit replan. Steps that succeeded anywhere in the
// lineage are inherited as skipped successes.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Run, error) {
	prev, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.IsResumable() {
		return nil, NewNotResumableError(prev.ID, prev.Status)
	}
	// Policy may have tightened since the original run.
	if err := o.checkPolicy(ctx, prev.Plan); err != nil {
		return nil, err
	}
	run, err := o.store.CreateRun(ctx, prev.Plan, prev.ID)
	if err != nil {
		return nil, err
	}
	return o.runner.Run(ctx, run)
}

// Stop requests that the in-flight run halt between steps.
func (o *Orchestrator) Stop() {
	o.runner.Stop()
}

// Status loads a run with its plan and records.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*Run, error) {
	return o.store.GetRun(ctx, runID)
}

// History lists runs matching the filter, newest first.
func (o *Orchestrator) History(ctx context.Context, filter RunFilter) ([]*Run, error) {
	return o.store.ListRuns(ctx, filter)
}

// DeployedState returns the most recent successful outcome per node.
func (o *Orchestrator) DeployedState(ctx context.Context) ([]DeployedNode, error) {
	return o.store.DeployedState(ctx)
}

// Release force-finishes an abandoned active run so its nodes become
// plannable again.
func (o *Orchestrator) Release(ctx context.Context, runID string) error {
	return o.store.ReleaseRun(ctx, runID)
}

func (o *Orchestrator) checkPolicy(ctx context.Context, plan *Plan) error {
	if o.gate == nil {
		return nil
	}
	violations, err := o.gate.Evaluate(ctx, plan)
	if err != nil {
		return NewPermanentError("policy evaluation failed", err).WithCode(ErrCodePolicy)
	}
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Message
	}
	return NewPermanentError(
		fmt.Sprintf("plan blocked by policy: %s", strings.Join(msgs, "; ")), nil).
		WithCode(ErrCodePolicy).
		WithDetail("violations", violations)
}
