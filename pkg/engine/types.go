package engine

import (
	"strings"
	"time"
)

// ServiceDef is the fully resolved definition of one service: its
// components and the lifecycle operations each declares. Definitions
// arrive here already loaded and merged; BuildGraph only validates
// structure and derives the graph.
type ServiceDef struct {
	// Name is the service name (e.g. "zookeeper").
	Name string `json:"name"`

	// Components are the service's components. A component with an
	// empty name carries the service-level operations.
	Components []ComponentDef `json:"components"`
}

// ComponentDef is one component of a service.
type ComponentDef struct {
	// Name is the component name within its service. Empty for the
	// service-level component.
	Name string `json:"name,omitempty"`

	// DependsOn lists the components this component depends on, as
	// "service" or "service/component" references. Each reference
	// derives one same-kind edge per operation both sides declare.
	DependsOn []string `json:"depends_on,omitempty"`

	// Operations are the lifecycle operations the component declares.
	Operations []OperationDef `json:"operations"`
}

// OperationDef is one declared operation of a component.
type OperationDef struct {
	// Kind is the operation kind. Only install, config and start are
	// declarable; stop and restart are planned over start nodes.
	Kind Operation `json:"kind"`

	// Noop marks an operation that exists only as an ordering point.
	// The runner records it as succeeded without invoking the executor.
	Noop bool `json:"noop,omitempty"`

	// DependsOn lists extra node IDs this operation depends on, beyond
	// the edges derived from component references.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Node is one vertex of the dependency graph: a single operation of a
// single service component.
type Node struct {
	// ID is the canonical node identifier, segments joined with
	// underscores: service_component_operation, or service_operation
	// for service-level nodes.
	ID string `json:"id"`

	// Service is the owning service name.
	Service string `json:"service"`

	// Component is the owning component name. Empty for service-level
	// nodes.
	Component string `json:"component,omitempty"`

	// Operation is the operation kind this node performs.
	Operation Operation `json:"operation"`

	// Noop marks ordering-only nodes.
	Noop bool `json:"noop,omitempty"`
}

// NodeID builds the canonical node identifier for a (service,
// component, operation) triple. Service-level nodes omit the component
// segment.
func NodeID(service, component string, op Operation) string {
	if component == "" {
		return service + "_" + string(op)
	}
	return service + "_" + component + "_" + string(op)
}

// ComponentRef builds a "service/component" reference, or just
// "service" for the service-level component.
func ComponentRef(service, component string) string {
	if component == "" {
		return service
	}
	return service + "/" + component
}

// Selection identifies the target components of a plan request.
// An empty selection matches nothing; callers choose one of the three
// forms.
type Selection struct {
	// All selects every component in the graph.
	All bool `json:"all,omitempty"`

	// Services selects every component of the named services.
	Services []string `json:"services,omitempty"`

	// Components selects individual components as "service" or
	// "service/component" references.
	Components []string `json:"components,omitempty"`
}

// IsEmpty returns true if the selection names no target at all.
func (s Selection) IsEmpty() bool {
	return !s.All && len(s.Services) == 0 && len(s.Components) == 0
}

// String renders the selection for logs and error messages.
func (s Selection) String() string {
	if s.All {
		return "all"
	}
	parts := make([]string, 0, len(s.Services)+len(s.Components))
	parts = append(parts, s.Services...)
	parts = append(parts, s.Components...)
	return strings.Join(parts, ",")
}

// PlanMode records how a plan's step set was derived from its
// selection.
type PlanMode string

const (
	// PlanModeClosure includes the selection plus everything it
	// transitively depends on (or, for stop, everything that
	// transitively depends on it). This is the default.
	PlanModeClosure PlanMode = "closure"

	// PlanModeExact includes only the named nodes, ordered.
	PlanModeExact PlanMode = "exact"

	// PlanModeFrom includes the selection plus everything downstream
	// of it, for replaying a change through its dependents.
	PlanModeFrom PlanMode = "from"
)

// Step is one entry in a plan: a graph node paired with the operation
// the runner will perform on it.
type Step struct {
	// NodeID is the graph node this step was planned over.
	NodeID string `json:"node_id"`

	// Service is the owning service name.
	Service string `json:"service"`

	// Component is the owning component name. Empty for service-level
	// steps.
	Component string `json:"component,omitempty"`

	// Operation is what the runner performs. For stop and restart
	// plans this differs from the node's declared operation.
	Operation Operation `json:"operation"`

	// Noop marks steps recorded as succeeded without execution.
	Noop bool `json:"noop,omitempty"`

	// Level is the step's depth in the plan's dependency order. Steps
	// sharing a level have no ordering constraint between them and may
	// run as one parallel batch.
	Level int `json:"level"`
}

// Plan is an immutable ordered sequence of steps: a valid topological
// linearization of the subgraph its selection induced. A plan is a
// value, not a live reference into the graph; runs snapshot it as is.
type Plan struct {
	// Action is the requested action the plan was computed for.
	Action Operation `json:"action"`

	// Selection is the target the plan was computed from.
	Selection Selection `json:"selection"`

	// Mode records how the step set was derived.
	Mode PlanMode `json:"mode"`

	// Steps is the ordered step sequence. Execution follows slice
	// order exactly.
	Steps []Step `json:"steps"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`
}

// NodeIDs returns the plan's node IDs in step order.
func (p *Plan) NodeIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.NodeID
	}
	return ids
}

// Levels groups the plan's steps into batches by level, preserving
// step order. Steps within one batch have no ordering constraint
// between them.
func (p *Plan) Levels() [][]Step {
	var batches [][]Step
	for _, s := range p.Steps {
		if len(batches) == 0 || batches[len(batches)-1][0].Level != s.Level {
			batches = append(batches, []Step{s})
			continue
		}
		batches[len(batches)-1] = append(batches[len(batches)-1], s)
	}
	return batches
}

// Run is one execution attempt of a plan.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`

	// Plan is the snapshotted plan this run executes. Resumed runs
	// reuse the parent's snapshot unmodified.
	Plan *Plan `json:"plan"`

	// Status is the run's overall status.
	Status RunStatus `json:"status"`

	// ParentRunID links a resumed run to the run it picks up from.
	ParentRunID string `json:"parent_run_id,omitempty"`

	// Records are the per-step outcomes recorded so far, oldest first.
	Records []OperationRecord `json:"records,omitempty"`
}

// Record returns the run's record for the given node, or nil if the
// step has not started.
func (r *Run) Record(nodeID string) *OperationRecord {
	for i := range r.Records {
		if r.Records[i].NodeID == nodeID {
			return &r.Records[i]
		}
	}
	return nil
}

// Summary computes per-status step counts for the run.
func (r *Run) Summary() RunSummary {
	s := RunSummary{Total: len(r.Plan.Steps)}
	recorded := make(map[string]bool, len(r.Records))
	for i := range r.Records {
		rec := &r.Records[i]
		recorded[rec.NodeID] = true
		switch rec.Status {
		case RecordStatusSuccess:
			if rec.Skipped() {
				s.Skipped++
			} else {
				s.Succeeded++
			}
		case RecordStatusFailure:
			s.Failed++
		case RecordStatusRunning:
			s.Running++
		case RecordStatusPending:
			s.Pending++
		}
	}
	for _, step := range r.Plan.Steps {
		if !recorded[step.NodeID] {
			s.Pending++
		}
	}
	return s
}

// FirstFailure returns the run's first failed record in plan order, or
// nil if none failed.
func (r *Run) FirstFailure() *OperationRecord {
	for _, step := range r.Plan.Steps {
		rec := r.Record(step.NodeID)
		if rec != nil && rec.Status == RecordStatusFailure {
			return rec
		}
	}
	return nil
}

// RunSummary provides per-status step counts for a run.
type RunSummary struct {
	// Total is the number of steps in the plan.
	Total int `json:"total"`

	// Succeeded is the number of steps that succeeded in this run.
	Succeeded int `json:"succeeded"`

	// Skipped is the number of steps inherited as successes from the
	// resume lineage.
	Skipped int `json:"skipped"`

	// Failed is the number of steps that failed.
	Failed int `json:"failed"`

	// Running is the number of steps currently executing.
	Running int `json:"running"`

	// Pending is the number of steps not yet started.
	Pending int `json:"pending"`
}

// OperationRecord is the durable outcome of one step within one run.
// Records are append-only: once terminal they are never mutated, only
// superseded by records of a later run.
type OperationRecord struct {
	// RunID is the run this record belongs to.
	RunID string `json:"run_id"`

	// NodeID is the graph node the step was planned over.
	NodeID string `json:"node_id"`

	// Operation is the operation the step performed.
	Operation Operation `json:"operation"`

	// Status is the record's current status.
	Status RecordStatus `json:"status"`

	// StartedAt is when the step started.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the record reached a terminal status. Nil while
	// pending or running.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// Attempts is the number of executor invocations made. Zero for
	// skipped and noop steps.
	Attempts int `json:"attempts"`

	// Detail carries the last error message for failures, or an
	// annotation such as the skip reason for inherited successes.
	Detail string `json:"detail,omitempty"`
}

// SkipDetailPrefix marks records inherited from a resume lineage.
// Stores rely on it to tell inherited successes from fresh ones.
const SkipDetailPrefix = "skipped: "

// SkippedDetail builds the annotation recorded on steps inherited as
// successes from an earlier run in a resume lineage.
func SkippedDetail(runID string) string {
	return SkipDetailPrefix + "succeeded in run " + runID
}

// Skipped returns true if the record is an inherited success rather
// than a fresh execution.
func (r *OperationRecord) Skipped() bool {
	return r.Status == RecordStatusSuccess && strings.HasPrefix(r.Detail, SkipDetailPrefix)
}

// Duration returns how long the step ran, or zero while it is still
// open.
func (r *OperationRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Outcome is what an executor reports back for one step invocation.
type Outcome struct {
	// Status is success or failure.
	Status RecordStatus `json:"status"`

	// Message carries tool output for diagnostics. For failures this
	// is the error tail shown to the operator.
	Message string `json:"message,omitempty"`
}

// DeployedNode is one row of the derived deployed-state view: the most
// recent successful outcome for a node across all runs.
type DeployedNode struct {
	// NodeID is the graph node.
	NodeID string `json:"node_id"`

	// Operation is the operation that last succeeded on the node.
	Operation Operation `json:"operation"`

	// RunID is the run the success was recorded in.
	RunID string `json:"run_id"`

	// EndedAt is when the success was recorded.
	EndedAt time.Time `json:"ended_at"`
}
