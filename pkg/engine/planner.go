package engine

import (
	"sort"
	"time"
)

// Planner computes ordered plans over a graph. Plans are values:
// recomputing one against an unchanged graph yields an identical step
// sequence, and a computed plan never changes when the graph does.
type Planner struct {
	graph *Graph
}

// NewPlanner creates a planner over the given graph.
func NewPlanner(g *Graph) *Planner {
	return &Planner{graph: g}
}

// Plan computes the default closure-mode plan for an action over a
// selection. Forward actions (install, config, start, restart) cover
// the selection's base nodes plus their transitive dependencies in
// forward order; stop covers the selection's start nodes plus their
// transitive dependents in reverse order, so nothing is stopped while
// something above it still runs.
//
// An empty match fails with a PLANNING error rather than producing an
// empty plan, so "nothing to do" and "selection typo" stay
// distinguishable.
func (p *Planner) Plan(sel Selection, action Operation) (*Plan, error) {
	seeds, err := p.seeds(sel, action)
	if err != nil {
		return nil, err
	}

	var set map[string]bool
	if action == OperationStop {
		set = p.graph.DependentClosure(seeds)
	} else {
		set = p.graph.DependencyClosure(seeds)
	}

	return &Plan{
		Action:    action,
		Selection: sel,
		Mode:      PlanModeClosure,
		Steps:     p.steps(set, action),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PlanFrom computes a plan covering the selection plus everything
// downstream of it, in forward order: the way to replay a change
// through its dependents. Stop has no from mode; use Plan.
func (p *Planner) PlanFrom(sel Selection, action Operation) (*Plan, error) {
	if action == OperationStop {
		return nil, NewPlanningError("stop cannot be planned in from mode")
	}
	seeds, err := p.seeds(sel, action)
	if err != nil {
		return nil, err
	}

	set := p.graph.DependentClosure(seeds)
	return &Plan{
		Action:    action,
		Selection: sel,
		Mode:      PlanModeFrom,
		Steps:     p.steps(set, action),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PlanExact computes a plan over exactly the named nodes, ordered the
// way the full graph orders them, with no closure. The caller owns the
// completeness of the list; exact mode exists for surgical replays of
// individual nodes.
func (p *Planner) PlanExact(nodeIDs []string, action Operation) (*Plan, error) {
	if err := action.Validate(); err != nil {
		return nil, NewPlanningError("%s", err)
	}
	if len(nodeIDs) == 0 {
		return nil, NewPlanningError("empty node list")
	}

	set := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		node, ok := p.graph.Node(id)
		if !ok {
			return nil, NewPlanningError("unknown node: %s", id)
		}
		if set[id] {
			return nil, NewPlanningError("node listed twice: %s", id)
		}
		if action == OperationStop && node.Operation != OperationStart {
			return nil, NewPlanningError("node %s is not a start operation, stop acts on start nodes", id)
		}
		set[id] = true
	}

	// Exact sets are not closed under dependencies, so two members may
	// be ordered only through nodes outside the set. Ordering the full
	// graph and filtering keeps those constraints.
	all := make(map[string]bool, p.graph.Len())
	for _, id := range p.graph.order {
		all[id] = true
	}
	order, levels := p.order(all, !action.Forward())

	steps := make([]Step, 0, len(set))
	for _, id := range order {
		if !set[id] {
			continue
		}
		node, _ := p.graph.Node(id)
		step, ok := stepFor(node, action)
		if !ok {
			continue
		}
		step.Level = levels[id]
		steps = append(steps, step)
	}

	return &Plan{
		Action:    action,
		Selection: Selection{Components: nodeIDs},
		Mode:      PlanModeExact,
		Steps:     compactLevels(steps),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// seeds resolves the selection to the action's base nodes.
func (p *Planner) seeds(sel Selection, action Operation) ([]string, error) {
	if err := action.Validate(); err != nil {
		return nil, NewPlanningError("%s", err)
	}
	seeds, err := p.graph.Match(sel, action.Base())
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, NewPlanningError("selection %s matches no %s operations", sel, action.Base())
	}
	return seeds, nil
}

// steps orders the node set for the action and substitutes the
// operation each step performs.
func (p *Planner) steps(set map[string]bool, action Operation) []Step {
	order, levels := p.order(set, !action.Forward())
	steps := make([]Step, 0, len(order))
	for _, id := range order {
		node, _ := p.graph.Node(id)
		step, ok := stepFor(node, action)
		if !ok {
			continue
		}
		step.Level = levels[id]
		steps = append(steps, step)
	}
	return compactLevels(steps)
}

// stepFor decides what operation a plan for the action performs on a
// node, or drops the node from the plan.
func stepFor(node Node, action Operation) (Step, bool) {
	op := node.Operation
	switch action {
	case OperationStop:
		// A stop plan only acts on running processes: start nodes
		// become stop steps, every other node in the closure
		// contributes ordering only.
		if node.Operation != OperationStart {
			return Step{}, false
		}
		op = OperationStop
	case OperationRestart:
		if node.Operation == OperationStart {
			op = OperationRestart
		}
	}
	return Step{
		NodeID:    node.ID,
		Service:   node.Service,
		Component: node.Component,
		Operation: op,
		Noop:      node.Noop,
	}, true
}

// order topologically sorts the node set using only edges within the
// set; closure sets are closed in the traversal direction, so no
// ordering constraint crosses the boundary. The result is
// deterministic: level by level, IDs ascending within a level. Reverse
// order flips the edge direction, which is not the same as reversing
// the forward order when paths run through filtered nodes.
func (p *Planner) order(set map[string]bool, reverse bool) ([]string, map[string]int) {
	prereqs := p.graph.deps
	notify := p.graph.dependents
	if reverse {
		prereqs, notify = notify, prereqs
	}

	indegree := make(map[string]int, len(set))
	for id := range set {
		n := 0
		for _, pre := range prereqs[id] {
			if set[pre] {
				n++
			}
		}
		indegree[id] = n
	}

	frontier := make([]string, 0)
	for id := range set {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(set))
	levels := make(map[string]int, len(set))
	for level := 0; len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			levels[id] = level
			order = append(order, id)
			for _, waiter := range notify[id] {
				if !set[waiter] {
					continue
				}
				indegree[waiter]--
				if indegree[waiter] == 0 {
					next = append(next, waiter)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return order, levels
}

// compactLevels renumbers step levels consecutively after filtering
// may have emptied some. Steps arrive in nondecreasing level order.
func compactLevels(steps []Step) []Step {
	next := 0
	seen := make(map[int]int)
	for i := range steps {
		l := steps[i].Level
		if _, ok := seen[l]; !ok {
			seen[l] = next
			next++
		}
		steps[i].Level = seen[l]
	}
	return steps
}
