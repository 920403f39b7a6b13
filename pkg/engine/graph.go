package engine

import (
	"sort"
	"strings"
)

// Graph is the validated dependency graph of operation nodes. It is
// immutable after BuildGraph returns and safe for concurrent use.
type Graph struct {
	nodes      map[string]Node
	deps       map[string][]string
	dependents map[string][]string
	order      []string
}

// BuildGraph validates resolved service definitions and derives the
// operation DAG. Three kinds of edges are produced:
//
//   - intra-component ordering: config depends on install, start
//     depends on config (or install when the component declares no
//     config)
//   - component references: each ComponentDef.DependsOn entry derives
//     one same-kind edge per operation both components declare
//   - explicit node references: OperationDef.DependsOn entries are
//     taken verbatim
//
// Duplicate nodes, dangling references and cycles fail with a
// VALIDATION error; a cycle error names the full cycle path.
func BuildGraph(services []ServiceDef) (*Graph, error) {
	nodes := make(map[string]Node)
	edges := make(map[string]map[string]bool)

	// componentOps maps a component reference to the operation kinds
	// it declares.
	componentOps := make(map[string]map[Operation]bool)

	seenServices := make(map[string]bool)
	for _, svc := range services {
		if svc.Name == "" {
			return nil, NewValidationError("service with empty name")
		}
		if seenServices[svc.Name] {
			return nil, NewValidationError("duplicate service: %s", svc.Name)
		}
		seenServices[svc.Name] = true

		seenComponents := make(map[string]bool)
		for _, comp := range svc.Components {
			ref := ComponentRef(svc.Name, comp.Name)
			if seenComponents[comp.Name] {
				return nil, NewValidationError("duplicate component: %s", ref)
			}
			seenComponents[comp.Name] = true

			ops := make(map[Operation]bool)
			for _, op := range comp.Operations {
				if err := op.Kind.Validate(); err != nil {
					return nil, NewValidationError("component %s: %s", ref, err)
				}
				if !op.Kind.Declarable() {
					return nil, NewValidationError(
						"component %s declares %s: only install, config and start are declarable",
						ref, op.Kind)
				}
				if ops[op.Kind] {
					return nil, NewValidationError("component %s declares %s twice", ref, op.Kind)
				}
				ops[op.Kind] = true

				id := NodeID(svc.Name, comp.Name, op.Kind)
				if _, exists := nodes[id]; exists {
					// Underscore-joined IDs can collide across
					// services whose names themselves contain
					// underscores.
					return nil, NewValidationError("duplicate node: %s", id)
				}
				nodes[id] = Node{
					ID:        id,
					Service:   svc.Name,
					Component: comp.Name,
					Operation: op.Kind,
					Noop:      op.Noop,
				}
			}
			componentOps[ref] = ops
		}
	}

	addEdge := func(from, to string) {
		if edges[from] == nil {
			edges[from] = make(map[string]bool)
		}
		edges[from][to] = true
	}

	for _, svc := range services {
		for _, comp := range svc.Components {
			ref := ComponentRef(svc.Name, comp.Name)
			ops := componentOps[ref]

			if ops[OperationConfig] && ops[OperationInstall] {
				addEdge(NodeID(svc.Name, comp.Name, OperationConfig),
					NodeID(svc.Name, comp.Name, OperationInstall))
			}
			if ops[OperationStart] {
				switch {
				case ops[OperationConfig]:
					addEdge(NodeID(svc.Name, comp.Name, OperationStart),
						NodeID(svc.Name, comp.Name, OperationConfig))
				case ops[OperationInstall]:
					addEdge(NodeID(svc.Name, comp.Name, OperationStart),
						NodeID(svc.Name, comp.Name, OperationInstall))
				}
			}

			for _, dep := range comp.DependsOn {
				if dep == ref {
					return nil, NewValidationError("component %s depends on itself", ref)
				}
				depOps, ok := componentOps[dep]
				if !ok {
					return nil, NewValidationError(
						"component %s depends on unknown component: %s", ref, dep)
				}
				depSvc, depComp := splitComponentRef(dep)
				for _, kind := range []Operation{OperationInstall, OperationConfig, OperationStart} {
					if ops[kind] && depOps[kind] {
						addEdge(NodeID(svc.Name, comp.Name, kind),
							NodeID(depSvc, depComp, kind))
					}
				}
			}

			for _, op := range comp.Operations {
				id := NodeID(svc.Name, comp.Name, op.Kind)
				for _, depID := range op.DependsOn {
					if depID == id {
						return nil, NewValidationError("node %s depends on itself", id)
					}
					if _, ok := nodes[depID]; !ok {
						return nil, NewValidationError(
							"node %s depends on unknown node: %s", id, depID)
					}
					addEdge(id, depID)
				}
			}
		}
	}

	g := freeze(nodes, edges)
	if cycle := g.findCycle(); cycle != nil {
		return nil, NewValidationError("dependency cycle detected: %s",
			strings.Join(cycle, " -> "))
	}
	return g, nil
}

// freeze turns the mutable builder maps into the immutable graph form:
// node IDs and adjacency lists sorted ascending so every traversal is
// deterministic.
func freeze(nodes map[string]Node, edges map[string]map[string]bool) *Graph {
	g := &Graph{
		nodes:      nodes,
		deps:       make(map[string][]string, len(edges)),
		dependents: make(map[string][]string),
		order:      make([]string, 0, len(nodes)),
	}
	for id := range nodes {
		g.order = append(g.order, id)
	}
	sort.Strings(g.order)

	for from, tos := range edges {
		deps := make([]string, 0, len(tos))
		for to := range tos {
			deps = append(deps, to)
			g.dependents[to] = append(g.dependents[to], from)
		}
		sort.Strings(deps)
		g.deps[from] = deps
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	return g
}

func splitComponentRef(ref string) (service, component string) {
	service, component, _ = strings.Cut(ref, "/")
	return service, component
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// findCycle returns one dependency cycle as a node path with the first
// node repeated at the end, or nil if the graph is acyclic. Traversal
// order is deterministic, so the same definitions always report the
// same cycle.
func (g *Graph) findCycle() []string {
	colors := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = colorGray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch colors[dep] {
			case colorGray:
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, dep)
			case colorWhite:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = colorBlack
		return nil
	}

	for _, id := range g.order {
		if colors[id] == colorWhite {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node, sorted by ID.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Services returns the distinct service names in the graph, sorted.
func (g *Graph) Services() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range g.order {
		svc := g.nodes[id].Service
		if !seen[svc] {
			seen[svc] = true
			out = append(out, svc)
		}
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the IDs the given node directly depends on,
// sorted.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the IDs that directly depend on the given node,
// sorted.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Match returns the IDs of kind-operation nodes matched by the
// selection, sorted. Unknown service or component names fail rather
// than matching nothing, so a typo is distinguishable from a target
// that declares no such operation.
func (g *Graph) Match(sel Selection, kind Operation) ([]string, error) {
	if sel.IsEmpty() {
		return nil, NewPlanningError("empty selection")
	}

	ids := make([]string, 0)
	if sel.All {
		for _, id := range g.order {
			if g.nodes[id].Operation == kind {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	services := make(map[string]bool)
	components := make(map[string]bool)
	for _, n := range g.nodes {
		services[n.Service] = true
		components[ComponentRef(n.Service, n.Component)] = true
	}

	var unknown []string
	wantService := make(map[string]bool)
	wantComponent := make(map[string]bool)
	for _, s := range sel.Services {
		if !services[s] {
			unknown = append(unknown, s)
			continue
		}
		wantService[s] = true
	}
	for _, c := range sel.Components {
		if !components[c] {
			unknown = append(unknown, c)
			continue
		}
		wantComponent[c] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, NewPlanningError("unknown selection targets: %s", strings.Join(unknown, ", "))
	}

	for _, id := range g.order {
		n := g.nodes[id]
		if n.Operation != kind {
			continue
		}
		if wantService[n.Service] || wantComponent[ComponentRef(n.Service, n.Component)] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DependencyClosure returns the seeds plus every node they
// transitively depend on.
func (g *Graph) DependencyClosure(seeds []string) map[string]bool {
	return g.closure(seeds, g.deps)
}

// DependentClosure returns the seeds plus every node that transitively
// depends on them.
func (g *Graph) DependentClosure(seeds []string) map[string]bool {
	return g.closure(seeds, g.dependents)
}

func (g *Graph) closure(seeds []string, edges map[string][]string) map[string]bool {
	set := make(map[string]bool, len(seeds))
	queue := append([]string(nil), seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if set[id] {
			continue
		}
		set[id] = true
		queue = append(queue, edges[id]...)
	}
	return set
}
