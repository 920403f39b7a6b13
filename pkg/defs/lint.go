package defs

import (
	"fmt"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// Lint rule identifiers.
const (
	// RuleStartDependency flags a start operation whose explicit
	// dependency reaches into another service's install or config
	// phase. Cross-service start ordering should target the other
	// service's start nodes.
	RuleStartDependency = "start-dependency"

	// RuleInstallDependency flags an install operation depending on a
	// config or start node. Install ordering should stay within the
	// install phase.
	RuleInstallDependency = "install-dependency"

	// RuleServiceCoverage flags a service that declares no install,
	// config or start operation on any of its components.
	RuleServiceCoverage = "service-coverage"

	// RuleNoopPlaybook flags a noop operation for which a collection
	// ships a playbook.
	RuleNoopPlaybook = "noop-playbook"

	// RuleMissingPlaybook flags a non-noop operation with no playbook
	// in any collection.
	RuleMissingPlaybook = "missing-playbook"
)

// Finding is one lint warning about the merged definitions.
type Finding struct {
	// Rule is the identifier of the rule that fired.
	Rule string `json:"rule"`

	// Node is the node the finding is about, when applicable.
	Node string `json:"node,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

func (f Finding) String() string {
	return "[" + f.Rule + "] " + f.Message
}

// Lint checks the merged definitions for suspicious but non-fatal
// declarations and returns the findings in a deterministic order.
// Dangling dependency references are skipped here; engine.BuildGraph
// rejects them as hard errors. The playbook rules only apply when at
// least one collection ships playbooks.
func (b *Bundle) Lint() []Finding {
	var findings []Finding

	type nodeInfo struct {
		service string
		op      engine.Operation
	}
	nodes := make(map[string]nodeInfo)
	b.eachOperation(func(svc Service, component string, op Operation) {
		id := engine.NodeID(svc.Name, component, op.Kind)
		nodes[id] = nodeInfo{service: svc.Name, op: op.Kind}
	})

	b.eachOperation(func(svc Service, component string, op Operation) {
		id := engine.NodeID(svc.Name, component, op.Kind)
		for _, dep := range op.DependsOn {
			target, ok := nodes[dep]
			if !ok {
				continue
			}
			if op.Kind == engine.OperationStart &&
				target.service != svc.Name && target.op != engine.OperationStart {
				findings = append(findings, Finding{
					Rule: RuleStartDependency,
					Node: id,
					Message: fmt.Sprintf(
						"start node %s depends on %s: cross-service start ordering should target the other service's start nodes",
						id, dep),
				})
			}
			if op.Kind == engine.OperationInstall && target.op != engine.OperationInstall {
				findings = append(findings, Finding{
					Rule: RuleInstallDependency,
					Node: id,
					Message: fmt.Sprintf(
						"install node %s depends on %s: install ordering should stay within the install phase",
						id, dep),
				})
			}
		}
	})

	if len(b.Playbooks) > 0 {
		b.eachOperation(func(svc Service, component string, op Operation) {
			id := engine.NodeID(svc.Name, component, op.Kind)
			playbook, has := b.Playbooks[id]
			switch {
			case op.Noop && has:
				findings = append(findings, Finding{
					Rule: RuleNoopPlaybook,
					Node: id,
					Message: fmt.Sprintf(
						"node %s is declared noop but a collection ships playbook %s", id, playbook),
				})
			case !op.Noop && !has:
				findings = append(findings, Finding{
					Rule:    RuleMissingPlaybook,
					Node:    id,
					Message: fmt.Sprintf("node %s has no playbook in any collection", id),
				})
			}
		})
	}

	for _, svc := range b.Services {
		declared := make(map[engine.Operation]bool)
		for _, op := range svc.Operations {
			declared[op.Kind] = true
		}
		for _, comp := range svc.Components {
			for _, op := range comp.Operations {
				declared[op.Kind] = true
			}
		}
		for _, kind := range []engine.Operation{engine.OperationInstall, engine.OperationConfig, engine.OperationStart} {
			if !declared[kind] {
				findings = append(findings, Finding{
					Rule:    RuleServiceCoverage,
					Message: fmt.Sprintf("service %s declares no %s operation", svc.Name, kind),
				})
			}
		}
	}

	return findings
}
