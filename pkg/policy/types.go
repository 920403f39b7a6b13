package policy

import (
	"fmt"
	"time"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// Policy is one named set of Rego deny rules.
type Policy struct {
	// Name identifies the policy. For file-loaded policies it is the
	// file basename without the .rego suffix.
	Name string `json:"name"`

	// Description is taken from the leading comment block of the
	// policy source, when present.
	Description string `json:"description,omitempty"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Source is the file the policy was loaded from, or "builtin".
	Source string `json:"source"`

	// LoadedAt is when the policy was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// Limits is the operator configuration the built-in rules read. The
// gate exposes it to every policy as base data (data.protected_services,
// data.frozen, data.max_plan_steps).
type Limits struct {
	// ProtectedServices lists services whose stop plans are denied.
	ProtectedServices []string

	// Frozen lists "service" or "service/component" references whose
	// restart plans are denied.
	Frozen []string

	// MaxPlanSteps denies plans with more steps than this. Zero means
	// unlimited.
	MaxPlanSteps int
}

// document renders the limits as the gate's base data tree.
func (l Limits) document() map[string]interface{} {
	return map[string]interface{}{
		"protected_services": stringList(l.ProtectedServices),
		"frozen":             stringList(l.Frozen),
		"max_plan_steps":     l.MaxPlanSteps,
	}
}

// planDocument renders a plan as the policy input document. Every key
// is always present so rules never have to probe for absent fields.
func planDocument(p *engine.Plan) map[string]interface{} {
	steps := make([]interface{}, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = map[string]interface{}{
			"node_id":   s.NodeID,
			"service":   s.Service,
			"component": s.Component,
			"operation": string(s.Operation),
			"noop":      s.Noop,
			"level":     s.Level,
		}
	}
	return map[string]interface{}{
		"action": string(p.Action),
		"mode":   string(p.Mode),
		"selection": map[string]interface{}{
			"all":        p.Selection.All,
			"services":   stringList(p.Selection.Services),
			"components": stringList(p.Selection.Components),
		},
		"steps": steps,
	}
}

// stringList converts a string slice into the []interface{} form the
// OPA store and input conversion expect. Nil slices become empty
// lists, never null.
func stringList(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// violationFrom maps one denial value onto a violation. Objects may
// carry "rule", "message" and "node_id"; anything else is treated as
// the message itself.
func violationFrom(policyName string, denial interface{}) engine.PolicyViolation {
	v := engine.PolicyViolation{Rule: policyName}
	switch d := denial.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if rule, ok := d["rule"].(string); ok && rule != "" {
			v.Rule = rule
		}
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if node, ok := d["node_id"].(string); ok {
			v.NodeID = node
		}
	default:
		v.Message = fmt.Sprintf("%v", denial)
	}
	return v
}
