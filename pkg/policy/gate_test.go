package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func testGate(t *testing.T, limits Limits) *Gate {
	t.Helper()
	g, err := NewGate(limits)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func testPlan(action engine.Operation, steps ...engine.Step) *engine.Plan {
	return &engine.Plan{
		Action:    action,
		Selection: engine.Selection{All: true},
		Mode:      engine.PlanModeClosure,
		Steps:     steps,
		CreatedAt: time.Now(),
	}
}

// planStep builds a step the way stop and restart plans do: planned
// over the start node, operation substituted.
func planStep(service, component string, op engine.Operation) engine.Step {
	node := op
	if op == engine.OperationStop || op == engine.OperationRestart {
		node = engine.OperationStart
	}
	return engine.Step{
		NodeID:    engine.NodeID(service, component, node),
		Service:   service,
		Component: component,
		Operation: op,
	}
}

func writePolicy(t *testing.T, dir, name, source string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestNewGateBuiltins(t *testing.T) {
	g := testGate(t, Limits{})

	policies := g.Policies()
	if len(policies) != 3 {
		t.Fatalf("expected 3 built-in policies, got %d", len(policies))
	}

	want := []string{"frozen-components", "max-plan-steps", "protected-services"}
	for i, name := range want {
		if policies[i].Name != name {
			t.Errorf("policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
		if policies[i].Source != "builtin" {
			t.Errorf("policy %s: expected builtin source, got %s", name, policies[i].Source)
		}
		if policies[i].Rego == "" {
			t.Errorf("policy %s has no source", name)
		}
	}
}

func TestEvaluateNoLimits(t *testing.T) {
	g := testGate(t, Limits{})

	plan := testPlan(engine.OperationStop,
		planStep("zookeeper", "server", engine.OperationStop),
		planStep("hdfs", "namenode", engine.OperationStop),
		planStep("hdfs", "datanode", engine.OperationStop),
	)

	violations, err := g.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %d: %v", len(violations), violations)
	}
}

func TestEvaluateProtectedServices(t *testing.T) {
	g := testGate(t, Limits{ProtectedServices: []string{"zookeeper"}})

	tests := []struct {
		name string
		plan *engine.Plan
		want int
	}{
		{
			name: "stop touching protected service",
			plan: testPlan(engine.OperationStop,
				planStep("hdfs", "namenode", engine.OperationStop),
				planStep("zookeeper", "server", engine.OperationStop),
			),
			want: 1,
		},
		{
			name: "stop of service-level node",
			plan: testPlan(engine.OperationStop,
				planStep("zookeeper", "", engine.OperationStop),
			),
			want: 1,
		},
		{
			name: "stop avoiding protected service",
			plan: testPlan(engine.OperationStop,
				planStep("hdfs", "namenode", engine.OperationStop),
			),
			want: 0,
		},
		{
			name: "start of protected service",
			plan: testPlan(engine.OperationStart,
				planStep("zookeeper", "server", engine.OperationStart),
			),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := g.Evaluate(context.Background(), tt.plan)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if len(violations) != tt.want {
				t.Fatalf("expected %d violations, got %d: %v", tt.want, len(violations), violations)
			}
			for _, v := range violations {
				if v.Rule != "protected-services" {
					t.Errorf("expected rule protected-services, got %s", v.Rule)
				}
				if !strings.Contains(v.Message, "zookeeper") {
					t.Errorf("expected message to name the service, got %q", v.Message)
				}
				if v.NodeID == "" {
					t.Error("expected violation to carry a node ID")
				}
			}
		})
	}
}

func TestEvaluateProtectedServicesPerNode(t *testing.T) {
	g := testGate(t, Limits{ProtectedServices: []string{"zookeeper"}})

	plan := testPlan(engine.OperationStop,
		planStep("zookeeper", "server", engine.OperationStop),
		planStep("zookeeper", "client", engine.OperationStop),
	)

	violations, err := g.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("expected one violation per step, got %d: %v", len(violations), violations)
	}

	nodes := map[string]bool{}
	for _, v := range violations {
		nodes[v.NodeID] = true
	}
	for _, want := range []string{"zookeeper_server_start", "zookeeper_client_start"} {
		if !nodes[want] {
			t.Errorf("expected a violation for %s, got %v", want, nodes)
		}
	}
}

func TestEvaluateMaxPlanSteps(t *testing.T) {
	steps := []engine.Step{
		planStep("hdfs", "namenode", engine.OperationStart),
		planStep("hdfs", "datanode", engine.OperationStart),
		planStep("zookeeper", "server", engine.OperationStart),
	}

	tests := []struct {
		name  string
		limit int
		steps []engine.Step
		want  int
	}{
		{name: "above the limit", limit: 2, steps: steps, want: 1},
		{name: "at the limit", limit: 3, steps: steps, want: 0},
		{name: "zero limit is unlimited", limit: 0, steps: steps, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGate(t, Limits{MaxPlanSteps: tt.limit})
			violations, err := g.Evaluate(context.Background(), testPlan(engine.OperationStart, tt.steps...))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if len(violations) != tt.want {
				t.Fatalf("expected %d violations, got %d: %v", tt.want, len(violations), violations)
			}
			if tt.want == 1 {
				v := violations[0]
				if v.Rule != "max-plan-steps" {
					t.Errorf("expected rule max-plan-steps, got %s", v.Rule)
				}
				if !strings.Contains(v.Message, "3") || !strings.Contains(v.Message, "2") {
					t.Errorf("expected message to carry both counts, got %q", v.Message)
				}
				if v.NodeID != "" {
					t.Errorf("expected no node ID on a plan-wide violation, got %s", v.NodeID)
				}
			}
		})
	}
}

func TestEvaluateFrozenComponents(t *testing.T) {
	g := testGate(t, Limits{Frozen: []string{"hdfs/namenode", "kafka"}})

	tests := []struct {
		name     string
		plan     *engine.Plan
		want     int
		wantNode string
	}{
		{
			name: "restart of frozen component",
			plan: testPlan(engine.OperationRestart,
				planStep("hdfs", "namenode", engine.OperationRestart),
			),
			want:     1,
			wantNode: "hdfs_namenode_start",
		},
		{
			name: "restart of sibling component",
			plan: testPlan(engine.OperationRestart,
				planStep("hdfs", "datanode", engine.OperationRestart),
			),
			want: 0,
		},
		{
			name: "frozen service freezes all components",
			plan: testPlan(engine.OperationRestart,
				planStep("kafka", "broker", engine.OperationRestart),
			),
			want:     1,
			wantNode: "kafka_broker_start",
		},
		{
			name: "stop of frozen component",
			plan: testPlan(engine.OperationStop,
				planStep("hdfs", "namenode", engine.OperationStop),
			),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := g.Evaluate(context.Background(), tt.plan)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if len(violations) != tt.want {
				t.Fatalf("expected %d violations, got %d: %v", tt.want, len(violations), violations)
			}
			if tt.want == 1 {
				v := violations[0]
				if v.Rule != "frozen-components" {
					t.Errorf("expected rule frozen-components, got %s", v.Rule)
				}
				if v.NodeID != tt.wantNode {
					t.Errorf("expected node %s, got %s", tt.wantNode, v.NodeID)
				}
			}
		})
	}
}

func TestLoadPoliciesCustomRego(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "no-stops.rego", `package custom.checks

import rego.v1

deny contains violation if {
	input.action == "stop"
	violation := {
		"rule": "no-stops",
		"message": "stop plans are disabled on this platform",
	}
}`)

	g := testGate(t, Limits{})
	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	policies := g.Policies()
	if len(policies) != 4 {
		t.Fatalf("expected 4 policies after load, got %d", len(policies))
	}
	last := policies[len(policies)-1]
	if last.Name != "no-stops" {
		t.Errorf("expected custom policy last, got %s", last.Name)
	}

	violations, err := g.Evaluate(context.Background(), testPlan(engine.OperationStop,
		planStep("hdfs", "namenode", engine.OperationStop),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(violations), violations)
	}
	if violations[0].Rule != "no-stops" {
		t.Errorf("expected rule no-stops, got %s", violations[0].Rule)
	}
	if violations[0].Message != "stop plans are disabled on this platform" {
		t.Errorf("unexpected message %q", violations[0].Message)
	}

	violations, err = g.Evaluate(context.Background(), testPlan(engine.OperationStart,
		planStep("hdfs", "namenode", engine.OperationStart),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations for start, got %v", violations)
	}
}

func TestLoadPoliciesStringDenial(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "deny-all.rego", `package custom.all

import rego.v1

deny contains msg if {
	count(input.steps) > 0
	msg := "all plans denied"
}`)

	g := testGate(t, Limits{})
	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	violations, err := g.Evaluate(context.Background(), testPlan(engine.OperationStart,
		planStep("hdfs", "namenode", engine.OperationStart),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(violations), violations)
	}
	if violations[0].Rule != "deny-all" {
		t.Errorf("expected the policy name as rule, got %s", violations[0].Rule)
	}
	if violations[0].Message != "all plans denied" {
		t.Errorf("unexpected message %q", violations[0].Message)
	}
}

func TestLoadPoliciesBadRegoKeepsPrevious(t *testing.T) {
	good := t.TempDir()
	writePolicy(t, good, "no-stops.rego", `package custom.checks

import rego.v1

deny contains msg if {
	input.action == "stop"
	msg := "stops disabled"
}`)

	g := testGate(t, Limits{})
	if err := g.LoadPolicies(context.Background(), []string{good}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	if len(g.Policies()) != 4 {
		t.Fatalf("expected 4 policies, got %d", len(g.Policies()))
	}

	broken := t.TempDir()
	writePolicy(t, broken, "broken.rego", "package broken\n\ndeny contains if {")

	if err := g.LoadPolicies(context.Background(), []string{broken}); err == nil {
		t.Fatal("expected an error for broken rego")
	}

	// The previous custom set stays in place.
	if len(g.Policies()) != 4 {
		t.Fatalf("expected 4 policies after failed load, got %d", len(g.Policies()))
	}
	violations, err := g.Evaluate(context.Background(), testPlan(engine.OperationStop,
		planStep("hdfs", "namenode", engine.OperationStop),
	))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected the previous policy to keep firing, got %v", violations)
	}
}

func TestLoadPoliciesSwapsCustomSet(t *testing.T) {
	g := testGate(t, Limits{})

	first := t.TempDir()
	writePolicy(t, first, "alpha.rego", "package custom.alpha\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}")
	if err := g.LoadPolicies(context.Background(), []string{first}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	second := t.TempDir()
	writePolicy(t, second, "beta.rego", "package custom.beta\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}")
	if err := g.LoadPolicies(context.Background(), []string{second}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	names := map[string]bool{}
	for _, p := range g.Policies() {
		names[p.Name] = true
	}
	if names["alpha"] {
		t.Error("expected alpha to be dropped by the swap")
	}
	if !names["beta"] {
		t.Error("expected beta to be present after the swap")
	}
}

func TestEvaluateCombinesPolicies(t *testing.T) {
	g := testGate(t, Limits{
		ProtectedServices: []string{"zookeeper"},
		MaxPlanSteps:      1,
	})

	plan := testPlan(engine.OperationStop,
		planStep("zookeeper", "server", engine.OperationStop),
		planStep("hdfs", "namenode", engine.OperationStop),
	)

	violations, err := g.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	rules := map[string]int{}
	for _, v := range violations {
		rules[v.Rule]++
	}
	if rules["max-plan-steps"] != 1 {
		t.Errorf("expected one max-plan-steps violation, got %d", rules["max-plan-steps"])
	}
	if rules["protected-services"] != 1 {
		t.Errorf("expected one protected-services violation, got %d", rules["protected-services"])
	}
}
