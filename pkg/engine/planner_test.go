package engine

import (
	"reflect"
	"strings"
	"testing"
)

// webDBServices models the canonical two-service ordering scenario:
// web's start depends on db's start, and db must be configured before
// it starts.
func webDBServices() []ServiceDef {
	return []ServiceDef{
		{
			Name: "web",
			Components: []ComponentDef{
				{
					DependsOn:  []string{"db"},
					Operations: []OperationDef{{Kind: OperationStart}},
				},
			},
		},
		{
			Name: "db",
			Components: []ComponentDef{
				{
					Operations: []OperationDef{
						{Kind: OperationConfig},
						{Kind: OperationStart},
					},
				},
			},
		},
	}
}

func stepOps(p *Plan) []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.NodeID + ":" + string(s.Operation)
	}
	return out
}

func TestPlanner_Plan_StartClosure(t *testing.T) {
	g := mustBuildGraph(t, webDBServices())
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{Services: []string{"web"}}, OperationStart)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{"db_config:config", "db_start:start", "web_start:start"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if plan.Mode != PlanModeClosure {
		t.Errorf("Expected closure mode, got %s", plan.Mode)
	}
}

func TestPlanner_Plan_StopReverse(t *testing.T) {
	g := mustBuildGraph(t, webDBServices())
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{Services: []string{"web", "db"}}, OperationStop)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	// web must stop before the db it depends on; config nodes never
	// appear in a stop plan.
	want := []string{"web_start:stop", "db_start:stop"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestPlanner_Plan_StopThroughIntermediateNode(t *testing.T) {
	// a's start depends on a config node that depends on b's start:
	// the stop order must still place a before b even though the
	// connecting node never appears in the stop plan.
	g := mustBuildGraph(t, []ServiceDef{
		{
			Name: "a",
			Components: []ComponentDef{
				{Operations: []OperationDef{
					{Kind: OperationStart, DependsOn: []string{"glue_config"}},
				}},
			},
		},
		{
			Name: "glue",
			Components: []ComponentDef{
				{Operations: []OperationDef{
					{Kind: OperationConfig, DependsOn: []string{"b_start"}},
				}},
			},
		},
		{
			Name: "b",
			Components: []ComponentDef{
				{Operations: []OperationDef{{Kind: OperationStart}}},
			},
		},
	})
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{All: true}, OperationStop)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{"a_start:stop", "b_start:stop"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestPlanner_Plan_RestartSubstitution(t *testing.T) {
	g := mustBuildGraph(t, webDBServices())
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{Services: []string{"web"}}, OperationRestart)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	// Start nodes become restart steps, other closure members keep
	// their declared operation.
	want := []string{"db_config:config", "db_start:restart", "web_start:restart"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestPlanner_Plan_ConfigPullsInstall(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{Services: []string{"zookeeper"}}, OperationConfig)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{"zookeeper_server_install:install", "zookeeper_server_config:config"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestPlanner_Plan_Deterministic(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	first, err := planner.Plan(Selection{All: true}, OperationStart)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	second, err := planner.Plan(Selection{All: true}, OperationStart)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !reflect.DeepEqual(first.Steps, second.Steps) {
		t.Errorf("Expected identical step sequences:\n%v\n%v", stepOps(first), stepOps(second))
	}
}

func TestPlanner_Plan_TieBreakAscending(t *testing.T) {
	g := mustBuildGraph(t, []ServiceDef{
		{Name: "cherry", Components: []ComponentDef{{Operations: []OperationDef{{Kind: OperationStart}}}}},
		{Name: "apple", Components: []ComponentDef{{Operations: []OperationDef{{Kind: OperationStart}}}}},
		{Name: "banana", Components: []ComponentDef{{Operations: []OperationDef{{Kind: OperationStart}}}}},
	})
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{All: true}, OperationStart)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{"apple_start:start", "banana_start:start", "cherry_start:start"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected unordered nodes sorted by ID, got %v", got)
	}
	for _, s := range plan.Steps {
		if s.Level != 0 {
			t.Errorf("Expected level 0 for independent node %s, got %d", s.NodeID, s.Level)
		}
	}
}

func TestPlanner_Plan_EmptyMatch(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	// webapp exists but declares no install operation.
	_, err := planner.Plan(Selection{Services: []string{"webapp"}}, OperationInstall)
	if err == nil {
		t.Fatal("Expected error for empty match, got nil")
	}
	if !HasCode(err, ErrCodePlanning) {
		t.Errorf("Expected PLANNING code, got: %v", err)
	}
}

func TestPlanner_Plan_UnknownSelection(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	_, err := planner.Plan(Selection{Services: []string{"kafkaa"}}, OperationStart)
	if err == nil || !strings.Contains(err.Error(), "kafkaa") {
		t.Fatalf("Expected unknown selection error, got: %v", err)
	}
}

func TestPlanner_PlanExact_KeepsGraphOrder(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	// Listed out of order; no direct edge connects the two, only a
	// path through kafka_broker_start.
	plan, err := planner.PlanExact([]string{"webapp_start", "zookeeper_server_start"}, OperationStart)
	if err != nil {
		t.Fatalf("PlanExact failed: %v", err)
	}

	want := []string{"zookeeper_server_start:start", "webapp_start:start"}
	if got := stepOps(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if plan.Mode != PlanModeExact {
		t.Errorf("Expected exact mode, got %s", plan.Mode)
	}
}

func TestPlanner_PlanExact_Errors(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	if _, err := planner.PlanExact(nil, OperationStart); err == nil {
		t.Error("Expected error for empty node list")
	}
	if _, err := planner.PlanExact([]string{"ghost_start"}, OperationStart); err == nil {
		t.Error("Expected error for unknown node")
	}
	if _, err := planner.PlanExact([]string{"webapp_start", "webapp_start"}, OperationStart); err == nil {
		t.Error("Expected error for node listed twice")
	}
	if _, err := planner.PlanExact([]string{"webapp_config"}, OperationStop); err == nil {
		t.Error("Expected error for stop over a non-start node")
	}
}

func TestPlanner_PlanFrom_Downstream(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	plan, err := planner.PlanFrom(Selection{Services: []string{"zookeeper"}}, OperationConfig)
	if err != nil {
		t.Fatalf("PlanFrom failed: %v", err)
	}

	got := stepOps(plan)
	if got[0] != "zookeeper_server_config:config" {
		t.Errorf("Expected plan to begin at the source, got %v", got)
	}
	if got[len(got)-1] != "webapp_start:start" {
		t.Errorf("Expected plan to end at the deepest dependent, got %v", got)
	}

	index := make(map[string]int, len(got))
	for i, s := range plan.Steps {
		index[s.NodeID] = i
	}
	if index["kafka_broker_config"] > index["kafka_broker_start"] {
		t.Errorf("Expected kafka config before kafka start, got %v", got)
	}
	if _, ok := index["kafka_broker_install"]; ok {
		t.Errorf("Did not expect install nodes upstream of the source, got %v", got)
	}
}

func TestPlanner_PlanFrom_StopRejected(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	if _, err := planner.PlanFrom(Selection{All: true}, OperationStop); err == nil {
		t.Fatal("Expected error for stop in from mode")
	}
}

func TestPlan_Levels(t *testing.T) {
	g := mustBuildGraph(t, platformServices())
	planner := NewPlanner(g)

	plan, err := planner.Plan(Selection{All: true}, OperationStart)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	batches := plan.Levels()
	total := 0
	for i, batch := range batches {
		if len(batch) == 0 {
			t.Fatalf("Empty batch at level %d", i)
		}
		for _, s := range batch {
			if s.Level != i {
				t.Errorf("Step %s in batch %d has level %d", s.NodeID, i, s.Level)
			}
		}
		total += len(batch)
	}
	if total != len(plan.Steps) {
		t.Errorf("Expected %d steps across batches, got %d", len(plan.Steps), total)
	}
}
