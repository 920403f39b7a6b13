package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		exact bool
		from  bool
	)

	cmd := &cobra.Command{
		Use:   "plan <action> [target...]",
		Short: "Compute and print a plan",
		Long: `Compute the ordered plan for a lifecycle action over the dependency
graph and print it as JSON.

The action is one of install, config, start, stop or restart. Targets
name whole services ("zookeeper") or single components
("hdfs/namenode"); no targets selects everything. By default the plan
closes over dependencies: everything the selection needs comes first
(for stop, everything depending on it stops first).`,
		Example: `  # Full platform start, dependencies first
  tdp plan start

  # Configure hdfs and whatever its config depends on
  tdp plan config hdfs

  # Replay a config change through everything downstream
  tdp plan config zookeeper --from

  # Exactly these nodes, ordered, no closure
  tdp plan start --exact zookeeper_server_start hdfs_namenode_start`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			_, graph, err := app.buildGraph(cmd.Context())
			if err != nil {
				return err
			}

			plan, err := computePlan(engine.NewPlanner(graph), args, exact, from)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "targets are node IDs, planned without closure")
	cmd.Flags().BoolVar(&from, "from", false, "include everything downstream of the selection")

	return cmd
}

// computePlan resolves command arguments into a plan: the first
// argument is the action, the rest are targets interpreted per mode.
func computePlan(planner *engine.Planner, args []string, exact, from bool) (*engine.Plan, error) {
	if exact && from {
		return nil, fmt.Errorf("--exact and --from are mutually exclusive")
	}

	action, err := engine.ParseOperation(args[0])
	if err != nil {
		return nil, err
	}
	targets := args[1:]

	if exact {
		if len(targets) == 0 {
			return nil, fmt.Errorf("--exact requires node IDs")
		}
		return planner.PlanExact(targets, action)
	}

	sel := parseSelection(targets)
	if from {
		return planner.PlanFrom(sel, action)
	}
	return planner.Plan(sel, action)
}

// parseSelection splits targets into whole services and individual
// components. A bare name selects every component of that service; a
// "service/component" reference selects one.
func parseSelection(targets []string) engine.Selection {
	if len(targets) == 0 {
		return engine.Selection{All: true}
	}
	var sel engine.Selection
	for _, t := range targets {
		if strings.Contains(t, "/") {
			sel.Components = append(sel.Components, t)
		} else {
			sel.Services = append(sel.Services, t)
		}
	}
	return sel
}
