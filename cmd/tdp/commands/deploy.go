package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func newDeployCommand() *cobra.Command {
	var (
		exact       bool
		from        bool
		dryRun      bool
		parallel    bool
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "deploy <action> [target...]",
		Short: "Plan and execute a lifecycle action",
		Long: `Compute a plan, gate it against policy and execute it as a new run.

Arguments work exactly like tdp plan. Progress streams to the log;
every step outcome is recorded durably before the next step starts, so
an interrupted run can be picked up with tdp resume. The first
interrupt stops the run after the step in flight; a second one cancels
that step too.`,
		Example: `  # Bring the whole platform up
  tdp deploy start

  # Reconfigure hdfs without touching anything else
  tdp deploy config hdfs/namenode --exact hdfs_namenode_config

  # Walk the plan without running ansible
  tdp deploy start --dry-run

  # Run independent steps concurrently
  tdp deploy start --parallel`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			ctx := cmd.Context()

			bundle, graph, err := app.buildGraph(ctx)
			if err != nil {
				return err
			}
			plan, err := computePlan(engine.NewPlanner(graph), args, exact, from)
			if err != nil {
				return err
			}

			store, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			gate, err := app.newGate(ctx)
			if err != nil {
				return err
			}

			dry := dryRun || app.settings.Executor.DryRun
			executor, cleanup, err := app.newExecutor(ctx, bundle, dry)
			if err != nil {
				return err
			}
			defer cleanup()

			par := app.settings.Parallel
			if cmd.Flags().Changed("parallel") {
				par = parallel
			}
			workers := app.settings.MaxParallel
			if cmd.Flags().Changed("max-parallel") {
				workers = maxParallel
			}

			orch, err := engine.NewOrchestrator(engine.OrchestratorConfig{
				Graph:    graph,
				Store:    store,
				Executor: executor,
				Gate:     gate,
				Runner:   app.runnerOptions(par, workers),
			})
			if err != nil {
				return err
			}

			if err := app.tel.StartMetricsServer(); err != nil {
				return err
			}
			app.tel.Metrics.SetPlanSize(len(plan.Steps))

			// Bridge the operator's stop request to the runner.
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-stopChan:
					orch.Stop()
				case <-done:
				}
			}()

			log.Info().
				Str("action", string(plan.Action)).
				Str("selection", plan.Selection.String()).
				Int("steps", len(plan.Steps)).
				Bool("dry_run", dry).
				Msg("starting run")

			run, runErr := orch.Run(ctx, plan)
			if run != nil {
				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), run); err != nil {
						return err
					}
				} else {
					printRunOutcome(cmd.OutOrStdout(), run)
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "targets are node IDs, planned without closure")
	cmd.Flags().BoolVar(&from, "from", false, "include everything downstream of the selection")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record every step as succeeded without running ansible")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run independent steps concurrently")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "concurrent step cap with --parallel (default from config)")

	return cmd
}
