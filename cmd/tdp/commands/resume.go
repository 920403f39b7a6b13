package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func newResumeCommand() *cobra.Command {
	var (
		dryRun      bool
		parallel    bool
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Pick up a failed or stopped run",
		Long: `Create a new run from a failed or stopped one, reusing its plan
snapshot unmodified. Steps that already succeeded anywhere in the
resume lineage are inherited as skipped successes; execution continues
from the first step without one.`,
		Example: `  tdp resume 0f8a1c2e-4b6d-4f2a-9c3e-7d5b8a901234`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

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
			if prev, err := store.GetRun(ctx, runID); err == nil {
				app.tel.Metrics.SetPlanSize(len(prev.Plan.Steps))
			}

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-stopChan:
					orch.Stop()
				case <-done:
				}
			}()

			log.Info().Str("run_id", runID).Bool("dry_run", dry).Msg("resuming run")

			run, runErr := orch.Resume(ctx, runID)
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

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record every step as succeeded without running ansible")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run independent steps concurrently")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "concurrent step cap with --parallel (default from config)")

	return cmd
}
