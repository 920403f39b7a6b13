package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run and its step outcomes",
		Long: `Show one run: its status, the plan it executed and the recorded
outcome of every step. Without a run ID the most recent run is shown.`,
		Example: `  # Latest run
  tdp status

  # A specific run, full JSON
  tdp status 0f8a1c2e-4b6d-4f2a-9c3e-7d5b8a901234 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			ctx := cmd.Context()

			store, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var runID string
			if len(args) == 1 {
				runID = args[0]
			} else {
				latest, err := store.ListRuns(ctx, engine.RunFilter{Limit: 1})
				if err != nil {
					return err
				}
				if len(latest) == 0 {
					return fmt.Errorf("no runs recorded yet")
				}
				runID = latest[0].ID
			}

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), run)
			}
			out := cmd.OutOrStdout()
			printRunHeader(out, run)
			fmt.Fprintln(out)
			printRunSteps(out, run)
			return nil
		},
	}

	return cmd
}
