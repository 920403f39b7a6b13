package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReleaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <run-id>",
		Short: "Force-finish an abandoned run",
		Long: `Force-finish a run stuck in an active status, freeing its nodes for
new runs.

A crashed process can leave its run recorded as running forever; that
guard then rejects every overlapping plan. Release marks the run failed
so deployments can continue. Only use it when the process behind the
run is really gone.`,
		Example: `  tdp release 0f8a1c2e-4b6d-4f2a-9c3e-7d5b8a901234`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

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

			if err := store.ReleaseRun(ctx, runID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s released\n", runID)
			return nil
		},
	}

	return cmd
}
