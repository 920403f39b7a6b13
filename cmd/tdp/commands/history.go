package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func newHistoryCommand() *cobra.Command {
	var (
		status  string
		service string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Example: `  # Last twenty runs
  tdp history

  # Every failed run touching hdfs
  tdp history --status failure --service hdfs --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := engine.RunFilter{Service: service, Limit: limit}
			if status != "" {
				filter.Status = engine.RunStatus(status)
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

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

			runs, err := store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), runs)
			}

			table := newTable(cmd.OutOrStdout())
			fmt.Fprintln(table, "RUN ID\tCREATED\tSTATUS\tACTION\tMODE\tSELECTION\tSTEPS")
			for _, run := range runs {
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					run.ID, formatTime(run.CreatedAt), run.Status,
					run.Plan.Action, run.Plan.Mode,
					oneLine(run.Plan.Selection.String(), 40), len(run.Plan.Steps))
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (created|running|success|failure|stopped)")
	cmd.Flags().StringVar(&service, "service", "", "only runs whose plan touches this service")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list, 0 for all")

	return cmd
}
