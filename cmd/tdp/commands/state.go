package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the deployed state of every node",
		Long: `Show the most recent successful outcome per graph node across all
runs: what is actually deployed, regardless of which run put it there.`,
		Args: cobra.NoArgs,
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

			state, err := store.DeployedState(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), state)
			}

			table := newTable(cmd.OutOrStdout())
			fmt.Fprintln(table, "NODE\tOPERATION\tRUN ID\tENDED")
			for _, node := range state {
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\n",
					node.NodeID, node.Operation, node.RunID, formatTime(node.EndedAt))
			}
			return table.Flush()
		},
	}

	return cmd
}
