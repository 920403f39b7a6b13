package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

func newNodesCommand() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the dependency graph's nodes",
		Example: `  # Every node
  tdp nodes

  # Only zookeeper's nodes, with their dependencies
  tdp nodes --service zookeeper`,
		Args: cobra.NoArgs,
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

			nodes := graph.Nodes()
			if service != "" {
				filtered := nodes[:0]
				for _, n := range nodes {
					if n.Service == service {
						filtered = append(filtered, n)
					}
				}
				nodes = filtered
				if len(nodes) == 0 {
					return fmt.Errorf("unknown service: %s", service)
				}
			}

			if jsonOutput {
				type nodeRow struct {
					engine.Node
					DependsOn []string `json:"depends_on,omitempty"`
				}
				rows := make([]nodeRow, len(nodes))
				for i, n := range nodes {
					rows[i] = nodeRow{Node: n, DependsOn: graph.Dependencies(n.ID)}
				}
				return printJSON(cmd.OutOrStdout(), rows)
			}

			table := newTable(cmd.OutOrStdout())
			fmt.Fprintln(table, "NODE\tSERVICE\tCOMPONENT\tOPERATION\tNOOP\tDEPENDS ON")
			for _, n := range nodes {
				noop := ""
				if n.Noop {
					noop = "yes"
				}
				deps := graph.Dependencies(n.ID)
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%d\n",
					n.ID, n.Service, n.Component, n.Operation, noop, len(deps))
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "only nodes of this service")

	return cmd
}
