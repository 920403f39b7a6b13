package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate collections and the derived graph",
		Long: `Load the configured collections, build the dependency graph and lint
the merged definitions.

Structural problems (duplicate nodes, dangling references, dependency
cycles) fail the command. Lint findings are warnings unless --strict
makes them fatal.`,
		Example: `  tdp validate
  tdp validate --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			bundle, graph, err := app.buildGraph(cmd.Context())
			if err != nil {
				return err
			}

			findings := bundle.Lint()
			out := cmd.OutOrStdout()

			if jsonOutput {
				return printJSON(out, map[string]interface{}{
					"services": graph.Services(),
					"nodes":    graph.Len(),
					"files":    bundle.SourceFiles,
					"findings": findings,
				})
			}

			for _, f := range findings {
				fmt.Fprintln(out, f.String())
			}
			fmt.Fprintf(out, "valid: %d services, %d nodes, %d files, %d findings\n",
				len(graph.Services()), graph.Len(), len(bundle.SourceFiles), len(findings))

			if strict && len(findings) > 0 {
				return fmt.Errorf("%d lint findings with --strict", len(findings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat lint findings as errors")

	return cmd
}
