package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	jsonOutput bool

	// cliVersion is stamped on telemetry as the service version.
	cliVersion = "dev"
)

// stopChan broadcasts the operator's graceful-stop request to whichever
// command is running.
var (
	stopOnce sync.Once
	stopChan = make(chan struct{})
)

// RequestStop asks the running command to halt gracefully: a deploy
// finishes the step in flight and records the run as stopped. Safe to
// call more than once and from any goroutine.
func RequestStop() {
	stopOnce.Do(func() { close(stopChan) })
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tdp",
		Short: "TDP - Multi-service Platform Deployment Orchestrator",
		Long: `TDP deploys and operates a platform of interdependent services by
planning lifecycle operations over a dependency graph and driving
ansible-playbook through the resulting plan.

Features:
  - Dependency graph of (service, component, operation) nodes
  - Deterministic plans in closure, from and exact modes
  - Durable run history with resume in SQLite
  - Retry with exponential backoff for transient failures
  - Policy gating of plans via Rego rules`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace|debug|info|warn|error|fatal)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newNodesCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newReleaseCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
