// Package cli wires the shepherd command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/shepherdbot/shepherd/internal/logging"
)

var (
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "shepherd",
		Short: "Label-driven automated PR review and fix orchestrator",
		Long: `Shepherd polls pull requests by status label and routes each through
automated review, fix, and CI-wait phases, driving an external coding
agent and pushing the results back as comments, commits, and label
transitions.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
