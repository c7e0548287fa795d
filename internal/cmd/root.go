// Package cmd defines the vibetree CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "vibetree",
	Version: version,
	Short:   "Coordinate trees of stacked branches, worktrees and terminal sessions",
	Long: `vibetree coordinates a tree of parallel feature branches, their git
worktrees and long-running terminal sessions. It scans repositories into a
typed branch tree, materializes planned task trees into real branches and
worktrees, and streams terminal output to connected clients.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
