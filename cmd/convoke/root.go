package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convoke",
	Short: "Capability-based task coordination engine",
	Long: `Convoke routes free-form requests to specialist workers.

A request is analyzed for required capabilities, matched against the
worker registry, dispatched under a coordination strategy (sequential,
parallel, hierarchical, or consensus), and the partial answers are
synthesized into one result with provenance.

Workers that keep failing are isolated by per-worker circuit breakers
and re-admitted after a cooldown probe succeeds.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
