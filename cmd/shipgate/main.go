package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	// Exit codes returned to the CI pipeline. RolledBack is
	// distinguishable from full success: the pipeline treats it as
	// pass-with-warning, never as Succeeded.
	exitSucceeded  = 0
	exitFailed     = 1
	exitRolledBack = 2
	exitConflict   = 3
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailed)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shipgate",
	Short: "Shipgate - deployment orchestrator with health-gated rollout",
	Long: `Shipgate ships a deployment reference to a target host over SSH,
restarts the application through its process manager, and gates success on
a bounded health-probe loop. When the probe fails after a successful
deploy, the previously known good reference is rolled back, itself
health-gated.

A CI pipeline triggers it once build and tests have passed, either through
the run command or the HTTP API, and reads the outcome from the exit code:
0 succeeded, 1 failed, 2 rolled back, 3 conflict.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Shipgate version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "/etc/shipgate/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}
