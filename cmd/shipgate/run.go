package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipgate/shipgate/pkg/events"
	"github.com/shipgate/shipgate/pkg/rollout"
	"github.com/shipgate/shipgate/pkg/storage"
	"github.com/shipgate/shipgate/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one rollout and wait for its terminal state",
	Long: `Run one health-gated rollout synchronously.

Examples:
  # Deploy main to the app-1 target
  shipgate run --target app-1 --ref main

  # Deploy a tag with a tighter probe budget
  shipgate run --target app-1 --ref v2.4.0 --probe-timeout 30s`,
	RunE: runRollout,
}

func init() {
	runCmd.Flags().String("target", "", "Target host identifier (required)")
	runCmd.Flags().String("ref", "", "Deployment reference to ship (required)")
	runCmd.Flags().String("endpoint", "", "Override the target's health endpoint")
	runCmd.Flags().Duration("probe-timeout", 0, "Override the target's overall probe timeout")
	runCmd.Flags().Duration("probe-interval", 0, "Override the target's probe interval")
	runCmd.Flags().Int("max-attempts", 0, "Override the target's probe attempt bound")
	_ = runCmd.MarkFlagRequired("target")
	_ = runCmd.MarkFlagRequired("ref")
}

func runRollout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	target, _ := cmd.Flags().GetString("target")
	ref, _ := cmd.Flags().GetString("ref")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	probeTimeout, _ := cmd.Flags().GetDuration("probe-timeout")
	probeInterval, _ := cmd.Flags().GetDuration("probe-interval")
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}

	broker := events.NewBroker()
	broker.Start()
	go logEvents(broker.Subscribe())

	ctrl, err := buildController(cfg, store, broker)
	if err != nil {
		store.Close()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	record, err := ctrl.Run(ctx, types.RolloutRequest{
		Host:          target,
		Reference:     ref,
		Endpoint:      endpoint,
		ProbeTimeout:  probeTimeout,
		ProbeInterval: probeInterval,
		MaxAttempts:   maxAttempts,
	})

	// Let the event sink drain before the process exits
	time.Sleep(50 * time.Millisecond)
	broker.Stop()
	storeErr := store.Close()

	if err != nil {
		if errors.Is(err, rollout.ErrConflict) {
			fmt.Fprintf(os.Stderr, "Conflict: %v\n", err)
			os.Exit(exitConflict)
		}
		return err
	}
	if storeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", storeErr)
	}

	printRecord(record)

	switch record.State {
	case types.RolloutSucceeded:
		return nil
	case types.RolloutRolledBack:
		os.Exit(exitRolledBack)
	default:
		os.Exit(exitFailed)
	}
	return nil
}

func printRecord(r *types.Rollout) {
	fmt.Printf("Rollout %s\n", r.ID)
	fmt.Printf("  Host:      %s\n", r.Host)
	fmt.Printf("  Reference: %s\n", r.Reference)
	fmt.Printf("  State:     %s\n", r.State)
	if cause := r.CauseString(); cause != "" {
		fmt.Printf("  Causes:    %s\n", cause)
	}
	if !r.FinishedAt.IsZero() {
		fmt.Printf("  Duration:  %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
}
