package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipgate/shipgate/pkg/storage"
	"github.com/shipgate/shipgate/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent rollout records",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("target", "", "Only show rollouts for this host identifier")
	historyCmd.Flags().Int("limit", 20, "Maximum number of records to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	target, _ := cmd.Flags().GetString("target")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	var records []*types.Rollout
	if target != "" {
		records, err = store.ListRolloutsByHost(target)
	} else {
		records, err = store.ListRollouts()
	}
	if err != nil {
		return fmt.Errorf("failed to list rollouts: %v", err)
	}

	if len(records) == 0 {
		fmt.Println("No rollouts recorded.")
		return nil
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	fmt.Printf("%-36s  %-16s  %-20s  %-12s  %s\n", "ID", "HOST", "REFERENCE", "STATE", "STARTED")
	for _, r := range records {
		fmt.Printf("%-36s  %-16s  %-20s  %-12s  %s\n",
			r.ID, r.Host, r.Reference, r.State, r.StartedAt.Format(time.RFC3339))
		if cause := r.CauseString(); cause != "" {
			fmt.Printf("    causes: %s\n", cause)
		}
	}
	return nil
}
