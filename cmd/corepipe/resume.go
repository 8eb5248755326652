package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/corepipe/recovery"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Reconstruct the recovery plan for a failed run",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	_, graphRes, recorder, _, closeAll, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	plan, err := recovery.Recover(cmd.Context(), recorder, graphRes.Graph, runID)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	fmt.Printf("run %s: %d batch(es) retried, %d aggregation checkpoint(s) restored\n",
		plan.RunID, len(plan.RetriedBatches), len(plan.Checkpoints))
	for _, b := range plan.RetriedBatches {
		fmt.Printf("  node %s: batch %s -> %s (attempt %d, %d member(s))\n",
			b.NodeID, b.OriginalBatchID, b.NewBatchID, b.Attempt, len(b.MemberTokenIDs))
	}
	return nil
}
