package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/corepipe/landscape"
	"github.com/dshills/corepipe/payload"
	"github.com/dshills/corepipe/purge"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete replay payloads older than --retention-days, downgrading affected runs",
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().Int("retention-days", 0, "Purge call payloads older than this many days (must be > 0)")
	_ = purgeCmd.MarkFlagRequired("retention-days")
}

func runPurge(cmd *cobra.Command, args []string) error {
	retentionDays, _ := cmd.Flags().GetInt("retention-days")

	dbPath, _ := cmd.Flags().GetString("db")
	payloadDir, _ := cmd.Flags().GetString("payload-dir")
	store, err := payload.NewFSStore(payloadDir)
	if err != nil {
		return fmt.Errorf("purge: open payload store: %w", err)
	}
	recorder, err := landscape.NewSQLiteStore(dbPath, store)
	if err != nil {
		return fmt.Errorf("purge: open audit store: %w", err)
	}
	defer recorder.Close()

	result, err := purge.Run(cmd.Context(), recorder, retentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("purged payloads older than %s: %d run(s) scanned, %d downgraded\n",
		result.Cutoff.Format("2006-01-02"), result.RunsScanned, len(result.RunsDowngraded))
	for _, runID := range result.RunsDowngraded {
		fmt.Printf("  downgraded: %s\n", runID)
	}
	return nil
}
