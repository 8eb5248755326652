package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/corepipe/config"
	"github.com/dshills/corepipe/dag"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Construct and validate a pipeline configuration, reporting any violation",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	res, err := dag.Construct(cfg)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("valid: %d nodes\n", len(res.Graph.Nodes()))
	for _, w := range res.Warnings {
		fmt.Printf("warning: coalesce %s has an unsafe divert-fed branch at %s\n", w.CoalesceNodeID, w.BranchNodeID)
	}
	return nil
}
