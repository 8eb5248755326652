package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/dshills/corepipe/config"
	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/landscape"
	"github.com/dshills/corepipe/metrics"
	"github.com/dshills/corepipe/obslog"
	"github.com/dshills/corepipe/orchestrator"
	"github.com/dshills/corepipe/payload"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a pipeline end to end",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, graphRes, recorder, store, closeAll, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	registry := orchestrator.NewRegistry()
	if RegisterPlugins == nil {
		return fmt.Errorf("run: no plugins registered; a corepipe-embedding binary must set RegisterPlugins before Execute")
	}
	if err := RegisterPlugins(registry, cfg); err != nil {
		return fmt.Errorf("run: register plugins: %w", err)
	}

	orch, err := orchestrator.New(graphRes, cfg, registry, recorder, store, otel.Tracer("corepipe"))
	if err != nil {
		return fmt.Errorf("run: build orchestrator: %w", err)
	}
	orch.BindMetrics(metrics.New(nil))

	log := obslog.WithComponent("cmd.run")
	runID, err := orch.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("run failed")
		return fmt.Errorf("run %s failed: %w", runID, err)
	}
	log.Info().Str("run_id", runID).Msg("run completed")
	return nil
}

// openPipeline loads the configuration, constructs the DAG, and opens the
// audit and payload stores every run/resume/validate-against-store command
// needs. The returned closeAll closes the audit recorder; the payload
// store is not closed.
func openPipeline(cmd *cobra.Command) (dag.Config, *dag.ConstructResult, landscape.Recorder, payload.Store, func(), error) {
	configPath, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")
	payloadDir, _ := cmd.Flags().GetString("payload-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return dag.Config{}, nil, nil, nil, nil, err
	}
	graphRes, err := dag.Construct(cfg)
	if err != nil {
		return dag.Config{}, nil, nil, nil, nil, fmt.Errorf("construct dag: %w", err)
	}

	store, err := payload.NewFSStore(payloadDir)
	if err != nil {
		return dag.Config{}, nil, nil, nil, nil, fmt.Errorf("open payload store: %w", err)
	}
	recorder, err := landscape.NewSQLiteStore(dbPath, store)
	if err != nil {
		return dag.Config{}, nil, nil, nil, nil, fmt.Errorf("open audit store: %w", err)
	}

	closeAll := func() { _ = recorder.Close() }
	return cfg, graphRes, recorder, store, closeAll, nil
}
