// Command corepipe drives the pipeline engine from a YAML configuration
// document: construct and validate a DAG, run it end to end, resume a
// failed run, or purge aged replay payloads.
//
// corepipe has no built-in plugins; it is a generic skeleton a binary
// embeds after registering the plugin implementations its pipelines
// need. Set RegisterPlugins before calling Execute to wire concrete
// source/transform/gate/sink implementations into the orchestrator's
// registry for "run".
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/obslog"
	"github.com/dshills/corepipe/orchestrator"
)

// RegisterPlugins binds plugin implementations into registry for the
// nodes cfg describes. A binary embedding corepipe sets this before
// calling Execute; left nil, "run" fails with a clear error rather than
// silently running an empty pipeline. "resume" does not use it.
var RegisterPlugins func(registry *orchestrator.Registry, cfg dag.Config) error

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "corepipe: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corepipe",
	Short: "Run and inspect data-processing pipelines",
}

func init() {
	rootCmd.PersistentFlags().String("config", "pipeline.yaml", "Path to the pipeline configuration document")
	rootCmd.PersistentFlags().String("db", "corepipe.db", "Path to the SQLite audit store")
	rootCmd.PersistentFlags().String("payload-dir", "payloads", "Directory for the content-addressed payload store")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(purgeCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	obslog.Init(obslog.Config{
		Level:      obslog.Level(level),
		JSONOutput: jsonOutput,
	})
}
