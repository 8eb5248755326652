// Package obslog provides structured, component-scoped logging for the
// pipeline engine using zerolog.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once via Init.
var Logger zerolog.Logger

// Level is a supported log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init sets up the global logger. Call once at process start, before any
// other package logs.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with component, e.g.
// "orchestrator", "landscape", "checkpoint".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRun returns a child logger scoped to one run.
func WithRun(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

// WithNode returns a child logger scoped to one node within a run.
func WithNode(runID, nodeID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Str("node_id", nodeID).Logger()
}
