package plugin

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/corepipe/payload"
)

// Recorder is the narrow slice of the audit recorder a plugin context
// needs: recording a validation failure against the current node state.
// Checkpoint access goes through Context.Checkpoint instead. The full recorder
// (landscape.Recorder) satisfies this; plugin never imports landscape
// directly, avoiding an import cycle between the audit layer and the
// plugin protocols it audits.
type Recorder interface {
	RecordValidationError(ctx context.Context, nodeStateID string, reason string, rawData map[string]interface{}) error
}

// CheckpointSlot is a per-node resume slot: a batch transform stores
// opaque state here when it returns Pending, and reads it back on
// resume.
type CheckpointSlot interface {
	Load(ctx context.Context) (interface{}, bool, error)
	Store(ctx context.Context, state interface{}) error
}

// SinkRouter lets a plugin route a row to a named sink directly,
// bypassing the declared on_success wiring — used by plugins that
// implement their own conditional dead-lettering.
type SinkRouter interface {
	RouteToSink(ctx context.Context, sinkName string, row map[string]interface{}) error
}

// Context carries everything a plugin invocation needs beyond the row
// itself: run identity, run-level configuration, a handle to the audit
// recorder, the payload store, an optional tracer, optional audited
// LLM/HTTP clients, this node's checkpoint slot, and validation/routing
// helpers. It is passed explicitly on every call; plugins must not reach
// for ambient globals or thread-locals to recover any of this.
type Context struct {
	RunID       string
	NodeID      string
	NodeStateID string

	Config map[string]interface{}

	Recorder     Recorder
	PayloadStore payload.Store
	Tracer       trace.Tracer // nil when tracing is disabled

	Checkpoint CheckpointSlot
	Router     SinkRouter

	// LLMClient and HTTPClient are left as interface{} here deliberately:
	// concrete audited client types live in the llmclient package, which
	// depends on plugin.Context for wiring, not the other way around.
	// A plugin type-asserts to the concrete client interface it expects.
	LLMClient  interface{}
	HTTPClient interface{}
}

// RecordValidationError records a row that failed validation inside a
// plugin (as opposed to at the source) against the current node state.
func (c Context) RecordValidationError(ctx context.Context, reason string, rawData map[string]interface{}) error {
	if c.Recorder == nil {
		return nil
	}
	return c.Recorder.RecordValidationError(ctx, c.NodeStateID, reason, rawData)
}

// RouteToSink sends row directly to sinkName, bypassing the declared
// on_success connection.
func (c Context) RouteToSink(ctx context.Context, sinkName string, row map[string]interface{}) error {
	if c.Router == nil {
		return nil
	}
	return c.Router.RouteToSink(ctx, sinkName, row)
}
