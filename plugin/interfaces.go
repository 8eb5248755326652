package plugin

import "context"

// Source is the single entry point into a pipeline: it loads rows,
// possibly quarantining malformed ones, each tagged with the contract
// it locked in.
type Source interface {
	Name() string
	// Load streams SourceRows to the returned channel and closes it when
	// done or ctx is canceled. The caller drains the channel and checks
	// ctx.Err() on early exit.
	Load(ctx context.Context) (<-chan SourceRow, error)
}

// Transform processes one row at a time. CreatesTokens reports whether
// this transform may return ResultSuccessMulti (deaggregation); the
// orchestrator does not call it and handles ResultSuccessMulti whatever
// it reports.
type Transform interface {
	Name() string
	Process(ctx context.Context, row PipelineRow, pc Context) (TransformResult, error)
	CreatesTokens() bool
}

// BatchTransform processes a buffered batch of rows at once, invoked
// when an aggregation node's trigger fires.
type BatchTransform interface {
	Name() string
	ProcessBatch(ctx context.Context, rows []PipelineRow, pc Context) (TransformResult, error)
}

// Gate evaluates a restricted boolean expression against a row and
// returns the outcome label whose value selects an outgoing edge (e.g.
// "true"/"false", or a named branch for a multi-way gate).
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, row PipelineRow, pc Context) (outcome string, err error)
}

// Sink is a terminal node. Write must not return until rows are durably
// accepted by the destination's own buffering; Flush must ensure the
// data is fsync-durable before the orchestrator takes a checkpoint.
// Close is idempotent.
type Sink interface {
	Name() string
	Write(ctx context.Context, rows []map[string]interface{}, pc Context) (ArtifactDescriptor, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	SupportsResume() bool
	// ValidateOutputTarget is called only when resuming a run whose
	// checkpoint targets this sink; it re-checks the destination still
	// matches the configured schema before any further writes land.
	ValidateOutputTarget(ctx context.Context) error
}
