package plugin

// ResultKind tags which arm of TransformResult is populated.
type ResultKind string

const (
	ResultSuccess      ResultKind = "success"
	ResultSuccessMulti ResultKind = "success_multi"
	ResultError        ResultKind = "error"
	ResultPending      ResultKind = "pending"
)

// TransformResult is the sum type a row-wise or batch transform returns.
// Exactly one of the fields matching Kind is meaningful; the others are
// zero-valued. This mirrors a struct-of-arms NodeResult rather than a Go
// sum-type-by-interface, since the orchestrator dispatches on Kind once
// per invocation and every arm is a plain data shape.
type TransformResult struct {
	Kind ResultKind

	// Row is set when Kind == ResultSuccess.
	Row           PipelineRow
	SuccessReason string

	// Rows is set when Kind == ResultSuccessMulti (deaggregation: one
	// parent row expands into many child rows).
	Rows []PipelineRow

	// ErrReason and Retryable are set when Kind == ResultError.
	// Retryable distinguishes capacity/rate-limit/network failures
	// (handled by the pooled executor's retry policy) from
	// content-policy/auth/validation failures (terminal).
	ErrReason string
	Retryable bool

	// Checkpoint is set when Kind == ResultPending: opaque,
	// JSON-serializable state a batch transform needs to resume once its
	// external dependency completes (e.g. a dispatched batch id).
	Checkpoint interface{}
}

// Success builds a single-row success result.
func Success(row PipelineRow, reason string) TransformResult {
	return TransformResult{Kind: ResultSuccess, Row: row, SuccessReason: reason}
}

// SuccessMulti builds a deaggregation result: one row expands into many.
func SuccessMulti(rows []PipelineRow, reason string) TransformResult {
	return TransformResult{Kind: ResultSuccessMulti, Rows: rows, SuccessReason: reason}
}

// Error builds an error result. retryable selects whether the pooled
// executor's retry policy applies or the orchestrator should treat the
// failure as terminal (optionally diverting to an error sink).
func Error(reason string, retryable bool) TransformResult {
	return TransformResult{Kind: ResultError, ErrReason: reason, Retryable: retryable}
}

// Pending builds a result for a batch transform awaiting external
// completion; checkpoint must be JSON-serializable.
func Pending(checkpoint interface{}) TransformResult {
	return TransformResult{Kind: ResultPending, Checkpoint: checkpoint}
}

// ArtifactDescriptor is what a Sink returns from Write: a pointer to
// where the data landed, for recording in the audit store.
type ArtifactDescriptor struct {
	URI       string
	RowCount  int
	Checksum  string
	SizeBytes int64
	Mode      string // e.g. "append", "overwrite"
	ExtraMeta map[string]interface{}
}
