package landscape

import (
	"context"
	"time"

	"github.com/dshills/corepipe/token"
)

// Recorder is the full audit-store surface spec.md §4.3 describes. It
// satisfies both token.Recorder and plugin.Recorder (narrower slices
// consumed by those packages) without either importing landscape.
type Recorder interface {
	BeginRun(ctx context.Context, config map[string]interface{}, canonicalVersion string) (runID string, err error)
	RegisterNode(ctx context.Context, runID, nodeID, nodeType, pluginName, configHash, determinism, schemaMode string, schemaFields map[string]interface{}) error
	RegisterEdge(ctx context.Context, runID, edgeID, from, to, label, mode string) error
	SetSourceSchema(ctx context.Context, runID string, schemaFields map[string]interface{}, fieldResolution map[string]interface{}) error
	SourceSchema(ctx context.Context, runID string) (schemaFields, fieldResolution map[string]interface{}, err error)
	ListNodes(ctx context.Context, runID string) ([]NodeRecord, error)

	CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]interface{}) (rowID string, err error)
	CreateToken(ctx context.Context, runID, rowID string, row map[string]interface{}) (tokenID string, err error)
	ForkToken(ctx context.Context, runID string, parentTokenID string, branches []string) (childTokenIDs []string, forkGroupID string, err error)
	ExpandToken(ctx context.Context, runID string, parentTokenID string, count int) (childTokenIDs []string, expandGroupID string, err error)
	CoalesceTokens(ctx context.Context, runID string, parentTokenIDs []string, mergedData map[string]interface{}) (childTokenID, joinGroupID string, err error)

	BeginNodeState(ctx context.Context, runID, nodeID, tokenID string) (stateID string, err error)
	CompleteNodeState(ctx context.Context, stateID, status, outputHash, errText, successReason string, durationMS int64) error

	RecordRoutingEvents(ctx context.Context, stateID string, events []RoutingEventInput) error
	RecordCall(ctx context.Context, stateID string, call CallInput) (callID string, err error)

	CreateBatch(ctx context.Context, runID, nodeID string) (batchID string, err error)
	AddBatchMember(ctx context.Context, batchID, tokenID string) error
	AddBatchOutput(ctx context.Context, batchID, tokenID string) error
	UpdateBatchStatus(ctx context.Context, batchID, status, triggerReason string) error
	ExecutingBatches(ctx context.Context, runID string) ([]BatchRecord, error)
	RetryBatch(ctx context.Context, batchID string) (newBatchID string, err error)

	RegisterArtifact(ctx context.Context, runID, sinkNodeID string, artifact ArtifactInput) (artifactID string, err error)

	WriteCheckpoint(ctx context.Context, cp CheckpointInput) (checkpointID string, err error)
	LatestCheckpoint(ctx context.Context, runID, nodeID string) (*CheckpointRecord, error)

	RecordTokenOutcome(ctx context.Context, tokenID string, outcome token.Outcome, outcomeContext map[string]interface{}) error
	RecordValidationError(ctx context.Context, nodeStateID, reason string, rawData map[string]interface{}) error

	NodeDeterminisms(ctx context.Context, runID string) (map[string]string, error)
	FinalizeRun(ctx context.Context, runID, status, reproducibilityGrade string) error

	// PurgeCallsOlderThan scrubs the request/response payload hashes off
	// calls created before cutoff, returning the distinct run_ids
	// affected so the caller can downgrade their reproducibility grade.
	PurgeCallsOlderThan(ctx context.Context, cutoff time.Time) (affectedRunIDs []string, err error)
	DowngradeReproducibility(ctx context.Context, runID string) error
	ReproducibilityGrade(ctx context.Context, runID string) (string, error)

	Close() error
}
