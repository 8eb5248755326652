// Package recovery reconstructs in-flight state for a failed run from
// the audit store and checkpoint history, producing a plan the
// orchestrator resumes from.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/corepipe/checkpoint"
	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/landscape"
)

// ErrTopologyChanged is returned when the failed run's registered nodes
// no longer match the current DAG: resuming against a changed pipeline
// would silently mix old and new node behavior.
var ErrTopologyChanged = errors.New("recovery: run topology no longer matches current DAG")

// RetriedBatch is a batch that was in 'executing' status when the run
// failed, now re-opened at attempt+1 with the same member set.
type RetriedBatch struct {
	OriginalBatchID string
	NewBatchID      string
	NodeID          string
	Attempt         int
	MemberTokenIDs  []string
}

// Plan is everything the orchestrator needs to resume a failed run: its
// id, the source schema it should reconstruct rows with, the batches
// that must be retried, and the latest compatible checkpoint per
// aggregation node.
type Plan struct {
	RunID               string
	SourceSchemaFields  map[string]interface{}
	SourceFieldResolution map[string]interface{}
	RetriedBatches      []RetriedBatch
	Checkpoints         map[string]*landscape.CheckpointRecord // keyed by node_id
}

// Recover implements spec.md §4.12's resume steps 1-5: topology
// validation, source schema restoration, in-flight batch reconstruction,
// compatible-checkpoint loading, and field-resolution restoration. Step
// 6 (resuming the orchestrator itself from this plan) is the caller's
// responsibility.
func Recover(ctx context.Context, recorder landscape.Recorder, graph *dag.Graph, runID string) (*Plan, error) {
	if err := validateTopology(ctx, recorder, graph, runID); err != nil {
		return nil, err
	}

	schemaFields, fieldResolution, err := recorder.SourceSchema(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("recovery: load source schema: %w", err)
	}

	retried, err := retryExecutingBatches(ctx, recorder, runID)
	if err != nil {
		return nil, err
	}

	checkpoints, err := loadAggregationCheckpoints(ctx, recorder, graph, runID)
	if err != nil {
		return nil, err
	}

	return &Plan{
		RunID:                 runID,
		SourceSchemaFields:    schemaFields,
		SourceFieldResolution: fieldResolution,
		RetriedBatches:        retried,
		Checkpoints:           checkpoints,
	}, nil
}

// validateTopology confirms every node the failed run registered still
// exists in graph with the same plugin and configuration hash.
func validateTopology(ctx context.Context, recorder landscape.Recorder, graph *dag.Graph, runID string) error {
	recorded, err := recorder.ListNodes(ctx, runID)
	if err != nil {
		return fmt.Errorf("recovery: list recorded nodes: %w", err)
	}
	for _, rn := range recorded {
		current, ok := graph.Node(rn.NodeID)
		if !ok {
			return fmt.Errorf("%w: node %s no longer present", ErrTopologyChanged, rn.NodeID)
		}
		if current.PluginName != rn.PluginName || current.ConfigHash != rn.ConfigHash {
			return fmt.Errorf("%w: node %s plugin or config changed", ErrTopologyChanged, rn.NodeID)
		}
	}
	return nil
}

func retryExecutingBatches(ctx context.Context, recorder landscape.Recorder, runID string) ([]RetriedBatch, error) {
	executing, err := recorder.ExecutingBatches(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("recovery: list executing batches: %w", err)
	}

	retried := make([]RetriedBatch, 0, len(executing))
	for _, b := range executing {
		newBatchID, err := recorder.RetryBatch(ctx, b.BatchID)
		if err != nil {
			return nil, fmt.Errorf("recovery: retry batch %s: %w", b.BatchID, err)
		}
		retried = append(retried, RetriedBatch{
			OriginalBatchID: b.BatchID,
			NewBatchID:      newBatchID,
			NodeID:          b.NodeID,
			Attempt:         b.Attempt + 1,
			MemberTokenIDs:  b.MemberTokenIDs,
		})
	}
	return retried, nil
}

func loadAggregationCheckpoints(ctx context.Context, recorder landscape.Recorder, graph *dag.Graph, runID string) (map[string]*landscape.CheckpointRecord, error) {
	mgr := checkpoint.NewManager(recorder, graph)
	checkpoints := make(map[string]*landscape.CheckpointRecord)
	for _, n := range graph.Nodes() {
		if n.Type != dag.NodeAggregation {
			continue
		}
		cp, err := mgr.LoadCompatible(ctx, runID, n.ID)
		if err != nil && !errors.Is(err, checkpoint.ErrTopologyMismatch) {
			return nil, fmt.Errorf("recovery: load checkpoint for %s: %w", n.ID, err)
		}
		if cp != nil {
			checkpoints[n.ID] = cp
		}
	}
	return checkpoints, nil
}
