package landscape

import (
	"context"
	"testing"

	"github.com/dshills/corepipe/payload"
)

func newTestRecorder(t *testing.T) *SQLRecorder {
	t.Helper()
	store, err := payload.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new payload store: %v", err)
	}
	rec, err := NewSQLiteStore("file::memory:?cache=shared", store)
	if err != nil {
		t.Fatalf("new sqlite recorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec
}

func TestBeginRunAndFinalize(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)

	runID, err := rec.BeginRun(ctx, map[string]interface{}{"nodes": []interface{}{}}, "v1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if runID == "" {
		t.Fatal("expected non-empty run id")
	}
	if err := rec.FinalizeRun(ctx, runID, "completed", "full_reproducible"); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}

	var status string
	if err := rec.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != "completed" {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestRowTokenLineage(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)

	runID, err := rec.BeginRun(ctx, map[string]interface{}{}, "v1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	rowID, err := rec.CreateRow(ctx, runID, "source1", 0, map[string]interface{}{"x": 1.0})
	if err != nil {
		t.Fatalf("CreateRow: %v", err)
	}
	tokenID, err := rec.CreateToken(ctx, runID, rowID, map[string]interface{}{"x": 1.0})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	children, forkGroupID, err := rec.ForkToken(ctx, runID, tokenID, []string{"a", "b"})
	if err != nil {
		t.Fatalf("ForkToken: %v", err)
	}
	if len(children) != 2 || forkGroupID == "" {
		t.Fatalf("expected 2 children and a fork group, got %v / %q", children, forkGroupID)
	}

	merged, joinGroupID, err := rec.CoalesceTokens(ctx, runID, children, map[string]interface{}{"merged": true})
	if err != nil {
		t.Fatalf("CoalesceTokens: %v", err)
	}
	if merged == "" || joinGroupID == "" {
		t.Fatal("expected a merged token and join group")
	}

	var parentCount int
	if err := rec.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_parents WHERE token_id = ?`, merged).Scan(&parentCount); err != nil {
		t.Fatalf("count parents: %v", err)
	}
	if parentCount != 2 {
		t.Fatalf("expected 2 parent links, got %d", parentCount)
	}
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)

	runID, _ := rec.BeginRun(ctx, map[string]interface{}{}, "v1")
	rowID, _ := rec.CreateRow(ctx, runID, "source1", 0, map[string]interface{}{})
	tokenID, err := rec.CreateToken(ctx, runID, rowID, map[string]interface{}{})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	batchID, err := rec.CreateBatch(ctx, runID, "batcher1")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := rec.AddBatchMember(ctx, batchID, tokenID); err != nil {
		t.Fatalf("AddBatchMember: %v", err)
	}
	if err := rec.UpdateBatchStatus(ctx, batchID, "closed", "count_reached"); err != nil {
		t.Fatalf("UpdateBatchStatus: %v", err)
	}

	var status string
	if err := rec.db.QueryRowContext(ctx, `SELECT status FROM batches WHERE batch_id = ?`, batchID).Scan(&status); err != nil {
		t.Fatalf("query batch status: %v", err)
	}
	if status != "closed" {
		t.Fatalf("expected closed, got %s", status)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)

	runID, _ := rec.BeginRun(ctx, map[string]interface{}{}, "v1")

	if _, err := rec.WriteCheckpoint(ctx, CheckpointInput{
		RunID:                    runID,
		NodeID:                   "batcher1",
		SequenceNumber:           1,
		UpstreamTopologyHash:     "hash-a",
		CheckpointNodeConfigHash: "hash-b",
		AggregationState:         map[string]interface{}{"buffered": 3.0},
	}); err != nil {
		t.Fatalf("WriteCheckpoint 1: %v", err)
	}
	if _, err := rec.WriteCheckpoint(ctx, CheckpointInput{
		RunID:                    runID,
		NodeID:                   "batcher1",
		SequenceNumber:           2,
		UpstreamTopologyHash:     "hash-a",
		CheckpointNodeConfigHash: "hash-b",
		AggregationState:         map[string]interface{}{"buffered": 5.0},
	}); err != nil {
		t.Fatalf("WriteCheckpoint 2: %v", err)
	}

	latest, err := rec.LatestCheckpoint(ctx, runID, "batcher1")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a checkpoint")
	}
	if latest.SequenceNumber != 2 {
		t.Fatalf("expected sequence 2, got %d", latest.SequenceNumber)
	}
	if latest.AggregationState["buffered"] != 5.0 {
		t.Fatalf("expected buffered=5, got %v", latest.AggregationState["buffered"])
	}

	none, err := rec.LatestCheckpoint(ctx, runID, "unknown-node")
	if err != nil {
		t.Fatalf("LatestCheckpoint unknown: %v", err)
	}
	if none != nil {
		t.Fatal("expected nil for a node with no checkpoints")
	}
}

func TestRecordValidationError(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)

	runID, _ := rec.BeginRun(ctx, map[string]interface{}{}, "v1")
	rowID, _ := rec.CreateRow(ctx, runID, "source1", 0, map[string]interface{}{})
	tokenID, _ := rec.CreateToken(ctx, runID, rowID, map[string]interface{}{})
	stateID, err := rec.BeginNodeState(ctx, runID, "node1", tokenID)
	if err != nil {
		t.Fatalf("BeginNodeState: %v", err)
	}

	if err := rec.RecordValidationError(ctx, stateID, "missing field", map[string]interface{}{"raw": "bad"}); err != nil {
		t.Fatalf("RecordValidationError: %v", err)
	}

	var status, errText string
	if err := rec.db.QueryRowContext(ctx, `SELECT status, error_text FROM node_states WHERE state_id = ?`, stateID).Scan(&status, &errText); err != nil {
		t.Fatalf("query state: %v", err)
	}
	if status != "quarantined" || errText != "missing field" {
		t.Fatalf("expected quarantined/missing field, got %s/%s", status, errText)
	}
}
