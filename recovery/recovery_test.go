package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/landscape"
	"github.com/dshills/corepipe/payload"
)

func newTestRecorder(t *testing.T) landscape.Recorder {
	t.Helper()
	store, err := payload.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new payload store: %v", err)
	}
	rec, err := landscape.NewSQLiteStore("file::memory:?cache=shared", store)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec
}

func buildGraph() *dag.Graph {
	g := dag.NewGraph()
	g.AddNode(dag.Node{ID: "source1", PluginName: "csv_source", ConfigHash: "h1", Type: dag.NodeSource})
	g.AddNode(dag.Node{ID: "batcher1", PluginName: "batch_writer", ConfigHash: "h2", Type: dag.NodeAggregation})
	g.AddNode(dag.Node{ID: "sink1", PluginName: "csv_sink", ConfigHash: "h3", Type: dag.NodeSink})
	g.AddEdge(dag.Edge{ID: "e1", From: "source1", To: "batcher1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	g.AddEdge(dag.Edge{ID: "e2", From: "batcher1", To: "sink1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	return g
}

func TestRecoverRejectsChangedTopology(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)
	g := buildGraph()

	runID, err := rec.BeginRun(ctx, map[string]interface{}{}, "v1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := rec.RegisterNode(ctx, runID, "source1", "source", "csv_source", "h1", "deterministic", "dynamic", nil); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	g.AddNode(dag.Node{ID: "source1", PluginName: "csv_source", ConfigHash: "h1-changed", Type: dag.NodeSource})

	_, err = Recover(ctx, rec, g, runID)
	if !errors.Is(err, ErrTopologyChanged) {
		t.Fatalf("expected ErrTopologyChanged, got %v", err)
	}
}

func TestRecoverRestoresSourceSchemaAndBatches(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)
	g := buildGraph()

	runID, err := rec.BeginRun(ctx, map[string]interface{}{}, "v1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := rec.RegisterNode(ctx, runID, "source1", "source", "csv_source", "h1", "deterministic", "dynamic", nil); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if err := rec.SetSourceSchema(ctx, runID,
		map[string]interface{}{"fields": []interface{}{"name", "email"}},
		map[string]interface{}{"Full Name": "name"}); err != nil {
		t.Fatalf("SetSourceSchema: %v", err)
	}

	rowID, err := rec.CreateRow(ctx, runID, "source1", 0, map[string]interface{}{"name": "a"})
	if err != nil {
		t.Fatalf("CreateRow: %v", err)
	}
	tokenID, err := rec.CreateToken(ctx, runID, rowID, map[string]interface{}{"name": "a"})
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
	if err := rec.UpdateBatchStatus(ctx, batchID, "executing", ""); err != nil {
		t.Fatalf("UpdateBatchStatus: %v", err)
	}

	plan, err := Recover(ctx, rec, g, runID)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if plan.SourceFieldResolution["Full Name"] != "name" {
		t.Fatalf("expected field resolution restored, got %v", plan.SourceFieldResolution)
	}
	if len(plan.RetriedBatches) != 1 {
		t.Fatalf("expected 1 retried batch, got %d", len(plan.RetriedBatches))
	}
	rb := plan.RetriedBatches[0]
	if rb.Attempt != 2 || len(rb.MemberTokenIDs) != 1 || rb.MemberTokenIDs[0] != tokenID {
		t.Fatalf("unexpected retried batch: %+v", rb)
	}
}

func TestRecoverWithNoPriorStateIsEmpty(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(t)
	g := buildGraph()

	runID, err := rec.BeginRun(ctx, map[string]interface{}{}, "v1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	plan, err := Recover(ctx, rec, g, runID)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(plan.RetriedBatches) != 0 || len(plan.Checkpoints) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}
