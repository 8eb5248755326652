package token

import (
	"context"
	"testing"

	"github.com/dshills/corepipe/plugin"
	"github.com/dshills/corepipe/schema"
)

type fakeRecorder struct {
	nextID int
}

func (f *fakeRecorder) id(prefix string) string {
	f.nextID++
	return prefix + "-" + string(rune('0'+f.nextID))
}

func (f *fakeRecorder) CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]interface{}) (string, error) {
	return f.id("row"), nil
}

func (f *fakeRecorder) CreateToken(ctx context.Context, runID, rowID string, row map[string]interface{}) (string, error) {
	return f.id("token"), nil
}

func (f *fakeRecorder) ForkToken(ctx context.Context, runID, parentTokenID string, branches []string) ([]string, string, error) {
	ids := make([]string, len(branches))
	for i := range branches {
		ids[i] = f.id("child")
	}
	return ids, "fork-group-1", nil
}

func (f *fakeRecorder) ExpandToken(ctx context.Context, runID, parentTokenID string, count int) ([]string, string, error) {
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = f.id("child")
	}
	return ids, "expand-group-1", nil
}

func (f *fakeRecorder) CoalesceTokens(ctx context.Context, runID string, parentTokenIDs []string, mergedData map[string]interface{}) (string, string, error) {
	return f.id("merged"), "join-group-1", nil
}

func contract() schema.Contract {
	return schema.Contract{Mode: schema.ModeObserved, Fields: []schema.Field{{Name: "amount", Type: schema.TypeInt}}}
}

func TestCreateInitialTokenRequiresContract(t *testing.T) {
	m := NewManager(&fakeRecorder{})
	row := plugin.PipelineRow{Data: map[string]interface{}{"amount": 100}}
	_, err := m.CreateInitialToken(context.Background(), "run1", "source", 0, row)
	if err == nil {
		t.Fatal("expected error for row without contract")
	}
}

func TestCreateInitialToken(t *testing.T) {
	m := NewManager(&fakeRecorder{})
	row := plugin.PipelineRow{Data: map[string]interface{}{"amount": 100}, Contract: contract()}
	tok, err := m.CreateInitialToken(context.Background(), "run1", "source", 0, row)
	if err != nil {
		t.Fatal(err)
	}
	if tok.TokenID == "" || tok.RowID == "" {
		t.Fatalf("expected ids to be populated: %+v", tok)
	}
	if tok.Row.Contract.Mode != schema.ModeObserved {
		t.Fatalf("expected contract carried through: %+v", tok.Row.Contract)
	}
}

func TestForkTokenSharesContractAndForkGroup(t *testing.T) {
	m := NewManager(&fakeRecorder{})
	parent := Info{
		TokenID: "parent-1",
		RowID:   "row-1",
		Row:     plugin.PipelineRow{Data: map[string]interface{}{"amount": 100}, Contract: contract()},
	}
	children, err := m.ForkToken(context.Background(), "run1", parent, []string{"branch_a", "branch_b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	for i, c := range children {
		if c.ForkGroupID != children[0].ForkGroupID {
			t.Fatalf("expected shared fork group id")
		}
		if c.Row.Contract.Mode != schema.ModeObserved {
			t.Fatalf("child %d missing contract", i)
		}
	}
	if children[0].BranchName != "branch_a" || children[1].BranchName != "branch_b" {
		t.Fatalf("branch names not propagated: %+v", children)
	}

	// mutating one child's data must not affect the other (deep copy).
	children[0].Row.Data["amount"] = 999
	if children[1].Row.Data["amount"] != 100 {
		t.Fatalf("fork did not deep copy row data, sibling saw mutation")
	}
}

func TestExpandTokenWrapsEachRowWithParentContract(t *testing.T) {
	m := NewManager(&fakeRecorder{})
	parent := Info{
		TokenID: "parent-1",
		RowID:   "row-1",
		Row:     plugin.PipelineRow{Data: map[string]interface{}{"amount": 100}, Contract: contract()},
	}
	expanded := []map[string]interface{}{
		{"amount": 100, "split": 1},
		{"amount": 100, "split": 2},
	}
	children, err := m.ExpandToken(context.Background(), "run1", parent, expanded)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	for i, c := range children {
		if c.Row.Contract.Mode != schema.ModeObserved {
			t.Fatalf("child %d missing contract", i)
		}
		if c.Row.Data["split"] != expanded[i]["split"] {
			t.Fatalf("child %d data mismatch: %+v", i, c.Row.Data)
		}
		if c.ExpandGroupID == "" {
			t.Fatalf("expected expand group id")
		}
	}
}

func TestCoalesceTokensMerges(t *testing.T) {
	m := NewManager(&fakeRecorder{})
	parents := []Info{
		{TokenID: "a", RowID: "row-1"},
		{TokenID: "b", RowID: "row-1"},
	}
	merged := plugin.PipelineRow{Data: map[string]interface{}{"amount": 100, "b_field": "b"}, Contract: contract()}
	child, err := m.CoalesceTokens(context.Background(), "run1", parents, merged)
	if err != nil {
		t.Fatal(err)
	}
	if child.JoinGroupID == "" {
		t.Fatal("expected join group id")
	}
	if child.Row.Data["b_field"] != "b" {
		t.Fatalf("unexpected merged row: %+v", child.Row.Data)
	}
}

func TestUpdateRowDataPreservesLineage(t *testing.T) {
	tok := Info{TokenID: "t1", BranchName: "branch_a", ForkGroupID: "fg1"}
	newRow := plugin.PipelineRow{Data: map[string]interface{}{"x": 1}}
	updated := UpdateRowData(tok, newRow)
	if updated.BranchName != "branch_a" || updated.ForkGroupID != "fg1" {
		t.Fatalf("lineage not preserved: %+v", updated)
	}
	if updated.Row.Data["x"] != 1 {
		t.Fatalf("row not replaced: %+v", updated.Row)
	}
}
