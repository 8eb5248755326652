package dag

import (
	"strings"
	"testing"
)

func TestConstructSingleChain(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Transforms: []TransformSpec{
			{Name: "field_mapper", Plugin: "rename", Input: "rows", OnSuccess: "mapped"},
		},
		Sinks: map[string]SinkSpec{
			"output": {Plugin: "csv_sink"},
		},
	}
	cfg.Transforms[0].OnSuccess = "output" // direct to sink

	res, err := Construct(cfg)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if len(res.Graph.Edges()) != 2 {
		t.Fatalf("expected 2 edges, got %d: %+v", len(res.Graph.Edges()), res.Graph.Edges())
	}
	order, err := res.Graph.TopoSort()
	if err != nil {
		t.Fatalf("toposort: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("expected 3 nodes in topo order, got %d", len(order))
	}
}

func TestConstructDuplicateProducer(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Transforms: []TransformSpec{
			{Name: "a", Plugin: "x", Input: "rows", OnSuccess: "rows"}, // collides with source's producer of "rows"
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	if _, err := Construct(cfg); err == nil {
		t.Fatal("expected duplicate producer error")
	}
}

func TestConstructUnresolvedConnectionSuggestsNearMiss(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Transforms: []TransformSpec{
			{Name: "a", Plugin: "x", Input: "row", OnSuccess: "output"}, // typo: "row" vs "rows"
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	_, err := Construct(cfg)
	if err == nil {
		t.Fatal("expected unresolved connection error")
	}
	if !strings.Contains(err.Error(), `did you mean "row"`) {
		t.Fatalf("expected a near-miss suggestion of %q, got %v", "row", err)
	}
}

func TestConstructOnSuccessDirectToSink(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "output"}, // routes straight to a sink, not a connection
		Sinks:  map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatalf("unexpected error routing straight to a sink: %v", err)
	}
	if len(res.Graph.Edges()) != 1 {
		t.Fatalf("expected one edge, got %d", len(res.Graph.Edges()))
	}
}

func TestConstructConsumingSinkNameIsCollision(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Transforms: []TransformSpec{
			{Name: "bad", Plugin: "x", Input: "output", OnSuccess: "rows"}, // "output" is a sink name, not consumable
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	if _, err := Construct(cfg); err == nil {
		t.Fatal("expected namespace collision error consuming a sink name as a connection")
	}
}

func TestConstructForkToSeparateSinks(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Gates: []GateSpec{
			{Name: "value_gate", Input: "rows", Condition: "row['value'] > 50", Routes: map[string]string{
				"true":  "high_values_sink",
				"false": "low_values_sink",
			}},
		},
		Sinks: map[string]SinkSpec{
			"high_values_sink": {Plugin: "csv_sink"},
			"low_values_sink":  {Plugin: "csv_sink"},
		},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	trueEdges := res.Graph.SuccessorsByLabel("gate:value_gate", "true")
	falseEdges := res.Graph.SuccessorsByLabel("gate:value_gate", "false")
	if len(trueEdges) != 1 || len(falseEdges) != 1 {
		t.Fatalf("expected one edge per route, got true=%d false=%d", len(trueEdges), len(falseEdges))
	}
}

func TestConstructCoalesceRequireAll(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Gates: []GateSpec{
			{Name: "split", Input: "rows", Condition: "true", Routes: map[string]string{
				"true":  "branch_a",
				"false": "branch_b",
			}},
		},
		Transforms: []TransformSpec{
			{Name: "passthrough_a", Plugin: "noop", Input: "branch_a", OnSuccess: "merge_a"},
			{Name: "passthrough_b", Plugin: "noop", Input: "branch_b", OnSuccess: "merge_b"},
		},
		Coalesce: []CoalesceSpec{
			{Name: "joiner", Branches: []string{"merge_a", "merge_b"}, Policy: "require_all", Merge: "union", OnSuccess: "output"},
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	sink, err := res.Navigator.ResolveCoalesceSink("joiner")
	if err != nil {
		t.Fatalf("resolve coalesce sink: %v", err)
	}
	if sink != "output" {
		t.Fatalf("expected output sink, got %s", sink)
	}
}

func TestWarnDivertCoalesceInteraction(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Transforms: []TransformSpec{
			// on_error diverts straight into the require_all coalesce's
			// branch, which is the unsafe composition the warning flags:
			// a plugin failure would feed the coalesce a token on an edge
			// that only ever fires on error.
			{Name: "risky", Plugin: "noop", Input: "rows", OnSuccess: "happy_path", OnError: "merged"},
		},
		Coalesce: []CoalesceSpec{
			{Name: "joiner", Branches: []string{"merged"}, Policy: "require_all", Merge: "union", OnSuccess: "output"},
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}, "happy_path": {Plugin: "csv_sink"}},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one divert/coalesce warning, got %d: %+v", len(res.Warnings), res.Warnings)
	}
	if res.Warnings[0].CoalesceNodeID != "coalesce:joiner" {
		t.Fatalf("unexpected warning: %+v", res.Warnings[0])
	}
}
