package dag

import "testing"

func buildSimpleChain(t *testing.T) *ConstructResult {
	t.Helper()
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Transforms: []TransformSpec{
			{Name: "mapper", Plugin: "rename", Input: "rows", OnSuccess: "output"},
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	return res
}

func TestResolveNextNode(t *testing.T) {
	res := buildSimpleChain(t)
	next, ok, err := res.Navigator.ResolveNextNode("source")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || next != "transform:mapper" {
		t.Fatalf("expected transform:mapper, got %s (ok=%v)", next, ok)
	}
}

func TestResolveNextNodeTerminal(t *testing.T) {
	res := buildSimpleChain(t)
	_, ok, err := res.Navigator.ResolveNextNode("sink:output")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected terminal sink to have no successor")
	}
}

func TestResolveJumpTargetSink(t *testing.T) {
	res := buildSimpleChain(t)
	sink, ok, err := res.Navigator.ResolveJumpTargetSink("source")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || sink != "sink:output" {
		t.Fatalf("expected sink:output, got %s (ok=%v)", sink, ok)
	}
}

func TestResolveJumpTargetSinkThroughGate(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Gates: []GateSpec{
			{Name: "g", Input: "rows", Condition: "true", Routes: map[string]string{"true": "output"}},
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := res.Navigator.ResolveJumpTargetSink("source")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected gate in path to make jump-target unresolvable ahead of time")
	}
}

func TestResolvePluginForStructuralNode(t *testing.T) {
	cfg := Config{
		Source: SourceSpec{Plugin: "csv_source", OnSuccess: "rows"},
		Gates: []GateSpec{
			{Name: "split", Input: "rows", Condition: "true", Routes: map[string]string{
				"true": "branch_a", "false": "branch_b",
			}},
		},
		Transforms: []TransformSpec{
			{Name: "a", Plugin: "noop", Input: "branch_a", OnSuccess: "merge_a"},
			{Name: "b", Plugin: "noop", Input: "branch_b", OnSuccess: "merge_b"},
		},
		Coalesce: []CoalesceSpec{
			{Name: "joiner", Branches: []string{"merge_a", "merge_b"}, Policy: "require_all", OnSuccess: "output"},
		},
		Sinks: map[string]SinkSpec{"output": {Plugin: "csv_sink"}},
	}
	res, err := Construct(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, hasPlugin, err := res.Navigator.ResolvePluginForNode("coalesce:joiner")
	if err != nil {
		t.Fatal(err)
	}
	if hasPlugin {
		t.Fatal("expected coalesce landing node to have no bound plugin")
	}
}

func TestResolvePluginForUnknownNode(t *testing.T) {
	res := buildSimpleChain(t)
	_, _, err := res.Navigator.ResolvePluginForNode("does-not-exist")
	if err == nil {
		t.Fatal("expected ErrUnknownNode")
	}
}
