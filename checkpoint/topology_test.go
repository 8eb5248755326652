package checkpoint

import (
	"testing"

	"github.com/dshills/corepipe/dag"
)

func buildGraph() *dag.Graph {
	g := dag.NewGraph()
	g.AddNode(dag.Node{ID: "source1", PluginName: "csv_source", ConfigHash: "h1", Type: dag.NodeSource})
	g.AddNode(dag.Node{ID: "transform1", PluginName: "uppercase", ConfigHash: "h2", Type: dag.NodeTransform})
	g.AddNode(dag.Node{ID: "batcher1", PluginName: "batch_writer", ConfigHash: "h3", Type: dag.NodeAggregation})
	g.AddNode(dag.Node{ID: "sink1", PluginName: "csv_sink", ConfigHash: "h4", Type: dag.NodeSink})
	g.AddEdge(dag.Edge{ID: "e1", From: "source1", To: "transform1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	g.AddEdge(dag.Edge{ID: "e2", From: "transform1", To: "batcher1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	g.AddEdge(dag.Edge{ID: "e3", From: "batcher1", To: "sink1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	return g
}

func TestUpstreamTopologyHashStableAcrossRegistrationOrder(t *testing.T) {
	g1 := buildGraph()

	g2 := dag.NewGraph()
	g2.AddNode(dag.Node{ID: "transform1", PluginName: "uppercase", ConfigHash: "h2", Type: dag.NodeTransform})
	g2.AddNode(dag.Node{ID: "source1", PluginName: "csv_source", ConfigHash: "h1", Type: dag.NodeSource})
	g2.AddNode(dag.Node{ID: "batcher1", PluginName: "batch_writer", ConfigHash: "h3", Type: dag.NodeAggregation})
	g2.AddNode(dag.Node{ID: "sink1", PluginName: "csv_sink", ConfigHash: "h4", Type: dag.NodeSink})
	g2.AddEdge(dag.Edge{ID: "e1", From: "source1", To: "transform1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	g2.AddEdge(dag.Edge{ID: "e2", From: "transform1", To: "batcher1", Label: dag.LabelContinue, Mode: dag.ModeMove})
	g2.AddEdge(dag.Edge{ID: "e3", From: "batcher1", To: "sink1", Label: dag.LabelContinue, Mode: dag.ModeMove})

	h1, err := UpstreamTopologyHash(g1, "batcher1")
	if err != nil {
		t.Fatalf("hash g1: %v", err)
	}
	h2, err := UpstreamTopologyHash(g2, "batcher1")
	if err != nil {
		t.Fatalf("hash g2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes regardless of registration order, got %s vs %s", h1, h2)
	}
}

func TestUpstreamTopologyHashChangesWithAncestorConfig(t *testing.T) {
	g := buildGraph()
	before, err := UpstreamTopologyHash(g, "batcher1")
	if err != nil {
		t.Fatalf("hash before: %v", err)
	}

	g.AddNode(dag.Node{ID: "transform1", PluginName: "uppercase", ConfigHash: "h2-changed", Type: dag.NodeTransform})
	after, err := UpstreamTopologyHash(g, "batcher1")
	if err != nil {
		t.Fatalf("hash after: %v", err)
	}

	if before == after {
		t.Fatal("expected hash to change when an upstream node's config changes")
	}
}

func TestUpstreamTopologyHashExcludesNodeItself(t *testing.T) {
	g := buildGraph()
	before, err := UpstreamTopologyHash(g, "batcher1")
	if err != nil {
		t.Fatalf("hash before: %v", err)
	}

	g.AddNode(dag.Node{ID: "batcher1", PluginName: "batch_writer", ConfigHash: "h3-changed", Type: dag.NodeAggregation})
	after, err := UpstreamTopologyHash(g, "batcher1")
	if err != nil {
		t.Fatalf("hash after: %v", err)
	}

	if before != after {
		t.Fatal("expected the target node's own config change not to affect its upstream hash")
	}
}

func TestNodeConfigHashChangesWithOwnConfig(t *testing.T) {
	g := buildGraph()
	before, err := NodeConfigHash(g, "batcher1")
	if err != nil {
		t.Fatalf("hash before: %v", err)
	}

	g.AddNode(dag.Node{ID: "batcher1", PluginName: "batch_writer", ConfigHash: "h3-changed", Type: dag.NodeAggregation})
	after, err := NodeConfigHash(g, "batcher1")
	if err != nil {
		t.Fatalf("hash after: %v", err)
	}

	if before == after {
		t.Fatal("expected node config hash to change with its own config")
	}
}
