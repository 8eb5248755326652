// Package dag models the execution graph: nodes, edges, construction from
// a declarative configuration, and the pure topology queries the
// orchestrator uses while driving tokens through it.
package dag

import "github.com/dshills/corepipe/schema"

// NodeType classifies a vertex's role in the graph.
type NodeType string

const (
	NodeSource      NodeType = "source"
	NodeTransform   NodeType = "transform"
	NodeGate        NodeType = "gate"
	NodeAggregation NodeType = "aggregation"
	NodeCoalesce    NodeType = "coalesce"
	NodeSink        NodeType = "sink"
)

// Determinism classifies how reproducible a node's output is, which
// feeds the orchestrator's reproducibility grading at finalize.
type Determinism string

const (
	Deterministic   Determinism = "deterministic"
	Seeded          Determinism = "seeded"
	IORead          Determinism = "io_read"
	IOWrite         Determinism = "io_write"
	ExternalCall    Determinism = "external_call"
	NonDeterministic Determinism = "non_deterministic"
)

// Mode is an edge's routing mode.
type Mode string

const (
	ModeMove   Mode = "move"
	ModeCopy   Mode = "copy"
	ModeDivert Mode = "divert"
)

// LabelContinue is the default edge label used for normal (non-branching,
// non-gate, non-error) flow.
const LabelContinue = "continue"

// LabelError is the reserved label for divert edges feeding an error sink.
const LabelError = "__error__"

// Node is a vertex in the graph.
type Node struct {
	ID            string
	PluginName    string
	PluginVersion string
	Type          NodeType
	Determinism   Determinism
	ConfigHash    string
	ConfigJSON    map[string]interface{}
	SchemaMode    schema.Mode
	SchemaFields  []schema.Field
}

// Edge is a directed, labeled connection between two nodes.
type Edge struct {
	ID      string
	From    string
	To      string
	Label   string
	Mode    Mode
}
