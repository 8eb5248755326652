package dag

// Config is the parsed shape of the declarative pipeline document
// described in spec.md §6. The YAML loader in the config package
// produces exactly this structure; dag.Construct turns it into a Graph.
type Config struct {
	Source       SourceSpec
	Transforms   []TransformSpec
	Gates        []GateSpec
	Aggregations []AggregationSpec
	Coalesce     []CoalesceSpec
	Sinks        map[string]SinkSpec
	DefaultSink  string
}

// SourceSpec is the single source node of a pipeline.
type SourceSpec struct {
	Plugin    string
	Options   map[string]interface{}
	OnSuccess string
	Schema    []FieldSpec
}

// TransformSpec is one row-wise or batch-aware transform node.
type TransformSpec struct {
	Name      string
	Plugin    string
	Input     string
	OnSuccess string
	// OnError names a connection or sink that receives the token via a
	// divert edge when the transform returns a non-retryable error.
	OnError string
	Options map[string]interface{}
	Schema  []FieldSpec
}

// GateSpec is a boolean-routing node: it evaluates Condition and routes
// by the named outcome in Routes.
type GateSpec struct {
	Name      string
	Input     string
	Condition string
	Routes    map[string]string // outcome label -> connection or sink name
}

// TriggerSpec configures when an aggregation flushes its buffer.
type TriggerSpec struct {
	Count          int
	TimeoutSeconds float64
	Condition      string
}

// AggregationSpec is a batching node.
type AggregationSpec struct {
	Name       string
	Plugin     string
	Input      string
	OnSuccess  string
	Trigger    TriggerSpec
	OutputMode string // "transform" or "passthrough"
	Options    map[string]interface{}
}

// CoalesceSpec is a join point merging multiple branches into one token
// stream.
type CoalesceSpec struct {
	Name           string
	Branches       []string
	Policy         string // require_all | quorum | best_effort
	QuorumCount    int
	TimeoutSeconds float64
	Merge          string // union | first_complete
	OnSuccess      string // resolved the same way a transform's is
}

// SinkSpec is a terminal node.
type SinkSpec struct {
	Plugin  string
	Options map[string]interface{}
}

// FieldSpec is the YAML-facing shape of a schema.Field.
type FieldSpec struct {
	Name     string
	Type     string
	Optional bool
}
