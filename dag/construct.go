package dag

import (
	"fmt"
	"sort"

	"github.com/dshills/corepipe/schema"
)

// ConstructResult is the outcome of turning a Config into a Graph: the
// graph itself plus any non-fatal warnings surfaced during construction.
type ConstructResult struct {
	Graph    *Graph
	Navigator *Navigator
	Warnings []DivertCoalesceWarning
}

type producerEntry struct {
	NodeID string
	Label  string
}

// Construct turns a flat configuration into a typed, validated execution
// graph: it wires named connections between a producer and a consumer,
// checks schema compatibility on every resulting edge, enforces
// acyclicity except at declared coalesce joins, and flags unsafe
// divert/coalesce compositions.
func Construct(cfg Config) (*ConstructResult, error) {
	g := NewGraph()

	sinkNames := make(map[string]bool, len(cfg.Sinks))
	for name := range cfg.Sinks {
		sinkNames[name] = true
	}

	producers := make(map[string]producerEntry)
	consumers := make(map[string]string)
	var allNames []string // every connection + sink name, for suggestion lookups

	registerProducer := func(connName, nodeID, label string) error {
		if connName == "" {
			return nil
		}
		if existing, ok := producers[connName]; ok {
			return fmt.Errorf("%w: %q already produced by %s", ErrDuplicateProducer, connName, existing.NodeID)
		}
		producers[connName] = producerEntry{NodeID: nodeID, Label: label}
		allNames = append(allNames, connName)
		return nil
	}
	// wireTarget resolves an on_success/route target: if it names a
	// known sink, the edge is created immediately (sinks are never
	// "connections" to be consumed downstream); otherwise the target is
	// registered as a pending connection production, resolved once every
	// node has been walked.
	wireTarget := func(fromNodeID, label, target string) error {
		if target == "" {
			return nil
		}
		if sinkNames[target] {
			mode := ModeMove
			if label == LabelError {
				mode = ModeDivert
			}
			g.AddEdge(Edge{From: fromNodeID, To: "sink:" + target, Label: label, Mode: mode})
			return nil
		}
		return registerProducer(target, fromNodeID, label)
	}
	registerConsumer := func(connName, nodeID string) error {
		if connName == "" {
			return nil
		}
		if sinkNames[connName] {
			return fmt.Errorf("%w: %q", ErrNamespaceCollision, connName)
		}
		if existing, ok := consumers[connName]; ok {
			return fmt.Errorf("%w: %q already consumed by %s", ErrDuplicateConsumer, connName, existing)
		}
		consumers[connName] = nodeID
		return nil
	}

	structural := map[string]bool{}
	coalesceName := map[string]string{}
	coalesceOnSuccess := map[string]string{}

	// --- register nodes ---

	sourceID := "source"
	g.AddNode(Node{
		ID: sourceID, Type: NodeSource, PluginName: cfg.Source.Plugin,
		SchemaMode: schemaModeOf(cfg.Source.Schema), SchemaFields: toFields(cfg.Source.Schema),
	})
	if err := wireTarget(sourceID, LabelContinue, cfg.Source.OnSuccess); err != nil {
		return nil, err
	}

	for _, t := range cfg.Transforms {
		id := "transform:" + t.Name
		g.AddNode(Node{ID: id, Type: NodeTransform, PluginName: t.Plugin,
			SchemaMode: schemaModeOf(t.Schema), SchemaFields: toFields(t.Schema)})
		if err := registerConsumer(t.Input, id); err != nil {
			return nil, err
		}
		if err := wireTarget(id, LabelContinue, t.OnSuccess); err != nil {
			return nil, err
		}
		if err := wireTarget(id, LabelError, t.OnError); err != nil {
			return nil, err
		}
	}

	for _, gt := range cfg.Gates {
		id := "gate:" + gt.Name
		g.AddNode(Node{ID: id, Type: NodeGate, SchemaMode: schema.ModeDynamic})
		if err := registerConsumer(gt.Input, id); err != nil {
			return nil, err
		}
		labels := make([]string, 0, len(gt.Routes))
		for label := range gt.Routes {
			labels = append(labels, label)
		}
		sort.Strings(labels) // deterministic registration order
		for _, label := range labels {
			if err := wireTarget(id, label, gt.Routes[label]); err != nil {
				return nil, err
			}
		}
	}

	for _, a := range cfg.Aggregations {
		id := "aggregation:" + a.Name
		g.AddNode(Node{ID: id, Type: NodeAggregation, PluginName: a.Plugin, SchemaMode: schema.ModeDynamic})
		if err := registerConsumer(a.Input, id); err != nil {
			return nil, err
		}
		if err := wireTarget(id, LabelContinue, a.OnSuccess); err != nil {
			return nil, err
		}
	}

	requireAllIDs := make([]string, 0)
	for _, c := range cfg.Coalesce {
		id := "coalesce:" + c.Name
		g.AddNode(Node{ID: id, Type: NodeCoalesce, SchemaMode: schema.ModeDynamic})
		structural[id] = true
		coalesceName[id] = c.Name
		for _, branch := range c.Branches {
			if err := registerConsumer(branch, id); err != nil {
				return nil, err
			}
		}
		if err := wireTarget(id, LabelContinue, c.OnSuccess); err != nil {
			return nil, err
		}
		if c.Policy == "require_all" {
			requireAllIDs = append(requireAllIDs, id)
		}
	}

	for name := range cfg.Sinks {
		id := "sink:" + name
		g.AddNode(Node{ID: id, Type: NodeSink})
		allNames = append(allNames, name)
	}

	// --- resolve on_success / route targets into edges ---

	connNames := make([]string, 0, len(producers))
	for name := range producers {
		connNames = append(connNames, name)
	}
	sort.Strings(connNames)

	for _, connName := range connNames {
		prod := producers[connName]
		if sinkNames[connName] {
			toID := "sink:" + connName
			mode := ModeMove
			if prod.Label == LabelError {
				mode = ModeDivert
			}
			g.AddEdge(Edge{From: prod.NodeID, To: toID, Label: prod.Label, Mode: mode})
			continue
		}
		consumerID, ok := consumers[connName]
		if !ok {
			suggestion := suggest(connName, append(append([]string{}, allNames...), keysOf(consumers)...))
			msg := fmt.Sprintf("%q has a producer but no consumer", connName)
			if suggestion != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedConnection, msg)
		}
		mode := ModeMove
		if prod.Label == LabelError {
			mode = ModeDivert
		}
		g.AddEdge(Edge{From: prod.NodeID, To: consumerID, Label: prod.Label, Mode: mode})
	}

	if cfg.DefaultSink != "" {
		coalesceOnSuccess["__default__"] = cfg.DefaultSink
	}
	for _, c := range cfg.Coalesce {
		if c.OnSuccess != "" && sinkNames[c.OnSuccess] {
			coalesceOnSuccess[c.Name] = c.OnSuccess
		} else if cfg.DefaultSink != "" {
			coalesceOnSuccess[c.Name] = cfg.DefaultSink
		}
	}

	// --- schema compatibility check on every edge ---
	for _, e := range g.Edges() {
		fromNode, _ := g.Node(e.From)
		toNode, _ := g.Node(e.To)
		producerContract := schema.Contract{Mode: fromNode.SchemaMode, Fields: fromNode.SchemaFields}
		consumerContract := schema.Contract{Mode: toNode.SchemaMode, Fields: toNode.SchemaFields}
		res := producerContract.CompatibleWith(consumerContract)
		if !res.Compatible {
			return nil, fmt.Errorf("%w: edge %s->%s (%s): missing=%v mismatches=%v extra=%v",
				ErrSchemaIncompatible, e.From, e.To, e.Label, res.MissingFields, res.TypeMismatches, res.ExtraFields)
		}
	}

	if err := g.CheckAcyclic(); err != nil {
		return nil, err
	}

	warnings := g.WarnDivertCoalesceInteractions(requireAllIDs)

	nav := NewNavigator(g, NavigatorOptions{
		StructuralNodeIDs: structural,
		CoalesceName:      coalesceName,
		CoalesceOnSuccess: coalesceOnSuccess,
		SinkNames:         sinkNames,
	})

	return &ConstructResult{Graph: g, Navigator: nav, Warnings: warnings}, nil
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func schemaModeOf(fields []FieldSpec) schema.Mode {
	if len(fields) == 0 {
		return schema.ModeDynamic
	}
	return schema.ModeFree
}

func toFields(fields []FieldSpec) []schema.Field {
	out := make([]schema.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, schema.Field{Name: f.Name, Type: schema.FieldType(f.Type), Optional: f.Optional})
	}
	return out
}

// suggest returns the closest candidate to name by Levenshtein distance,
// if any candidate is within a small edit-distance threshold, to surface
// near-miss typos in connection wiring.
func suggest(name string, candidates []string) string {
	best := ""
	bestDist := -1
	threshold := len(name)/2 + 1
	for _, c := range candidates {
		if c == name {
			continue
		}
		d := levenshtein(name, c)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist >= 0 && bestDist <= threshold {
		return best
	}
	return ""
}

// levenshtein computes classic edit distance via dynamic programming.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[n]
}
