package dag

import "fmt"

// Graph is a directed multigraph: nodes keyed by node id, edges keyed by
// (from, to, label). Once constructed it is treated as read-only by the
// orchestrator; mutation happens only during construction (dag.Construct).
type Graph struct {
	nodes map[string]Node
	order []string // insertion order, for deterministic iteration
	edges []Edge

	// byFromLabel indexes edges[i] for successor lookup.
	byFromLabel map[string][]int

	// coalesceNodes names nodes exempt from the acyclicity check because
	// they are declared join points.
	coalesceNodes map[string]bool
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:         make(map[string]Node),
		byFromLabel:   make(map[string][]int),
		coalesceNodes: make(map[string]bool),
	}
}

// AddNode registers a node. Re-adding the same id overwrites it.
func (g *Graph) AddNode(n Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
	if n.Type == NodeCoalesce {
		g.coalesceNodes[n.ID] = true
	}
}

// AddEdge registers an edge. The edge's index becomes its EdgeIndex for
// deterministic ordering purposes elsewhere in the system.
func (g *Graph) AddEdge(e Edge) {
	idx := len(g.edges)
	g.edges = append(g.edges, e)
	key := e.From + "\x00" + e.Label
	g.byFromLabel[key] = append(g.byFromLabel[key], idx)
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion (registration) order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// SuccessorsByLabel returns the edges leaving nodeID tagged with label,
// in registration order.
func (g *Graph) SuccessorsByLabel(nodeID, label string) []Edge {
	idxs := g.byFromLabel[nodeID+"\x00"+label]
	out := make([]Edge, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, g.edges[i])
	}
	return out
}

// OutEdges returns every edge leaving nodeID regardless of label.
func (g *Graph) OutEdges(nodeID string) []Edge {
	out := make([]Edge, 0)
	for _, e := range g.edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IsCoalesce reports whether nodeID is a declared coalesce node.
// Aggregation nodes are not included.
func (g *Graph) IsCoalesce(nodeID string) bool {
	return g.coalesceNodes[nodeID]
}

// CheckAcyclic walks the graph via DFS and returns ErrCycleDetected if a
// cycle is found that does not pass through a declared coalesce or
// aggregation node (these join points legitimately receive multiple
// incoming edges and are exempt from the classic "no incoming edge
// revisits an ancestor" rule).
func (g *Graph) CheckAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range g.OutEdges(id) {
			if g.IsCoalesce(e.To) || g.nodes[e.To].Type == NodeAggregation {
				continue // join points may legally be revisited
			}
			switch color[e.To] {
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			case gray:
				return fmt.Errorf("%w: via %s -> %s", ErrCycleDetected, id, e.To)
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoSort returns nodes in topological order. A coalesce node, which is
// allowed multiple predecessors, is placed once all of its inbound
// branches have been emitted. Any cycle, including one through a join
// point that CheckAcyclic accepts, yields ErrCycleDetected.
func (g *Graph) TopoSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = 0
	}
	for _, e := range g.edges {
		indegree[e.To]++
	}
	queue := make([]string, 0)
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, e := range g.OutEdges(id) {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}
	if len(out) != len(g.order) {
		return nil, ErrCycleDetected
	}
	return out, nil
}

// BranchFirstNode returns, for each label leaving a gate/fork node, the
// first downstream processing node (the immediate successor along that
// label).
func (g *Graph) BranchFirstNode(nodeID string) map[string]string {
	out := make(map[string]string)
	for _, e := range g.OutEdges(nodeID) {
		if _, exists := out[e.Label]; !exists {
			out[e.Label] = e.To
		}
	}
	return out
}

// DivertCoalesceWarning describes an unsafe composition: a node feeding a
// require_all coalesce directly that also has a divert (error) edge. A
// token that leaves that node by a different edge than the one into the
// coalesce never arrives there, and the coalesce waits for the branch
// forever.
type DivertCoalesceWarning struct {
	CoalesceNodeID string
	BranchNodeID   string
}

// WarnDivertCoalesceInteractions walks every require_all coalesce and
// flags each node that feeds it directly and has a divert edge. Only the
// node directly before the coalesce is checked; earlier steps of a longer
// branch are not.
func (g *Graph) WarnDivertCoalesceInteractions(requireAllCoalesceIDs []string) []DivertCoalesceWarning {
	var warnings []DivertCoalesceWarning
	requireAll := make(map[string]bool, len(requireAllCoalesceIDs))
	for _, id := range requireAllCoalesceIDs {
		requireAll[id] = true
	}
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if !requireAll[e.To] || seen[e.To+"\x00"+e.From] {
			continue
		}
		diverts := false
		for _, out := range g.OutEdges(e.From) {
			if out.Mode == ModeDivert {
				diverts = true
				break
			}
		}
		if !diverts {
			continue
		}
		seen[e.To+"\x00"+e.From] = true
		warnings = append(warnings, DivertCoalesceWarning{
			CoalesceNodeID: e.To,
			BranchNodeID:   e.From,
		})
	}
	return warnings
}
