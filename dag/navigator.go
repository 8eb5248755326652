package dag

import "fmt"

// TokenRef is the minimal token context the navigator needs to resolve a
// continuation work item: enough identity and lineage bookkeeping to
// decide where the token goes next, without the navigator depending on
// the token package's richer Token type.
type TokenRef struct {
	TokenID        string
	BranchName     string // set when this token is a child of a fork/gate route
	CoalesceNodeID string // set when this token is destined for a coalesce landing node
	CoalesceName   string // paired with CoalesceNodeID; both set or both empty
}

// ContinuationWorkItem is what create_continuation_work_item resolves to:
// the next node a token should visit, plus whatever coalesce binding
// carries forward.
type ContinuationWorkItem struct {
	TokenID        string
	NodeID         string
	CoalesceNodeID string
	CoalesceName   string
}

// Navigator is a set of pure, immutable topology queries built once from
// a finished Graph and consulted throughout a run's traversal. It never
// mutates and is safe for concurrent use.
type Navigator struct {
	graph *Graph

	nodeToNext        map[string]string            // node -> successor on "continue"
	coalesceNodeIDs   map[string]bool               // set of declared coalesce node ids
	coalesceNameByID  map[string]string             // coalesce node id -> coalesce name
	coalesceOnSuccess map[string]string             // coalesce name -> terminal sink name
	structuralNodes   map[string]bool               // nodes with no bound plugin (coalesce landings)
	branchFirstNode   map[string]map[string]string  // gate/fork node -> label -> first node
	sinkNames         map[string]bool
}

// NavigatorOptions supplies the bindings a Graph alone cannot express:
// which nodes are structural (no plugin), and each coalesce node's name
// and associated terminal sink.
type NavigatorOptions struct {
	StructuralNodeIDs map[string]bool
	CoalesceName      map[string]string // coalesce node id -> name
	CoalesceOnSuccess map[string]string // coalesce name -> sink name
	SinkNames         map[string]bool
}

// NewNavigator builds a Navigator from a finished Graph. All internal
// maps are populated once here and never mutated afterward, mirroring
// the immutable-map-of-maps construction of a from_traversal_context
// build step.
func NewNavigator(g *Graph, opts NavigatorOptions) *Navigator {
	n := &Navigator{
		graph:             g,
		nodeToNext:        make(map[string]string),
		coalesceNodeIDs:   make(map[string]bool),
		coalesceNameByID:  opts.CoalesceName,
		coalesceOnSuccess: opts.CoalesceOnSuccess,
		structuralNodes:   opts.StructuralNodeIDs,
		branchFirstNode:   make(map[string]map[string]string),
		sinkNames:         opts.SinkNames,
	}
	if n.coalesceNameByID == nil {
		n.coalesceNameByID = map[string]string{}
	}
	if n.coalesceOnSuccess == nil {
		n.coalesceOnSuccess = map[string]string{}
	}
	if n.structuralNodes == nil {
		n.structuralNodes = map[string]bool{}
	}
	if n.sinkNames == nil {
		n.sinkNames = map[string]bool{}
	}
	for id := range g.nodes {
		if g.IsCoalesce(id) {
			n.coalesceNodeIDs[id] = true
		}
		if succ := g.SuccessorsByLabel(id, LabelContinue); len(succ) == 1 {
			n.nodeToNext[id] = succ[0].To
		}
		if bf := g.BranchFirstNode(id); len(bf) > 0 {
			n.branchFirstNode[id] = bf
		}
	}
	return n
}

// ResolvePluginForNode returns the bound node, or ok=false for structural
// nodes (coalesce landing points carry no plugin).
func (n *Navigator) ResolvePluginForNode(nodeID string) (Node, bool, error) {
	node, exists := n.graph.Node(nodeID)
	if !exists {
		return Node{}, false, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if n.structuralNodes[nodeID] {
		return Node{}, false, nil
	}
	return node, true, nil
}

// ResolveNextNode returns the successor of nodeID on the "continue"
// label, or ok=false for a terminal node (sink).
func (n *Navigator) ResolveNextNode(nodeID string) (string, bool, error) {
	if _, exists := n.graph.Node(nodeID); !exists {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	next, ok := n.nodeToNext[nodeID]
	return next, ok, nil
}

// ResolveCoalesceSink returns the terminal sink associated with a
// coalesce point by name.
func (n *Navigator) ResolveCoalesceSink(coalesceName string) (string, error) {
	sink, ok := n.coalesceOnSuccess[coalesceName]
	if !ok {
		return "", fmt.Errorf("%w: coalesce %q has no registered sink", ErrNoSuccessor, coalesceName)
	}
	return sink, nil
}

// ResolveJumpTargetSink follows "continue" successors from startNodeID
// until it reaches a sink, returning that sink's node id. It returns
// ok=false only when the path runs through a gate node (which routes
// dynamically at runtime and cannot be resolved ahead of time). The walk
// is bounded by the total node count; exceeding that bound indicates a
// structural invariant violation (a cycle the acyclicity check should
// have already rejected).
func (n *Navigator) ResolveJumpTargetSink(startNodeID string) (string, bool, error) {
	maxIterations := len(n.graph.nodes) + 1
	current := startNodeID
	for i := 0; i < maxIterations; i++ {
		node, exists := n.graph.Node(current)
		if !exists {
			return "", false, fmt.Errorf("%w: %s", ErrUnknownNode, current)
		}
		if node.Type == NodeSink {
			return current, true, nil
		}
		if node.Type == NodeGate {
			return "", false, nil
		}
		next, ok := n.nodeToNext[current]
		if !ok {
			return "", false, fmt.Errorf("%w: %s", ErrNoSuccessor, current)
		}
		current = next
	}
	return "", false, fmt.Errorf("%w: walk from %s exceeded %d iterations", ErrWalkBoundExceeded, startNodeID, maxIterations)
}

// CreateContinuationWorkItem resolves the next work item for a token
// leaving currentNodeID. If the token carries a branch name, the next
// node is the first node mapped for that branch at currentNodeID (a
// gate's route label uses the same map); otherwise it's the plain
// "continue" successor. A coalesce binding must have both fields set or
// neither; it is copied onto the work item but does not by itself select
// the branch lookup, and a coalesce name without a branch name is not
// rejected.
func (n *Navigator) CreateContinuationWorkItem(tok TokenRef, currentNodeID string) (ContinuationWorkItem, error) {
	if tok.CoalesceNodeID != "" || tok.CoalesceName != "" {
		if tok.CoalesceNodeID == "" || tok.CoalesceName == "" {
			return ContinuationWorkItem{}, fmt.Errorf("dag: coalesce_node_id and coalesce_name must both be set or both empty")
		}
	}

	if tok.BranchName != "" {
		branches, ok := n.branchFirstNode[currentNodeID]
		if !ok {
			return ContinuationWorkItem{}, fmt.Errorf("%w: node %s has no branch map", ErrNoSuccessor, currentNodeID)
		}
		first, ok := branches[tok.BranchName]
		if !ok {
			return ContinuationWorkItem{}, fmt.Errorf("%w: node %s has no branch %q", ErrNoSuccessor, currentNodeID, tok.BranchName)
		}
		return ContinuationWorkItem{
			TokenID:        tok.TokenID,
			NodeID:         first,
			CoalesceNodeID: tok.CoalesceNodeID,
			CoalesceName:   tok.CoalesceName,
		}, nil
	}

	next, ok, err := n.ResolveNextNode(currentNodeID)
	if err != nil {
		return ContinuationWorkItem{}, err
	}
	if !ok {
		return ContinuationWorkItem{}, fmt.Errorf("%w: node %s is terminal, no continuation", ErrNoSuccessor, currentNodeID)
	}
	return ContinuationWorkItem{
		TokenID:        tok.TokenID,
		NodeID:         next,
		CoalesceNodeID: tok.CoalesceNodeID,
		CoalesceName:   tok.CoalesceName,
	}, nil
}
