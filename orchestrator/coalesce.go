package orchestrator

import (
	"time"

	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/token"
)

// coalesceState tracks one join point's in-progress round: which of its
// declared branches have arrived, and when the round opened (for
// best_effort's timeout_seconds).
type coalesceState struct {
	spec         dag.CoalesceSpec
	predecessors []string // branch producer node ids, in declaration order

	arrived      map[string]token.Info // predecessor node id -> arrived token
	arrivalOrder []string              // predecessor node ids in arrival order
	opened       time.Time
	resolved     bool // true once this round has been merged; later arrivals on the same round are late
}

func newCoalesceState(spec dag.CoalesceSpec, predecessors []string) *coalesceState {
	return &coalesceState{
		spec:         spec,
		predecessors: predecessors,
		arrived:      make(map[string]token.Info, len(predecessors)),
	}
}

// arrive records tok's arrival from branchNodeID. ok is false if the
// round was already resolved (the arrival is late, per Open Question
// (a) in spec.md: a late arrival is recorded as a non-terminal "routed"
// outcome rather than silently dropped — see handleCoalesceArrival in
// handlers.go for the handling of the false return).
func (s *coalesceState) arrive(branchNodeID string, tok token.Info, now time.Time) (ok bool) {
	if s.resolved {
		return false
	}
	if len(s.arrived) == 0 {
		s.opened = now
	}
	if _, dup := s.arrived[branchNodeID]; !dup {
		s.arrivalOrder = append(s.arrivalOrder, branchNodeID)
	}
	s.arrived[branchNodeID] = tok
	return true
}

// ready reports whether this round's policy is satisfied as of now.
func (s *coalesceState) ready(now time.Time) bool {
	switch s.spec.Policy {
	case "require_all":
		return len(s.arrived) >= len(s.predecessors)
	case "quorum":
		n := s.spec.QuorumCount
		if n <= 0 {
			n = len(s.predecessors)
		}
		return len(s.arrived) >= n
	case "best_effort":
		if len(s.arrived) >= len(s.predecessors) {
			return true
		}
		if s.spec.TimeoutSeconds <= 0 {
			return len(s.arrived) > 0
		}
		return !s.opened.IsZero() && now.Sub(s.opened).Seconds() >= s.spec.TimeoutSeconds
	default:
		return len(s.arrived) >= len(s.predecessors)
	}
}

// merge produces the joined row and ordered parent list per the
// configured merge strategy, then marks the round resolved.
func (s *coalesceState) merge() (merged map[string]interface{}, parents []token.Info) {
	parents = make([]token.Info, 0, len(s.arrivalOrder))
	for _, id := range s.arrivalOrder {
		parents = append(parents, s.arrived[id])
	}
	switch s.spec.Merge {
	case "first_complete":
		if len(parents) > 0 {
			merged = parents[0].Row.Clone().Data
		} else {
			merged = map[string]interface{}{}
		}
	default: // "union"
		merged = map[string]interface{}{}
		for _, p := range parents {
			for k, v := range p.Row.Data {
				merged[k] = v
			}
		}
	}
	s.resolved = true
	return merged, parents
}

// reset opens a fresh round for the next set of arrivals on this
// coalesce node, discarding the resolved round's bookkeeping.
func (s *coalesceState) reset() {
	s.arrived = make(map[string]token.Info, len(s.predecessors))
	s.arrivalOrder = nil
	s.opened = time.Time{}
	s.resolved = false
}
