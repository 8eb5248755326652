// Package token implements lineage operations over the rows flowing
// through a pipeline: tokens are created from source rows, forked
// across gate branches, expanded by deaggregating transforms, and
// coalesced back together at join points. Every operation both updates
// in-memory traversal state and records the corresponding lineage event
// to the audit recorder.
package token

import (
	"github.com/dshills/corepipe/plugin"
)

// Info identifies one token in flight: the row it carries, and the
// lineage fields that tie it back to its parent(s). Exactly one of
// BranchName, ExpandGroupID, or JoinGroupID is meaningful for a given
// token depending on how it was produced; the others are zero.
type Info struct {
	RowID   string
	TokenID string

	Row plugin.PipelineRow

	// BranchName is set on a child produced by ForkToken: the name of
	// the gate/fork branch this child was routed down.
	BranchName string
	// ForkGroupID ties together every sibling produced by the same
	// ForkToken call.
	ForkGroupID string

	// ExpandGroupID ties together every sibling produced by the same
	// ExpandToken call (deaggregation).
	ExpandGroupID string

	// JoinGroupID is set on a token produced by CoalesceTokens: it ties
	// the merged child back to the set of parents it was built from.
	JoinGroupID string

	// CoalesceNodeID and CoalesceName are set together or not at all:
	// when set, this token is destined for a specific coalesce landing
	// node and the pair is copied onto its continuation work items. The
	// continuation node itself is resolved from BranchName (or the plain
	// "continue" successor), not from the coalesce pair.
	CoalesceNodeID string
	CoalesceName   string
}

// Outcome is what the orchestrator records as the terminal (or
// non-terminal) disposition of a token once it leaves a processing
// step.
type Outcome struct {
	Outcome    string // e.g. "completed", "failed", "discarded", "routed", "buffered", "consumed_in_batch"
	IsTerminal bool
	Reason     string
}
