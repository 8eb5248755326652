// Package landscape implements the audit recorder ("Landscape"): a
// relational store of every run, node, edge, row, token, node-state
// visit, routing decision, external call, batch, and artifact, bound
// together by content-addressed payloads so a completed run can be
// explained or replayed after the fact.
package landscape

import "time"

// RoutingEventInput is one routing decision to record. Multiple
// simultaneous decisions from one node-state share a RoutingGroupID.
type RoutingEventInput struct {
	EdgeID         string
	RoutingGroupID string
	Ordinal        int
	Mode           string // move | copy | divert
	Reason         map[string]interface{}
}

// CallInput is one external call made by a plugin through an audited
// client.
type CallInput struct {
	Provider   string
	Model      string
	Request    map[string]interface{}
	Response   map[string]interface{}
	DurationMS int64
	Err        string
}

// ArtifactInput is what a sink reports after a write.
type ArtifactInput struct {
	URI            string
	ContentHash    string
	SizeBytes      int64
	IdempotencyKey string
	Mode           string
	ExtraMeta      map[string]interface{}
}

// Run is the row the orchestrator begins and finalizes.
type Run struct {
	RunID                string
	Status               string
	ReproducibilityGrade string
	StartedAt            time.Time
	CompletedAt          *time.Time
}

// CheckpointInput is a progress marker bound to a specific topology.
// AggregationState is nil for non-aggregation checkpoints.
type CheckpointInput struct {
	RunID                    string
	TokenID                  string // empty for node-scoped aggregation checkpoints
	NodeID                   string
	SequenceNumber           int
	UpstreamTopologyHash     string
	CheckpointNodeConfigHash string
	AggregationState         map[string]interface{}
}

// CheckpointRecord is a stored checkpoint as read back by the recovery
// manager.
type CheckpointRecord struct {
	CheckpointID             string
	RunID                    string
	TokenID                  string
	NodeID                   string
	SequenceNumber           int
	UpstreamTopologyHash     string
	CheckpointNodeConfigHash string
	AggregationState         map[string]interface{}
	CreatedAt                time.Time
}

// NodeRecord is a stored node registration as read back by the recovery
// manager for topology validation.
type NodeRecord struct {
	NodeID      string
	NodeType    string
	PluginName  string
	ConfigHash  string
	Determinism string
}

// BatchRecord is a stored batch as read back by the recovery manager.
type BatchRecord struct {
	BatchID       string
	RunID         string
	NodeID        string
	Status        string
	Attempt       int
	TriggerReason string
	MemberTokenIDs []string
}
