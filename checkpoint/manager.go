package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/landscape"
)

// ErrTopologyMismatch is returned when a stored checkpoint's topology or
// node-config hash no longer matches the current DAG.
var ErrTopologyMismatch = fmt.Errorf("checkpoint: topology or node config hash mismatch")

// Manager takes and loads checkpoints bound to a fixed DAG. Sequence
// numbers are tracked per node_id so resuming a run that already wrote
// several checkpoints for the same aggregation node keeps advancing
// rather than colliding.
type Manager struct {
	recorder landscape.Recorder
	graph    *dag.Graph

	mu       sync.Mutex
	sequence map[string]int
}

// NewManager binds a Manager to recorder and graph. The graph is fixed
// for the manager's lifetime — resuming against a different topology
// requires a new Manager (and will fail hash validation regardless).
func NewManager(recorder landscape.Recorder, graph *dag.Graph) *Manager {
	return &Manager{recorder: recorder, graph: graph, sequence: make(map[string]int)}
}

// Write persists a new checkpoint for nodeID, computing both topology
// hashes from the current graph. Callers must flush all sinks with
// pending writes before calling Write — the checkpoint only becomes a
// valid resume point once durable sink output precedes it.
func (m *Manager) Write(ctx context.Context, runID, nodeID, tokenID string, aggregationState map[string]interface{}) (string, error) {
	upstreamHash, err := UpstreamTopologyHash(m.graph, nodeID)
	if err != nil {
		return "", fmt.Errorf("checkpoint: compute upstream hash: %w", err)
	}
	configHash, err := NodeConfigHash(m.graph, nodeID)
	if err != nil {
		return "", fmt.Errorf("checkpoint: compute node config hash: %w", err)
	}

	m.mu.Lock()
	m.sequence[nodeID]++
	seq := m.sequence[nodeID]
	m.mu.Unlock()

	return m.recorder.WriteCheckpoint(ctx, landscape.CheckpointInput{
		RunID:                    runID,
		TokenID:                  tokenID,
		NodeID:                   nodeID,
		SequenceNumber:           seq,
		UpstreamTopologyHash:     upstreamHash,
		CheckpointNodeConfigHash: configHash,
		AggregationState:         aggregationState,
	})
}

// LoadCompatible returns the latest checkpoint for nodeID in runID,
// provided its stored hashes still match the current DAG. Returns
// (nil, nil) if no checkpoint exists; returns ErrTopologyMismatch if one
// exists but no longer matches.
func (m *Manager) LoadCompatible(ctx context.Context, runID, nodeID string) (*landscape.CheckpointRecord, error) {
	cp, err := m.recorder.LatestCheckpoint(ctx, runID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load latest: %w", err)
	}
	if cp == nil {
		return nil, nil
	}

	upstreamHash, err := UpstreamTopologyHash(m.graph, nodeID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: compute upstream hash: %w", err)
	}
	configHash, err := NodeConfigHash(m.graph, nodeID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: compute node config hash: %w", err)
	}

	if cp.UpstreamTopologyHash != upstreamHash || cp.CheckpointNodeConfigHash != configHash {
		return nil, ErrTopologyMismatch
	}

	m.mu.Lock()
	if cp.SequenceNumber > m.sequence[nodeID] {
		m.sequence[nodeID] = cp.SequenceNumber
	}
	m.mu.Unlock()

	return cp, nil
}
