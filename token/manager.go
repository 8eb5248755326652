package token

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/corepipe/plugin"
)

// Recorder is the slice of the audit recorder the token manager needs.
// landscape.Recorder satisfies this; token never imports landscape,
// which otherwise would need to import token to describe what it
// records, creating a cycle.
type Recorder interface {
	CreateRow(ctx context.Context, runID string, sourceNodeID string, rowIndex int, data map[string]interface{}) (rowID string, err error)
	CreateToken(ctx context.Context, runID, rowID string, row map[string]interface{}) (tokenID string, err error)
	ForkToken(ctx context.Context, runID string, parentTokenID string, branches []string) (childTokenIDs []string, forkGroupID string, err error)
	ExpandToken(ctx context.Context, runID string, parentTokenID string, count int) (childTokenIDs []string, expandGroupID string, err error)
	CoalesceTokens(ctx context.Context, runID string, parentTokenIDs []string, mergedData map[string]interface{}) (childTokenID, joinGroupID string, err error)
}

// Manager exposes the lineage operations that both update in-memory
// traversal state and record the corresponding event to the audit
// store. idGen is overridden in tests; production code leaves it nil
// and gets uuid.NewString.
type Manager struct {
	recorder Recorder
	idGen    func() string
}

// NewManager builds a Manager backed by recorder.
func NewManager(recorder Recorder) *Manager {
	return &Manager{recorder: recorder, idGen: uuid.NewString}
}

// CreateInitialToken builds the first token for a valid source row. The
// row must already carry a locked contract; a row without one indicates
// a source plugin bug and is rejected rather than propagated as a nil
// contract through the rest of the pipeline.
func (m *Manager) CreateInitialToken(ctx context.Context, runID, sourceNodeID string, rowIndex int, row plugin.PipelineRow) (Info, error) {
	if row.Contract.Mode == "" {
		return Info{}, fmt.Errorf("token: source row at index %d has no contract", rowIndex)
	}
	rowID, err := m.recorder.CreateRow(ctx, runID, sourceNodeID, rowIndex, row.Data)
	if err != nil {
		return Info{}, fmt.Errorf("token: create_row: %w", err)
	}
	tokenID, err := m.recorder.CreateToken(ctx, runID, rowID, row.Data)
	if err != nil {
		return Info{}, fmt.Errorf("token: create_token: %w", err)
	}
	return Info{RowID: rowID, TokenID: tokenID, Row: row}, nil
}

// ForkToken produces one child per branch name. Every child shares the
// parent's row data (deep-copied, so later independent mutation along
// one branch cannot leak into another) and the parent's contract
// reference (contracts are immutable, so sharing it is safe). All
// children share a ForkGroupID.
func (m *Manager) ForkToken(ctx context.Context, runID string, parent Info, branches []string) ([]Info, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("token: fork requires at least one branch")
	}
	childIDs, forkGroupID, err := m.recorder.ForkToken(ctx, runID, parent.TokenID, branches)
	if err != nil {
		return nil, fmt.Errorf("token: fork_token: %w", err)
	}
	if len(childIDs) != len(branches) {
		return nil, fmt.Errorf("token: fork_token returned %d children for %d branches", len(childIDs), len(branches))
	}
	children := make([]Info, len(branches))
	for i, branch := range branches {
		children[i] = Info{
			RowID:       parent.RowID,
			TokenID:     childIDs[i],
			Row:         parent.Row.Clone(),
			BranchName:  branch,
			ForkGroupID: forkGroupID,
		}
	}
	return children, nil
}

// ExpandToken produces one child per expanded row (deaggregation). Each
// child's row wraps the new data with the parent's contract, preserving
// the identity of the declared fields across the expansion.
func (m *Manager) ExpandToken(ctx context.Context, runID string, parent Info, expandedRows []map[string]interface{}) ([]Info, error) {
	if len(expandedRows) == 0 {
		return nil, fmt.Errorf("token: expand requires at least one row")
	}
	childIDs, expandGroupID, err := m.recorder.ExpandToken(ctx, runID, parent.TokenID, len(expandedRows))
	if err != nil {
		return nil, fmt.Errorf("token: expand_token: %w", err)
	}
	if len(childIDs) != len(expandedRows) {
		return nil, fmt.Errorf("token: expand_token returned %d children for %d rows", len(childIDs), len(expandedRows))
	}
	children := make([]Info, len(expandedRows))
	for i, data := range expandedRows {
		children[i] = Info{
			RowID:   parent.RowID,
			TokenID: childIDs[i],
			Row: plugin.PipelineRow{
				Data:     data,
				Contract: parent.Row.Contract,
			},
			ExpandGroupID: expandGroupID,
		}
	}
	return children, nil
}

// CoalesceTokens merges a set of parent tokens into one child whose row
// is mergedData. All parents share a JoinGroupID on the resulting
// child.
func (m *Manager) CoalesceTokens(ctx context.Context, runID string, parents []Info, mergedData plugin.PipelineRow) (Info, error) {
	if len(parents) == 0 {
		return Info{}, fmt.Errorf("token: coalesce requires at least one parent")
	}
	parentIDs := make([]string, len(parents))
	for i, p := range parents {
		parentIDs[i] = p.TokenID
	}
	childID, joinGroupID, err := m.recorder.CoalesceTokens(ctx, runID, parentIDs, mergedData.Data)
	if err != nil {
		return Info{}, fmt.Errorf("token: coalesce_tokens: %w", err)
	}
	return Info{
		RowID:       parents[0].RowID,
		TokenID:     childID,
		Row:         mergedData,
		JoinGroupID: joinGroupID,
	}, nil
}

// UpdateRowData returns a new token carrying newRow, preserving every
// lineage field of tok unchanged.
func UpdateRowData(tok Info, newRow plugin.PipelineRow) Info {
	updated := tok
	updated.Row = newRow
	return updated
}
