package landscape

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/corepipe/canon"
	"github.com/dshills/corepipe/payload"
	"github.com/dshills/corepipe/plugin"
	"github.com/dshills/corepipe/token"
)

// SQLRecorder is the shared Recorder implementation for both the SQLite
// and MySQL backends. All SQL here uses `?` placeholders and TEXT/INTEGER
// columns only, which both database/sql drivers accept unchanged; only
// connection setup differs between the two constructors.
type SQLRecorder struct {
	db    *sql.DB
	wq    *writeQueue
	store payload.Store
}

func newSQLRecorder(db *sql.DB, store payload.Store) (*SQLRecorder, error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("landscape: create schema: %w", err)
	}
	return &SQLRecorder{db: db, wq: newWriteQueue(64), store: store}, nil
}

func newID() string { return uuid.NewString() }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// putJSON canonically encodes v, stores the bytes in the payload store,
// and returns the resulting content digest.
func (r *SQLRecorder) putJSON(ctx context.Context, v map[string]interface{}) (string, error) {
	if v == nil {
		v = map[string]interface{}{}
	}
	b, err := canon.Encode(v)
	if err != nil {
		return "", fmt.Errorf("landscape: encode payload: %w", err)
	}
	digest, err := r.store.Put(ctx, b)
	if err != nil {
		return "", fmt.Errorf("landscape: store payload: %w", err)
	}
	return digest, nil
}

func (r *SQLRecorder) Close() error {
	r.wq.close()
	return r.db.Close()
}

// --- run / node / edge registration ---

func (r *SQLRecorder) BeginRun(ctx context.Context, config map[string]interface{}, canonicalVersion string) (string, error) {
	runID := newID()
	configJSON, err := canon.Encode(config)
	if err != nil {
		return "", fmt.Errorf("landscape: encode run config: %w", err)
	}
	configHash := canon.HashBytes(configJSON)
	err = r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, config_json, config_hash, canonical_version, status, reproducibility_grade, started_at)
			 VALUES (?, ?, ?, ?, 'running', 'full', ?)`,
			runID, string(configJSON), configHash, canonicalVersion, now())
		return execErr
	})
	return runID, err
}

func (r *SQLRecorder) RegisterNode(ctx context.Context, runID, nodeID, nodeType, pluginName, configHash, determinism, schemaMode string, schemaFields map[string]interface{}) error {
	fieldsJSON, err := canon.Encode(schemaFields)
	if err != nil {
		return fmt.Errorf("landscape: encode schema fields: %w", err)
	}
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO nodes (node_id, run_id, node_type, plugin_name, config_hash, determinism, schema_mode, schema_fields)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			nodeID, runID, nodeType, pluginName, configHash, determinism, schemaMode, string(fieldsJSON))
		return execErr
	})
}

// ListNodes returns every node registered under runID, for the recovery
// manager to diff against the current DAG's nodes.
func (r *SQLRecorder) ListNodes(ctx context.Context, runID string) ([]NodeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT node_id, node_type, plugin_name, config_hash, determinism FROM nodes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("landscape: query nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeRecord
	for rows.Next() {
		var n NodeRecord
		if err := rows.Scan(&n.NodeID, &n.NodeType, &n.PluginName, &n.ConfigHash, &n.Determinism); err != nil {
			return nil, fmt.Errorf("landscape: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *SQLRecorder) RegisterEdge(ctx context.Context, runID, edgeID, from, to, label, mode string) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO edges (edge_id, run_id, from_id, to_id, label, mode) VALUES (?, ?, ?, ?, ?, ?)`,
			edgeID, runID, from, to, label, mode)
		return execErr
	})
}

// SetSourceSchema records the source node's resolved schema and its
// original-header-to-normalized-name resolution, so a resumed run can
// reconstruct typed rows without re-sniffing the source.
func (r *SQLRecorder) SetSourceSchema(ctx context.Context, runID string, schemaFields, fieldResolution map[string]interface{}) error {
	schemaJSON, err := canon.Encode(schemaFields)
	if err != nil {
		return fmt.Errorf("landscape: encode source schema: %w", err)
	}
	resolutionJSON, err := canon.Encode(fieldResolution)
	if err != nil {
		return fmt.Errorf("landscape: encode field resolution: %w", err)
	}
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE runs SET source_schema_json = ?, source_field_resolution_json = ? WHERE run_id = ?`,
			string(schemaJSON), string(resolutionJSON), runID)
		return execErr
	})
}

func (r *SQLRecorder) SourceSchema(ctx context.Context, runID string) (map[string]interface{}, map[string]interface{}, error) {
	var schemaJSON, resolutionJSON sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT source_schema_json, source_field_resolution_json FROM runs WHERE run_id = ?`, runID).
		Scan(&schemaJSON, &resolutionJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("landscape: query source schema: %w", err)
	}
	schemaFields, err := decodeObject(schemaJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("landscape: decode source schema: %w", err)
	}
	fieldResolution, err := decodeObject(resolutionJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("landscape: decode field resolution: %w", err)
	}
	return schemaFields, fieldResolution, nil
}

func decodeObject(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	decoded, err := canon.Decode([]byte(s.String))
	if err != nil {
		return nil, err
	}
	m, _ := decoded.(map[string]interface{})
	return m, nil
}

// --- row / token lineage ---

func (r *SQLRecorder) CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]interface{}) (string, error) {
	hash, err := r.putJSON(ctx, data)
	if err != nil {
		return "", err
	}
	rowID := newID()
	err = r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO rows_ (row_id, run_id, source_node_id, row_index, payload_hash) VALUES (?, ?, ?, ?, ?)`,
			rowID, runID, sourceNodeID, rowIndex, hash)
		return execErr
	})
	return rowID, err
}

func (r *SQLRecorder) CreateToken(ctx context.Context, runID, rowID string, row map[string]interface{}) (string, error) {
	hash, err := r.putJSON(ctx, row)
	if err != nil {
		return "", err
	}
	tokenID := newID()
	err = r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO tokens (token_id, run_id, row_id, payload_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			tokenID, runID, rowID, hash, now())
		return execErr
	})
	return tokenID, err
}

func (r *SQLRecorder) insertTokenTx(tx *sql.Tx, tokenID, runID, rowID, hash, branch, forkGroup, expandGroup, joinGroup, coalesceNode, coalesceName string) error {
	_, err := tx.Exec(
		`INSERT INTO tokens (token_id, run_id, row_id, payload_hash, branch_name, fork_group_id, expand_group_id, join_group_id, coalesce_node_id, coalesce_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tokenID, runID, rowID, hash, nullable(branch), nullable(forkGroup), nullable(expandGroup), nullable(joinGroup), nullable(coalesceNode), nullable(coalesceName), now())
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *SQLRecorder) rowIDAndPayload(ctx context.Context, tokenID string) (rowID, hash string, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT row_id, payload_hash FROM tokens WHERE token_id = ?`, tokenID).Scan(&rowID, &hash)
	return
}

func (r *SQLRecorder) ForkToken(ctx context.Context, runID string, parentTokenID string, branches []string) ([]string, string, error) {
	rowID, _, err := r.rowIDAndPayload(ctx, parentTokenID)
	if err != nil {
		return nil, "", fmt.Errorf("landscape: fork lookup parent: %w", err)
	}
	forkGroupID := newID()
	childIDs := make([]string, len(branches))
	for i := range branches {
		childIDs[i] = newID()
	}
	err = r.wq.submit(func() error {
		tx, txErr := r.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		for i, branch := range branches {
			if execErr := r.insertTokenTx(tx, childIDs[i], runID, rowID, "", branch, forkGroupID, "", "", "", ""); execErr != nil {
				tx.Rollback()
				return execErr
			}
			if _, execErr := tx.Exec(`INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES (?, ?, 0)`, childIDs[i], parentTokenID); execErr != nil {
				tx.Rollback()
				return execErr
			}
		}
		return tx.Commit()
	})
	return childIDs, forkGroupID, err
}

func (r *SQLRecorder) ExpandToken(ctx context.Context, runID string, parentTokenID string, count int) ([]string, string, error) {
	rowID, _, err := r.rowIDAndPayload(ctx, parentTokenID)
	if err != nil {
		return nil, "", fmt.Errorf("landscape: expand lookup parent: %w", err)
	}
	expandGroupID := newID()
	childIDs := make([]string, count)
	for i := range childIDs {
		childIDs[i] = newID()
	}
	err = r.wq.submit(func() error {
		tx, txErr := r.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		for _, childID := range childIDs {
			if execErr := r.insertTokenTx(tx, childID, runID, rowID, "", "", "", expandGroupID, "", "", ""); execErr != nil {
				tx.Rollback()
				return execErr
			}
			if _, execErr := tx.Exec(`INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES (?, ?, 0)`, childID, parentTokenID); execErr != nil {
				tx.Rollback()
				return execErr
			}
		}
		return tx.Commit()
	})
	return childIDs, expandGroupID, err
}

func (r *SQLRecorder) CoalesceTokens(ctx context.Context, runID string, parentTokenIDs []string, mergedData map[string]interface{}) (string, string, error) {
	hash, err := r.putJSON(ctx, mergedData)
	if err != nil {
		return "", "", err
	}
	rowID, _, err := r.rowIDAndPayload(ctx, parentTokenIDs[0])
	if err != nil {
		return "", "", fmt.Errorf("landscape: coalesce lookup parent: %w", err)
	}
	childID := newID()
	joinGroupID := newID()
	err = r.wq.submit(func() error {
		tx, txErr := r.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		if execErr := r.insertTokenTx(tx, childID, runID, rowID, hash, "", "", "", joinGroupID, "", ""); execErr != nil {
			tx.Rollback()
			return execErr
		}
		for i, parentID := range parentTokenIDs {
			if _, execErr := tx.Exec(`INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES (?, ?, ?)`, childID, parentID, i); execErr != nil {
				tx.Rollback()
				return execErr
			}
		}
		return tx.Commit()
	})
	return childID, joinGroupID, err
}

func (r *SQLRecorder) RecordTokenOutcome(ctx context.Context, tokenID string, outcome token.Outcome, outcomeContext map[string]interface{}) error {
	ctxJSON, err := canon.Encode(outcomeContext)
	if err != nil {
		return fmt.Errorf("landscape: encode outcome context: %w", err)
	}
	isTerminal := 0
	if outcome.IsTerminal {
		isTerminal = 1
	}
	return r.wq.submit(func() error {
		var existing int
		lookupErr := r.db.QueryRowContext(ctx,
			`SELECT is_terminal FROM tokens WHERE token_id = ?`, tokenID).Scan(&existing)
		if lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows) {
			return lookupErr
		}
		if existing == 1 {
			return fmt.Errorf("landscape: token %s already has a terminal outcome", tokenID)
		}
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE tokens SET outcome = ?, is_terminal = ?, outcome_reason = ?, outcome_context = ? WHERE token_id = ?`,
			outcome.Outcome, isTerminal, outcome.Reason, string(ctxJSON), tokenID)
		return execErr
	})
}

// --- node-state visits ---

func (r *SQLRecorder) BeginNodeState(ctx context.Context, runID, nodeID, tokenID string) (string, error) {
	stateID := newID()
	err := r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO node_states (state_id, run_id, node_id, token_id, status, started_at) VALUES (?, ?, ?, ?, 'running', ?)`,
			stateID, runID, nodeID, tokenID, now())
		return execErr
	})
	return stateID, err
}

func (r *SQLRecorder) CompleteNodeState(ctx context.Context, stateID, status, outputHash, errText, successReason string, durationMS int64) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE node_states SET status = ?, output_hash = ?, error_text = ?, success_reason = ?, duration_ms = ?, completed_at = ? WHERE state_id = ?`,
			status, nullable(outputHash), nullable(errText), nullable(successReason), durationMS, now(), stateID)
		return execErr
	})
}

func (r *SQLRecorder) RecordRoutingEvents(ctx context.Context, stateID string, events []RoutingEventInput) error {
	return r.wq.submit(func() error {
		tx, txErr := r.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		for _, ev := range events {
			reasonJSON, encErr := canon.Encode(ev.Reason)
			if encErr != nil {
				tx.Rollback()
				return fmt.Errorf("landscape: encode routing reason: %w", encErr)
			}
			if _, execErr := tx.Exec(
				`INSERT INTO routing_events (routing_event_id, state_id, edge_id, routing_group_id, ordinal, mode, reason_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				newID(), stateID, ev.EdgeID, ev.RoutingGroupID, ev.Ordinal, ev.Mode, string(reasonJSON)); execErr != nil {
				tx.Rollback()
				return execErr
			}
		}
		return tx.Commit()
	})
}

func (r *SQLRecorder) RecordCall(ctx context.Context, stateID string, call CallInput) (string, error) {
	reqHash, err := r.putJSON(ctx, call.Request)
	if err != nil {
		return "", err
	}
	var respHash string
	if call.Response != nil {
		respHash, err = r.putJSON(ctx, call.Response)
		if err != nil {
			return "", err
		}
	}
	callID := newID()
	err = r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO calls (call_id, state_id, provider, model, request_hash, response_hash, duration_ms, error_text, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			callID, stateID, call.Provider, nullable(call.Model), reqHash, nullable(respHash), call.DurationMS, nullable(call.Err), now())
		return execErr
	})
	return callID, err
}

// --- batches ---

func (r *SQLRecorder) CreateBatch(ctx context.Context, runID, nodeID string) (string, error) {
	batchID := newID()
	err := r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO batches (batch_id, run_id, node_id, status, created_at) VALUES (?, ?, ?, 'open', ?)`,
			batchID, runID, nodeID, now())
		return execErr
	})
	return batchID, err
}

func (r *SQLRecorder) AddBatchMember(ctx context.Context, batchID, tokenID string) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx, `INSERT INTO batch_members (batch_id, token_id) VALUES (?, ?)`, batchID, tokenID)
		return execErr
	})
}

func (r *SQLRecorder) AddBatchOutput(ctx context.Context, batchID, tokenID string) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx, `INSERT INTO batch_outputs (batch_id, token_id) VALUES (?, ?)`, batchID, tokenID)
		return execErr
	})
}

func (r *SQLRecorder) UpdateBatchStatus(ctx context.Context, batchID, status, triggerReason string) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE batches SET status = ?, trigger_reason = ?, closed_at = ? WHERE batch_id = ?`,
			status, nullable(triggerReason), now(), batchID)
		return execErr
	})
}

// ExecutingBatches returns every batch still in 'executing' status for
// runID, with its member token ids, for the recovery manager to fail
// and retry at resume time.
func (r *SQLRecorder) ExecutingBatches(ctx context.Context, runID string) ([]BatchRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT batch_id, node_id, status, attempt, trigger_reason FROM batches WHERE run_id = ? AND status = 'executing'`, runID)
	if err != nil {
		return nil, fmt.Errorf("landscape: query executing batches: %w", err)
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		var b BatchRecord
		var trigger sql.NullString
		if err := rows.Scan(&b.BatchID, &b.NodeID, &b.Status, &b.Attempt, &trigger); err != nil {
			return nil, fmt.Errorf("landscape: scan executing batch: %w", err)
		}
		b.RunID = runID
		b.TriggerReason = trigger.String
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range batches {
		members, err := r.batchMembers(ctx, batches[i].BatchID)
		if err != nil {
			return nil, err
		}
		batches[i].MemberTokenIDs = members
	}
	return batches, nil
}

func (r *SQLRecorder) batchMembers(ctx context.Context, batchID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT token_id FROM batch_members WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("landscape: query batch members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("landscape: scan batch member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RetryBatch marks batchID as failed and creates a successor batch on
// the same node with the same member set at attempt+1, open for further
// buffering or immediate re-dispatch by the caller.
func (r *SQLRecorder) RetryBatch(ctx context.Context, batchID string) (string, error) {
	var runID, nodeID string
	var attempt int
	if err := r.db.QueryRowContext(ctx, `SELECT run_id, node_id, attempt FROM batches WHERE batch_id = ?`, batchID).
		Scan(&runID, &nodeID, &attempt); err != nil {
		return "", fmt.Errorf("landscape: lookup batch for retry: %w", err)
	}
	members, err := r.batchMembers(ctx, batchID)
	if err != nil {
		return "", err
	}

	newBatchID := newID()
	err = r.wq.submit(func() error {
		tx, txErr := r.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		if _, execErr := tx.Exec(`UPDATE batches SET status = 'failed', closed_at = ? WHERE batch_id = ?`, now(), batchID); execErr != nil {
			tx.Rollback()
			return execErr
		}
		if _, execErr := tx.Exec(
			`INSERT INTO batches (batch_id, run_id, node_id, status, attempt, created_at) VALUES (?, ?, ?, 'open', ?, ?)`,
			newBatchID, runID, nodeID, attempt+1, now()); execErr != nil {
			tx.Rollback()
			return execErr
		}
		for _, tokenID := range members {
			if _, execErr := tx.Exec(`INSERT INTO batch_members (batch_id, token_id) VALUES (?, ?)`, newBatchID, tokenID); execErr != nil {
				tx.Rollback()
				return execErr
			}
		}
		return tx.Commit()
	})
	return newBatchID, err
}

// --- artifacts ---

// RegisterArtifact is idempotent on (run_id, sink_node_id,
// idempotency_key): a retry with the same key returns the artifact_id
// already on record instead of inserting a duplicate row, per the
// partial unique index on that triple. An empty idempotency_key always
// inserts a fresh row.
func (r *SQLRecorder) RegisterArtifact(ctx context.Context, runID, sinkNodeID string, artifact ArtifactInput) (string, error) {
	metaJSON, err := canon.Encode(artifact.ExtraMeta)
	if err != nil {
		return "", fmt.Errorf("landscape: encode artifact meta: %w", err)
	}
	artifactID := newID()
	err = r.wq.submit(func() error {
		if artifact.IdempotencyKey != "" {
			var existing string
			lookupErr := r.db.QueryRowContext(ctx,
				`SELECT artifact_id FROM artifacts WHERE run_id = ? AND sink_node_id = ? AND idempotency_key = ?`,
				runID, sinkNodeID, artifact.IdempotencyKey).Scan(&existing)
			if lookupErr == nil {
				artifactID = existing
				return nil
			}
			if !errors.Is(lookupErr, sql.ErrNoRows) {
				return lookupErr
			}
		}
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO artifacts (artifact_id, run_id, sink_node_id, uri, content_hash, size_bytes, idempotency_key, mode, extra_meta_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			artifactID, runID, sinkNodeID, artifact.URI, artifact.ContentHash, artifact.SizeBytes, nullable(artifact.IdempotencyKey), artifact.Mode, string(metaJSON), now())
		return execErr
	})
	return artifactID, err
}

// --- checkpoints ---

func (r *SQLRecorder) WriteCheckpoint(ctx context.Context, cp CheckpointInput) (string, error) {
	stateJSON, err := canon.Encode(cp.AggregationState)
	if err != nil {
		return "", fmt.Errorf("landscape: encode aggregation state: %w", err)
	}
	checkpointID := newID()
	err = r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`INSERT INTO checkpoints (checkpoint_id, run_id, token_id, node_id, sequence_number, upstream_topology_hash, checkpoint_node_config_hash, aggregation_state_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			checkpointID, cp.RunID, nullable(cp.TokenID), cp.NodeID, cp.SequenceNumber,
			cp.UpstreamTopologyHash, cp.CheckpointNodeConfigHash, nullable(string(stateJSON)), now())
		return execErr
	})
	return checkpointID, err
}

// LatestCheckpoint returns the highest-sequence checkpoint recorded for
// nodeID within runID, regardless of whether its topology hash still
// matches the current DAG — callers validate that themselves before
// trusting it.
func (r *SQLRecorder) LatestCheckpoint(ctx context.Context, runID, nodeID string) (*CheckpointRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT checkpoint_id, token_id, sequence_number, upstream_topology_hash, checkpoint_node_config_hash, aggregation_state_json, created_at
		 FROM checkpoints WHERE run_id = ? AND node_id = ? ORDER BY sequence_number DESC LIMIT 1`,
		runID, nodeID)

	var (
		checkpointID, upstreamHash, configHash, createdAt string
		tokenID, stateJSON                                sql.NullString
		seq                                               int
	)
	if err := row.Scan(&checkpointID, &tokenID, &seq, &upstreamHash, &configHash, &stateJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("landscape: query latest checkpoint: %w", err)
	}

	var state map[string]interface{}
	if stateJSON.Valid && stateJSON.String != "" {
		// Plain encoding/json decoding, so numbers come back as float64
		// just as callers typically stored them.
		if err := json.Unmarshal([]byte(stateJSON.String), &state); err != nil {
			return nil, fmt.Errorf("landscape: decode aggregation state: %w", err)
		}
	}
	createdAtTime, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("landscape: parse checkpoint created_at: %w", err)
	}

	return &CheckpointRecord{
		CheckpointID:             checkpointID,
		RunID:                    runID,
		TokenID:                  tokenID.String,
		NodeID:                   nodeID,
		SequenceNumber:           seq,
		UpstreamTopologyHash:     upstreamHash,
		CheckpointNodeConfigHash: configHash,
		AggregationState:         state,
		CreatedAt:                createdAtTime,
	}, nil
}

// --- validation errors / run lifecycle ---

func (r *SQLRecorder) RecordValidationError(ctx context.Context, nodeStateID, reason string, rawData map[string]interface{}) error {
	hash, err := r.putJSON(ctx, rawData)
	if err != nil {
		return err
	}
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE node_states SET status = 'quarantined', error_text = ?, output_hash = ?, completed_at = ? WHERE state_id = ?`,
			reason, hash, now(), nodeStateID)
		return execErr
	})
}

// NodeDeterminisms returns every registered node's determinism value for
// runID, keyed by node_id, so the orchestrator can compute a
// reproducibility grade at finalize without re-deriving it from config.
func (r *SQLRecorder) NodeDeterminisms(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node_id, determinism FROM nodes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("landscape: query node determinisms: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, det string
		if err := rows.Scan(&id, &det); err != nil {
			return nil, fmt.Errorf("landscape: scan node determinism: %w", err)
		}
		out[id] = det
	}
	return out, rows.Err()
}

func (r *SQLRecorder) FinalizeRun(ctx context.Context, runID, status, reproducibilityGrade string) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, reproducibility_grade = ?, completed_at = ? WHERE run_id = ?`,
			status, reproducibilityGrade, now(), runID)
		return execErr
	})
}

// PurgeCallsOlderThan scrubs payload hashes from calls created before
// cutoff. The underlying blobs in the payload store are left
// alone — they are content-addressed and may still be referenced by
// other calls or rows — only the pointer from the audit record to the
// replay payload is removed, which is what makes the run
// non-replayable.
func (r *SQLRecorder) PurgeCallsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var runIDs []string
	err := r.wq.submit(func() error {
		rows, queryErr := r.db.QueryContext(ctx,
			`SELECT DISTINCT ns.run_id FROM calls c
			 JOIN node_states ns ON ns.state_id = c.state_id
			 WHERE c.created_at < ? AND c.request_hash IS NOT NULL`, cutoff.UTC().Format(time.RFC3339Nano))
		if queryErr != nil {
			return fmt.Errorf("landscape: query purge candidates: %w", queryErr)
		}
		for rows.Next() {
			var runID string
			if scanErr := rows.Scan(&runID); scanErr != nil {
				rows.Close()
				return fmt.Errorf("landscape: scan purge candidate: %w", scanErr)
			}
			runIDs = append(runIDs, runID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		_, execErr := r.db.ExecContext(ctx,
			`UPDATE calls SET request_hash = NULL, response_hash = NULL
			 WHERE call_id IN (
				SELECT c.call_id FROM calls c
				JOIN node_states ns ON ns.state_id = c.state_id
				WHERE c.created_at < ?
			 )`, cutoff.UTC().Format(time.RFC3339Nano))
		return execErr
	})
	return runIDs, err
}

// DowngradeReproducibility sets a run's reproducibility_grade to
// attributable_only, used after a purge of call payloads makes full
// replay impossible but per-row attribution still holds.
func (r *SQLRecorder) DowngradeReproducibility(ctx context.Context, runID string) error {
	return r.wq.submit(func() error {
		_, execErr := r.db.ExecContext(ctx,
			`UPDATE runs SET reproducibility_grade = 'attributable_only' WHERE run_id = ?`, runID)
		return execErr
	})
}

// ReproducibilityGrade returns a run's currently stored grade.
func (r *SQLRecorder) ReproducibilityGrade(ctx context.Context, runID string) (string, error) {
	var grade string
	err := r.db.QueryRowContext(ctx, `SELECT reproducibility_grade FROM runs WHERE run_id = ?`, runID).Scan(&grade)
	if err != nil {
		return "", fmt.Errorf("landscape: query reproducibility grade: %w", err)
	}
	return grade, nil
}

var (
	_ Recorder        = (*SQLRecorder)(nil)
	_ token.Recorder  = (*SQLRecorder)(nil)
	_ plugin.Recorder = (*SQLRecorder)(nil)
)
