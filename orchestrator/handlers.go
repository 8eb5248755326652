package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/landscape"
	"github.com/dshills/corepipe/plugin"
	"github.com/dshills/corepipe/schema"
	"github.com/dshills/corepipe/token"
)

// handleTransform drives one row through a row-wise transform node,
// dispatching on the result kind it returns.
func (o *Orchestrator) handleTransform(ctx context.Context, wi workItem, node dag.Node) error {
	tf, err := o.registry.Transform(node.ID)
	if err != nil {
		return err
	}
	stateID, err := o.recorder.BeginNodeState(ctx, o.runID, node.ID, wi.Token.TokenID)
	if err != nil {
		return fmt.Errorf("orchestrator: begin_node_state %s: %w", node.ID, err)
	}
	pc := o.pluginContext(node.ID, stateID, node, wi.Token.TokenID)

	start := time.Now()
	result, err := tf.Process(ctx, wi.Token.Row, pc)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		_ = o.completeNodeState(ctx, node.ID, stateID, "failed", "", err.Error(), "", duration)
		return o.terminateOrDivert(ctx, node, wi.Token, err.Error(), duration)
	}

	switch result.Kind {
	case plugin.ResultSuccess:
		if err := o.completeNodeState(ctx, node.ID, stateID, "completed", rowHash(result.Row), "", result.SuccessReason, duration); err != nil {
			return err
		}
		next := token.UpdateRowData(wi.Token, result.Row)
		return o.continueToken(ctx, next, node.ID)

	case plugin.ResultSuccessMulti:
		if err := o.completeNodeState(ctx, node.ID, stateID, "completed", "", "", result.SuccessReason, duration); err != nil {
			return err
		}
		children, err := o.tokens.ExpandToken(ctx, o.runID, wi.Token, rowsToMaps(result.Rows))
		if err != nil {
			return fmt.Errorf("orchestrator: expand_token at %s: %w", node.ID, err)
		}
		if err := o.recorder.RecordTokenOutcome(ctx, wi.Token.TokenID, token.Outcome{
			Outcome: "routed", IsTerminal: true, Reason: "deaggregated",
		}, map[string]interface{}{"child_count": len(children)}); err != nil {
			return err
		}
		for _, child := range children {
			if err := o.continueToken(ctx, child, node.ID); err != nil {
				return err
			}
		}
		return nil

	case plugin.ResultError:
		return o.terminateOrDivert(ctx, node, wi.Token, result.ErrReason, duration)

	case plugin.ResultPending:
		if err := pc.Checkpoint.Store(ctx, result.Checkpoint); err != nil {
			return fmt.Errorf("orchestrator: store pending checkpoint at %s: %w", node.ID, err)
		}
		return o.recorder.RecordTokenOutcome(ctx, wi.Token.TokenID, token.Outcome{
			Outcome: "buffered", IsTerminal: false, Reason: "pending",
		}, nil)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownOutcome, result.Kind)
	}
}

// terminateOrDivert routes a non-retryable failure to the node's
// declared error sink if one is wired, otherwise records a terminal
// failed outcome.
func (o *Orchestrator) terminateOrDivert(ctx context.Context, node dag.Node, tok token.Info, reason string, durationMS int64) error {
	errorEdges := o.graph.SuccessorsByLabel(node.ID, dag.LabelError)
	if len(errorEdges) > 0 {
		if err := o.recorder.RecordTokenOutcome(ctx, tok.TokenID, token.Outcome{
			Outcome: "routed", IsTerminal: false, Reason: reason,
		}, nil); err != nil {
			return err
		}
		o.queue = append(o.queue, workItem{Token: tok, NodeID: errorEdges[0].To, FromNodeID: node.ID})
		return nil
	}
	return o.recorder.RecordTokenOutcome(ctx, tok.TokenID, token.Outcome{
		Outcome: "failed", IsTerminal: true, Reason: reason,
	}, nil)
}

// handleGate evaluates the condition bound to a gate node and resolves
// its single reachable destination for the returned outcome label,
// recording the decision as a one-member routing group.
func (o *Orchestrator) handleGate(ctx context.Context, wi workItem, node dag.Node) error {
	g, err := o.registry.Gate(node.ID)
	if err != nil {
		return err
	}
	stateID, err := o.recorder.BeginNodeState(ctx, o.runID, node.ID, wi.Token.TokenID)
	if err != nil {
		return fmt.Errorf("orchestrator: begin_node_state %s: %w", node.ID, err)
	}
	pc := o.pluginContext(node.ID, stateID, node, wi.Token.TokenID)

	start := time.Now()
	outcome, err := g.Evaluate(ctx, wi.Token.Row, pc)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		_ = o.completeNodeState(ctx, node.ID, stateID, "failed", "", err.Error(), "", duration)
		return o.terminateOrDivert(ctx, node, wi.Token, err.Error(), duration)
	}

	edges := o.graph.SuccessorsByLabel(node.ID, outcome)
	if len(edges) == 0 {
		_ = o.completeNodeState(ctx, node.ID, stateID, "failed", "", "", "", duration)
		return fmt.Errorf("%w: gate %s produced outcome %q with no route", dag.ErrNoSuccessor, node.ID, outcome)
	}
	if err := o.recorder.RecordRoutingEvents(ctx, stateID, []landscape.RoutingEventInput{landscapeRoutingEvent(edges[0], outcome)}); err != nil {
		return err
	}
	if err := o.completeNodeState(ctx, node.ID, stateID, "completed", "", "", outcome, duration); err != nil {
		return err
	}

	ref := dag.TokenRef{TokenID: wi.Token.TokenID, BranchName: outcome}
	cwi, err := o.nav.CreateContinuationWorkItem(ref, node.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: gate continuation at %s: %w", node.ID, err)
	}
	o.queue = append(o.queue, workItem{Token: wi.Token, NodeID: cwi.NodeID, FromNodeID: node.ID})
	return nil
}

// handleAggregationArrival buffers an arriving token under its
// aggregation node and flushes the batch once its trigger fires.
func (o *Orchestrator) handleAggregationArrival(ctx context.Context, wi workItem) error {
	agg, ok := o.aggregations[wi.NodeID]
	if !ok {
		return fmt.Errorf("orchestrator: no aggregation state for %s", wi.NodeID)
	}
	if len(agg.members) == 0 {
		batchID, err := o.recorder.CreateBatch(ctx, o.runID, wi.NodeID)
		if err != nil {
			return fmt.Errorf("orchestrator: create_batch %s: %w", wi.NodeID, err)
		}
		agg.batchID = batchID
	}
	agg.add(wi.Token)
	if err := o.recorder.AddBatchMember(ctx, agg.batchID, wi.Token.TokenID); err != nil {
		return fmt.Errorf("orchestrator: add_batch_member %s: %w", wi.NodeID, err)
	}

	fires, err := agg.fires(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: aggregation trigger %s: %w", wi.NodeID, err)
	}
	if !fires {
		return nil
	}
	return o.flushAggregation(ctx, wi.NodeID, agg)
}

// flushAggregation invokes the bound batch transform over the buffered
// rows and disposes of the member tokens per the aggregation's
// configured output mode.
func (o *Orchestrator) flushAggregation(ctx context.Context, nodeID string, agg *aggregationState) error {
	node, _ := o.graph.Node(nodeID)
	bt, err := o.registry.BatchTransform(nodeID)
	if err != nil {
		return err
	}
	members := agg.members
	batchID := agg.batchID
	rows := make([]plugin.PipelineRow, len(members))
	for i, m := range members {
		rows[i] = m.Row
	}

	repTokenID := members[0].TokenID
	stateID, err := o.recorder.BeginNodeState(ctx, o.runID, nodeID, repTokenID)
	if err != nil {
		return fmt.Errorf("orchestrator: begin_node_state %s: %w", nodeID, err)
	}
	pc := o.pluginContext(nodeID, stateID, node, repTokenID)

	start := time.Now()
	result, err := bt.ProcessBatch(ctx, rows, pc)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		_ = o.completeNodeState(ctx, node.ID, stateID, "failed", "", err.Error(), "", duration)
		_ = o.recorder.UpdateBatchStatus(ctx, batchID, "failed", "process_batch_error")
		agg.reset()
		return o.failBatchMembers(ctx, members, err.Error())
	}

	switch result.Kind {
	case plugin.ResultSuccess, plugin.ResultSuccessMulti:
		outRows := result.Rows
		if result.Kind == plugin.ResultSuccess {
			outRows = []plugin.PipelineRow{result.Row}
		}
		if err := o.completeNodeState(ctx, node.ID, stateID, "completed", "", "", result.SuccessReason, duration); err != nil {
			return err
		}
		if err := o.recorder.UpdateBatchStatus(ctx, batchID, "completed", "trigger_satisfied"); err != nil {
			return err
		}
		if err := o.settleAggregationOutput(ctx, nodeID, node, agg.spec.OutputMode, batchID, members, outRows); err != nil {
			return err
		}

	case plugin.ResultError:
		_ = o.completeNodeState(ctx, node.ID, stateID, "failed", "", result.ErrReason, "", duration)
		_ = o.recorder.UpdateBatchStatus(ctx, batchID, "failed", "process_batch_error")
		agg.reset()
		return o.failBatchMembers(ctx, members, result.ErrReason)

	case plugin.ResultPending:
		if err := pc.Checkpoint.Store(ctx, result.Checkpoint); err != nil {
			return fmt.Errorf("orchestrator: store aggregation checkpoint %s: %w", nodeID, err)
		}
		return o.recorder.UpdateBatchStatus(ctx, batchID, "executing", "awaiting_external_completion")

	default:
		return fmt.Errorf("%w: %s", ErrUnknownOutcome, result.Kind)
	}

	agg.reset()
	return nil
}

func (o *Orchestrator) failBatchMembers(ctx context.Context, members []token.Info, reason string) error {
	for _, m := range members {
		if err := o.recorder.RecordTokenOutcome(ctx, m.TokenID, token.Outcome{
			Outcome: "failed", IsTerminal: true, Reason: reason,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// settleAggregationOutput disposes of a completed batch's member tokens
// per output_mode: "transform" replaces the buffered rows with the batch
// transform's output and marks every member consumed_in_batch; anything
// else ("passthrough") leaves each member's own lineage intact and
// continues it individually, unmodified by the batch's output rows.
func (o *Orchestrator) settleAggregationOutput(ctx context.Context, nodeID string, node dag.Node, outputMode, batchID string, members []token.Info, outRows []plugin.PipelineRow) error {
	if outputMode != "transform" {
		for _, m := range members {
			if err := o.recorder.RecordTokenOutcome(ctx, m.TokenID, token.Outcome{
				Outcome: "completed", IsTerminal: false, Reason: "aggregation_passthrough",
			}, nil); err != nil {
				return err
			}
			if err := o.continueToken(ctx, m, nodeID); err != nil {
				return err
			}
		}
		return nil
	}

	for _, m := range members {
		if err := o.recorder.RecordTokenOutcome(ctx, m.TokenID, token.Outcome{
			Outcome: "consumed_in_batch", IsTerminal: true,
		}, map[string]interface{}{"batch_id": batchID}); err != nil {
			return err
		}
	}
	merged, err := o.tokens.CoalesceTokens(ctx, o.runID, members, unionRow(outRows))
	if err != nil {
		return fmt.Errorf("orchestrator: coalesce_tokens for batch output %s: %w", nodeID, err)
	}

	if len(outRows) == 1 {
		if err := o.recorder.AddBatchOutput(ctx, batchID, merged.TokenID); err != nil {
			return err
		}
		return o.continueToken(ctx, merged, nodeID)
	}

	children, err := o.tokens.ExpandToken(ctx, o.runID, merged, rowsToMaps(outRows))
	if err != nil {
		return fmt.Errorf("orchestrator: expand_token for batch output %s: %w", nodeID, err)
	}
	if err := o.recorder.RecordTokenOutcome(ctx, merged.TokenID, token.Outcome{
		Outcome: "routed", IsTerminal: true, Reason: "batch_output_expanded",
	}, nil); err != nil {
		return err
	}
	for _, child := range children {
		if err := o.recorder.AddBatchOutput(ctx, batchID, child.TokenID); err != nil {
			return err
		}
		if err := o.continueToken(ctx, child, nodeID); err != nil {
			return err
		}
	}
	return nil
}

// handleCoalesceArrival records tok's arrival at a join point and
// completes the round once its policy is satisfied.
func (o *Orchestrator) handleCoalesceArrival(ctx context.Context, wi workItem) error {
	st, ok := o.coalesceStates[wi.NodeID]
	if !ok {
		return fmt.Errorf("orchestrator: no coalesce state for %s", wi.NodeID)
	}
	now := time.Now()
	if ok := st.arrive(wi.FromNodeID, wi.Token, now); !ok {
		return o.recorder.RecordTokenOutcome(ctx, wi.Token.TokenID, token.Outcome{
			Outcome: "routed", IsTerminal: false, Reason: "late_coalesce_arrival",
		}, nil)
	}
	if !st.ready(now) {
		return nil
	}
	merged, parents := st.merge()
	if err := o.completeCoalesce(ctx, wi.NodeID, merged, parents); err != nil {
		return err
	}
	st.reset()
	return nil
}

// completeCoalesce merges a satisfied round's parents into one child
// token, marks every parent routed/terminal, and continues the child
// along the coalesce's declared successor.
func (o *Orchestrator) completeCoalesce(ctx context.Context, nodeID string, merged map[string]interface{}, parents []token.Info) error {
	for _, p := range parents {
		if err := o.recorder.RecordTokenOutcome(ctx, p.TokenID, token.Outcome{
			Outcome: "routed", IsTerminal: true, Reason: "coalesced",
		}, nil); err != nil {
			return err
		}
	}
	child, err := o.tokens.CoalesceTokens(ctx, o.runID, parents, plugin.PipelineRow{
		Data:     merged,
		Contract: schema.Contract{Mode: schema.ModeDynamic},
	})
	if err != nil {
		return fmt.Errorf("orchestrator: coalesce_tokens at %s: %w", nodeID, err)
	}
	return o.continueToken(ctx, child, nodeID)
}

// handleSink buffers a row for nodeID's sink, flushing once the
// configured batch size is reached.
func (o *Orchestrator) handleSink(ctx context.Context, wi workItem, node dag.Node) error {
	buf, ok := o.sinkBuffers[node.ID]
	if !ok {
		return fmt.Errorf("orchestrator: no sink buffer for %s", node.ID)
	}
	buf.rows = append(buf.rows, wi.Token.Row.Data)
	buf.tokens = append(buf.tokens, wi.Token)
	if len(buf.rows) < buf.batchSize {
		return nil
	}
	return o.flushSink(ctx, node.ID, buf)
}

// flushSink writes a sink's buffered rows in one call, records the
// resulting artifact, and marks every buffered token completed.
func (o *Orchestrator) flushSink(ctx context.Context, nodeID string, buf *sinkBuffer) error {
	if len(buf.rows) == 0 {
		return nil
	}
	node, _ := o.graph.Node(nodeID)
	sink, err := o.registry.Sink(nodeID)
	if err != nil {
		return err
	}
	repTokenID := buf.tokens[0].TokenID
	stateID, err := o.recorder.BeginNodeState(ctx, o.runID, nodeID, repTokenID)
	if err != nil {
		return fmt.Errorf("orchestrator: begin_node_state %s: %w", nodeID, err)
	}
	pc := o.pluginContext(nodeID, stateID, node, repTokenID)

	start := time.Now()
	artifact, err := sink.Write(ctx, buf.rows, pc)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		_ = o.completeNodeState(ctx, nodeID, stateID, "failed", "", err.Error(), "", duration)
		for _, t := range buf.tokens {
			if rerr := o.recorder.RecordTokenOutcome(ctx, t.TokenID, token.Outcome{
				Outcome: "failed", IsTerminal: true, Reason: err.Error(),
			}, nil); rerr != nil {
				return rerr
			}
		}
		buf.rows, buf.tokens = nil, nil
		return fmt.Errorf("orchestrator: sink write %s: %w", nodeID, err)
	}
	if err := o.completeNodeState(ctx, nodeID, stateID, "completed", artifact.Checksum, "", "", duration); err != nil {
		return err
	}
	artifactID, err := o.recorder.RegisterArtifact(ctx, o.runID, nodeID, landscapeArtifact(artifact))
	if err != nil {
		return fmt.Errorf("orchestrator: register_artifact %s: %w", nodeID, err)
	}
	for _, t := range buf.tokens {
		if err := o.recorder.RecordTokenOutcome(ctx, t.TokenID, token.Outcome{
			Outcome: "completed", IsTerminal: true,
		}, map[string]interface{}{"artifact_id": artifactID}); err != nil {
			return err
		}
	}
	buf.rows, buf.tokens = nil, nil
	return nil
}

func rowsToMaps(rows []plugin.PipelineRow) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r.Data
	}
	return out
}

// unionRow builds a single plugin.PipelineRow out of a batch transform's
// (possibly multi-row) output for use as CoalesceTokens' merged-data
// argument; ExpandToken is what actually fans a multi-row result back
// out to individual continuations afterward.
func unionRow(rows []plugin.PipelineRow) plugin.PipelineRow {
	if len(rows) == 0 {
		return plugin.PipelineRow{Data: map[string]interface{}{}, Contract: schema.Contract{Mode: schema.ModeDynamic}}
	}
	return rows[0]
}

func rowHash(row plugin.PipelineRow) string {
	h, err := canonHashRow(row)
	if err != nil {
		return ""
	}
	return h
}
