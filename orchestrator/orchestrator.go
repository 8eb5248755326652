// Package orchestrator drives rows, wrapped as tokens, through a
// constructed DAG: it reads from the source, dispatches each work item
// to the plugin bound to its node, handles forks, expansions, coalesce
// joins, and aggregation buffering, and finalizes the run with a
// computed reproducibility grade. It is a single-threaded cooperative
// scheduler over an explicit work queue — parallelism is delegated
// entirely to the pooled executor a batch-aware or per-row transform
// chooses to use internally.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/corepipe/canon"
	"github.com/dshills/corepipe/checkpoint"
	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/landscape"
	"github.com/dshills/corepipe/llmclient"
	"github.com/dshills/corepipe/metrics"
	"github.com/dshills/corepipe/obslog"
	"github.com/dshills/corepipe/payload"
	"github.com/dshills/corepipe/plugin"
	"github.com/dshills/corepipe/reproducibility"
	"github.com/dshills/corepipe/schema"
	"github.com/dshills/corepipe/token"
)

// sinkBuffer accumulates rows bound for one sink until its configured
// batch size is reached, so a sink's write granularity need not be one
// row per call.
type sinkBuffer struct {
	rows      []map[string]interface{}
	tokens    []token.Info
	batchSize int
}

// Orchestrator is the central driver described in spec.md §4.12.
type Orchestrator struct {
	graph    *dag.Graph
	nav      *dag.Navigator
	cfg      dag.Config
	registry *Registry

	recorder     landscape.Recorder
	payloadStore payload.Store
	tracer       trace.Tracer

	tokens      *token.Manager
	checkpoints *checkpoint.Manager

	runID string
	queue []workItem

	coalesceStates map[string]*coalesceState
	aggregations   map[string]*aggregationState
	sinkBuffers    map[string]*sinkBuffer

	llmProvider     llmclient.ChatModel
	llmProviderName string
	llmModelName    string

	metrics *metrics.Metrics

	canceled atomic.Bool
}

// BindMetrics attaches a Prometheus metrics handle. Unset by default, in
// which case every metrics call below is a nil-safe no-op.
func (o *Orchestrator) BindMetrics(m *metrics.Metrics) { o.metrics = m }

// BindLLMProvider configures the ChatModel every plugin.Context.LLMClient
// wraps: each node invocation gets its own audited client bound to that
// invocation's node state, so every Chat call it makes becomes exactly one
// Call row. Unset by default, leaving plugin.Context.LLMClient nil.
func (o *Orchestrator) BindLLMProvider(providerName, modelName string, provider llmclient.ChatModel) {
	o.llmProvider = provider
	o.llmProviderName = providerName
	o.llmModelName = modelName
}

// New builds an Orchestrator from a constructed graph, its navigator, a
// bound plugin registry, and the subsystems it audits through.
func New(res *dag.ConstructResult, cfg dag.Config, registry *Registry, recorder landscape.Recorder, store payload.Store, tracer trace.Tracer) (*Orchestrator, error) {
	o := &Orchestrator{
		graph:        res.Graph,
		nav:          res.Navigator,
		cfg:          cfg,
		registry:     registry,
		recorder:     recorder,
		payloadStore: store,
		tracer:       tracer,
		tokens:       token.NewManager(recorder),
		checkpoints:  checkpoint.NewManager(recorder, res.Graph),

		coalesceStates: make(map[string]*coalesceState),
		aggregations:   make(map[string]*aggregationState),
		sinkBuffers:    make(map[string]*sinkBuffer),
	}

	predecessors := make(map[string][]string)
	for _, e := range res.Graph.Edges() {
		if res.Graph.IsCoalesce(e.To) {
			predecessors[e.To] = append(predecessors[e.To], e.From)
		}
	}
	for _, c := range cfg.Coalesce {
		id := "coalesce:" + c.Name
		o.coalesceStates[id] = newCoalesceState(c, predecessors[id])
	}
	for _, a := range cfg.Aggregations {
		id := "aggregation:" + a.Name
		st, err := newAggregationState(a)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: aggregation %s: %w", a.Name, err)
		}
		o.aggregations[id] = st
	}
	for name, s := range cfg.Sinks {
		batchSize := 1
		if v, ok := s.Options["batch_size"]; ok {
			if n, ok := v.(int); ok && n > 0 {
				batchSize = n
			}
		}
		o.sinkBuffers["sink:"+name] = &sinkBuffer{batchSize: batchSize}
	}

	return o, nil
}

// Cancel requests cooperative cancellation: the orchestrator checks it
// between work items, so the item in progress finishes; the items still
// queued are not processed, sinks are flushed and closed, and the run is
// finalized as cancelled. No checkpoint is written on cancellation.
func (o *Orchestrator) Cancel() { o.canceled.Store(true) }

// Run executes the full pipeline: begin run, register topology, ingest
// source rows, drain the work queue, finalize. It returns the run id
// regardless of outcome so the caller can inspect the audit trail even
// on failure.
func (o *Orchestrator) Run(ctx context.Context) (runID string, err error) {
	runID, err = o.recorder.BeginRun(ctx, configSnapshot(o.cfg), "v1")
	if err != nil {
		return "", fmt.Errorf("orchestrator: begin run: %w", err)
	}
	o.runID = runID
	log := obslog.WithRun(runID)
	log.Info().Msg("run started")

	if err := o.registerTopology(ctx); err != nil {
		log.Error().Err(err).Msg("topology registration failed")
		return runID, err
	}

	if err := o.ingestSource(ctx); err != nil {
		log.Error().Err(err).Msg("source ingestion failed")
		o.finalize(ctx, "failed")
		return runID, err
	}

	if err := o.drain(ctx); err != nil {
		log.Error().Err(err).Msg("drain failed")
		o.finalize(ctx, statusForErr(err))
		return runID, err
	}

	status := finalStatus(o.canceled.Load())
	o.finalize(ctx, status)
	log.Info().Str("status", status).Msg("run finished")
	return runID, nil
}

func finalStatus(canceled bool) string {
	if canceled {
		return "cancelled"
	}
	return "completed"
}

func statusForErr(err error) string {
	if err == ErrCanceled {
		return "cancelled"
	}
	return "failed"
}

// registerTopology records every node and edge in the current DAG
// against the just-begun run, using each node's declared schema.
func (o *Orchestrator) registerTopology(ctx context.Context) error {
	for _, n := range o.graph.Nodes() {
		if err := o.recorder.RegisterNode(ctx, o.runID, n.ID, string(n.Type), n.PluginName, n.ConfigHash, string(n.Determinism), string(n.SchemaMode), schemaFieldsMap(n.SchemaFields)); err != nil {
			return fmt.Errorf("orchestrator: register node %s: %w", n.ID, err)
		}
	}
	for _, e := range o.graph.Edges() {
		if err := o.recorder.RegisterEdge(ctx, o.runID, edgeID(e), e.From, e.To, e.Label, string(e.Mode)); err != nil {
			return fmt.Errorf("orchestrator: register edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return nil
}

// ingestSource reads every row the source yields, recording a terminal
// quarantine outcome for invalid rows without doing any further work,
// and enqueuing a continuation work item for every valid one.
func (o *Orchestrator) ingestSource(ctx context.Context) error {
	src, err := o.registry.Source("source")
	if err != nil {
		return err
	}
	rows, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: source load: %w", err)
	}

	index := 0
	for sr := range rows {
		if !sr.Valid {
			if err := o.quarantine(ctx, index, sr); err != nil {
				return err
			}
			index++
			continue
		}
		tok, err := o.tokens.CreateInitialToken(ctx, o.runID, "source", index, sr.Row)
		if err != nil {
			return fmt.Errorf("orchestrator: create initial token: %w", err)
		}
		if err := o.continueToken(ctx, tok, "source"); err != nil {
			return err
		}
		index++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) quarantine(ctx context.Context, index int, sr plugin.SourceRow) error {
	rowID, err := o.recorder.CreateRow(ctx, o.runID, "source", index, sr.RawData)
	if err != nil {
		return fmt.Errorf("orchestrator: create_row (quarantine): %w", err)
	}
	tokenID, err := o.recorder.CreateToken(ctx, o.runID, rowID, sr.RawData)
	if err != nil {
		return fmt.Errorf("orchestrator: create_token (quarantine): %w", err)
	}
	return o.recorder.RecordTokenOutcome(ctx, tokenID, token.Outcome{
		Outcome:    "discarded",
		IsTerminal: true,
		Reason:     sr.QuarantineReason,
	}, map[string]interface{}{"quarantine_reason": sr.QuarantineReason})
}

// drain processes the work queue to exhaustion, checking the
// cancellation flag and the context between every item.
func (o *Orchestrator) drain(ctx context.Context) error {
	for len(o.queue) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if o.canceled.Load() {
			return ErrCanceled
		}

		item := o.queue[0]
		o.queue = o.queue[1:]
		o.metrics.UpdateQueueDepth(len(o.queue))
		if err := o.dispatch(ctx, item); err != nil {
			return err
		}
	}
	return o.settleOutstanding(ctx)
}

// settleOutstanding force-flushes aggregation buffers and best-effort or
// satisfied-quorum coalesce rounds once the source is exhausted and no
// further token will arrive to re-trigger them. It recurses into drain
// only when a flush actually enqueued new work, so a quiescent pipeline
// (the common case) converges in one pass rather than looping forever
// between the two.
func (o *Orchestrator) settleOutstanding(ctx context.Context) error {
	now := time.Now()
	flushed := false

	for nodeID, agg := range o.aggregations {
		if len(agg.members) == 0 {
			continue
		}
		if err := o.flushAggregation(ctx, nodeID, agg); err != nil {
			return err
		}
		flushed = true
	}
	for nodeID, st := range o.coalesceStates {
		if st.resolved || len(st.arrived) == 0 {
			continue
		}
		if st.spec.Policy == "require_all" {
			continue // genuinely incomplete: a branch never arrived
		}
		if !st.ready(now) && st.spec.Policy != "best_effort" {
			continue
		}
		// require_all rounds and not-yet-ready rounds of any policy other
		// than best_effort are skipped above; best_effort rounds are
		// forced here even before their timeout, since the source is
		// exhausted and no further arrival is coming.
		merged, parents := st.merge()
		if err := o.completeCoalesce(ctx, nodeID, merged, parents); err != nil {
			return err
		}
		st.reset()
		flushed = true
	}

	if !flushed || len(o.queue) == 0 {
		return nil
	}
	return o.drain(ctx)
}

// completeNodeState records a node state's completion through the
// Landscape recorder and, if bound, the node latency metric in one call.
func (o *Orchestrator) completeNodeState(ctx context.Context, nodeID, stateID, status, outputHash, errText, successReason string, durationMS int64) error {
	o.metrics.RecordNodeLatency(nodeID, status, durationMS)
	return o.recorder.CompleteNodeState(ctx, stateID, status, outputHash, errText, successReason, durationMS)
}

func (o *Orchestrator) dispatch(ctx context.Context, wi workItem) error {
	node, exists := o.graph.Node(wi.NodeID)
	if !exists {
		return fmt.Errorf("%w: %s", dag.ErrUnknownNode, wi.NodeID)
	}
	switch node.Type {
	case dag.NodeCoalesce:
		return o.handleCoalesceArrival(ctx, wi)
	case dag.NodeAggregation:
		return o.handleAggregationArrival(ctx, wi)
	case dag.NodeGate:
		return o.handleGate(ctx, wi, node)
	case dag.NodeSink:
		return o.handleSink(ctx, wi, node)
	default:
		return o.handleTransform(ctx, wi, node)
	}
}

// continueToken resolves tok's next hop from fromNodeID via the
// navigator and enqueues it.
func (o *Orchestrator) continueToken(ctx context.Context, tok token.Info, fromNodeID string) error {
	ref := dag.TokenRef{
		TokenID:        tok.TokenID,
		BranchName:     tok.BranchName,
		CoalesceNodeID: tok.CoalesceNodeID,
		CoalesceName:   tok.CoalesceName,
	}
	cwi, err := o.nav.CreateContinuationWorkItem(ref, fromNodeID)
	if err != nil {
		return fmt.Errorf("orchestrator: continue token from %s: %w", fromNodeID, err)
	}
	o.queue = append(o.queue, workItem{Token: tok, NodeID: cwi.NodeID, FromNodeID: fromNodeID})
	return nil
}

func (o *Orchestrator) pluginContext(nodeID, stateID string, node dag.Node, tokenID string) plugin.Context {
	pc := plugin.Context{
		RunID:        o.runID,
		NodeID:       nodeID,
		NodeStateID:  stateID,
		Config:       node.ConfigJSON,
		Recorder:     o.recorder,
		PayloadStore: o.payloadStore,
		Tracer:       o.tracer,
		Checkpoint:   &checkpointSlot{mgr: o.checkpoints, recorder: o.recorder, runID: o.runID, nodeID: nodeID, tokenID: tokenID},
		Router:       o,
		HTTPClient:   llmclient.NewAuditedHTTPClient(o.recorder, stateID),
	}
	if o.llmProvider != nil {
		pc.LLMClient = llmclient.NewAuditedClient(o.llmProviderName, o.llmModelName, o.llmProvider, o.recorder, stateID)
	}
	return pc
}

// RouteToSink satisfies plugin.SinkRouter: a plugin that wants to divert
// a row to a named sink directly, bypassing its declared on_success
// wiring, gets a synchronous single-row write rather than joining that
// sink's ordinary buffer.
func (o *Orchestrator) RouteToSink(ctx context.Context, sinkName string, row map[string]interface{}) error {
	sinkNodeID := "sink:" + sinkName
	sink, err := o.registry.Sink(sinkNodeID)
	if err != nil {
		return err
	}
	node, _ := o.graph.Node(sinkNodeID)

	rowID, err := o.recorder.CreateRow(ctx, o.runID, sinkNodeID, 0, row)
	if err != nil {
		return fmt.Errorf("orchestrator: route_to_sink create_row: %w", err)
	}
	tokenID, err := o.recorder.CreateToken(ctx, o.runID, rowID, row)
	if err != nil {
		return fmt.Errorf("orchestrator: route_to_sink create_token: %w", err)
	}
	stateID, err := o.recorder.BeginNodeState(ctx, o.runID, sinkNodeID, tokenID)
	if err != nil {
		return fmt.Errorf("orchestrator: route_to_sink begin_node_state: %w", err)
	}
	pc := o.pluginContext(sinkNodeID, stateID, node, tokenID)

	start := time.Now()
	artifact, werr := sink.Write(ctx, []map[string]interface{}{row}, pc)
	duration := time.Since(start).Milliseconds()

	if werr != nil {
		_ = o.completeNodeState(ctx, sinkNodeID, stateID, "failed", "", werr.Error(), "", duration)
		_ = o.recorder.RecordTokenOutcome(ctx, tokenID, token.Outcome{Outcome: "failed", IsTerminal: true, Reason: werr.Error()}, nil)
		return fmt.Errorf("orchestrator: route_to_sink write: %w", werr)
	}
	if err := o.completeNodeState(ctx, sinkNodeID, stateID, "completed", artifact.Checksum, "", "", duration); err != nil {
		return err
	}
	artifactID, err := o.recorder.RegisterArtifact(ctx, o.runID, sinkNodeID, landscapeArtifact(artifact))
	if err != nil {
		return fmt.Errorf("orchestrator: route_to_sink register_artifact: %w", err)
	}
	return o.recorder.RecordTokenOutcome(ctx, tokenID, token.Outcome{Outcome: "completed", IsTerminal: true}, map[string]interface{}{
		"sink_name": sinkName, "artifact_id": artifactID,
	})
}

// finalize flushes and closes every sink, grades reproducibility from
// the run's registered node determinisms, and marks the run immutable.
// It is best-effort: a flush/close failure is not allowed to mask the
// error (if any) that caused Run to stop, so flush, close and finalize
// errors are discarded and never returned to Run's caller.
func (o *Orchestrator) finalize(ctx context.Context, status string) {
	for nodeID, buf := range o.sinkBuffers {
		_ = o.flushSink(ctx, nodeID, buf)
		if sink, err := o.registry.Sink(nodeID); err == nil {
			_ = sink.Flush(ctx)
			_ = sink.Close(ctx)
		}
	}

	determinismByNode, err := o.recorder.NodeDeterminisms(ctx, o.runID)
	grade := reproducibility.FullReproducible
	if err == nil {
		determinisms := make([]dag.Determinism, 0, len(determinismByNode))
		for _, d := range determinismByNode {
			determinisms = append(determinisms, dag.Determinism(d))
		}
		grade = reproducibility.Compute(determinisms)
	}
	_ = o.recorder.FinalizeRun(ctx, o.runID, status, string(grade))
}

// checkpointSlot bridges a plugin's CheckpointSlot to the checkpoint
// manager, scoped to one (node, token) pair. Only one in-flight pending
// invocation per (run, node) is addressable this way, since
// landscape.Recorder.LatestCheckpoint resolves by node rather than by
// token — adequate for the aggregation checkpoints this is primarily
// built for, a known limitation for a row-wise transform that returns
// Pending concurrently for more than one in-flight token on the same
// node.
type checkpointSlot struct {
	mgr      *checkpoint.Manager
	recorder landscape.Recorder
	runID    string
	nodeID   string
	tokenID  string
}

func (s *checkpointSlot) Load(ctx context.Context) (interface{}, bool, error) {
	rec, err := s.recorder.LatestCheckpoint(ctx, s.runID, s.nodeID)
	if err != nil || rec == nil {
		return nil, false, err
	}
	v, ok := rec.AggregationState["value"]
	return v, ok, nil
}

func (s *checkpointSlot) Store(ctx context.Context, state interface{}) error {
	_, err := s.mgr.Write(ctx, s.runID, s.nodeID, s.tokenID, map[string]interface{}{"value": state})
	return err
}

func edgeID(e dag.Edge) string {
	if e.ID != "" {
		return e.ID
	}
	return e.From + "->" + e.To + ":" + e.Label
}

func schemaFieldsMap(fields []schema.Field) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		out[f.Name] = map[string]interface{}{
			"type":     string(f.Type),
			"optional": f.Optional,
		}
	}
	return out
}

func landscapeRoutingEvent(edge dag.Edge, outcome string) landscape.RoutingEventInput {
	return landscape.RoutingEventInput{
		EdgeID:         edgeID(edge),
		RoutingGroupID: newRoutingGroupID(),
		Ordinal:        0,
		Mode:           string(edge.Mode),
		Reason:         map[string]interface{}{"outcome": outcome},
	}
}

func landscapeArtifact(a plugin.ArtifactDescriptor) landscape.ArtifactInput {
	return landscape.ArtifactInput{
		URI:            a.URI,
		ContentHash:    a.Checksum,
		SizeBytes:      a.SizeBytes,
		IdempotencyKey: a.Checksum,
		Mode:           a.Mode,
		ExtraMeta:      a.ExtraMeta,
	}
}

func canonHashRow(row plugin.PipelineRow) (string, error) {
	return canon.Hash(row.Data)
}

func configSnapshot(cfg dag.Config) map[string]interface{} {
	snapshot := map[string]interface{}{
		"source_plugin": cfg.Source.Plugin,
		"default_sink":  cfg.DefaultSink,
	}
	transforms := make([]interface{}, 0, len(cfg.Transforms))
	for _, t := range cfg.Transforms {
		transforms = append(transforms, map[string]interface{}{"name": t.Name, "plugin": t.Plugin})
	}
	snapshot["transforms"] = transforms
	sinks := make([]interface{}, 0, len(cfg.Sinks))
	for name, s := range cfg.Sinks {
		sinks = append(sinks, map[string]interface{}{"name": name, "plugin": s.Plugin})
	}
	snapshot["sinks"] = sinks
	return snapshot
}

func newRoutingGroupID() string { return uuid.NewString() }
