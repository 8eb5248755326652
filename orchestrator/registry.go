package orchestrator

import (
	"fmt"

	"github.com/dshills/corepipe/plugin"
)

// Registry resolves a node id to the plugin instance bound to it. The
// config loader and plugin-constructor wiring (outside this package)
// populate a Registry once, before Run starts; the orchestrator only
// ever reads from it.
type Registry struct {
	sources         map[string]plugin.Source
	transforms      map[string]plugin.Transform
	batchTransforms map[string]plugin.BatchTransform
	gates           map[string]plugin.Gate
	sinks           map[string]plugin.Sink
}

// NewRegistry returns an empty Registry ready for Bind* calls.
func NewRegistry() *Registry {
	return &Registry{
		sources:         make(map[string]plugin.Source),
		transforms:      make(map[string]plugin.Transform),
		batchTransforms: make(map[string]plugin.BatchTransform),
		gates:           make(map[string]plugin.Gate),
		sinks:           make(map[string]plugin.Sink),
	}
}

func (r *Registry) BindSource(nodeID string, p plugin.Source) { r.sources[nodeID] = p }
func (r *Registry) BindTransform(nodeID string, p plugin.Transform) { r.transforms[nodeID] = p }
func (r *Registry) BindBatchTransform(nodeID string, p plugin.BatchTransform) { r.batchTransforms[nodeID] = p }
func (r *Registry) BindGate(nodeID string, p plugin.Gate) { r.gates[nodeID] = p }
func (r *Registry) BindSink(nodeID string, p plugin.Sink) { r.sinks[nodeID] = p }

func (r *Registry) Source(nodeID string) (plugin.Source, error) {
	p, ok := r.sources[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNoPluginBound, nodeID)
	}
	return p, nil
}

func (r *Registry) Transform(nodeID string) (plugin.Transform, error) {
	p, ok := r.transforms[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: transform %s", ErrNoPluginBound, nodeID)
	}
	return p, nil
}

func (r *Registry) BatchTransform(nodeID string) (plugin.BatchTransform, error) {
	p, ok := r.batchTransforms[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: aggregation %s", ErrNoPluginBound, nodeID)
	}
	return p, nil
}

func (r *Registry) Gate(nodeID string) (plugin.Gate, error) {
	p, ok := r.gates[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: gate %s", ErrNoPluginBound, nodeID)
	}
	return p, nil
}

func (r *Registry) Sink(nodeID string) (plugin.Sink, error) {
	p, ok := r.sinks[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: sink %s", ErrNoPluginBound, nodeID)
	}
	return p, nil
}
