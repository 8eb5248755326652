// Package metrics exposes Prometheus instrumentation for the pipeline
// engine: scheduler queue depth, per-node execution latency, recorder
// write latency, and pooled-executor throttle behavior.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric this package registers, all namespaced
// "corepipe_". A nil *Metrics disables collection without changing
// call sites — every method is then a no-op.
type Metrics struct {
	enabled bool

	queueDepth        prometheus.Gauge
	inflightNodes     prometheus.Gauge
	nodeLatency       *prometheus.HistogramVec
	recorderLatency   *prometheus.HistogramVec
	poolThrottleDelay prometheus.Gauge
	poolRejections    *prometheus.CounterVec
	routedOutcomes    *prometheus.CounterVec
}

// New registers every metric against registry and returns the handle
// used to record them. A nil registry uses prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corepipe",
			Name:      "queue_depth",
			Help:      "Number of work items waiting in the orchestrator's scheduler queue",
		}),
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corepipe",
			Name:      "inflight_node_states",
			Help:      "Node state visits currently open (begun but not yet completed)",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corepipe",
			Name:      "node_state_latency_ms",
			Help:      "Duration of one node state visit, from begin to completion",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		recorderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corepipe",
			Name:      "recorder_write_latency_ms",
			Help:      "Duration of a single Landscape recorder write",
		}, []string{"operation"}),
		poolThrottleDelay: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corepipe",
			Name:      "pool_throttle_delay_ms",
			Help:      "Current AIMD-computed delay inserted between pooled executor dispatches",
		}),
		poolRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corepipe",
			Name:      "pool_rejections_total",
			Help:      "Work items rejected by the pooled executor's backpressure gate",
		}, []string{"reason"}),
		routedOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corepipe",
			Name:      "token_outcomes_total",
			Help:      "Terminal and non-terminal token outcomes recorded, by outcome and reason",
		}, []string{"outcome", "reason"}),
	}
}

// UpdateQueueDepth sets the current scheduler queue length.
func (m *Metrics) UpdateQueueDepth(depth int) {
	if m == nil || !m.enabled {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// UpdateInflightNodes sets the current number of open node state visits.
func (m *Metrics) UpdateInflightNodes(count int) {
	if m == nil || !m.enabled {
		return
	}
	m.inflightNodes.Set(float64(count))
}

// RecordNodeLatency records one node state visit's duration (in
// milliseconds) and outcome.
func (m *Metrics) RecordNodeLatency(nodeID, status string, ms int64) {
	if m == nil || !m.enabled {
		return
	}
	m.nodeLatency.WithLabelValues(nodeID, status).Observe(float64(ms))
}

// RecordRecorderLatency records one Landscape recorder write's duration.
func (m *Metrics) RecordRecorderLatency(operation string, d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.recorderLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

// UpdatePoolThrottleDelay sets the pooled executor's current AIMD delay.
func (m *Metrics) UpdatePoolThrottleDelay(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.poolThrottleDelay.Set(float64(d.Milliseconds()))
}

// IncrementPoolRejections increments the pooled executor's rejection
// counter for reason (e.g. "queue_full", "max_concurrent").
func (m *Metrics) IncrementPoolRejections(reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.poolRejections.WithLabelValues(reason).Inc()
}

// IncrementTokenOutcome increments the outcome counter for one recorded
// token outcome.
func (m *Metrics) IncrementTokenOutcome(outcome, reason string) {
	if m == nil || !m.enabled {
		return
	}
	m.routedOutcomes.WithLabelValues(outcome, reason).Inc()
}

// Disable stops recording without unregistering collectors.
func (m *Metrics) Disable() {
	if m == nil {
		return
	}
	m.enabled = false
}

// Enable resumes recording after Disable.
func (m *Metrics) Enable() {
	if m == nil {
		return
	}
	m.enabled = true
}
