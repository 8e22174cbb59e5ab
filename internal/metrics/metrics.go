// Package metrics provides Prometheus instrumentation for memgraph.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry and every memgraph collector. A nil or
// disabled Manager accepts all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Recall
	recalls        prometheus.Counter
	recallDuration prometheus.Histogram
	recallResults  prometheus.Histogram

	// Consolidation
	consolidations *prometheus.CounterVec
	nodesAffected  *prometheus.CounterVec

	// Replication
	syncs        *prometheus.CounterVec
	syncDuration prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates an enabled Manager with Go runtime and process collectors.
func New() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{registry: registry, enabled: true}
	m.initRecallMetrics()
	m.initConsolidationMetrics()
	m.initSyncMetrics()
	m.initHTTPMetrics()
	return m
}

// NoOp returns a disabled Manager.
func NoOp() *Manager {
	return &Manager{}
}

func (m *Manager) on() bool {
	return m != nil && m.enabled
}

// Enabled reports whether collection is on.
func (m *Manager) Enabled() bool { return m.on() }

// Registry exposes the underlying registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.on() {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if !m.on() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) initRecallMetrics() {
	m.recalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memgraph_recall_total",
		Help: "Total number of recall calls",
	})
	m.recallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memgraph_recall_duration_seconds",
		Help:    "Recall latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	m.recallResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memgraph_recall_results",
		Help:    "Number of results returned per recall, related nodes included",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
	m.registry.MustRegister(m.recalls, m.recallDuration, m.recallResults)
}

func (m *Manager) initConsolidationMetrics() {
	m.consolidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_consolidation_total",
		Help: "Consolidation operations by action",
	}, []string{"action"})
	m.nodesAffected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_consolidation_nodes_total",
		Help: "Nodes touched by consolidation operations, by action",
	}, []string{"action"})
	m.registry.MustRegister(m.consolidations, m.nodesAffected)
}

func (m *Manager) initSyncMetrics() {
	m.syncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_pack_sync_total",
		Help: "Pack sync attempts by outcome (updated, current, failed)",
	}, []string{"outcome"})
	m.syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memgraph_pack_sync_duration_seconds",
		Help:    "Per-pack sync duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
	})
	m.registry.MustRegister(m.syncs, m.syncDuration)
}

func (m *Manager) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memgraph_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})
	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// RecordRecall records one recall call.
func (m *Manager) RecordRecall(duration time.Duration, results int) {
	if !m.on() {
		return
	}
	m.recalls.Inc()
	m.recallDuration.Observe(duration.Seconds())
	m.recallResults.Observe(float64(results))
}

// RecordConsolidation records a consolidation action touching n nodes.
func (m *Manager) RecordConsolidation(action string, n int) {
	if !m.on() {
		return
	}
	m.consolidations.WithLabelValues(action).Inc()
	m.nodesAffected.WithLabelValues(action).Add(float64(n))
}

// RecordSync records a per-pack sync outcome.
func (m *Manager) RecordSync(outcome string, duration time.Duration) {
	if !m.on() {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request with method, route pattern and status.
func (m *Manager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if !m.on() {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
