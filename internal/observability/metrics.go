// Package observability holds the gateway's prometheus collectors.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provenance labels for pipeline stage calls.
const (
	ProvenanceMCP  = "mcp"
	ProvenanceHTTP = "http"
)

// Metrics groups the collectors registered on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	stageCalls    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	mcpFallbacks  *prometheus.CounterVec
	redactions    *prometheus.CounterVec
	auditDropped  prometheus.Counter
	pipelineRuns  *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_tool_duration_milliseconds",
				Help:    "Tool invocation duration in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
			},
			[]string{"tool"},
		),
		stageCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_pipeline_stage_calls_total",
				Help: "Total number of pipeline stage calls",
			},
			[]string{"stage", "provenance", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_pipeline_stage_duration_milliseconds",
				Help:    "Pipeline stage duration in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 120000},
			},
			[]string{"stage", "provenance"},
		),
		mcpFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_mcp_fallbacks_total",
				Help: "Stage calls that fell back from MCP to HTTP",
			},
			[]string{"stage"},
		),
		redactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_redactions_total",
				Help: "Redacted matches by pattern",
			},
			[]string{"pattern"},
		),
		auditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_audit_events_dropped_total",
				Help: "Audit events that could not be queued",
			},
		),
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_pipeline_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.toolCalls,
		m.toolDuration,
		m.stageCalls,
		m.stageDuration,
		m.mcpFallbacks,
		m.redactions,
		m.auditDropped,
		m.pipelineRuns,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTool records one tool invocation.
func (m *Metrics) ObserveTool(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status(success)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(float64(d.Milliseconds()))
}

// ObserveStage records one pipeline stage call.
func (m *Metrics) ObserveStage(stage, provenance string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.stageCalls.WithLabelValues(stage, provenance, status(success)).Inc()
	m.stageDuration.WithLabelValues(stage, provenance).Observe(float64(d.Milliseconds()))
}

// MCPFallback counts a stage that dropped to the HTTP path.
func (m *Metrics) MCPFallback(stage string) {
	if m == nil {
		return
	}
	m.mcpFallbacks.WithLabelValues(stage).Inc()
}

// AddRedactions adds per-pattern match counts.
func (m *Metrics) AddRedactions(counts map[string]int) {
	if m == nil {
		return
	}
	for name, n := range counts {
		m.redactions.WithLabelValues(name).Add(float64(n))
	}
}

// AuditDropped counts an audit event that was not queued.
func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// ObservePipeline records the outcome of one pipeline run.
func (m *Metrics) ObservePipeline(success bool) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
