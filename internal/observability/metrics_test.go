package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveTool(t *testing.T) {
	m := NewMetrics()

	m.ObserveTool("fs_read", true, 5*time.Millisecond)
	m.ObserveTool("fs_read", false, time.Millisecond)
	m.ObserveTool("fs_read", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("fs_read", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("fs_read", "error")))
}

func TestMetrics_StageAndFallback(t *testing.T) {
	m := NewMetrics()

	m.MCPFallback("gap_analysis")
	m.ObserveStage("gap_analysis", ProvenanceHTTP, true, 30*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.mcpFallbacks.WithLabelValues("gap_analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageCalls.WithLabelValues("gap_analysis", "http", "success")))
}

func TestMetrics_Redactions(t *testing.T) {
	m := NewMetrics()

	m.AddRedactions(map[string]int{"email": 2, "ipv4": 1})
	m.AddRedactions(map[string]int{"email": 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.redactions.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redactions.WithLabelValues("ipv4")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTool("fs_read", true, time.Millisecond)
		m.ObserveStage("report_generation", ProvenanceMCP, false, time.Millisecond)
		m.MCPFallback("report_generation")
		m.AddRedactions(map[string]int{"email": 1})
		m.AuditDropped()
		m.ObservePipeline(true)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObservePipeline(true)
	m.AuditDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gateway_pipeline_runs_total{status="success"} 1`)
	assert.Contains(t, string(body), "gateway_audit_events_dropped_total 1")
}
