package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/redaction"
	"github.com/upb/maturity-gateway/services/tools"
	"go.uber.org/zap"
)

const maxStageResponseBytes = 32 << 20

// CallerConfig configures a StageCaller.
type CallerConfig struct {
	// StageURLs maps a stage name to its service base URL.
	StageURLs map[string]string
	// StageTimeout bounds each HTTP stage call. There are no retries.
	StageTimeout time.Duration
	MCPEnabled   bool
}

// StageCaller runs a single stage through MCP, falling back to HTTP once.
type StageCaller struct {
	cfg        CallerConfig
	mcp        MCPClient
	invoker    *tools.Invoker
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// CallerOption configures a StageCaller.
type CallerOption func(*StageCaller)

// WithMCP enables the MCP path. Calls go through invoker when it is non-nil
// so they are audited like any other tool call.
func WithMCP(client MCPClient, invoker *tools.Invoker) CallerOption {
	return func(c *StageCaller) {
		c.mcp = client
		c.invoker = invoker
	}
}

// WithCallerMetrics records stage metrics.
func WithCallerMetrics(m *observability.Metrics) CallerOption {
	return func(c *StageCaller) {
		c.metrics = m
	}
}

// NewStageCaller creates a StageCaller.
func NewStageCaller(cfg CallerConfig, logger *zap.Logger, opts ...CallerOption) *StageCaller {
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = 120 * time.Second
	}
	c := &StageCaller{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.StageTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MCPEnabled reports whether stages try MCP first.
func (c *StageCaller) MCPEnabled() bool {
	return c.cfg.MCPEnabled && c.mcp != nil
}

// Call runs stage with payload. With MCP enabled a failed MCP call is
// logged and followed by exactly one HTTP attempt; otherwise HTTP is used
// directly. A non-2xx HTTP answer is an external error.
func (c *StageCaller) Call(ctx context.Context, stage Stage, payload map[string]interface{}, opCtx models.OperationContext) (StageResult, error) {
	spec, err := lookupStage(stage)
	if err != nil {
		return StageResult{}, services.NewValidationError(err.Error(), nil)
	}

	if c.MCPEnabled() {
		start := time.Now()
		result, err := c.callMCP(ctx, spec, payload, opCtx)
		c.metrics.ObserveStage(string(stage), observability.ProvenanceMCP, err == nil, time.Since(start))
		if err == nil {
			return result, nil
		}
		c.logger.Warn("mcp stage call failed, falling back to http",
			append(opCtx.ZapFields(),
				zap.String("stage", string(stage)),
				redaction.ZapField("error", err.Error()))...)
		c.metrics.MCPFallback(string(stage))
	}

	start := time.Now()
	result, err := c.callHTTP(ctx, spec, payload, opCtx)
	c.metrics.ObserveStage(string(stage), observability.ProvenanceHTTP, err == nil, time.Since(start))
	return result, err
}

func (c *StageCaller) callMCP(ctx context.Context, spec stageSpec, payload map[string]interface{}, opCtx models.OperationContext) (StageResult, error) {
	var callID string
	run := func(ctx context.Context, _ tools.Validated) (map[string]interface{}, error) {
		res, err := c.mcp.CallTool(ctx, spec.mcpTool, deepCopyMap(payload))
		if err != nil {
			return nil, err
		}
		if _, ok := res.Output[spec.resultKey]; !ok {
			return nil, services.WrapExternal(fmt.Sprintf("mcp result has no %q", spec.resultKey), nil)
		}
		callID = res.CallID
		return res.Output, nil
	}

	if c.invoker == nil {
		out, err := run(ctx, tools.Validated{})
		if err != nil {
			return StageResult{}, err
		}
		return NewStageResult(spec.stage, out, &callID), nil
	}

	preview, _ := json.Marshal(payload)
	res := c.invoker.Invoke(ctx,
		opCtx.WithTool(spec.mcpTool).WithOperation(string(spec.stage)),
		tools.Request{Text: string(preview)},
		run)
	if !res.Success {
		return StageResult{}, errors.New(res.Error)
	}
	return NewStageResult(spec.stage, res.Data, &callID), nil
}

func (c *StageCaller) callHTTP(ctx context.Context, spec stageSpec, payload map[string]interface{}, opCtx models.OperationContext) (StageResult, error) {
	base, ok := c.cfg.StageURLs[string(spec.stage)]
	if !ok || base == "" {
		return StageResult{}, services.WrapInternal(fmt.Sprintf("no service url configured for stage %s", spec.stage), nil)
	}
	url := strings.TrimRight(base, "/") + "/" + spec.endpoint

	body, err := json.Marshal(payload)
	if err != nil {
		return StageResult{}, services.WrapInternal("failed to marshal stage payload", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return StageResult{}, services.WrapInternal("failed to create stage request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", opCtx.CorrelationID())
	httpReq.Header.Set("X-Engagement-ID", opCtx.EngagementID())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StageResult{}, stageError(spec.stage, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxStageResponseBytes))
	if err != nil {
		return StageResult{}, stageError(spec.stage, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StageResult{}, stageError(spec.stage, fmt.Sprintf("returned status %d", resp.StatusCode), nil).
			WithDetail("status", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return StageResult{}, stageError(spec.stage, "returned invalid JSON", err)
	}
	if _, ok := out[spec.resultKey]; !ok {
		return StageResult{}, stageError(spec.stage, fmt.Sprintf("response has no %q", spec.resultKey), nil)
	}
	return NewStageResult(spec.stage, out, nil), nil
}

func stageError(stage Stage, msg string, err error) *services.DomainError {
	return services.NewDomainError(services.ErrorTypeExternal, fmt.Sprintf("stage %s %s", stage, msg), err).
		WithDetail("stage", string(stage))
}
