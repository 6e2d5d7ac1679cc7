package handlers

import (
	"net/http"

	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/internal/shared"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/redaction"
	"github.com/upb/maturity-gateway/utils"
	"go.uber.org/zap"
)

// RedactRequest represents a request to redact free text or a JSON document
type RedactRequest struct {
	Text           *string                   `json:"text,omitempty" validate:"required_without=Data"`
	Data           interface{}               `json:"data,omitempty"`
	CustomPatterns []redaction.CustomPattern `json:"custom_patterns,omitempty" validate:"max=32,dive"`
	MaxLength      *int                      `json:"max_length,omitempty" validate:"omitempty,gte=0"`
}

// RedactResponse is the redacted payload with its report
type RedactResponse struct {
	RedactedText *string          `json:"redacted_text,omitempty"`
	RedactedData interface{}      `json:"redacted_data,omitempty"`
	Report       redaction.Report `json:"report"`
}

// RedactionHandler handles ad-hoc redaction requests
type RedactionHandler struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRedactionHandler creates a new RedactionHandler
func NewRedactionHandler(metrics *observability.Metrics, logger *zap.Logger) *RedactionHandler {
	return &RedactionHandler{
		metrics: metrics,
		logger:  logger,
	}
}

// HandleRedact handles POST /api/v1/redact
func (h *RedactionHandler) HandleRedact(w http.ResponseWriter, r *http.Request) {
	var req RedactRequest
	if err := utils.DecodeJSON(r, &req, false); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	opts := []redaction.Option{redaction.WithCustomPatterns(req.CustomPatterns)}
	if req.MaxLength != nil {
		opts = append(opts, redaction.WithMaxLength(*req.MaxLength))
	}
	redactor, err := redaction.New(redaction.VocabularyTool, opts...)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var resp RedactResponse
	var counts map[string]int
	if req.Text != nil {
		res := redactor.Redact(*req.Text)
		resp.RedactedText = &res.Text
		counts = res.Counts
	} else {
		resp.RedactedData, counts = redactor.RedactStructured(req.Data)
	}
	resp.Report = redactor.BuildReport(counts)
	h.metrics.AddRedactions(counts)

	h.logger.Info("redaction completed",
		zap.String("correlation_id", shared.CorrelationID(r.Context())),
		zap.Int("total_redactions", resp.Report.TotalRedactions),
		zap.Int("custom_patterns", len(req.CustomPatterns)))

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write redaction response", zap.Error(err))
	}
}

// HandleListPatterns handles GET /api/v1/redact/patterns
func (h *RedactionHandler) HandleListPatterns(w http.ResponseWriter, r *http.Request) {
	redactor, err := redaction.New(redaction.VocabularyTool)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to build redactor", err), h.logger)
		return
	}
	patterns := make([]map[string]string, 0, len(redactor.Patterns()))
	for _, p := range redactor.Patterns() {
		patterns = append(patterns, map[string]string{
			"name":        p.Name,
			"category":    p.Category,
			"replacement": p.Replacement,
		})
	}
	if err := utils.WriteOK(w, map[string]interface{}{
		"patterns":   patterns,
		"max_length": redactor.MaxLength(),
	}); err != nil {
		h.logger.Error("failed to write patterns response", zap.Error(err))
	}
}
