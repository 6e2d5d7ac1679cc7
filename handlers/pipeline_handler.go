package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/maturity-gateway/internal/shared"
	"github.com/upb/maturity-gateway/services/pipeline"
	"github.com/upb/maturity-gateway/services/sandbox"
	"github.com/upb/maturity-gateway/utils"
	"go.uber.org/zap"
)

// AnalyzeRequest represents the optional body of an analysis request
type AnalyzeRequest struct {
	EngagementID string `json:"engagement_id,omitempty" validate:"omitempty,identifier"`
}

// PipelineRunner runs the analysis pipeline for a project
type PipelineRunner interface {
	Run(ctx context.Context, projectID, engagementID string) (*pipeline.Summary, error)
}

// ReportLoader reads persisted reports
type ReportLoader interface {
	Load(engagementID, projectID string) (map[string]interface{}, error)
}

// PipelineHandler handles analysis runs and report retrieval
type PipelineHandler struct {
	runner  PipelineRunner
	reports ReportLoader
	logger  *zap.Logger
}

// NewPipelineHandler creates a new PipelineHandler
func NewPipelineHandler(runner PipelineRunner, reports ReportLoader, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{
		runner:  runner,
		reports: reports,
		logger:  logger,
	}
}

// HandleAnalyze handles POST /api/v1/projects/{projectID}/analyze
func (h *PipelineHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req AnalyzeRequest
	if err := utils.DecodeJSON(r, &req, true); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Info("analysis requested",
		zap.String("correlation_id", shared.CorrelationID(r.Context())),
		zap.String("project_id", projectID))

	summary, err := h.runner.Run(r.Context(), projectID, req.EngagementID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, summary); err != nil {
		h.logger.Error("failed to write analysis response", zap.Error(err))
	}
}

// HandleGetReport handles GET /api/v1/engagements/{engagementID}/reports/{projectID}
func (h *PipelineHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")
	if err := sandbox.ValidateEngagementID(engagementID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	report, err := h.reports.Load(engagementID, chi.URLParam(r, "projectID"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, report); err != nil {
		h.logger.Error("failed to write report response", zap.Error(err))
	}
}
