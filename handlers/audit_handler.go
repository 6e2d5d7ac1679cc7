package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/maturity-gateway/repositories"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/sandbox"
	"github.com/upb/maturity-gateway/utils"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditHandler serves the tool audit trail
type AuditHandler struct {
	auditLogs repositories.AuditRepository
	logger    *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditLogs repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditLogs: auditLogs,
		logger:    logger,
	}
}

// HandleListEngagementAudit handles GET /api/v1/engagements/{engagementID}/audit
func (h *AuditHandler) HandleListEngagementAudit(w http.ResponseWriter, r *http.Request) {
	engagementID := chi.URLParam(r, "engagementID")
	if err := sandbox.ValidateEngagementID(engagementID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	logs, err := h.auditLogs.GetByEngagementID(r.Context(), engagementID, limit, offset)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list audit logs", err), h.logger)
		return
	}

	if err := utils.WriteOK(w, map[string]interface{}{
		"entries": logs,
		"limit":   limit,
		"offset":  offset,
	}); err != nil {
		h.logger.Error("failed to write audit response", zap.Error(err))
	}
}

// HandleGetCorrelationAudit handles GET /api/v1/audit/{correlationID}
func (h *AuditHandler) HandleGetCorrelationAudit(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	if correlationID == "" {
		_ = utils.WriteBadRequest(w, "correlation id is required", nil)
		return
	}

	logs, err := h.auditLogs.GetByCorrelationID(r.Context(), correlationID)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to read audit logs", err), h.logger)
		return
	}
	if len(logs) == 0 {
		_ = utils.WriteNotFound(w, "no audit entries for correlation id")
		return
	}

	if err := utils.WriteOK(w, map[string]interface{}{"entries": logs}); err != nil {
		h.logger.Error("failed to write audit response", zap.Error(err))
	}
}

func pagination(r *http.Request) (int, int, error) {
	limit := defaultAuditLimit
	offset := 0
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			return 0, 0, services.NewValidationError("limit must be between 1 and 500", nil)
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, services.NewValidationError("offset must be a non-negative integer", nil)
		}
		offset = n
	}
	return limit, offset, nil
}
