package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/maturity-gateway/services/tools"
	"github.com/upb/maturity-gateway/utils"
	"go.uber.org/zap"
)

// ToolHandler handles tool listing and invocation
type ToolHandler struct {
	registry *tools.Registry
	logger   *zap.Logger
}

// NewToolHandler creates a new ToolHandler
func NewToolHandler(registry *tools.Registry, logger *zap.Logger) *ToolHandler {
	return &ToolHandler{
		registry: registry,
		logger:   logger,
	}
}

// HandleListTools handles GET /api/v1/tools
func (h *ToolHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.registry.List()); err != nil {
		h.logger.Error("failed to write tools response", zap.Error(err))
	}
}

// HandleInvokeTool handles POST /api/v1/engagements/{engagementID}/tools/{tool}.
// The body is the tool's JSON arguments. The response is the tool result
// envelope with a status derived from its error kind.
func (h *ToolHandler) HandleInvokeTool(w http.ResponseWriter, r *http.Request) {
	opCtx, err := operationContext(r.Context(), chi.URLParam(r, "engagementID"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, utils.MaxRequestBodyBytes))
	if err != nil {
		_ = utils.WriteBadRequest(w, "failed to read request body", nil)
		return
	}

	result := h.registry.Call(r.Context(), opCtx, chi.URLParam(r, "tool"), json.RawMessage(body))
	if err := utils.WriteJSON(w, result.HTTPStatus(), result); err != nil {
		h.logger.Error("failed to write tool response",
			append(opCtx.ZapFields(), zap.Error(err))...)
	}
}
