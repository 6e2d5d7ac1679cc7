package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/upb/maturity-gateway/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db       *sql.DB
	auditDB  *sql.DB
	dataPath string
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. auditDB may be nil when
// audit logs share the main database.
func NewHealthHandler(db, auditDB *sql.DB, dataPath string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		auditDB:  auditDB,
		dataPath: dataPath,
		logger:   logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := checkDatabase(ctx, h.db); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.auditDB != nil {
		if err := checkDatabase(ctx, h.auditDB); err != nil {
			h.logger.Warn("audit database health check failed", zap.Error(err))
			checks["audit_database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["audit_database"] = "healthy"
		}
	}

	if info, err := os.Stat(h.dataPath); err != nil || !info.IsDir() {
		h.logger.Warn("data path unavailable", zap.String("path", h.dataPath), zap.Error(err))
		checks["data_path"] = "unhealthy"
		allHealthy = false
	} else {
		checks["data_path"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func checkDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
