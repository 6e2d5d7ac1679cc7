package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, correlation_id, engagement_id, user_id, action, tool_name, operation,
		       details, timestamp, success, duration_ms, error_type, error_message`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO tool_audit_logs (
			id, correlation_id, engagement_id, user_id, action, tool_name, operation,
			details, timestamp, success, duration_ms, error_type, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	_, err := getExecutor(ctx, r.db, r.tx).ExecContext(ctx, query,
		log.ID,
		log.CorrelationID,
		log.EngagementID,
		log.UserID,
		log.Action,
		log.ToolName,
		log.Operation,
		details,
		log.Timestamp,
		log.Success,
		log.DurationMs,
		log.ErrorType,
		log.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM tool_audit_logs
		WHERE id = $1
	`

	row := getExecutor(ctx, r.db, r.tx).QueryRowContext(ctx, query, id)
	log, err := scanAuditLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit log %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return log, nil
}

// GetByCorrelationID retrieves every entry of one request, oldest first
func (r *AuditRepository) GetByCorrelationID(ctx context.Context, correlationID string) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM tool_audit_logs
		WHERE correlation_id = $1
		ORDER BY timestamp ASC
	`
	return r.queryAuditLogs(ctx, query, correlationID)
}

// GetByEngagementID retrieves audit logs for an engagement with pagination
func (r *AuditRepository) GetByEngagementID(ctx context.Context, engagementID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM tool_audit_logs
		WHERE engagement_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryAuditLogs(ctx, query, engagementID, limit, offset)
}

// WithTx returns a new repository instance bound to the transaction
func (r *AuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	return &AuditRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var details []byte
	err := row.Scan(
		&log.ID,
		&log.CorrelationID,
		&log.EngagementID,
		&log.UserID,
		&log.Action,
		&log.ToolName,
		&log.Operation,
		&details,
		&log.Timestamp,
		&log.Success,
		&log.DurationMs,
		&log.ErrorType,
		&log.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	log.Details = details
	return log, nil
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	rows, err := getExecutor(ctx, r.db, r.tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
