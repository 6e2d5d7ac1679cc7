package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionToolOperationStart    AuditAction = "tool_operation_start"
	AuditActionToolOperationComplete AuditAction = "tool_operation_complete"
	AuditActionPipelineStarted       AuditAction = "pipeline_started"
	AuditActionPipelineStage         AuditAction = "pipeline_stage_completed"
	AuditActionPipelineCompleted     AuditAction = "pipeline_completed"
	AuditActionPipelineFailed        AuditAction = "pipeline_failed"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	EngagementID  string          `json:"engagement_id" db:"engagement_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Action        AuditAction     `json:"action" db:"action"`
	ToolName      string          `json:"tool_name,omitempty" db:"tool_name"`
	Operation     string          `json:"operation,omitempty" db:"operation"`
	Details       json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`

	// Outcome fields, set on completion events
	Success      *bool   `json:"success,omitempty" db:"success"`
	DurationMs   *int64  `json:"duration_ms,omitempty" db:"duration_ms"`
	ErrorType    *string `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "tool_audit_logs"
}

// NewAuditLog creates a new AuditLog for the given operation
func NewAuditLog(opCtx OperationContext, action AuditAction) *AuditLog {
	return &AuditLog{
		ID:            uuid.New(),
		CorrelationID: opCtx.CorrelationID(),
		EngagementID:  opCtx.EngagementID(),
		UserID:        opCtx.UserID(),
		Action:        action,
		ToolName:      opCtx.ToolName(),
		Operation:     opCtx.Operation(),
		Timestamp:     time.Now().UTC(),
	}
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithOutcome records success and elapsed time
func (a *AuditLog) WithOutcome(success bool, duration time.Duration) *AuditLog {
	ms := duration.Milliseconds()
	a.Success = &success
	a.DurationMs = &ms
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(errorType, errorMessage string) *AuditLog {
	a.ErrorType = &errorType
	a.ErrorMessage = &errorMessage
	return a
}
