package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// OperationContext tests
func TestNewOperationContext(t *testing.T) {
	opCtx, err := NewOperationContext("corr-1", "alice@example.com", "eng-1")
	require.NoError(t, err)

	assert.Equal(t, "corr-1", opCtx.CorrelationID())
	assert.Equal(t, "alice@example.com", opCtx.UserID())
	assert.Equal(t, "eng-1", opCtx.EngagementID())
	assert.Empty(t, opCtx.ToolName())
	assert.Empty(t, opCtx.Operation())
}

func TestNewOperationContext_Defaults(t *testing.T) {
	opCtx, err := NewOperationContext("corr-1", "", "eng-1")
	require.NoError(t, err)
	assert.Equal(t, AnonymousUser, opCtx.UserID())

	_, err = NewOperationContext("", "u", "eng-1")
	assert.True(t, errors.Is(err, ErrIncompleteContext))

	_, err = NewOperationContext("corr", "u", "")
	assert.True(t, errors.Is(err, ErrIncompleteContext))
}

func TestOperationContext_WithReturnsCopies(t *testing.T) {
	base, err := NewOperationContext("corr-1", "u", "eng-1")
	require.NoError(t, err)

	scoped := base.WithTool("fs_read").WithOperation("read")

	assert.Equal(t, "fs_read", scoped.ToolName())
	assert.Equal(t, "read", scoped.Operation())
	assert.Empty(t, base.ToolName())
	assert.Empty(t, base.Operation())
	assert.Equal(t, base.CorrelationID(), scoped.CorrelationID())
}

func TestOperationContext_ZapFieldsOmitUser(t *testing.T) {
	opCtx, err := NewOperationContext("corr-1", "alice@example.com", "eng-1")
	require.NoError(t, err)

	for _, f := range opCtx.WithTool("fs_read").ZapFields() {
		assert.NotEqual(t, "alice@example.com", f.String)
	}
	assert.Len(t, opCtx.ZapFields(), 2)
	assert.Len(t, opCtx.WithTool("t").WithOperation("o").ZapFields(), 4)
}

// AuditLog tests
func TestNewAuditLog(t *testing.T) {
	opCtx, err := NewOperationContext("corr-1", "alice@example.com", "eng-1")
	require.NoError(t, err)
	opCtx = opCtx.WithTool("fs_write").WithOperation("write")

	log := NewAuditLog(opCtx, AuditActionToolOperationStart)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, "corr-1", log.CorrelationID)
	assert.Equal(t, "eng-1", log.EngagementID)
	assert.Equal(t, "alice@example.com", log.UserID)
	assert.Equal(t, "fs_write", log.ToolName)
	assert.Equal(t, "write", log.Operation)
	assert.Equal(t, AuditActionToolOperationStart, log.Action)
	assert.False(t, log.Timestamp.IsZero())
	assert.Nil(t, log.Success)
}

func TestAuditLog_Builders(t *testing.T) {
	opCtx, err := NewOperationContext("corr-1", "u", "eng-1")
	require.NoError(t, err)

	log := NewAuditLog(opCtx, AuditActionToolOperationComplete).
		WithDetails(map[string]interface{}{"bytes": 12}).
		WithOutcome(false, 1500*time.Millisecond).
		WithError("file_type", "file type .exe not allowed")

	require.NotNil(t, log.Success)
	assert.False(t, *log.Success)
	assert.Equal(t, int64(1500), *log.DurationMs)
	assert.Equal(t, "file_type", *log.ErrorType)
	assert.Equal(t, "file type .exe not allowed", *log.ErrorMessage)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(log.Details, &details))
	assert.Equal(t, float64(12), details["bytes"])
}

func TestAuditLog_TableName(t *testing.T) {
	assert.Equal(t, "tool_audit_logs", AuditLog{}.TableName())
}

// Project tests
func TestConcatenateDocuments(t *testing.T) {
	docs := []*Document{
		{Filename: "policy.pdf", ContentText: "Access control policy"},
		{Filename: "inventory.xlsx", ContentText: "Asset list"},
	}

	got := ConcatenateDocuments(docs)
	assert.Equal(t, "=== policy.pdf ===\nAccess control policy\n\n=== inventory.xlsx ===\nAsset list", got)
	assert.Empty(t, ConcatenateDocuments(nil))
}

func TestProject_TableNames(t *testing.T) {
	assert.Equal(t, "projects", Project{}.TableName())
	assert.Equal(t, "project_documents", Document{}.TableName())
}
