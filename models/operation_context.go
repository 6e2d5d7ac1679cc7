package models

import (
	"errors"

	"go.uber.org/zap"
)

// AnonymousUser identifies callers when authentication is disabled.
const AnonymousUser = "anonymous"

// ErrIncompleteContext is returned when a required identifier is missing.
var ErrIncompleteContext = errors.New("operation context requires correlation id and engagement id")

// OperationContext identifies who is doing what, for which engagement. It is
// a value type: the With* methods return modified copies.
type OperationContext struct {
	correlationID string
	userID        string
	engagementID  string
	toolName      string
	operation     string
}

// NewOperationContext builds a context for one request. An empty user id
// becomes AnonymousUser.
func NewOperationContext(correlationID, userID, engagementID string) (OperationContext, error) {
	if correlationID == "" || engagementID == "" {
		return OperationContext{}, ErrIncompleteContext
	}
	if userID == "" {
		userID = AnonymousUser
	}
	return OperationContext{
		correlationID: correlationID,
		userID:        userID,
		engagementID:  engagementID,
	}, nil
}

func (c OperationContext) CorrelationID() string { return c.correlationID }
func (c OperationContext) UserID() string        { return c.userID }
func (c OperationContext) EngagementID() string  { return c.engagementID }
func (c OperationContext) ToolName() string      { return c.toolName }
func (c OperationContext) Operation() string     { return c.operation }

// WithTool returns a copy scoped to tool.
func (c OperationContext) WithTool(tool string) OperationContext {
	c.toolName = tool
	return c
}

// WithOperation returns a copy scoped to operation.
func (c OperationContext) WithOperation(operation string) OperationContext {
	c.operation = operation
	return c
}

// ZapFields returns the identifiers as log fields. The user id is left out;
// it is an email address.
func (c OperationContext) ZapFields() []zap.Field {
	fields := []zap.Field{
		zap.String("correlation_id", c.correlationID),
		zap.String("engagement_id", c.engagementID),
	}
	if c.toolName != "" {
		fields = append(fields, zap.String("tool", c.toolName))
	}
	if c.operation != "" {
		fields = append(fields, zap.String("operation", c.operation))
	}
	return fields
}
