// Package handlers exposes the gateway's operations over HTTP.
package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/maturity-gateway/internal/shared"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/sandbox"
)

// operationContext builds the typed context for one request scoped to
// engagementID. A request that bypassed the correlation middleware gets a
// fresh id.
func operationContext(ctx context.Context, engagementID string) (models.OperationContext, error) {
	if err := sandbox.ValidateEngagementID(engagementID); err != nil {
		return models.OperationContext{}, err
	}
	correlationID := shared.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	opCtx, err := models.NewOperationContext(correlationID, shared.UserID(ctx), engagementID)
	if err != nil {
		return models.OperationContext{}, services.NewValidationError(err.Error(), nil)
	}
	return opCtx, nil
}
