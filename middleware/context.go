package middleware

import (
	"context"

	"github.com/upb/maturity-gateway/internal/auth"
	"github.com/upb/maturity-gateway/internal/shared"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for the authenticated principal
	ClaimsKey contextKey = "claims"
)

// Claims is the authenticated principal attached to a request
type Claims = auth.Principal

// GetClaimsFromContext retrieves the principal from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds the principal to the context and records its id as the
// request's user
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return shared.WithUserID(ctx, claims.ID())
}

// GetCorrelationIDFromContext retrieves the correlation ID from context
func GetCorrelationIDFromContext(ctx context.Context) string {
	return shared.CorrelationID(ctx)
}
