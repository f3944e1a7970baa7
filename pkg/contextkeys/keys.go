// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains *tenant.Context
	// Set by: middleware.AuthMiddleware after token verification
	// Required by: All org-scoped endpoints and every scoped database call
	// Type: *tenant.Context
	TenantKey Key = "tenant_context"

	// UserIDKey contains user ID string
	// Set by: Auth middleware after token verification
	// Used by: Logger, audit trail, rate limiter keys
	// Type: string
	UserIDKey Key = "user_id"
)

// WithTenant adds the tenant context to the context
func WithTenant(ctx context.Context, tc interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tc)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
