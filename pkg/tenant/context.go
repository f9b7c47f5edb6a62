package tenant

import (
	"context"
	"errors"
)

// contextKey is a private type for context keys to prevent collisions
type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	roleKey     contextKey = "role"
	apiKeyIDKey contextKey = "api_key_id"
)

// Roles carried by API keys.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")
)

// WithContext adds the full caller identity to the context.
// Called by the auth middleware after key verification, or by the
// header middleware for the case endpoints.
func WithContext(ctx context.Context, tenantID, role, apiKeyID string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	ctx = context.WithValue(ctx, roleKey, role)
	ctx = context.WithValue(ctx, apiKeyIDKey, apiKeyID)
	return ctx
}

// WithTenantID adds only the tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts the tenant ID from the context.
// Returns ErrNoTenantInContext if it is not set.
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// Role extracts the caller role from the context. Empty when the request
// was bound by header rather than an API key.
func Role(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// APIKeyID extracts the authenticated key's ID from the context.
// Empty when the request was bound by header rather than an API key.
func APIKeyID(ctx context.Context) string {
	id, _ := ctx.Value(apiKeyIDKey).(string)
	return id
}

// IsAdmin reports whether the context carries an admin-role key.
func IsAdmin(ctx context.Context) bool {
	return Role(ctx) == RoleAdmin
}

// MustTenantID extracts the tenant ID from the context and panics if not found.
// Use only in cases where a missing tenant is a programming error.
func MustTenantID(ctx context.Context) string {
	id, err := TenantID(ctx)
	if err != nil {
		panic("tenant ID not found in context")
	}
	return id
}
