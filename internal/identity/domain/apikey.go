package domain

import (
	"time"
)

// Tenant represents a provisioned tenant
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// APIKey represents a stored API key. The raw key is never persisted;
// key_hash is the SHA-256 hex of the raw key and doubles as the lookup
// token.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	TenantID   string     `json:"tenant_id" db:"tenant_id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	Label      *string    `json:"label" db:"label"`
	Role       string     `json:"role" db:"role"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Valid reports whether the key may authenticate requests.
func (k *APIKey) Valid() bool {
	return k.IsActive && k.RevokedAt == nil
}

// Identity is the authenticated caller resolved from an API key.
type Identity struct {
	TenantID string
	APIKeyID string
	Role     string
}

// BootstrapRequest is the tenant provisioning payload
type BootstrapRequest struct {
	TenantName string  `json:"tenant_name" validate:"required,min=1,max=200"`
	AdminEmail *string `json:"admin_email,omitempty"`
}

// BootstrapResponse returns the provisioned tenant and its raw API key.
// This is the only time the raw key is ever visible.
type BootstrapResponse struct {
	TenantID string `json:"tenant_id"`
	APIKey   string `json:"api_key"`
	Message  string `json:"message"`
}

// RotateResponse returns the replacement raw key after rotation
type RotateResponse struct {
	APIKey   string `json:"api_key"`
	TenantID string `json:"tenant_id"`
}

// UsageStats aggregates usage_events for one tenant
type UsageStats struct {
	TotalCalls      int64            `json:"total_calls"`
	CallsByEndpoint map[string]int64 `json:"calls_by_endpoint"`
	Last24hCount    int64            `json:"last_24h_count"`
}
