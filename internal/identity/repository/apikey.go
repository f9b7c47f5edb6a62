package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/internal/identity/domain"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
)

// APIKeyRepository handles api_keys and tenants persistence.
// api_keys and tenants are not under row-level security: key lookup and
// tenant provisioning happen before any tenant binding exists.
type APIKeyRepository struct {
	db *database.DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *database.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// LookupActive finds the key matching keyHash that is active and not
// revoked. Returns Unauthorized when no such key exists; the caller cannot
// distinguish unknown, inactive, and revoked keys.
func (r *APIKeyRepository) LookupActive(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	query := `
		SELECT id, tenant_id, key_hash, label, role, is_active, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE key_hash = $1
		  AND is_active = true
		  AND revoked_at IS NULL
		LIMIT 1
	`

	if err := r.db.GetContext(ctx, &key, query, keyHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Unauthorized("invalid or inactive API key")
		}
		return nil, err
	}

	return &key, nil
}

// StampLastUsed records that the key just authenticated a request.
func (r *APIKeyRepository) StampLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = now() WHERE id = $1", keyID)
	return err
}

// EnsureTenant creates the tenant if the name is new and returns the
// canonical tenant ID either way. ON CONFLICT keeps provisioning
// idempotent per name; the reselect picks up whichever row won.
func (r *APIKeyRepository) EnsureTenant(ctx context.Context, name string) (string, error) {
	var tenantID string

	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, now())
			 ON CONFLICT (name) DO NOTHING`,
			uuid.New().String(), name); err != nil {
			return err
		}

		return tx.GetContext(ctx, &tenantID,
			"SELECT id FROM tenants WHERE name = $1", name)
	})
	if err != nil {
		return "", err
	}

	return tenantID, nil
}

// InsertKey stores a new key row.
func (r *APIKeyRepository) InsertKey(ctx context.Context, key *domain.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}

	query := `
		INSERT INTO api_keys (id, tenant_id, key_hash, label, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, now())
		RETURNING created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		key.ID, key.TenantID, key.KeyHash, key.Label, key.Role,
	).Scan(&key.CreatedAt)
}

// Rotate deactivates every row matching oldHash and inserts the
// replacement, in one transaction. Deactivating by hash rather than by ID
// closes out historical duplicates of the same presented key.
func (r *APIKeyRepository) Rotate(ctx context.Context, oldHash string, newKey *domain.APIKey) error {
	if newKey.ID == "" {
		newKey.ID = uuid.New().String()
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE api_keys SET is_active = false WHERE key_hash = $1", oldHash); err != nil {
			return err
		}

		return tx.QueryRowxContext(ctx,
			`INSERT INTO api_keys (id, tenant_id, key_hash, label, role, is_active, created_at)
			 VALUES ($1, $2, $3, $4, $5, true, now())
			 RETURNING created_at`,
			newKey.ID, newKey.TenantID, newKey.KeyHash, newKey.Label, newKey.Role,
		).Scan(&newKey.CreatedAt)
	})
}

// ListByTenant returns the tenant's non-revoked keys, newest first.
// Key hashes stay out of the result.
func (r *APIKeyRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.APIKey, error) {
	query := `
		SELECT id, tenant_id, '' AS key_hash, label, role, is_active, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE tenant_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`

	var keys []*domain.APIKey
	if err := r.db.SelectContext(ctx, &keys, query, tenantID); err != nil {
		return nil, err
	}
	return keys, nil
}

// Revoke marks a key revoked. Scoped to the tenant so one tenant's admin
// cannot revoke another's key by guessing IDs.
func (r *APIKeyRepository) Revoke(ctx context.Context, keyID, tenantID string) (string, error) {
	var revokedID string
	err := r.db.GetContext(ctx, &revokedID, `
		UPDATE api_keys
		SET revoked_at = now(), is_active = false
		WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL
		RETURNING id
	`, keyID, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", errors.NotFound("API key")
		}
		return "", err
	}
	return revokedID, nil
}
