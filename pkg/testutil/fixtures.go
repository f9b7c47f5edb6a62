package testutil

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TestTenant is a provisioned tenant for one test
type TestTenant struct {
	ID   string
	Name string
}

// TestAPIKey is a provisioned API key with its raw secret, which only
// exists in memory here; the database holds the hash.
type TestAPIKey struct {
	ID     string
	Raw    string
	Hash   string
	Role   string
	Tenant string
}

// FixtureFactory creates test data
type FixtureFactory struct{}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

// CreateTenant inserts a tenant row. Names get a random suffix so
// parallel tests cannot collide on the unique constraint.
func (f *FixtureFactory) CreateTenant(ctx context.Context, db *sqlx.DB, name string) (*TestTenant, error) {
	tenant := &TestTenant{
		ID:   uuid.New().String(),
		Name: fmt.Sprintf("%s-%s", name, uuid.New().String()[:8]),
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO tenants (id, name) VALUES ($1, $2)", tenant.ID, tenant.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	return tenant, nil
}

// DropTenant removes a tenant and all its rows. The immutability and
// WORM triggers refuse deletes, so the superuser connection runs with
// session_replication_role=replica, which suppresses user triggers for
// the duration of the transaction.
func (f *FixtureFactory) DropTenant(ctx context.Context, db *sqlx.DB, tenantID string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL session_replication_role = 'replica'"); err != nil {
		return err
	}

	stmts := []string{
		"DELETE FROM access_logs WHERE tenant_id = $1",
		"DELETE FROM audit_logs WHERE tenant_id = $1",
		"DELETE FROM usage_events WHERE tenant_id = $1",
		"DELETE FROM mcare_feedback WHERE tenant_id = $1",
		"DELETE FROM case_results WHERE case_id IN (SELECT id FROM cases WHERE tenant_id = $1)",
		"DELETE FROM cases WHERE tenant_id = $1",
		"DELETE FROM patients WHERE tenant_id = $1",
		"DELETE FROM api_keys WHERE tenant_id = $1",
		"DELETE FROM tenants WHERE id = $1",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, tenantID); err != nil {
			return fmt.Errorf("tenant cleanup failed: %w", err)
		}
	}

	return tx.Commit()
}

// CreateAPIKey provisions an active key for a tenant and returns the raw
// secret alongside its stored hash.
func (f *FixtureFactory) CreateAPIKey(ctx context.Context, db *sqlx.DB, tenantID, role, label string) (*TestAPIKey, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	sum := sha256.Sum256([]byte(raw))
	key := &TestAPIKey{
		ID:     uuid.New().String(),
		Raw:    raw,
		Hash:   hex.EncodeToString(sum[:]),
		Role:   role,
		Tenant: tenantID,
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, key_hash, label, role, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, key.ID, tenantID, key.Hash, label, role)
	if err != nil {
		return nil, fmt.Errorf("failed to insert api key: %w", err)
	}
	return key, nil
}

// InsertDraftCase inserts a draft case directly, bypassing the service
// layer. Runs on the superuser connection.
func (f *FixtureFactory) InsertDraftCase(ctx context.Context, db *sqlx.DB, tenantID, payload string) (string, error) {
	caseID := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO cases (id, tenant_id, input_payload, random_seed, status)
		VALUES ($1, $2, CAST($3 AS jsonb), '0', 'draft')
	`, caseID, tenantID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to insert draft case: %w", err)
	}
	return caseID, nil
}
