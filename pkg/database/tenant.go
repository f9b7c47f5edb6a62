package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// ErrMissingTenant is returned when a tenant-bound operation is attempted
// without a tenant ID. This is an invalid-argument condition, not a
// silent fall-through to an unscoped query.
var ErrMissingTenant = errors.New("tenant id required for tenant-bound operation")

// WithTenant executes a function inside a transaction bound to one tenant.
// This is the only path to tenant-scoped data.
//
// Usage in repositories:
//
//	tenantID, err := tenant.TenantID(ctx)
//	if err != nil { return err }
//	err = r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
//	    return tx.GetContext(ctx, &c, "SELECT * FROM cases WHERE id = $1", id)
//	})
//
// How it works:
//  1. Starts a transaction
//  2. First statement is "SET LOCAL app.tenant_id = '<tenant-uuid>'"
//  3. RLS policies filter rows: USING (tenant_id = NULLIF(current_setting('app.tenant_id', true), '')::uuid)
//  4. Commit or rollback clears the setting with the transaction
//
// SET LOCAL is transaction-scoped, so pooled connections hand the next
// request a clean session. With the setting absent, NULLIF makes the policy
// expression NULL and every row is invisible, so an unbound query returns
// nothing rather than everything. The database enforces the filter; app code
// cannot opt out.
//
// SET LOCAL does not take bind parameters, so the value is inlined. The
// tenant ID is parsed as a UUID first, which rules out injection.
func (db *DB) WithTenant(ctx context.Context, tenantID string, fn func(context.Context, *sqlx.Tx) error) error {
	if tenantID == "" {
		return ErrMissingTenant
	}
	parsed, err := uuid.Parse(tenantID)
	if err != nil {
		return fmt.Errorf("%w: %q is not a valid uuid", ErrMissingTenant, tenantID)
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL app.tenant_id = '%s'", parsed)); err != nil {
			return fmt.Errorf("failed to set app.tenant_id: %w", err)
		}

		txCtx := context.WithValue(ctx, txKey{}, tx)

		return fn(txCtx, tx)
	})
}

// TxFromContext extracts the tenant-bound transaction if present.
// Repositories use this to join an operation already inside WithTenant.
func TxFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}
