// Package billing gates case creation on the tenant's plan. The check
// happens before any case row is written so a blocked request leaves no
// trace beyond its usage event.
package billing

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	identityrepo "github.com/clincore/clincore-backend/internal/identity/repository"
	"github.com/clincore/clincore-backend/pkg/config"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
)

// Gate decides whether a tenant may open another case.
type Gate struct {
	db    *database.DB
	usage *identityrepo.UsageRepository
	limit int
	// windowDays bounds the usage count; zero means all-time.
	windowDays int
}

// NewGate creates a billing gate from configuration
func NewGate(db *database.DB, usage *identityrepo.UsageRepository, cfg config.BillingConfig) *Gate {
	return &Gate{
		db:         db,
		usage:      usage,
		limit:      cfg.FreeTierLimit,
		windowDays: cfg.WindowDays,
	}
}

// CheckCreate returns a payment-required error when a free-tier tenant
// has exhausted its call allowance. Tenants with no cases yet are
// treated as free tier and allowed through; paid tenants are never
// gated.
func (g *Gate) CheckCreate(ctx context.Context, tenantID string) error {
	var billingStatus string

	err := g.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &billingStatus, `SELECT billing_status FROM cases LIMIT 1`)
		if err == sql.ErrNoRows {
			billingStatus = "free"
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	if billingStatus != "free" {
		return nil
	}

	calls, err := g.usage.CountSince(ctx, tenantID, g.windowDays)
	if err != nil {
		return err
	}

	if calls > int64(g.limit) {
		return errors.PaymentRequired("Free tier limit exceeded. Please upgrade to continue.")
	}
	return nil
}
