package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/internal/identity/domain"
	"github.com/clincore/clincore-backend/pkg/database"
)

// UsageRepository handles the usage_events ledger. All operations run
// under the tenant binding: the table is RLS-protected.
type UsageRepository struct {
	db *database.DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *database.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Record appends one usage event under the tenant binding.
func (r *UsageRepository) Record(ctx context.Context, tenantID, apiKeyID, endpoint string) error {
	return r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO usage_events (tenant_id, api_key_id, endpoint, created_at)
			VALUES ($1, $2, $3, now())
		`, tenantID, apiKeyID, endpoint)
		return err
	})
}

// Stats aggregates the tenant's usage ledger.
func (r *UsageRepository) Stats(ctx context.Context, tenantID string) (*domain.UsageStats, error) {
	stats := &domain.UsageStats{
		CallsByEndpoint: make(map[string]int64),
	}

	err := r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &stats.TotalCalls,
			"SELECT COUNT(*) FROM usage_events"); err != nil {
			return err
		}

		rows, err := tx.QueryxContext(ctx, `
			SELECT endpoint, COUNT(*) AS cnt FROM usage_events
			GROUP BY endpoint ORDER BY cnt DESC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var endpoint string
			var cnt int64
			if err := rows.Scan(&endpoint, &cnt); err != nil {
				return err
			}
			stats.CallsByEndpoint[endpoint] = cnt
		}
		if err := rows.Err(); err != nil {
			return err
		}

		return tx.GetContext(ctx, &stats.Last24hCount,
			"SELECT COUNT(*) FROM usage_events WHERE created_at >= now() - INTERVAL '24 hours'")
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// CountSince returns the tenant's usage event count. windowDays == 0
// counts the whole ledger.
func (r *UsageRepository) CountSince(ctx context.Context, tenantID string, windowDays int) (int64, error) {
	var count int64

	err := r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		if windowDays <= 0 {
			return tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM usage_events")
		}
		return tx.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM usage_events WHERE created_at >= now() - make_interval(days => $1)",
			windowDays)
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
