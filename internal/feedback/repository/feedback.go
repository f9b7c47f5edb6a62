package repository

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/internal/feedback/domain"
	"github.com/clincore/clincore-backend/pkg/database"
)

// FeedbackRepository writes and aggregates mcare_feedback rows. The table
// is append-only; updates and deletes are refused at the database.
type FeedbackRepository struct {
	db *database.DB
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db *database.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Insert appends one feedback record under the tenant binding.
func (r *FeedbackRepository) Insert(ctx context.Context, tenantID string, f *domain.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	return r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mcare_feedback (
				id, tenant_id, user_id, case_id, request_id, locale,
				narrative_hash, predicted_top1, predicted_top3, chosen_remedy,
				outcome_type, outcome_score, notes, metadata, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, CAST($9 AS jsonb), $10,
				$11, $12, $13, CAST($14 AS jsonb), $15
			)
		`, f.ID, tenantID, f.UserID, f.CaseID, f.RequestID, f.Locale,
			f.NarrativeHash, f.PredictedTop1, string(f.PredictedTop3), f.ChosenRemedy,
			f.OutcomeType, f.OutcomeScore, f.Notes, string(f.Metadata), f.CreatedAt)
		return err
	})
}

// Summary aggregates the tenant's feedback since the cutoff. Every count
// runs inside one tenant-bound transaction so the fractions are computed
// over a single consistent window.
func (r *FeedbackRepository) Summary(ctx context.Context, tenantID string, cutoff time.Time, days int) (*domain.Summary, error) {
	summary := &domain.Summary{
		Days:          days,
		OutcomeCounts: map[string]int{},
		TopMismatches: []domain.Mismatch{},
	}

	err := r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &summary.TotalCount, `
			SELECT COUNT(*) FROM mcare_feedback WHERE created_at >= $1
		`, cutoff); err != nil {
			return err
		}
		if summary.TotalCount == 0 {
			return nil
		}

		var top1Correct, top3Covered int
		if err := tx.GetContext(ctx, &top1Correct, `
			SELECT COUNT(*) FROM mcare_feedback
			WHERE created_at >= $1
			  AND chosen_remedy = predicted_top1
		`, cutoff); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &top3Covered, `
			SELECT COUNT(*) FROM mcare_feedback
			WHERE created_at >= $1
			  AND predicted_top3 @> to_jsonb(chosen_remedy)
		`, cutoff); err != nil {
			return err
		}
		summary.Top1Accuracy = round4(float64(top1Correct) / float64(summary.TotalCount))
		summary.Top3Coverage = round4(float64(top3Covered) / float64(summary.TotalCount))

		outcomes, err := outcomeCounts(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		summary.OutcomeCounts = outcomes

		return tx.SelectContext(ctx, &summary.TopMismatches, `
			SELECT predicted_top1, chosen_remedy, COUNT(*) AS cnt
			FROM mcare_feedback
			WHERE created_at >= $1
			  AND chosen_remedy != predicted_top1
			GROUP BY predicted_top1, chosen_remedy
			ORDER BY cnt DESC
			LIMIT 10
		`, cutoff)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// AdminStats aggregates the calling tenant's feedback for the admin view.
func (r *FeedbackRepository) AdminStats(ctx context.Context, tenantID string, cutoff time.Time, days int) (*domain.AdminStats, error) {
	stats := &domain.AdminStats{
		TenantID:      tenantID,
		Days:          days,
		OutcomeCounts: map[string]int{},
	}

	err := r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &stats.TotalFeedbackCount, `
			SELECT COUNT(*) FROM mcare_feedback WHERE created_at >= $1
		`, cutoff); err != nil {
			return err
		}
		if stats.TotalFeedbackCount == 0 {
			return nil
		}

		var top1Correct int
		if err := tx.GetContext(ctx, &top1Correct, `
			SELECT COUNT(*) FROM mcare_feedback
			WHERE created_at >= $1
			  AND chosen_remedy = predicted_top1
		`, cutoff); err != nil {
			return err
		}
		stats.Top1Accuracy = round4(float64(top1Correct) / float64(stats.TotalFeedbackCount))

		outcomes, err := outcomeCounts(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		stats.OutcomeCounts = outcomes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func outcomeCounts(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) (map[string]int, error) {
	rows, err := tx.QueryxContext(ctx, `
		SELECT outcome_type, COUNT(*) AS cnt
		FROM mcare_feedback
		WHERE created_at >= $1
		GROUP BY outcome_type
		ORDER BY cnt DESC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var outcome string
		var cnt int
		if err := rows.Scan(&outcome, &cnt); err != nil {
			return nil, err
		}
		counts[outcome] = cnt
	}
	return counts, rows.Err()
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
