package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/internal/clinical/domain"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
)

// CaseRepository persists cases and case_results. Methods taking a *sqlx.Tx
// join a tenant-bound transaction owned by the service; the others open
// their own.
type CaseRepository struct {
	db *database.DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// DB exposes the underlying handle so the service can span several
// repository calls in one tenant-bound transaction.
func (r *CaseRepository) DB() *database.DB {
	return r.db
}

// Create inserts a draft case under the tenant binding.
func (r *CaseRepository) Create(ctx context.Context, tenantID string, c *domain.Case) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	return r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cases (id, tenant_id, patient_id, input_payload, random_seed, status, api_client_id, created_at)
			VALUES ($1, $2, $3, CAST($4 AS jsonb), $5, 'draft', $6, now())
		`, c.ID, tenantID, c.PatientID, string(c.InputPayload), c.RandomSeed, c.APIClientID)
		return err
	})
}

// GetTx loads a case inside an existing tenant-bound transaction.
// A cross-tenant row and a missing row are the same NotFound.
func (r *CaseRepository) GetTx(ctx context.Context, tx *sqlx.Tx, caseID string) (*domain.Case, error) {
	var c domain.Case
	query := `
		SELECT id, tenant_id, patient_id, input_payload, random_seed, params_hash_sha256,
		       ranking_snapshot, result_signature, status, finalized_at,
		       replay_verified_at, replay_verification_ok, replay_verification_details,
		       billing_status, api_client_id, created_at, updated_at
		FROM cases
		WHERE id = $1
	`

	if err := tx.GetContext(ctx, &c, query, caseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("case")
		}
		return nil, err
	}
	return &c, nil
}

// Get loads a case under its own tenant binding.
func (r *CaseRepository) Get(ctx context.Context, tenantID, caseID string) (*domain.Case, error) {
	var c *domain.Case

	err := r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		c, err = r.GetTx(ctx, tx, caseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// InsertResultsTx stores ranking rows for a case inside the transaction.
func (r *CaseRepository) InsertResultsTx(ctx context.Context, tx *sqlx.Tx, caseID string, ranking []domain.SnapshotEntry) error {
	for _, entry := range ranking {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO case_results (id, case_id, rank, remedy_name, raw_score, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, uuid.New().String(), caseID, entry.Rank, entry.Remedy, entry.Score); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotTx reads back every result row in canonical order.
func (r *CaseRepository) SnapshotTx(ctx context.Context, tx *sqlx.Tx, caseID string) ([]domain.SnapshotEntry, error) {
	rows, err := tx.QueryxContext(ctx, `
		SELECT rank, remedy_name, raw_score
		FROM case_results
		WHERE case_id = $1
		ORDER BY rank ASC, remedy_name ASC
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshot []domain.SnapshotEntry
	for rows.Next() {
		var entry domain.SnapshotEntry
		if err := rows.Scan(&entry.Rank, &entry.Remedy, &entry.Score); err != nil {
			return nil, err
		}
		snapshot = append(snapshot, entry)
	}
	return snapshot, rows.Err()
}

// FinalizeTx seals the case in one statement gated on status='draft'.
// Row count zero means another request won the race (or the case moved
// on); exactly one caller ever succeeds.
func (r *CaseRepository) FinalizeTx(ctx context.Context, tx *sqlx.Tx, caseID string, snapshot []domain.SnapshotEntry, signature string) error {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE cases
		SET status = 'finalized',
		    finalized_at = now(),
		    ranking_snapshot = CAST($1 AS jsonb),
		    result_signature = $2
		WHERE id = $3
		  AND status = 'draft'
	`, string(snapshotJSON), signature, caseID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return errors.Lifecycle("only draft cases can be finalized")
	}
	return nil
}

// StampReplayTx writes the three replay fields. This is the only update
// the immutability trigger permits on a finalized row.
func (r *CaseRepository) StampReplayTx(ctx context.Context, tx *sqlx.Tx, caseID string, ok bool, details []byte) (*sql.NullTime, error) {
	var verifiedAt sql.NullTime
	err := tx.QueryRowxContext(ctx, `
		UPDATE cases
		SET replay_verified_at = now(),
		    replay_verification_ok = $1,
		    replay_verification_details = CAST($2 AS jsonb)
		WHERE id = $3
		RETURNING replay_verified_at
	`, ok, string(details), caseID).Scan(&verifiedAt)
	if err != nil {
		return nil, err
	}
	return &verifiedAt, nil
}
