package repository

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/logger"
)

// Sentinel actors for machine-generated entries.
const (
	// SystemUserID marks access log rows written on behalf of API clients.
	SystemUserID = "00000000-0000-0000-0000-000000000001"
	// AutomationUserID marks audit rows written by the lifecycle itself.
	AutomationUserID = "00000000-0000-0000-0000-000000000000"
)

// Access log actions
const (
	ActionView     = "VIEW"
	ActionVerify   = "VERIFY"
	ActionFinalize = "FINALIZE"
)

// AuditLogRepository writes audit and access trail rows. Audit rows join
// the caller's transaction so they commit or roll back with the change
// they describe. Access rows are best-effort and run in their own
// transaction so a read is never failed by its own trail.
type AuditLogRepository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *database.DB, log *logger.Logger) *AuditLogRepository {
	return &AuditLogRepository{db: db, logger: log}
}

// InsertAuditTx appends an audit row inside an existing tenant-bound
// transaction. The table is WORM: inserts only.
func (r *AuditLogRepository) InsertAuditTx(ctx context.Context, tx *sqlx.Tx, tenantID, userID, action, tableName, recordID string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (tenant_id, user_id, action, table_name, record_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, CAST($6 AS jsonb), now())
	`, tenantID, userID, action, tableName, recordID, string(metaJSON))
	return err
}

// LogAccess records a VIEW or VERIFY against a case. Failures are logged
// and swallowed; the business operation already succeeded.
func (r *AuditLogRepository) LogAccess(ctx context.Context, tenantID, caseID, action string) {
	err := r.db.WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO access_logs (tenant_id, user_id, case_id, action, accessed_at)
			VALUES ($1, $2, $3, $4, now())
		`, tenantID, SystemUserID, caseID, action)
		return err
	})
	if err != nil {
		r.logger.WithError(err).Warn().
			Str("case_id", caseID).
			Str("action", action).
			Msg("failed to record access log")
	}
}
