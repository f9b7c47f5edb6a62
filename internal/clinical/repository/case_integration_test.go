package repository_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincore/clincore-backend/internal/clinical/domain"
	"github.com/clincore/clincore-backend/internal/clinical/repository"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error

	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		panic("failed to create integration suite: " + err.Error())
	}
	defer suite.Cleanup(ctx)

	code := m.Run()
	os.Exit(code)
}

func newCase(tenantID string) *domain.Case {
	return &domain.Case{
		TenantID:     tenantID,
		InputPayload: json.RawMessage(`{"symptoms":["headache"]}`),
	}
}

func TestCaseRepository_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := suite.SetupTenant(t, ctx, "clinic-a")
	tenantB := suite.SetupTenant(t, ctx, "clinic-b")
	repo := repository.NewCaseRepository(suite.DB)

	c := newCase(tenantA.ID)
	require.NoError(t, repo.Create(ctx, tenantA.ID, c))

	t.Run("owner tenant sees its case", func(t *testing.T) {
		got, err := repo.Get(ctx, tenantA.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, domain.StatusDraft, got.Status)
	})

	t.Run("other tenant gets not found, not forbidden", func(t *testing.T) {
		_, err := repo.Get(ctx, tenantB.ID, c.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("unbound session sees no rows at all", func(t *testing.T) {
		var count int
		err := suite.DB.GetContext(ctx, &count, "SELECT COUNT(*) FROM cases")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("insert for a foreign tenant is refused by policy", func(t *testing.T) {
		foreign := newCase(tenantB.ID)
		foreign.ID = uuid.New().String()
		err := suite.DB.WithTenant(ctx, tenantA.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cases (id, tenant_id, input_payload, status)
				VALUES ($1, $2, '{}'::jsonb, 'draft')
			`, foreign.ID, tenantB.ID)
			return err
		})
		require.Error(t, err)
	})
}

func TestPatientIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := suite.SetupTenant(t, ctx, "clinic-patients-a")
	tenantB := suite.SetupTenant(t, ctx, "clinic-patients-b")

	var patientID string
	err := suite.DB.WithTenant(ctx, tenantA.ID, func(ctx context.Context, tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &patientID, `
			INSERT INTO patients (tenant_id, full_name)
			VALUES ($1, 'Jane Roe') RETURNING id
		`, tenantA.ID)
	})
	require.NoError(t, err)

	t.Run("owner tenant sees the patient", func(t *testing.T) {
		var count int
		err := suite.DB.WithTenant(ctx, tenantA.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM patients WHERE id = $1", patientID)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("other tenant counts zero patients", func(t *testing.T) {
		var count int
		err := suite.DB.WithTenant(ctx, tenantB.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			return tx.GetContext(ctx, &count, "SELECT COUNT(*) FROM patients")
		})
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("unbound session counts zero patients", func(t *testing.T) {
		var count int
		err := suite.DB.GetContext(ctx, &count, "SELECT COUNT(*) FROM patients")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func finalize(t *testing.T, repo *repository.CaseRepository, tenantID, caseID string, ranking []domain.SnapshotEntry) string {
	t.Helper()

	var signature string
	err := suite.DB.WithTenant(context.Background(), tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := repo.InsertResultsTx(ctx, tx, caseID, ranking); err != nil {
			return err
		}
		snapshot, err := repo.SnapshotTx(ctx, tx, caseID)
		if err != nil {
			return err
		}
		signature, err = domain.Sign(snapshot)
		if err != nil {
			return err
		}
		return repo.FinalizeTx(ctx, tx, caseID, snapshot, signature)
	})
	require.NoError(t, err)
	return signature
}

func TestCaseRepository_FinalizeLifecycle(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "clinic-finalize")
	repo := repository.NewCaseRepository(suite.DB)

	ranking := []domain.SnapshotEntry{
		{Rank: 1, Remedy: "Arnica", Score: 0.75},
		{Rank: 2, Remedy: "Belladonna", Score: 0.5},
	}

	c := newCase(tenant.ID)
	require.NoError(t, repo.Create(ctx, tenant.ID, c))
	signature := finalize(t, repo, tenant.ID, c.ID, ranking)

	t.Run("finalized case carries snapshot and signature", func(t *testing.T) {
		got, err := repo.Get(ctx, tenant.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFinalized, got.Status)
		require.NotNil(t, got.ResultSignature)
		assert.Equal(t, signature, *got.ResultSignature)
		require.NotNil(t, got.FinalizedAt)

		snapshot, err := domain.DecodeSnapshot(got.RankingSnapshot)
		require.NoError(t, err)
		recomputed, err := domain.Sign(snapshot)
		require.NoError(t, err)
		assert.Equal(t, signature, recomputed)
	})

	t.Run("second finalize loses the guarded update", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			return repo.FinalizeTx(ctx, tx, c.ID, ranking, signature)
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrLifecycle))
	})

	t.Run("tampering with a finalized case is refused by trigger", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				"UPDATE cases SET input_payload = '{\"tampered\":true}'::jsonb WHERE id = $1", c.ID)
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "immutable")
	})

	t.Run("even the superuser cannot tamper", func(t *testing.T) {
		_, err := suite.OwnerDB.ExecContext(ctx,
			"UPDATE cases SET result_signature = repeat('0', 64) WHERE id = $1", c.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "immutable")
	})

	t.Run("delete is never allowed", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM cases WHERE id = $1", c.ID)
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("replay fields remain writable on a finalized case", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			stamped, err := repo.StampReplayTx(ctx, tx, c.ID, true, []byte(`{"expected":"x","computed":"x","match":true}`))
			if err != nil {
				return err
			}
			assert.True(t, stamped.Valid)
			return nil
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, tenant.ID, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ReplayVerificationOK)
		assert.True(t, *got.ReplayVerificationOK)
		assert.NotNil(t, got.ReplayVerifiedAt)
	})

	t.Run("replay update combined with another column is refused", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `
				UPDATE cases
				SET replay_verification_ok = false, random_seed = '9'
				WHERE id = $1
			`, c.ID)
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "immutable")
	})
}

func TestCaseRepository_ResultsFollowParentCaseVisibility(t *testing.T) {
	ctx := context.Background()
	tenantA := suite.SetupTenant(t, ctx, "clinic-results-a")
	tenantB := suite.SetupTenant(t, ctx, "clinic-results-b")
	repo := repository.NewCaseRepository(suite.DB)

	c := newCase(tenantA.ID)
	require.NoError(t, repo.Create(ctx, tenantA.ID, c))
	finalize(t, repo, tenantA.ID, c.ID, []domain.SnapshotEntry{{Rank: 1, Remedy: "Arnica", Score: 1.0}})

	var countB int
	err := suite.DB.WithTenant(ctx, tenantB.ID, func(ctx context.Context, tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &countB,
			"SELECT COUNT(*) FROM case_results WHERE case_id = $1", c.ID)
	})
	require.NoError(t, err)
	assert.Zero(t, countB)

	var countA int
	err = suite.DB.WithTenant(ctx, tenantA.ID, func(ctx context.Context, tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &countA,
			"SELECT COUNT(*) FROM case_results WHERE case_id = $1", c.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countA)
}

func TestAuditLogRepository_WriteOnce(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "clinic-audit")
	repo := repository.NewAuditLogRepository(suite.DB, suite.Logger)

	caseID := uuid.New().String()
	err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
		return repo.InsertAuditTx(ctx, tx, tenant.ID, repository.AutomationUserID,
			repository.ActionFinalize, "cases", caseID, map[string]interface{}{"auto": "true"})
	})
	require.NoError(t, err)

	t.Run("update is refused", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				"UPDATE audit_logs SET action = 'TAMPERED' WHERE tenant_id = $1", tenant.ID)
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "WORM")
	})

	t.Run("delete is refused", func(t *testing.T) {
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM audit_logs WHERE tenant_id = $1", tenant.ID)
			return err
		})
		require.Error(t, err)
	})
}

func TestAuditLogRepository_LogAccess(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "clinic-access")
	caseRepo := repository.NewCaseRepository(suite.DB)
	auditRepo := repository.NewAuditLogRepository(suite.DB, suite.Logger)

	c := newCase(tenant.ID)
	require.NoError(t, caseRepo.Create(ctx, tenant.ID, c))

	auditRepo.LogAccess(ctx, tenant.ID, c.ID, repository.ActionView)
	auditRepo.LogAccess(ctx, tenant.ID, c.ID, repository.ActionVerify)

	var actions []string
	err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &actions,
			"SELECT action FROM access_logs WHERE case_id = $1 ORDER BY accessed_at", c.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"VIEW", "VERIFY"}, actions)

	// Access rows are attributed to the system sentinel, not a person.
	var userID string
	err = suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &userID,
			"SELECT user_id::text FROM access_logs WHERE case_id = $1 LIMIT 1", c.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, repository.SystemUserID, userID)
}
