package repository_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincore/clincore-backend/internal/feedback/domain"
	"github.com/clincore/clincore-backend/internal/feedback/repository"
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

func record(t *testing.T, repo *repository.FeedbackRepository, tenantID, top1, chosen, outcome string, top3 ...string) {
	t.Helper()

	top3JSON, err := domain.MarshalCanonical(domain.CanonicalTop3(top1, top3))
	require.NoError(t, err)

	err = repo.Insert(context.Background(), tenantID, &domain.Feedback{
		TenantID:      tenantID,
		PredictedTop1: top1,
		PredictedTop3: top3JSON,
		ChosenRemedy:  chosen,
		OutcomeType:   outcome,
		Metadata:      json.RawMessage(`{}`),
	})
	require.NoError(t, err)
}

func TestFeedbackRepository_Summary(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "feedback-summary")
	repo := repository.NewFeedbackRepository(suite.DB)

	// 2 of 3 correct at top-1; all 3 covered at top-3.
	record(t, repo, tenant.ID, "Arnica", "Arnica", "agree", "Arnica", "Belladonna")
	record(t, repo, tenant.ID, "Arnica", "Arnica", "agree", "Arnica", "Nux")
	record(t, repo, tenant.ID, "Arnica", "Belladonna", "disagree", "Arnica", "Belladonna")

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	summary, err := repo.Summary(ctx, tenant.ID, cutoff, 30)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalCount)
	assert.InDelta(t, 0.6667, summary.Top1Accuracy, 0.0001)
	assert.InDelta(t, 1.0, summary.Top3Coverage, 0.0001)
	assert.Equal(t, map[string]int{"agree": 2, "disagree": 1}, summary.OutcomeCounts)
	assert.Equal(t, 30, summary.Days)

	require.Len(t, summary.TopMismatches, 1)
	assert.Equal(t, "Arnica", summary.TopMismatches[0].PredictedTop1)
	assert.Equal(t, "Belladonna", summary.TopMismatches[0].ChosenRemedy)
	assert.Equal(t, 1, summary.TopMismatches[0].Count)
}

func TestFeedbackRepository_SummaryEmptyWindow(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "feedback-empty")
	repo := repository.NewFeedbackRepository(suite.DB)

	summary, err := repo.Summary(ctx, tenant.ID, time.Now().UTC().AddDate(0, 0, -7), 7)
	require.NoError(t, err)

	assert.Zero(t, summary.TotalCount)
	assert.Zero(t, summary.Top1Accuracy)
	assert.Zero(t, summary.Top3Coverage)
	assert.Empty(t, summary.OutcomeCounts)
	assert.Empty(t, summary.TopMismatches)
}

func TestFeedbackRepository_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := suite.SetupTenant(t, ctx, "feedback-iso-a")
	tenantB := suite.SetupTenant(t, ctx, "feedback-iso-b")
	repo := repository.NewFeedbackRepository(suite.DB)

	record(t, repo, tenantA.ID, "Arnica", "Arnica", "agree", "Arnica")

	summaryB, err := repo.Summary(ctx, tenantB.ID, time.Now().UTC().AddDate(0, 0, -30), 30)
	require.NoError(t, err)
	assert.Zero(t, summaryB.TotalCount)
}

func TestFeedbackRepository_AppendOnly(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "feedback-append-only")
	repo := repository.NewFeedbackRepository(suite.DB)

	record(t, repo, tenant.ID, "Arnica", "Arnica", "agree", "Arnica")

	t.Run("update touches no rows", func(t *testing.T) {
		var affected int64
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx,
				"UPDATE mcare_feedback SET outcome_type = 'disagree' WHERE tenant_id = $1", tenant.ID)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
		require.NoError(t, err)
		assert.Zero(t, affected)
	})

	t.Run("delete touches no rows", func(t *testing.T) {
		var affected int64
		err := suite.DB.WithTenant(ctx, tenant.ID, func(ctx context.Context, tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM mcare_feedback WHERE tenant_id = $1", tenant.ID)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
		require.NoError(t, err)
		assert.Zero(t, affected)
	})

	t.Run("record still there", func(t *testing.T) {
		summary, err := repo.Summary(ctx, tenant.ID, time.Now().UTC().AddDate(0, 0, -1), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.TotalCount)
		assert.Equal(t, "agree", firstKey(summary.OutcomeCounts))
	})
}

func firstKey(m map[string]int) string {
	for k := range m {
		return k
	}
	return ""
}

func TestFeedbackRepository_ScoreRangeConstraint(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "feedback-constraint")
	repo := repository.NewFeedbackRepository(suite.DB)

	top3JSON, err := domain.MarshalCanonical([]string{"Arnica"})
	require.NoError(t, err)

	score := 11
	err = repo.Insert(ctx, tenant.ID, &domain.Feedback{
		TenantID:      tenant.ID,
		PredictedTop1: "Arnica",
		PredictedTop3: top3JSON,
		ChosenRemedy:  "Arnica",
		OutcomeType:   "agree",
		OutcomeScore:  &score,
		Metadata:      json.RawMessage(`{}`),
	})
	require.Error(t, err)
}
