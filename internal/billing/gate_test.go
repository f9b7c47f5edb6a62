package billing_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincore/clincore-backend/internal/billing"
	identityrepo "github.com/clincore/clincore-backend/internal/identity/repository"
	"github.com/clincore/clincore-backend/pkg/config"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/testutil"
)

func newGate(t *testing.T, cfg config.BillingConfig) (*billing.Gate, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	db := database.NewFromDB(mockDB.DB, logger.New("test", "test"))
	usage := identityrepo.NewUsageRepository(db)
	return billing.NewGate(db, usage, cfg), mockDB
}

func expectBillingStatus(mockDB *testutil.MockDB, tenantID string, rows *sqlmock.Rows) {
	mockDB.ExpectTenantBind(tenantID)
	mockDB.ExpectQuery("SELECT billing_status FROM cases LIMIT 1").
		WillReturnRows(rows)
	mockDB.ExpectCommit()
}

func TestGate_CheckCreate(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New().String()
	cfg := config.BillingConfig{FreeTierLimit: 1000, WindowDays: 0}

	t.Run("free tenant under the limit passes", func(t *testing.T) {
		gate, mockDB := newGate(t, cfg)
		defer mockDB.Close()

		expectBillingStatus(mockDB, tenantID, testutil.MockRows("billing_status").AddRow("free"))
		mockDB.ExpectTenantBind(tenantID)
		mockDB.ExpectQuery("SELECT COUNT(*) FROM usage_events").
			WillReturnRows(testutil.MockRows("count").AddRow(1000))
		mockDB.ExpectCommit()

		require.NoError(t, gate.CheckCreate(ctx, tenantID))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("free tenant over the limit is blocked", func(t *testing.T) {
		gate, mockDB := newGate(t, cfg)
		defer mockDB.Close()

		expectBillingStatus(mockDB, tenantID, testutil.MockRows("billing_status").AddRow("free"))
		mockDB.ExpectTenantBind(tenantID)
		mockDB.ExpectQuery("SELECT COUNT(*) FROM usage_events").
			WillReturnRows(testutil.MockRows("count").AddRow(1001))
		mockDB.ExpectCommit()

		err := gate.CheckCreate(ctx, tenantID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrPaymentRequired))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("paid tenant is never gated", func(t *testing.T) {
		gate, mockDB := newGate(t, cfg)
		defer mockDB.Close()

		expectBillingStatus(mockDB, tenantID, testutil.MockRows("billing_status").AddRow("paid"))

		require.NoError(t, gate.CheckCreate(ctx, tenantID))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("tenant with no cases yet is allowed through", func(t *testing.T) {
		gate, mockDB := newGate(t, cfg)
		defer mockDB.Close()

		expectBillingStatus(mockDB, tenantID, testutil.MockRows("billing_status"))
		mockDB.ExpectTenantBind(tenantID)
		mockDB.ExpectQuery("SELECT COUNT(*) FROM usage_events").
			WillReturnRows(testutil.MockRows("count").AddRow(0))
		mockDB.ExpectCommit()

		require.NoError(t, gate.CheckCreate(ctx, tenantID))
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("bounded window uses the interval query", func(t *testing.T) {
		gate, mockDB := newGate(t, config.BillingConfig{FreeTierLimit: 10, WindowDays: 30})
		defer mockDB.Close()

		expectBillingStatus(mockDB, tenantID, testutil.MockRows("billing_status").AddRow("free"))
		mockDB.ExpectTenantBind(tenantID)
		mockDB.ExpectQuery("SELECT COUNT(*) FROM usage_events").
			WithArgs(30).
			WillReturnRows(testutil.MockRows("count").AddRow(11))
		mockDB.ExpectCommit()

		err := gate.CheckCreate(ctx, tenantID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrPaymentRequired))
		mockDB.ExpectationsWereMet(t)
	})
}
