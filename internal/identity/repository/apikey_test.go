package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincore/clincore-backend/internal/identity/domain"
	"github.com/clincore/clincore-backend/internal/identity/repository"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/testutil"
)

func newRepo(t *testing.T) (*repository.APIKeyRepository, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	db := database.NewFromDB(mockDB.DB, logger.New("test", "test"))
	return repository.NewAPIKeyRepository(db), mockDB
}

func TestAPIKeyRepository_LookupActive(t *testing.T) {
	ctx := context.Background()

	t.Run("returns active key", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		keyID := uuid.New().String()
		tenantID := uuid.New().String()
		hash := "abc123"

		mockDB.ExpectQuery("SELECT id, tenant_id, key_hash, label, role, is_active, created_at, last_used_at, revoked_at").
			WithArgs(hash).
			WillReturnRows(testutil.MockRows(
				"id", "tenant_id", "key_hash", "label", "role", "is_active", "created_at", "last_used_at", "revoked_at",
			).AddRow(keyID, tenantID, hash, "primary", "user", true, time.Now(), nil, nil))

		key, err := repo.LookupActive(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, keyID, key.ID)
		assert.Equal(t, tenantID, key.TenantID)
		assert.Equal(t, "user", key.Role)
		assert.True(t, key.Valid())

		mockDB.ExpectationsWereMet(t)
	})

	t.Run("unknown key maps to unauthorized", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		mockDB.ExpectQuery("SELECT id, tenant_id, key_hash").
			WithArgs("nope").
			WillReturnRows(testutil.MockRows("id"))

		_, err := repo.LookupActive(ctx, "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnauthorized))

		mockDB.ExpectationsWereMet(t)
	})
}

func TestAPIKeyRepository_EnsureTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts and reselects", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		tenantID := uuid.New().String()

		mockDB.ExpectBegin()
		mockDB.ExpectExec("INSERT INTO tenants").
			WithArgs(testutil.AnyUUID{}, "clinic-a").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectQuery("SELECT id FROM tenants WHERE name = $1").
			WithArgs("clinic-a").
			WillReturnRows(testutil.MockRows("id").AddRow(tenantID))
		mockDB.ExpectCommit()

		got, err := repo.EnsureTenant(ctx, "clinic-a")
		require.NoError(t, err)
		assert.Equal(t, tenantID, got)

		mockDB.ExpectationsWereMet(t)
	})

	t.Run("conflict returns the existing tenant id", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		existingID := uuid.New().String()

		mockDB.ExpectBegin()
		mockDB.ExpectExec("INSERT INTO tenants").
			WithArgs(testutil.AnyUUID{}, "clinic-a").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mockDB.ExpectQuery("SELECT id FROM tenants WHERE name = $1").
			WithArgs("clinic-a").
			WillReturnRows(testutil.MockRows("id").AddRow(existingID))
		mockDB.ExpectCommit()

		got, err := repo.EnsureTenant(ctx, "clinic-a")
		require.NoError(t, err)
		assert.Equal(t, existingID, got)

		mockDB.ExpectationsWereMet(t)
	})
}

func TestAPIKeyRepository_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("deactivates old and inserts replacement in one transaction", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		label := "rotated"
		newKey := &domain.APIKey{
			TenantID: uuid.New().String(),
			KeyHash:  "newhash",
			Label:    &label,
			Role:     "user",
		}

		mockDB.ExpectBegin()
		mockDB.ExpectExec("UPDATE api_keys SET is_active = false WHERE key_hash = $1").
			WithArgs("oldhash").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectQuery("INSERT INTO api_keys").
			WithArgs(testutil.AnyUUID{}, newKey.TenantID, "newhash", "rotated", "user").
			WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
		mockDB.ExpectCommit()

		err := repo.Rotate(ctx, "oldhash", newKey)
		require.NoError(t, err)
		assert.NotEmpty(t, newKey.ID)
		assert.False(t, newKey.CreatedAt.IsZero())

		mockDB.ExpectationsWereMet(t)
	})

	t.Run("insert failure rolls the deactivation back", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		mockDB.ExpectBegin()
		mockDB.ExpectExec("UPDATE api_keys SET is_active = false WHERE key_hash = $1").
			WithArgs("oldhash").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.ExpectQuery("INSERT INTO api_keys").
			WillReturnError(assert.AnError)
		mockDB.ExpectRollback()

		err := repo.Rotate(ctx, "oldhash", &domain.APIKey{TenantID: uuid.New().String()})
		require.Error(t, err)

		mockDB.ExpectationsWereMet(t)
	})
}

func TestAPIKeyRepository_Revoke(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the revoked id", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		keyID := uuid.New().String()
		tenantID := uuid.New().String()

		mockDB.ExpectQuery("UPDATE api_keys").
			WithArgs(keyID, tenantID).
			WillReturnRows(testutil.MockRows("id").AddRow(keyID))

		got, err := repo.Revoke(ctx, keyID, tenantID)
		require.NoError(t, err)
		assert.Equal(t, keyID, got)

		mockDB.ExpectationsWereMet(t)
	})

	t.Run("missing or already revoked key maps to not found", func(t *testing.T) {
		repo, mockDB := newRepo(t)
		defer mockDB.Close()

		mockDB.ExpectQuery("UPDATE api_keys").
			WithArgs("missing", "tenant").
			WillReturnRows(testutil.MockRows("id"))

		_, err := repo.Revoke(ctx, "missing", "tenant")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		mockDB.ExpectationsWereMet(t)
	})
}

func TestUsageRepository_Record(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New().String()

	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	db := database.NewFromDB(mockDB.DB, logger.New("test", "test"))
	repo := repository.NewUsageRepository(db)

	mockDB.ExpectTenantBind(tenantID)
	mockDB.ExpectExec("INSERT INTO usage_events").
		WithArgs(tenantID, "key-1", "/cases").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	err := repo.Record(ctx, tenantID, "key-1", "/cases")
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestUsageRepository_CountSince(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New().String()

	t.Run("zero window counts the whole ledger", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()
		repo := repository.NewUsageRepository(database.NewFromDB(mockDB.DB, logger.New("test", "test")))

		mockDB.ExpectTenantQuery(tenantID,
			"SELECT COUNT(*) FROM usage_events",
			testutil.MockRows("count").AddRow(42))

		count, err := repo.CountSince(ctx, tenantID, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(42), count)

		mockDB.ExpectationsWereMet(t)
	})

	t.Run("positive window bounds the count", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()
		repo := repository.NewUsageRepository(database.NewFromDB(mockDB.DB, logger.New("test", "test")))

		mockDB.ExpectTenantBind(tenantID)
		mockDB.ExpectQuery("SELECT COUNT(*) FROM usage_events WHERE created_at >= now() - make_interval(days => $1)").
			WithArgs(30).
			WillReturnRows(testutil.MockRows("count").AddRow(7))
		mockDB.ExpectCommit()

		count, err := repo.CountSince(ctx, tenantID, 30)
		require.NoError(t, err)
		assert.Equal(t, int64(7), count)

		mockDB.ExpectationsWereMet(t)
	})
}
