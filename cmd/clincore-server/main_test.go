package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/logger"
)

func pingableDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()

	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := database.NewFromDB(sqlx.NewDb(raw, "sqlmock"), logger.New("test", "test"))
	return db, mock
}

func TestReadiness(t *testing.T) {
	t.Run("ready while the database answers", func(t *testing.T) {
		db, mock := pingableDB(t)
		mock.ExpectPing()

		rec := httptest.NewRecorder()
		readiness(db)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ready"`)
	})

	t.Run("unavailable when the database is down", func(t *testing.T) {
		db, mock := pingableDB(t)
		mock.ExpectPing().WillReturnError(fmt.Errorf("connection refused"))

		rec := httptest.NewRecorder()
		readiness(db)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"not ready"`)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}
