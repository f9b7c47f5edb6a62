package testutil

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

// MockDB wraps sqlmock for easier testing
type MockDB struct {
	DB   *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB creates a new mock database for unit testing.
// Use this when you want to test repository logic without a real database.
//
// Usage:
//
//	mockDB := testutil.NewMockDB(t)
//	defer mockDB.Close()
//
//	mockDB.ExpectQuery("SELECT").WillReturnRows(...)
func NewMockDB(t *testing.T) *MockDB {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	sqlxDB := sqlx.NewDb(db, "postgres")

	return &MockDB{
		DB:   sqlxDB,
		Mock: mock,
	}
}

// Close closes the mock database connection
func (m *MockDB) Close() error {
	return m.DB.Close()
}

// ExpectQuery sets up an expected query
func (m *MockDB) ExpectQuery(query string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(query))
}

// ExpectExec sets up an expected exec
func (m *MockDB) ExpectExec(query string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(query))
}

// ExpectBegin sets up an expected transaction begin
func (m *MockDB) ExpectBegin() *sqlmock.ExpectedBegin {
	return m.Mock.ExpectBegin()
}

// ExpectCommit sets up an expected commit
func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit {
	return m.Mock.ExpectCommit()
}

// ExpectRollback sets up an expected rollback
func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback {
	return m.Mock.ExpectRollback()
}

// ExpectationsWereMet verifies all expectations were met
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows creates a new mock rows object
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// ExpectTenantBind expects the opening of a tenant-bound transaction:
// BEGIN followed by the transaction-local tenant binding. Queue the
// statements the repository runs next, then ExpectCommit (or
// ExpectRollback).
//
// Usage:
//
//	mockDB.ExpectTenantBind(tenantID)
//	mockDB.ExpectQuery("SELECT ...").WillReturnRows(rows)
//	mockDB.ExpectCommit()
func (m *MockDB) ExpectTenantBind(tenantID string) {
	m.Mock.ExpectBegin()
	m.Mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf("SET LOCAL app.tenant_id = '%s'", tenantID))).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ExpectTenantQuery sets up a complete tenant-bound transaction around
// one query.
func (m *MockDB) ExpectTenantQuery(tenantID, query string, rows *sqlmock.Rows) {
	m.ExpectTenantBind(tenantID)
	m.Mock.ExpectQuery(regexp.QuoteMeta(query)).WillReturnRows(rows)
	m.Mock.ExpectCommit()
}

// ExpectTenantExec sets up a complete tenant-bound transaction around
// one exec.
func (m *MockDB) ExpectTenantExec(tenantID, query string, result driver.Result) {
	m.ExpectTenantBind(tenantID)
	m.Mock.ExpectExec(regexp.QuoteMeta(query)).WillReturnResult(result)
	m.Mock.ExpectCommit()
}

// AnyTime is a matcher for any time.Time value
type AnyTime struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// AnyUUID is a matcher for any UUID string
type AnyUUID struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	matched, _ := regexp.MatchString(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, s)
	return matched
}
