package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalOwnerDB   *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests against real
// PostgreSQL with the full migration set applied.
//
// DB connects as the unprivileged application role, so every tenant
// policy, trigger, and constraint is live. OwnerDB is the container
// superuser: it bypasses RLS and exists for out-of-band assertions
// (counting rows across tenants, inspecting trigger effects).
type IntegrationSuite struct {
	Container *PostgresContainer
	OwnerDB   *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates the shared test infrastructure. Call it
// once in TestMain.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        panic(err)
//	    }
//	    os.Exit(m.Run())
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, ownerDB, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")

	// Migrations run as the owner; the app role must not own the tables
	// or FORCE ROW LEVEL SECURITY would be the only thing standing
	// between it and a policy rewrite.
	migrationDB, err := database.NewWithDSN(container.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := migrationDB.Migrate(ctx); err != nil {
		return nil, err
	}
	if err := container.CreateAppRole(ctx, ownerDB); err != nil {
		return nil, err
	}
	migrationDB.Close()

	appDB, err := database.NewWithDSN(container.AppDSN, log)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		OwnerDB:   ownerDB,
		DB:        appDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalOwnerDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalOwnerDB, containerErr
}

// SetupTenant creates a tenant row and registers cleanup. Each test gets
// its own tenant for isolation.
func (s *IntegrationSuite) SetupTenant(t *testing.T, ctx context.Context, name string) *TestTenant {
	t.Helper()

	tenant, err := s.Fixtures.CreateTenant(ctx, s.OwnerDB, name)
	if err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Fixtures.DropTenant(context.Background(), s.OwnerDB, tenant.ID); err != nil {
			t.Logf("warning: failed to drop tenant %s: %v", tenant.ID, err)
		}
	})

	return tenant
}

// Cleanup releases suite resources. The shared container stays up for
// other packages.
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	if s.DB != nil {
		s.DB.Close()
	}
	return nil
}

// TerminateContainer terminates the shared container.
// Only call this after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// IsCI returns true if running in CI environment
func IsCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}
