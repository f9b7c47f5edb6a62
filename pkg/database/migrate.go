package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/migrations"
)

// Migrate applies all embedded migrations that have not been applied yet.
// Each migration file runs in its own transaction and is recorded in
// schema_migrations, so a restart resumes where the last run stopped.
// Files apply in lexical order; the numeric prefix is the ordering.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied := make(map[string]bool)
	var versions []string
	if err := db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	for _, name := range names {
		if applied[name] {
			continue
		}

		sql, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = db.Transaction(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, string(sql)); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		db.logger.Info().Str("migration", name).Msg("applied migration")
	}

	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
