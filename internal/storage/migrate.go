package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// migration upgrades an index created by an older binary. Version 1 is the
// base schema.
type migration struct {
	version     int
	description string
	up          string
}

var migrations = []migration{
	{
		version:     2,
		description: "index outcomes by kind for history filters",
		up:          `CREATE INDEX IF NOT EXISTS idx_outcomes_kind ON directory_outcomes(kind)`,
	},
}

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at INTEGER NOT NULL
)`

// migrate records the base schema and applies pending migrations in order.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current == 0 {
		if err := applyMigration(ctx, db, migration{version: 1, description: "base schema"}); err != nil {
			return err
		}
		current = 1
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if m.version > current {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	for _, m := range pending {
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.up != "" {
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		m.version, m.description, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}
