package database

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// appliedMigration tracks which migrations have run
type appliedMigration struct {
	bun.BaseModel `bun:"table:bun_schema_migrations"`

	Version   string    `bun:"version,pk"`
	Name      string    `bun:"name,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}

type migration struct {
	version string
	name    string
	up      func(context.Context, *bun.DB) error
}

var migrations = []migration{
	{"001", "create_documents_table", init001CreateDocumentsTable},
	{"002", "create_render_logs_table", init002CreateRenderLogsTable},
}

// runMigrations runs all Bun migrations
func runMigrations(ctx context.Context, db *bun.DB) error {
	// Create a simple migrations tracking table
	_, err := db.NewCreateTable().
		Model((*appliedMigration)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Check which migrations have been applied
	var applied []appliedMigration
	err = db.NewSelect().
		Model(&applied).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	// Run migrations in order
	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, db); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}

		// Mark as applied
		_, err = db.NewInsert().
			Model(&appliedMigration{Version: m.version, Name: m.name, AppliedAt: time.Now().UTC()}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// createIndexes creates indexes, warning instead of failing on dialects
// that reject one
func createIndexes(ctx context.Context, db *bun.DB, indexes []string) {
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			Logger.Warn("Could not create index (might not be supported)", "index", idx, "error", err)
		}
	}
}

// Migration 001: Create the document registry
func init001CreateDocumentsTable(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*BunDocument)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createIndexes(ctx, db, []string{
		"CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(hash)",
		"CREATE INDEX IF NOT EXISTS idx_documents_opened_at ON documents(opened_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_documents_open ON documents(closed_at) WHERE closed_at IS NULL",
	})
	return nil
}

// Migration 002: Create the render history
func init002CreateRenderLogsTable(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*BunRenderRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create render_logs table: %w", err)
	}

	createIndexes(ctx, db, []string{
		"CREATE INDEX IF NOT EXISTS idx_render_logs_document ON render_logs(document_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_render_logs_created_at ON render_logs(created_at)",
	})
	return nil
}
