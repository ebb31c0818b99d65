package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/stapelberg/postgrestest"
)

// openEphemeralPostgres starts a throwaway PostgreSQL server and returns a
// connection to a fresh database on it. The caller owns the server and must
// call Cleanup.
func openEphemeralPostgres(ctx context.Context) (*sql.DB, *postgrestest.Server, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}

	dsn, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to create ephemeral database: %w", err)
	}
	Logger.Info("Created ephemeral database", "dsn", dsn)

	// postgrestest hands out lib/pq style DSNs
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to open ephemeral database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	Logger.Info("Connected to ephemeral PostgreSQL database successfully")
	return db, pgt, nil
}
