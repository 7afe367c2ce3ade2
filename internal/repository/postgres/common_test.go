package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
)

// Integration tests run against the PostgreSQL instance named by
// POSTGRES_TEST_HOST and skip when none is configured.
func testPostgresConfig(t *testing.T) config.PostgresConfig {
	t.Helper()

	host := os.Getenv("POSTGRES_TEST_HOST")
	if host == "" {
		t.Skip("Skipping integration test: POSTGRES_TEST_HOST not set")
	}

	return config.PostgresConfig{
		Host:     host,
		Port:     5432,
		User:     envOr("POSTGRES_TEST_USER", "postgres"),
		Password: os.Getenv("POSTGRES_TEST_PASS"),
		Database: envOr("POSTGRES_TEST_DB", "test_stagewatch"),
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getTestDB opens a pgx pool for repository tests. The pool is closed when
// the test finishes.
func getTestDB(t *testing.T) *database.PostgresDB {
	t.Helper()

	db, err := database.NewPostgres(context.Background(), testPostgresConfig(t))
	if err != nil {
		t.Skipf("Skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(db.Close)

	return db
}

// getTestSQLX opens a sqlx handle for the audit repository tests.
func getTestSQLX(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.NewPostgresSQLX(context.Background(), testPostgresConfig(t))
	if err != nil {
		t.Skipf("Skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// cleanupRuns removes test runs and their ingest keys from the database.
func cleanupRuns(t *testing.T, db *database.PostgresDB, names ...string) {
	t.Helper()

	ctx := context.Background()
	for _, name := range names {
		_, _ = db.Pool.Exec(ctx,
			"DELETE FROM run_ingest_keys WHERE run_id IN (SELECT id FROM runs WHERE name = $1)", name)
		_, _ = db.Pool.Exec(ctx, "DELETE FROM runs WHERE name = $1", name)
	}
}
