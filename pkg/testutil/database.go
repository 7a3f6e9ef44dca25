package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/pkg/database"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

// DatabaseURLEnv names the admin connection string used to create test
// databases. Tests needing Postgres are skipped when it is unset.
const DatabaseURLEnv = "LEADFLOW_TEST_DATABASE_URL"

// TestDB represents a migrated, throwaway test database
type TestDB struct {
	Pool     *pgxpool.Pool
	DB       *sql.DB
	DBName   string
	adminURL string
	t        *testing.T
}

// SetupTestDB creates a fresh database, applies the embedded migrations and
// registers its teardown with t.Cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	adminURL := os.Getenv(DatabaseURLEnv)
	if adminURL == "" {
		t.Skipf("%s not set, skipping database test", DatabaseURLEnv)
	}

	ctx := context.Background()
	dbName := "leadflow_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	adminDB, err := sql.Open("pgx", adminURL)
	require.NoError(t, err, "Failed to connect to admin database")
	defer adminDB.Close()

	_, err = adminDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err, "Failed to create test database")

	testURL, err := withDatabase(adminURL, dbName)
	require.NoError(t, err, "Failed to build test connection string")

	migrator, err := database.NewMigrator("pgx", testURL, logger.NewForTesting())
	require.NoError(t, err, "Failed to create migrator")
	require.NoError(t, migrator.Up(), "Failed to run migrations")
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, testURL)
	require.NoError(t, err, "Failed to connect to test database")

	db := &TestDB{
		Pool:     pool,
		DB:       stdlib.OpenDBFromPool(pool),
		DBName:   dbName,
		adminURL: adminURL,
		t:        t,
	}
	t.Cleanup(db.Teardown)
	return db
}

// Teardown closes the connections and drops the test database
func (db *TestDB) Teardown() {
	db.t.Helper()

	if db.DB != nil {
		db.DB.Close()
	}
	if db.Pool != nil {
		db.Pool.Close()
	}

	adminDB, err := sql.Open("pgx", db.adminURL)
	if err != nil {
		db.t.Logf("Failed to connect to admin database: %v", err)
		return
	}
	defer adminDB.Close()

	_, err = adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", db.DBName))
	if err != nil {
		db.t.Logf("Failed to drop test database: %v", err)
	}
}

// Truncate truncates the given tables
func (db *TestDB) Truncate(tables ...string) {
	db.t.Helper()
	ctx := context.Background()

	for _, table := range tables {
		_, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(db.t, err, "Failed to truncate table %s", table)
	}
}

func withDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + name
	return u.String(), nil
}
