package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStore wraps a Store with test cleanup functionality.
type TestStore struct {
	*Store
	pool *pgxpool.Pool
}

// NewTestStore creates a Store for integration tests with the schema applied.
// It connects to TEST_DATABASE_URL when set, and otherwise starts a disposable
// Postgres container. Everything is torn down with t.Cleanup.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()
	SkipIfNoTestDB(t)

	ctx := context.Background()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = startPostgresContainer(t)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx), "failed to ping test database")

	ts := &TestStore{
		Store: NewStore(pool, nil),
		pool:  pool,
	}
	require.NoError(t, ts.EnsureSchema(ctx))
	ts.Cleanup(t)
	return ts
}

func startPostgresContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("gsoltrack_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Skipping database test: cannot start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}

// Cleanup removes all data from test tables.
// Call this in tests to ensure clean state between test cases.
func (ts *TestStore) Cleanup(t *testing.T) {
	t.Helper()

	_, err := ts.pool.Exec(context.Background(), "TRUNCATE TABLE ledger_transactions")
	require.NoError(t, err, "failed to cleanup test database")
}

// SkipIfNoTestDB skips the test when database tests are disabled.
func SkipIfNoTestDB(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	if os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database test (SKIP_DB_TESTS is set)")
	}
}
