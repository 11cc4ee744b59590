//go:build integration

package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Lew-Ashby/Token-Flow-API/internal/store/postgres"
)

// testDB returns a schema-loaded database. TEST_DB_URL points at an
// external instance; otherwise an ephemeral container is started.
func testDB(t *testing.T) *postgres.DB {
	t.Helper()

	if url := os.Getenv("TEST_DB_URL"); url != "" {
		db, err := postgres.New(postgres.Config{
			URL:             url,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Minute,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		applySchema(t, db)
		return db
	}
	return setupTestContainer(t)
}

// setupTestContainer starts a PostgreSQL container via testcontainers-go,
// applies the schema, and returns a connected *postgres.DB. Container and
// connection are cleaned up when the test ends.
func setupTestContainer(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test_tokenflow"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.New(postgres.Config{
		URL:             connStr,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applySchema(t, db)
	return db
}

func applySchema(t *testing.T, db *postgres.DB) {
	t.Helper()

	_, currentFile, _, _ := runtime.Caller(0)
	schema, err := os.ReadFile(filepath.Join(filepath.Dir(currentFile), "schema.sql"))
	require.NoError(t, err)

	_, err = db.Exec(string(schema))
	require.NoError(t, err)
}
