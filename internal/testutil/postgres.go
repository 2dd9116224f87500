// Package testutil provides shared test infrastructure: a disposable
// pgvector PostgreSQL container, deterministic fake embedders, and quiet
// loggers.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/contentforge/corpus/db"
)

// TestDB wraps a PostgreSQL test container with a ready connection pool.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a pgvector PostgreSQL container, applies the schema
// migrations and returns a connection pool. Skips the test when no
// container runtime is available. The returned cleanup must be called.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := func() (c *postgres.PostgresContainer, err error) {
		// testcontainers panics (rather than returning an error) when no
		// Docker host can be detected at all; convert that into an error so
		// the skip below still fires.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("starting container: %v", r)
			}
		}()
		return postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("corpus_test"),
			postgres.WithUsername("corpus_test"),
			postgres.WithPassword("test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("starting postgres container (docker unavailable?): %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("creating connection pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("pinging database: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}
	return &TestDB{Container: pgContainer, Pool: pool, ConnStr: connStr}, cleanup
}

// Truncate empties the knowledge tables between test cases.
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()
	_, err := tdb.Pool.Exec(context.Background(),
		`TRUNCATE knowledge_search_index, knowledge_documents`)
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
}
