//go:build integration

// Package dbtest starts a migrated PostgreSQL container for integration tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/fxreval/internal/platform/db"
	"github.com/odyssey-erp/fxreval/migrations"
)

// Postgres is a running container with the schema applied.
type Postgres struct {
	Container *postgres.PostgresContainer
	DSN       string
	Pool      *pgxpool.Pool
}

// Start launches PostgreSQL, applies every migration and registers cleanup
// on t.
func Start(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fxreval"),
		postgres.WithUsername("fxreval"),
		postgres.WithPassword("fxreval"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	pg := &Postgres{Container: container}
	t.Cleanup(func() { pg.cleanup(t) })

	pg.DSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	if err := db.Migrate(migrations.FS, pg.DSN); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	pg.Pool, err = db.New(ctx, pg.DSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	return pg
}

func (pg *Postgres) cleanup(t *testing.T) {
	if pg.Pool != nil {
		pg.Pool.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.Container.Terminate(ctx); err != nil {
		t.Logf("terminate postgres container: %v", err)
	}
}
