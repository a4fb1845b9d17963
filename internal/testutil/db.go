package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/store"
)

// SetupPool creates a pgxpool.Pool for integration tests. Tests are skipped
// unless TEST_DATABASE_URL is set (directly or via the repo .env).
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// MemoryProvider returns a store provider backed by an in-memory DuckDB that
// lives for the duration of the test.
func MemoryProvider(t *testing.T) *store.Provider {
	t.Helper()

	p, err := store.NewProvider(store.Config{Driver: store.DriverDuckDB}, logger.Discard().WithComponent("store"))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	t.Cleanup(func() { p.Shutdown() })
	return p
}
