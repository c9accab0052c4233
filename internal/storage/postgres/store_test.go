package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptgate/internal/entitlement"
	"scriptgate/internal/storage/storetest"
)

// setupTestDB connects to SCRIPTGATE_TEST_POSTGRES_DSN and skips when no
// database is reachable.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("SCRIPTGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRIPTGATE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("Failed to connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Failed to ping test database: %v", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		t.Fatalf("Failed to create table: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM entitlements"); err != nil {
		pool.Close()
		t.Fatalf("Failed to clean up entitlements table: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) entitlement.Store {
		return New(setupTestDB(t))
	})
}

func TestStore_EnsureSchemaIsRepeatable(t *testing.T) {
	s := New(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	assert.NoError(t, s.Ping(ctx))
}
