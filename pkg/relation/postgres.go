package relation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaLockKey serializes schema bootstrap across processes sharing a database.
const schemaLockKey int64 = 0x646f6373746f7265

// Package-level shared pool; stores for different tenants share it.
var poolInstance *pgxpool.Pool

// Init creates the shared connection pool and ensures the schema exists.
func Init(cfg PostgresConfig) error {
	if !cfg.Enabled {
		return nil
	}

	pool, err := newPool(cfg.DSN())
	if err != nil {
		return err
	}

	poolInstance = pool
	return nil
}

// NewStore returns a store bound to tenant on the shared pool.
func NewStore(tenant string) (*PostgresStore, error) {
	if poolInstance == nil {
		return nil, fmt.Errorf("postgres is not initialized")
	}
	return NewStoreWithPool(poolInstance, tenant), nil
}

// Close closes the shared pool.
func Close(_ context.Context) error {
	if poolInstance != nil {
		poolInstance.Close()
		poolInstance = nil
	}
	return nil
}

func newPool(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	slog.Default().With("module", "relation").Info("postgres ready")
	return pool, nil
}

// EnsureSchema creates the documents table and its indexes if they don't exist.
// Concurrent callers are serialized with a transaction-scoped advisory lock.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT        NOT NULL,
    collection  TEXT        NOT NULL,
    tenant      TEXT        NOT NULL DEFAULT 'default',
    data        JSONB       NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version     INTEGER     NOT NULL DEFAULT 1,
    PRIMARY KEY (tenant, collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);
CREATE INDEX IF NOT EXISTS idx_documents_tenant     ON documents (tenant);
CREATE INDEX IF NOT EXISTS idx_documents_data       ON documents USING GIN (data);
`
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
