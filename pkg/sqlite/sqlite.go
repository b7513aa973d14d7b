// Package sqlite implements document.Store on an embedded SQLite database
// using its JSON functions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

const memoryPath = ":memory:"

// Config holds SQLite configuration.
type Config struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Validate checks SQLite configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// DB is an opened database shared by tenant-scoped stores.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var (
	instance *DB
	mu       sync.Mutex
)

// Init opens the shared database.
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	db, err := Open(cfg.Path)
	if err != nil {
		return err
	}

	mu.Lock()
	instance = db
	mu.Unlock()
	return nil
}

// NewStore returns a store bound to tenant on the shared database.
func NewStore(tenant string) (*Store, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil, fmt.Errorf("sqlite is not initialized")
	}
	return instance.Store(tenant), nil
}

// Close closes the shared database.
func Close(_ context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance = nil
	return err
}

// Open opens the database at path and ensures the schema exists.
// An in-memory database is pinned to a single connection so every
// statement sees the same data.
func Open(path string) (*DB, error) {
	if path == "" {
		path = memoryPath
	}

	dsn := path
	if path != memoryPath {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if path == memoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &DB{
		db:     db,
		path:   path,
		logger: slog.Default().With("module", "sqlite"),
	}, nil
}

// Store returns a store bound to tenant.
func (d *DB) Store(tenant string) *Store {
	return newStore(d, tenant)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    NOT NULL,
    collection  TEXT    NOT NULL,
    tenant      TEXT    NOT NULL DEFAULT 'default',
    data        TEXT    NOT NULL DEFAULT '{}',
    created_at  TEXT    NOT NULL,
    updated_at  TEXT    NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (tenant, collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (tenant);
`)
	return err
}
