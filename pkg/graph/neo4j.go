package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Package-level instance
var neo4jInstance *Neo4jStore

// Init initializes the graph package with config.
func Init(cfg Neo4jConfig) error {
	if !cfg.Enabled {
		return nil
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	neo4jInstance = store
	return nil
}

// NewStore returns the Neo4jStore instance, nil when graph is disabled.
func NewStore() *Neo4jStore {
	return neo4jInstance
}

// Close closes the Neo4jStore connection.
func Close(ctx context.Context) error {
	if neo4jInstance != nil {
		err := neo4jInstance.Close(ctx)
		neo4jInstance = nil
		return err
	}
	return nil
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	Enabled  bool   `toml:"enabled"`
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// Validate checks Neo4j configuration.
func (c *Neo4jConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// Neo4jStore runs Cypher statements against one database
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// newStore creates a new Neo4j graph store
func newStore(cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
	}, nil
}

// Run executes a read Cypher query and returns results as []map[string]any
func (s *Neo4jStore) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("cypher execution failed: %w", err)
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect results: %w", err)
	}

	results := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(record.Keys))
		for _, key := range record.Keys {
			val, _ := record.Get(key)
			row[key] = convertValue(val)
		}
		results = append(results, row)
	}

	return results, nil
}

// RunWrite executes a write Cypher query in a transaction
func (s *Neo4jStore) RunWrite(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	})

	return err
}

// Health checks Neo4j connection
func (s *Neo4jStore) Health(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the Neo4j connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// convertValue converts Neo4j types to Go types
func convertValue(val any) any {
	switch v := val.(type) {
	case neo4j.Node:
		return v.Props
	case neo4j.Relationship:
		return v.Props
	case time.Time:
		return v.UTC()
	default:
		return val
	}
}
