package server

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Zereker/docstore/internal/persistence"
	"github.com/Zereker/docstore/pkg/genkit"
	"github.com/Zereker/docstore/pkg/graph"
	"github.com/Zereker/docstore/pkg/log"
	"github.com/Zereker/docstore/pkg/mq"
	"github.com/Zereker/docstore/pkg/redis"
	"github.com/Zereker/docstore/pkg/relation"
	"github.com/Zereker/docstore/pkg/sqlite"
	"github.com/Zereker/docstore/pkg/vector"
)

// Config holds all configuration values
type Config struct {
	Server    ServerConfig            `toml:"server"`
	Log       log.Config              `toml:"log"`
	Models    genkit.Config           `toml:"genkit"`
	Embedding EmbeddingConfig         `toml:"embedding"`
	Storage   vector.OpenSearchConfig `toml:"storage"`
	Store     StoreConfig             `toml:"store"`
	Postgres  relation.PostgresConfig `toml:"postgres"`
	SQLite    sqlite.Config           `toml:"sqlite"`
	Redis     redis.Config            `toml:"redis"`
	Kafka     mq.KafkaConfig          `toml:"kafka"`
	Neo4j     graph.Neo4jConfig       `toml:"neo4j"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Mode string `toml:"mode"` // http, mcp, or both
	Port int    `toml:"port"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend       string `toml:"backend"` // postgres, sqlite, or memory
	DefaultTenant string `toml:"default_tenant"`
}

// EmbeddingConfig controls auto-embedding and recall.
type EmbeddingConfig struct {
	Enabled        bool     `toml:"enabled"`
	Embedder       string   `toml:"embedder"`    // genkit embedder name, e.g. ark/doubao-embedding
	Collections    []string `toml:"collections"` // 为空时使用默认允许列表
	EmbedAll       bool     `toml:"embed_all"`
	QueryCacheSize int      `toml:"query_cache_size"` // 0 使用默认值，负数关闭
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.Mode == "" {
		s.Mode = "http" // default mode
	}
	switch s.Mode {
	case "http", "mcp", "both":
		// valid
	default:
		return fmt.Errorf("invalid mode: %s, must be http, mcp, or both", s.Mode)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port is required and must be between 1 and 65535")
	}
	return nil
}

// Validate checks store configuration
func (c *StoreConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = persistence.BackendMemory
	}
	if _, err := persistence.BuilderFor(c.Backend); err != nil {
		return err
	}
	return nil
}

// Validate checks embedding configuration
func (c *EmbeddingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Embedder == "" {
		return fmt.Errorf("embedder is required when embedding is enabled")
	}
	return nil
}

// Validate checks all configuration fields
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("genkit: %w", err)
	}

	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := c.Postgres.Validate(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	if err := c.Neo4j.Validate(); err != nil {
		return fmt.Errorf("neo4j: %w", err)
	}

	switch c.Store.Backend {
	case persistence.BackendPostgres:
		if !c.Postgres.Enabled {
			return fmt.Errorf("store: backend postgres requires [postgres] enabled")
		}
	case persistence.BackendSQLite:
		if !c.SQLite.Enabled {
			return fmt.Errorf("store: backend sqlite requires [sqlite] enabled")
		}
	}

	return nil
}

// LoadConfig reads and parses the configuration file
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
