package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Package-level singleton instance
var clientInstance *redis.Client

// Config Redis 配置
type Config struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"` // 会话 key 前缀
	TTL       string `toml:"ttl"`        // 会话缓存过期时间，为空表示不过期
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required when redis is enabled")
	}
	if c.TTL != "" {
		if _, err := time.ParseDuration(c.TTL); err != nil {
			return fmt.Errorf("ttl is invalid: %w", err)
		}
	}
	return nil
}

// TTLDuration returns the parsed TTL, 0 when unset.
func (c *Config) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// Init initializes the Redis client singleton with config.
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	clientInstance = client
	return nil
}

// Client returns the singleton Redis client instance.
// Returns nil if Redis is not enabled or not initialized.
func Client() *redis.Client {
	return clientInstance
}

// Close closes the Redis client connection.
func Close() error {
	if clientInstance == nil {
		return nil
	}
	err := clientInstance.Close()
	clientInstance = nil
	return err
}
