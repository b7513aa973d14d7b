// Package session implements a write-through session store: a fast cache
// in front of a document store that holds the durable copy.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tidwall/match"

	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/redis"
)

// Collection holds the durable copy of every session key.
const Collection = "sessions"

// DefaultPattern is used by ListKeys when no pattern is given.
const DefaultPattern = "session:*"

// listLimit bounds the durable scan of ListKeys.
const listLimit = 10000

var (
	// ErrCacheWrite is returned when the fast cache rejects a write.
	// Nothing was written to either layer.
	ErrCacheWrite = errors.New("session cache write failed")

	// ErrDurableWrite is returned when the durable write failed after the
	// cache accepted it. The cache entry has been removed again.
	ErrDurableWrite = errors.New("session durable write failed")
)

// Cache is the fast key-value layer. Values are JSON text.
type Cache interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// 确保 Cache 实现
var (
	_ Cache = (*redis.Cache)(nil)
	_ Cache = (*MemoryCache)(nil)
)

// Store is the write-through session store.
type Store struct {
	cache   Cache
	durable document.Store
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store over cache and durable.
func New(cache Cache, durable document.Store, opts ...Option) *Store {
	s := &Store{
		cache:   cache,
		durable: durable,
		logger:  slog.Default().With("module", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Durable returns the document store holding the durable copy.
func (s *Store) Durable() document.Store {
	return s.durable
}

// Write stores value under key in the cache, then in the durable store.
// A failed durable write removes the cache entry so a later Read cannot
// observe data that was never persisted.
func (s *Store) Write(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}

	if err := s.cache.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}

	if err := s.writeDurable(ctx, key, raw); err != nil {
		if _, derr := s.cache.Delete(ctx, key); derr != nil {
			// 回滚失败，两层可能不一致
			s.logger.Error("failed to roll back cache entry",
				"key", key,
				"error", derr,
			)
		}
		s.logger.Warn("durable write failed, cache entry removed", "key", key, "error", err)
		return fmt.Errorf("%w: %w", ErrDurableWrite, err)
	}

	s.logger.Debug("write-through completed", "key", key)
	return nil
}

func (s *Store) writeDurable(ctx context.Context, key string, raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	data := map[string]any{"key": key, "value": value}

	existing, err := s.durable.Read(ctx, Collection, key)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err = s.durable.Update(ctx, Collection, key, data)
		return err
	}

	_, err = s.durable.CreateWithID(ctx, Collection, key, data)
	if errors.Is(err, document.ErrDuplicateID) {
		// 并发写入已创建
		_, err = s.durable.Update(ctx, Collection, key, data)
	}
	return err
}

// Read returns the decoded value stored under key.
func (s *Store) Read(ctx context.Context, key string) (any, bool, error) {
	raw, ok, err := s.readRaw(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", key, err)
	}
	return value, true, nil
}

// ReadInto decodes the value stored under key into dst.
func (s *Store) ReadInto(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.readRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode session %s: %w", key, err)
	}
	return true, nil
}

// readRaw returns the JSON text of key. A cache miss falls back to the
// durable store and repopulates the cache.
func (s *Store) readRaw(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read cache: %w", err)
	}
	if ok {
		return raw, true, nil
	}

	doc, err := s.durable.Read(ctx, Collection, key)
	if err != nil {
		return "", false, err
	}
	if doc == nil {
		return "", false, nil
	}

	encoded, err := json.Marshal(doc.Data["value"])
	if err != nil {
		return "", false, fmt.Errorf("encode session %s: %w", key, err)
	}

	if err := s.cache.Set(ctx, key, string(encoded)); err != nil {
		s.logger.Warn("failed to populate cache", "key", key, "error", err)
	} else {
		s.logger.Debug("cache populated from durable store", "key", key)
	}
	return string(encoded), true, nil
}

// Delete removes key from both layers. It reports true when either layer
// removed something. Both layers are always attempted.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	cacheDeleted, cacheErr := s.cache.Delete(ctx, key)
	if cacheErr != nil {
		cacheErr = fmt.Errorf("delete from cache: %w", cacheErr)
	}

	durableDeleted, durableErr := s.durable.Delete(ctx, Collection, key)

	return cacheDeleted || durableDeleted, errors.Join(cacheErr, durableErr)
}

// Exists checks the cache first and falls back to the durable store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.cache.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check cache: %w", err)
	}
	if ok {
		return true, nil
	}

	doc, err := s.durable.Read(ctx, Collection, key)
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// ListKeys returns the sorted union of cache and durable keys matching the
// glob pattern. An empty pattern means DefaultPattern. Patterns follow
// Redis MATCH rules on both layers: '*' also matches '/'.
func (s *Store) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	cached, err := s.cache.Keys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}

	docs, err := s.durable.Query(ctx, Collection, nil, listLimit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(cached)+len(docs))
	keys := make([]string, 0, len(cached)+len(docs))
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, k := range cached {
		add(k)
	}
	for _, doc := range docs {
		if match.Match(doc.ID, pattern) {
			add(doc.ID)
		}
	}

	slices.Sort(keys)
	return keys, nil
}
