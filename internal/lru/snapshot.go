package lru

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/Zereker/docstore/pkg/document"
)

// SnapshotCollection holds one snapshot document per namespace.
const SnapshotCollection = "lru_snapshots"

// ErrNoStore is returned by Save and Load on a cache built without WithStore.
var ErrNoStore = errors.New("lru: no snapshot store configured")

type snapshotter struct {
	store     document.Store
	namespace string
}

// snapshot is the persisted form of a cache.
type snapshot struct {
	Namespace string         `mapstructure:"namespace"`
	Entries   map[string]any `mapstructure:"entries"`
	KeyOrder  []string       `mapstructure:"key_order"`
	MaxSize   int            `mapstructure:"max_size"`
	SavedAt   string         `mapstructure:"saved_at"`
}

// WithStore enables Save and Load against store under namespace.
func WithStore(store document.Store, namespace string) Option {
	return func(c *Cache) {
		c.snapshots = &snapshotter{store: store, namespace: namespace}
	}
}

// Save writes every entry and the exact recency order as one document.
// Values must be JSON-compatible.
func (c *Cache) Save(ctx context.Context) error {
	if c.snapshots == nil {
		return ErrNoStore
	}

	c.mu.Lock()
	entries := make(map[string]any, len(c.items))
	for k, el := range c.items {
		entries[k] = el.Value.(*entry).value
	}
	stats := c.statsLocked()
	data := map[string]any{
		"namespace": c.snapshots.namespace,
		"entries":   entries,
		"key_order": c.keysLocked(),
		"max_size":  c.maxSize,
		"saved_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"stats": map[string]any{
			"hits":      stats.Hits,
			"misses":    stats.Misses,
			"evictions": stats.Evictions,
			"hit_rate":  stats.HitRate,
		},
	}
	c.mu.Unlock()

	store, id := c.snapshots.store, c.snapshots.namespace

	existing, err := store.Read(ctx, SnapshotCollection, id)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if existing != nil {
		if _, err := store.Update(ctx, SnapshotCollection, id, data); err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		return nil
	}

	if _, err := store.CreateWithID(ctx, SnapshotCollection, id, data); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

// Load replaces the cache contents with the saved snapshot. It reports false
// when no snapshot exists. Counters are not reset.
func (c *Cache) Load(ctx context.Context) (bool, error) {
	if c.snapshots == nil {
		return false, ErrNoStore
	}

	doc, err := c.snapshots.store.Read(ctx, SnapshotCollection, c.snapshots.namespace)
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	if doc == nil {
		return false, nil
	}

	var snap snapshot
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &snap,
	})
	if err != nil {
		return false, err
	}
	if err := decoder.Decode(doc.Data); err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.MaxSize > 0 {
		c.maxSize = snap.MaxSize
	}
	c.order.Init()
	c.items = make(map[string]*list.Element, len(snap.KeyOrder))
	// key_order runs from least to most recently used
	for _, k := range snap.KeyOrder {
		v, ok := snap.Entries[k]
		if !ok {
			continue
		}
		if el, dup := c.items[k]; dup {
			c.order.Remove(el)
		}
		c.items[k] = c.order.PushFront(&entry{key: k, value: v})
	}
	c.evictLocked()
	return true, nil
}
