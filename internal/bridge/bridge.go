// Package bridge indexes document text into a vector index and serves
// semantic recall over it.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Zereker/docstore/internal/lru"
	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/vector"
)

// QueryCacheNamespace is the snapshot namespace of the query cache.
const QueryCacheNamespace = "recall_queries"

const defaultQueryCacheSize = 256

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// subIndexFields is the stored schema of every sub-index.
var subIndexFields = map[string]string{
	"document_id": "keyword",
	"collection":  "keyword",
	"text":        "text",
}

// Bridge connects documents to a vector index. A bridge is bound to one
// tenant; ForTenant returns the view of another tenant over the same index.
type Bridge struct {
	embedder Embedder
	index    vector.Index
	logger   *slog.Logger
	tenant   string

	// ensured sub-index names, created at most once per process
	ensured *sync.Map

	queryCacheSize int
	querySnapshots document.Store
	queryCache     *lru.Cache
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithTenant binds the bridge to tenant. The default is document.DefaultTenant.
func WithTenant(tenant string) Option {
	return func(b *Bridge) {
		if tenant != "" {
			b.tenant = tenant
		}
	}
}

// WithQueryCache memoizes up to size query embeddings. 0 disables it.
func WithQueryCache(size int) Option {
	return func(b *Bridge) { b.queryCacheSize = size }
}

// WithQueryCacheStore lets SaveQueryCache and LoadQueryCache persist the
// query cache to store.
func WithQueryCacheStore(store document.Store) Option {
	return func(b *Bridge) { b.querySnapshots = store }
}

// New creates a bridge. Query embeddings are cached (256 entries) by default.
func New(embedder Embedder, index vector.Index, opts ...Option) *Bridge {
	b := &Bridge{
		embedder:       embedder,
		index:          index,
		logger:         slog.Default().With("module", "bridge"),
		tenant:         document.DefaultTenant,
		ensured:        &sync.Map{},
		queryCacheSize: defaultQueryCacheSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.queryCacheSize > 0 {
		var cacheOpts []lru.Option
		if b.querySnapshots != nil {
			cacheOpts = append(cacheOpts, lru.WithStore(b.querySnapshots, QueryCacheNamespace))
		}
		b.queryCache = lru.New(b.queryCacheSize, cacheOpts...)
	}
	return b
}

// ForTenant returns a bridge bound to tenant. It shares the embedder, the
// index and the query cache with b. An empty tenant returns b.
func (b *Bridge) ForTenant(tenant string) *Bridge {
	if tenant == "" || tenant == b.tenant {
		return b
	}
	view := *b
	view.tenant = tenant
	return &view
}

// Tenant returns the tenant the bridge is bound to.
func (b *Bridge) Tenant() string {
	return b.tenant
}

// LoadQueryCache restores the query cache saved by SaveQueryCache. It
// reports false when there is nothing to restore.
func (b *Bridge) LoadQueryCache(ctx context.Context) (bool, error) {
	if b.queryCache == nil || b.querySnapshots == nil {
		return false, nil
	}
	return b.queryCache.Load(ctx)
}

// SaveQueryCache persists the query cache. It is a no-op without
// WithQueryCacheStore.
func (b *Bridge) SaveQueryCache(ctx context.Context) error {
	if b.queryCache == nil || b.querySnapshots == nil {
		return nil
	}
	return b.queryCache.Save(ctx)
}

// QueryCacheStats reports the query cache counters.
func (b *Bridge) QueryCacheStats() lru.Stats {
	if b.queryCache == nil {
		return lru.Stats{}
	}
	return b.queryCache.Stats()
}

// ExtractText implements the indexer contract used by the embedding store.
func (b *Bridge) ExtractText(data map[string]any) string {
	return ExtractText(data)
}

// Index embeds text and upserts it under id in the sub-index of the bridge's
// tenant and collection, creating the sub-index first if needed. Indexing the same id again
// replaces the previous entry.
func (b *Bridge) Index(ctx context.Context, collection, id, text string) error {
	if text == "" {
		return fmt.Errorf("no text to index")
	}

	embedding, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	name := SubIndexName(b.tenant, collection)
	if err := b.ensureIndex(ctx, name, len(embedding)); err != nil {
		return err
	}

	fields := map[string]any{
		"document_id": id,
		"collection":  collection,
		"text":        Truncate(text, MaxTextLength),
	}
	if err := b.index.Upsert(ctx, name, id, fields, embedding); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}

	b.logger.Debug("document indexed", "tenant", b.tenant, "index", name, "document_id", id)
	return nil
}

func (b *Bridge) ensureIndex(ctx context.Context, name string, dim int) error {
	if _, ok := b.ensured.Load(name); ok {
		return nil
	}
	if err := b.index.EnsureIndex(ctx, name, dim, subIndexFields); err != nil {
		return fmt.Errorf("ensure index %s: %w", name, err)
	}
	b.ensured.Store(name, struct{}{})
	return nil
}

// EmbedDocument indexes the document's text on a best-effort basis. It
// returns false when there is no text or when anything fails; failures are
// logged, never returned.
func (b *Bridge) EmbedDocument(ctx context.Context, collection, id string, data map[string]any) bool {
	text := ExtractText(data)
	if text == "" {
		return false
	}

	if err := b.Index(ctx, collection, id, text); err != nil {
		b.logger.Warn("failed to embed document",
			"collection", collection,
			"document_id", id,
			"error", err,
		)
		return false
	}
	return true
}
