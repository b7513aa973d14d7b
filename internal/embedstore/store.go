// Package embedstore decorates a document store so that writes are indexed
// for semantic recall as a best-effort side effect.
package embedstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/pkg/document"
)

// DefaultCollections are embedded when no allow-list is given.
var DefaultCollections = []string{"session_contexts", "session_cdc", "execution_audit"}

// Indexer extracts text from document data and indexes it.
type Indexer interface {
	ExtractText(data map[string]any) string
	Index(ctx context.Context, collection, id, text string) error
}

// Store wraps a document.Store. Create, CreateWithID and Update also index
// the written data; every other operation is passed through unchanged.
// Indexing failures never fail the write.
type Store struct {
	inner   document.Store
	indexer Indexer
	logger  *slog.Logger

	allowed  map[string]struct{}
	embedAll bool

	mu        sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64
}

// 确保 Store 实现 document.Store 接口
var (
	_ document.Store  = (*Store)(nil)
	_ document.Pinger = (*Store)(nil)
	_ Indexer         = (*bridge.Bridge)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithCollections replaces the allow-list.
func WithCollections(collections ...string) Option {
	return func(s *Store) {
		s.allowed = make(map[string]struct{}, len(collections))
		for _, c := range collections {
			s.allowed[c] = struct{}{}
		}
	}
}

// WithEmbedAll embeds writes to every collection.
func WithEmbedAll() Option {
	return func(s *Store) { s.embedAll = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps inner.
func New(inner document.Store, indexer Indexer, opts ...Option) *Store {
	s := &Store{
		inner:     inner,
		indexer:   indexer,
		logger:    slog.Default().With("module", "embedstore"),
		observers: make(map[uint64]Observer),
	}
	WithCollections(DefaultCollections...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inner returns the wrapped store.
func (s *Store) Inner() document.Store {
	return s.inner
}

// AddObserver registers fn and returns a func that removes it.
func (s *Store) AddObserver(fn Observer) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// ShouldEmbed reports whether writes to collection are indexed.
func (s *Store) ShouldEmbed(collection string) bool {
	if s.embedAll {
		return true
	}
	_, ok := s.allowed[collection]
	return ok
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (*document.Document, error) {
	doc, err := s.inner.Create(ctx, collection, data)
	if err != nil {
		return nil, err
	}
	s.embed(ctx, doc)
	return doc, nil
}

func (s *Store) CreateWithID(ctx context.Context, collection, id string, data map[string]any) (*document.Document, error) {
	doc, err := s.inner.CreateWithID(ctx, collection, id, data)
	if err != nil {
		return nil, err
	}
	s.embed(ctx, doc)
	return doc, nil
}

// Update re-indexes the merged document when the update hit.
func (s *Store) Update(ctx context.Context, collection, id string, partial map[string]any) (*document.Document, error) {
	doc, err := s.inner.Update(ctx, collection, id, partial)
	if err != nil || doc == nil {
		return doc, err
	}
	s.embed(ctx, doc)
	return doc, nil
}

func (s *Store) Read(ctx context.Context, collection, id string) (*document.Document, error) {
	return s.inner.Read(ctx, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	return s.inner.Delete(ctx, collection, id)
}

func (s *Store) Query(ctx context.Context, collection string, filters map[string]any, limit int) ([]*document.Document, error) {
	return s.inner.Query(ctx, collection, filters, limit)
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	return s.inner.ListCollections(ctx)
}

func (s *Store) DeleteCollection(ctx context.Context, collection string) (bool, error) {
	return s.inner.DeleteCollection(ctx, collection)
}

// Ping delegates to the wrapped store when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.inner.(document.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// embed runs after the primary write succeeded. Its outcome only shows up in
// events and logs.
func (s *Store) embed(ctx context.Context, doc *document.Document) {
	if !s.ShouldEmbed(doc.Collection) {
		s.emit(s.event(EventSkipped, doc, "", func(e *Event) { e.Reason = ReasonNotAllowed }))
		return
	}

	text := s.indexer.ExtractText(doc.Data)
	if text == "" {
		s.emit(s.event(EventSkipped, doc, "", func(e *Event) { e.Reason = ReasonNoText }))
		return
	}

	s.emit(s.event(EventStart, doc, text, nil))

	if err := s.indexer.Index(ctx, doc.Collection, doc.ID, text); err != nil {
		s.logger.Debug("embedding failed",
			"collection", doc.Collection,
			"document_id", doc.ID,
			"error", err,
		)
		s.emit(s.event(EventFailed, doc, text, func(e *Event) { e.Error = err.Error() }))
		return
	}

	s.emit(s.event(EventSuccess, doc, text, nil))
}

func (s *Store) event(kind EventKind, doc *document.Document, text string, with func(*Event)) Event {
	e := Event{
		Kind:        kind,
		Collection:  doc.Collection,
		DocumentID:  doc.ID,
		Timestamp:   time.Now().UTC(),
		TextPreview: bridge.Truncate(text, previewLength),
	}
	if with != nil {
		with(&e)
	}
	return e
}

func (s *Store) emit(e Event) {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.mu.RUnlock()

	for _, fn := range observers {
		s.notify(fn, e)
	}
}

// notify isolates a panicking observer from the write path and the other observers.
func (s *Store) notify(fn Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("observer panicked", "kind", e.Kind, "panic", fmt.Sprint(r))
		}
	}()
	fn(e)
}
