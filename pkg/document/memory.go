package document

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and the "memory" backend.
type MemoryStore struct {
	mu          sync.RWMutex
	tenant      string
	seq         uint64
	collections map[string]map[string]*memoryEntry
}

type memoryEntry struct {
	seq uint64
	doc *Document
}

// 确保 MemoryStore 实现 Store 接口
var (
	_ Store  = (*MemoryStore)(nil)
	_ Pinger = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store bound to tenant.
func NewMemoryStore(tenant string) *MemoryStore {
	if tenant == "" {
		tenant = DefaultTenant
	}
	return &MemoryStore{
		tenant:      tenant,
		collections: make(map[string]map[string]*memoryEntry),
	}
}

// Tenant returns the tenant the store is bound to.
func (s *MemoryStore) Tenant() string {
	return s.tenant
}

// Create stores data under a new UUID.
func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	return s.CreateWithID(ctx, collection, uuid.NewString(), data)
}

// CreateWithID stores data under id.
func (s *MemoryStore) CreateWithID(_ context.Context, collection, id string, data map[string]any) (*Document, error) {
	normalized, err := Normalize(data)
	if err != nil {
		return nil, NewStorageError("create", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*memoryEntry)
		s.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return nil, NewStorageError("create", collection, ErrDuplicateID)
	}

	now := time.Now().UTC()
	doc := &Document{
		ID:         id,
		Collection: collection,
		Tenant:     s.tenant,
		Data:       normalized,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}

	s.seq++
	docs[id] = &memoryEntry{seq: s.seq, doc: doc}
	return doc.Clone(), nil
}

// Read returns the document or nil.
func (s *MemoryStore) Read(_ context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return entry.doc.Clone(), nil
}

// Update merges partial into the stored document.
func (s *MemoryStore) Update(_ context.Context, collection, id string, partial map[string]any) (*Document, error) {
	normalized, err := Normalize(partial)
	if err != nil {
		return nil, NewStorageError("update", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}

	entry.doc.Data = Merge(entry.doc.Data, normalized)
	entry.doc.UpdatedAt = time.Now().UTC()
	entry.doc.Version++
	return entry.doc.Clone(), nil
}

// Delete removes the document.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := docs[id]; !ok {
		return false, nil
	}

	delete(docs, id)
	if len(docs) == 0 {
		delete(s.collections, collection)
	}
	return true, nil
}

// Query returns documents matching all filters in creation order.
func (s *MemoryStore) Query(_ context.Context, collection string, filters map[string]any, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	normalized, err := Normalize(filters)
	if err != nil {
		return nil, NewStorageError("query", collection, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*memoryEntry, 0, len(s.collections[collection]))
	for _, entry := range s.collections[collection] {
		if matches(entry.doc.Data, normalized) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	if len(entries) > limit {
		entries = entries[:limit]
	}

	docs := make([]*Document, len(entries))
	for i, entry := range entries {
		docs[i] = entry.doc.Clone()
	}
	return docs, nil
}

// ListCollections returns collection names in lexical order.
func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteCollection drops every document of the collection.
func (s *MemoryStore) DeleteCollection(_ context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok || len(docs) == 0 {
		return false, nil
	}
	delete(s.collections, collection)
	return true, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func matches(data, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := data[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
