package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/Zereker/docstore/pkg/vector"
)

// mockEmbedder returns vectors from a table, fallback for unknown text.
type mockEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    []string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, text)
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return m.fallback, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// failingIndex wraps an index and fails searches on selected sub-indexes.
type failingIndex struct {
	vector.Index
	failSearch map[string]bool
	failUpsert bool
	ensures    int
}

func (f *failingIndex) EnsureIndex(ctx context.Context, name string, dim int, fields map[string]string) error {
	f.ensures++
	return f.Index.EnsureIndex(ctx, name, dim, fields)
}

func (f *failingIndex) Upsert(ctx context.Context, index, id string, fields map[string]any, embedding []float32) error {
	if f.failUpsert {
		return errors.New("index unreachable")
	}
	return f.Index.Upsert(ctx, index, id, fields, embedding)
}

func (f *failingIndex) Search(ctx context.Context, index string, embedding []float32, k int) ([]vector.Hit, error) {
	if f.failSearch[index] {
		return nil, errors.New("shard failure")
	}
	return f.Index.Search(ctx, index, embedding, k)
}
