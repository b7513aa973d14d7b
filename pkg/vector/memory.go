package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is an in-process Index using brute-force cosine distance.
// Suitable for tests and single-node development setups.
type MemoryIndex struct {
	mu      sync.RWMutex
	indices map[string]*memoryIndex
}

type memoryIndex struct {
	dim     int
	ids     []string
	vectors map[string][]float32
	fields  map[string]map[string]any
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{indices: make(map[string]*memoryIndex)}
}

func (m *MemoryIndex) EnsureIndex(_ context.Context, name string, dim int, _ map[string]string) error {
	if dim <= 0 {
		return fmt.Errorf("dimension must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.indices[name]; ok {
		if idx.dim != dim {
			return fmt.Errorf("index %s exists with dimension %d", name, idx.dim)
		}
		return nil
	}

	m.indices[name] = &memoryIndex{
		dim:     dim,
		vectors: make(map[string][]float32),
		fields:  make(map[string]map[string]any),
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, index, id string, fields map[string]any, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indices[index]
	if !ok {
		return fmt.Errorf("index %s not found", index)
	}
	if len(embedding) != idx.dim {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(embedding), idx.dim)
	}

	if _, exists := idx.vectors[id]; !exists {
		idx.ids = append(idx.ids, id)
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	idx.vectors[id] = vec

	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	idx.fields[id] = copied
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, index string, embedding []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indices[index]
	if !ok {
		return nil, fmt.Errorf("index %s not found", index)
	}
	if len(embedding) != idx.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(embedding), idx.dim)
	}
	if k <= 0 {
		k = 10
	}

	hits := make([]Hit, 0, len(idx.ids))
	for _, id := range idx.ids {
		fields := make(map[string]any, len(idx.fields[id]))
		for key, v := range idx.fields[id] {
			fields[key] = v
		}
		hits = append(hits, Hit{
			ID:       id,
			Distance: 1 - cosine(embedding, idx.vectors[id]),
			Fields:   fields,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) ListIndices(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.indices {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryIndex) Ping(context.Context) error {
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
