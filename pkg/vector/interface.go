package vector

import "context"

// Index defines the interface for vector index backends.
// A backend hosts many named sub-indexes with fixed dimensions.
type Index interface {
	// EnsureIndex creates the named index if it doesn't exist.
	// fields maps stored field names to their type ("keyword" or "text").
	EnsureIndex(ctx context.Context, name string, dim int, fields map[string]string) error

	// Upsert stores or replaces the entry with the given id.
	Upsert(ctx context.Context, index, id string, fields map[string]any, embedding []float32) error

	// Search returns up to k nearest entries ordered by ascending distance.
	Search(ctx context.Context, index string, embedding []float32, k int) ([]Hit, error)

	// ListIndices returns the names of indexes starting with prefix.
	ListIndices(ctx context.Context, prefix string) ([]string, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

// Hit is a single search result.
type Hit struct {
	ID string
	// Distance is the cosine distance, 0 for identical direction.
	Distance float64
	Fields   map[string]any
}
