package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_SearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureIndex(ctx, "docstore_notes", 2, nil))

	require.NoError(t, idx.Upsert(ctx, "docstore_notes", "same", map[string]any{"text": "a"}, []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "docstore_notes", "diagonal", map[string]any{"text": "b"}, []float32{1, 1}))
	require.NoError(t, idx.Upsert(ctx, "docstore_notes", "opposite", map[string]any{"text": "c"}, []float32{-1, 0}))

	hits, err := idx.Search(ctx, "docstore_notes", []float32{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "same", hits[0].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-9)
	assert.Equal(t, "a", hits[0].Fields["text"])
	assert.Equal(t, "diagonal", hits[1].ID)
	assert.InDelta(t, 1-1/1.4142135623730951, hits[1].Distance, 1e-6)
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureIndex(ctx, "i", 2, nil))

	require.NoError(t, idx.Upsert(ctx, "i", "doc", map[string]any{"v": 1}, []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "i", "doc", map[string]any{"v": 2}, []float32{0, 1}))

	hits, err := idx.Search(ctx, "i", []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Fields["v"])
}

func TestMemoryIndex_Errors(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	assert.Error(t, idx.EnsureIndex(ctx, "i", 0, nil))
	require.NoError(t, idx.EnsureIndex(ctx, "i", 2, nil))
	require.NoError(t, idx.EnsureIndex(ctx, "i", 2, nil), "ensure is idempotent")
	assert.Error(t, idx.EnsureIndex(ctx, "i", 3, nil))

	assert.Error(t, idx.Upsert(ctx, "missing", "d", nil, []float32{1, 0}))
	assert.Error(t, idx.Upsert(ctx, "i", "d", nil, []float32{1}))

	_, err := idx.Search(ctx, "missing", []float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestMemoryIndex_ListIndices(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	for _, name := range []string{"docstore_b", "other", "docstore_a"} {
		require.NoError(t, idx.EnsureIndex(ctx, name, 1, nil))
	}

	names, err := idx.ListIndices(ctx, "docstore_")
	require.NoError(t, err)
	assert.Equal(t, []string{"docstore_a", "docstore_b"}, names)
	assert.NoError(t, idx.Ping(ctx))
}

func TestIndexMapping_MemoryFile(t *testing.T) {
	m := indexMapping(4, map[string]string{"collection": "keyword", "text": "text"})

	props := m["mappings"].(map[string]any)["properties"].(map[string]any)
	emb := props["embedding"].(map[string]any)
	assert.Equal(t, "knn_vector", emb["type"])
	assert.Equal(t, 4, emb["dimension"])
	assert.Equal(t, "cosinesimil", emb["method"].(map[string]any)["space_type"])
	assert.Equal(t, map[string]any{"type": "keyword"}, props["collection"])
	assert.Equal(t, true, m["settings"].(map[string]any)["index"].(map[string]any)["knn"])
}

func TestScoreToDistance_MemoryFile(t *testing.T) {
	assert.InDelta(t, 0, scoreToDistance(1), 1e-9)
	assert.InDelta(t, 1, scoreToDistance(0.5), 1e-9)
	assert.InDelta(t, 2, scoreToDistance(0), 1e-9)
}
