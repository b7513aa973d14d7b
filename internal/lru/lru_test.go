package lru

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/pkg/document"
)

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New(3, WithOnEvict(func(key string, _ any) { evicted = append(evicted, key) }))

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// touch a so b becomes the oldest
	assert.Equal(t, 1, c.Get("a", nil))

	c.Set("d", 4)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"c", "a", "d"}, c.Keys())
	assert.EqualValues(t, 1, c.Stats().Evictions)
	assert.Nil(t, c.Get("b", nil))
}

func TestCache_SetExistingMovesToFront(t *testing.T) {
	c := New(2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	assert.Equal(t, []string{"a", "c"}, c.Keys())
	v, ok := c.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestCache_StatsAndDefaults(t *testing.T) {
	c := New(0)
	assert.Equal(t, 1, c.Stats().MaxSize)

	assert.Equal(t, "fallback", c.Get("missing", "fallback"))
	c.Set("k", "v")
	assert.Equal(t, "v", c.Get("k", nil))
	assert.Equal(t, "v", c.Get("k", nil))

	s := c.Stats()
	assert.EqualValues(t, 2, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)

	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	c.Set("x", 1)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.EqualValues(t, 2, c.Stats().Hits, "clear keeps counters")
}

func TestCache_Concurrent(t *testing.T) {
	c := New(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (n*j)%80)
				c.Set(key, j)
				c.Get(key, nil)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemoryStore("")

	c := New(4, WithStore(store, "node_outputs"))
	c.Set("a", "alpha")
	c.Set("b", map[string]any{"n": 1})
	c.Set("c", []any{"x", true})
	c.Get("a", nil)
	require.NoError(t, c.Save(ctx))

	// second save updates the same document
	c.Set("d", 4.5)
	require.NoError(t, c.Save(ctx))

	fresh := New(10, WithStore(store, "node_outputs"))
	fresh.Set("stale", 1)
	fresh.Get("stale", nil)

	ok, err := fresh.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, c.Keys(), fresh.Keys())
	for _, k := range c.Keys() {
		want, _ := c.Peek(k)
		normalized, err := document.NormalizeValue(want)
		require.NoError(t, err)
		got, _ := fresh.Peek(k)
		assert.Equal(t, normalized, got, k)
	}
	_, found := fresh.Peek("stale")
	assert.False(t, found, "load replaces, it does not merge")
	assert.Equal(t, 4, fresh.Stats().MaxSize)
	assert.EqualValues(t, 1, fresh.Stats().Hits, "load keeps counters")

	docs, err := store.Query(ctx, SnapshotCollection, nil, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Version)
	assert.Equal(t, "node_outputs", docs[0].Data["namespace"])
}

func TestCache_LoadMissingSnapshot(t *testing.T) {
	c := New(2, WithStore(document.NewMemoryStore(""), "empty"))
	ok, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_WithoutStore(t *testing.T) {
	c := New(2)
	assert.ErrorIs(t, c.Save(context.Background()), ErrNoStore)
	_, err := c.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoStore)
}
