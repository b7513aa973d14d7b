// Package storetest provides a conformance suite for document.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/pkg/document"
)

// Factory returns a store bound to tenant. Stores returned for the same t
// must share one backend so tenant isolation can be observed.
type Factory func(t *testing.T, tenant string) document.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("create then read", func(t *testing.T) { testCreateRead(t, newStore) })
	t.Run("create with id", func(t *testing.T) { testCreateWithID(t, newStore) })
	t.Run("update merges and bumps version", func(t *testing.T) { testUpdate(t, newStore) })
	t.Run("missing documents are not errors", func(t *testing.T) { testMissing(t, newStore) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore) })
	t.Run("query filters and limit", func(t *testing.T) { testQuery(t, newStore) })
	t.Run("collections", func(t *testing.T) { testCollections(t, newStore) })
	t.Run("tenant isolation", func(t *testing.T) { testTenantIsolation(t, newStore) })
}

func testCreateRead(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	data := map[string]any{
		"text":   "hello world",
		"count":  3,
		"nested": map[string]any{"ok": true, "tags": []any{"a", "b"}},
		"empty":  nil,
	}

	created, err := store.Create(ctx, "notes", data)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "notes", created.Collection)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	read, err := store.Read(ctx, "notes", created.ID)
	require.NoError(t, err)
	require.NotNil(t, read)

	want, err := document.Normalize(data)
	require.NoError(t, err)
	assert.Equal(t, want, read.Data)
	assert.Equal(t, 1, read.Version)
	assert.Equal(t, created.ID, read.ID)
}

func testCreateWithID(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	doc, err := store.CreateWithID(ctx, "sessions", "session:1", map[string]any{"value": "x"})
	require.NoError(t, err)
	assert.Equal(t, "session:1", doc.ID)

	_, err = store.CreateWithID(ctx, "sessions", "session:1", map[string]any{"value": "y"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, document.ErrDuplicateID))
	assert.True(t, document.IsStorageError(err))

	// Same id in another collection is fine.
	_, err = store.CreateWithID(ctx, "other", "session:1", map[string]any{"value": "z"})
	require.NoError(t, err)
}

func testUpdate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	doc, err := store.Create(ctx, "graphs", map[string]any{"name": "g", "keep": "me"})
	require.NoError(t, err)

	updates := []map[string]any{
		{"name": "g2"},
		{"status": "running"},
		{"status": "done", "nested": map[string]any{"a": 1}},
		{"nested": map[string]any{"b": 2}},
	}

	expected := map[string]any{"name": "g", "keep": "me"}
	var last *document.Document
	for _, u := range updates {
		last, err = store.Update(ctx, "graphs", doc.ID, u)
		require.NoError(t, err)
		require.NotNil(t, last)
		expected = document.Merge(expected, u)
	}

	want, err := document.Normalize(expected)
	require.NoError(t, err)

	assert.Equal(t, 1+len(updates), last.Version)
	assert.Equal(t, want, last.Data)
	assert.Equal(t, map[string]any{"b": float64(2)}, last.Data["nested"])
	assert.False(t, last.UpdatedAt.Before(last.CreatedAt))

	read, err := store.Read(ctx, "graphs", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, want, read.Data)
	assert.Equal(t, 1+len(updates), read.Version)
}

func testMissing(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	doc, err := store.Read(ctx, "notes", "does-not-exist")
	assert.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = store.Update(ctx, "notes", "does-not-exist", map[string]any{"a": 1})
	assert.NoError(t, err)
	assert.Nil(t, doc)

	deleted, err := store.Delete(ctx, "notes", "does-not-exist")
	assert.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteCollection(ctx, "no-such-collection")
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func testDelete(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	doc, err := store.Create(ctx, "notes", map[string]any{"text": "bye"})
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, "notes", doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	read, err := store.Read(ctx, "notes", doc.ID)
	require.NoError(t, err)
	assert.Nil(t, read)

	deleted, err = store.Delete(ctx, "notes", doc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testQuery(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	for i := 0; i < 5; i++ {
		_, err := store.Create(ctx, "events", map[string]any{
			"kind":  "click",
			"index": i,
			"even":  i%2 == 0,
		})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, "events", map[string]any{"kind": "scroll", "index": 99})
	require.NoError(t, err)
	_, err = store.Create(ctx, "other", map[string]any{"kind": "click"})
	require.NoError(t, err)

	all, err := store.Query(ctx, "events", nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	clicks, err := store.Query(ctx, "events", map[string]any{"kind": "click"}, 100)
	require.NoError(t, err)
	assert.Len(t, clicks, 5)

	evenClicks, err := store.Query(ctx, "events", map[string]any{"kind": "click", "even": true}, 100)
	require.NoError(t, err)
	assert.Len(t, evenClicks, 3)
	for _, d := range evenClicks {
		assert.Equal(t, true, d.Data["even"])
	}

	byNumber, err := store.Query(ctx, "events", map[string]any{"index": 3}, 100)
	require.NoError(t, err)
	require.Len(t, byNumber, 1)
	assert.Equal(t, float64(3), byNumber[0].Data["index"])

	limited, err := store.Query(ctx, "events", map[string]any{"kind": "click"}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.Query(ctx, "events", map[string]any{"kind": "missing"}, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCollections(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, "tenant_a")

	for _, c := range []string{"b_col", "a_col", "b_col"} {
		_, err := store.Create(ctx, c, map[string]any{"x": 1})
		require.NoError(t, err)
	}

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Subset(t, names, []string{"a_col", "b_col"})

	deleted, err := store.DeleteCollection(ctx, "b_col")
	require.NoError(t, err)
	assert.True(t, deleted)

	docs, err := store.Query(ctx, "b_col", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)

	names, err = store.ListCollections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "b_col")
	assert.Contains(t, names, "a_col")
}

func testTenantIsolation(t *testing.T, newStore Factory) {
	ctx := context.Background()
	a := newStore(t, "tenant_a")
	b := newStore(t, "tenant_b")

	doc, err := a.CreateWithID(ctx, "shared", "same-id", map[string]any{"owner": "a"})
	require.NoError(t, err)

	read, err := b.Read(ctx, "shared", doc.ID)
	require.NoError(t, err)
	assert.Nil(t, read, "tenant b must not see tenant a's document")

	updated, err := b.Update(ctx, "shared", doc.ID, map[string]any{"owner": "b"})
	require.NoError(t, err)
	assert.Nil(t, updated)

	deleted, err := b.Delete(ctx, "shared", doc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = b.CreateWithID(ctx, "shared", "same-id", map[string]any{"owner": "b"})
	require.NoError(t, err, "ids are unique per tenant")

	docs, err := a.Query(ctx, "shared", nil, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].Data["owner"])

	assert.Equal(t, doc.Tenant, docs[0].Tenant)
	assert.NotEqual(t, doc.Tenant, mustRead(t, b, "shared", "same-id").Tenant)
}

func mustRead(t *testing.T, store document.Store, collection, id string) *document.Document {
	t.Helper()
	doc, err := store.Read(context.Background(), collection, id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}
