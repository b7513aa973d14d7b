package embedstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/mq"
	"github.com/Zereker/docstore/pkg/vector"
)

// mockIndexer records Index calls.
type mockIndexer struct {
	mu        sync.Mutex
	IndexFunc func(ctx context.Context, collection, id, text string) error
	calls     []string
}

func (m *mockIndexer) ExtractText(data map[string]any) string {
	return bridge.ExtractText(data)
}

func (m *mockIndexer) Index(ctx context.Context, collection, id, text string) error {
	m.mu.Lock()
	m.calls = append(m.calls, collection+"/"+id+":"+text)
	m.mu.Unlock()
	if m.IndexFunc != nil {
		return m.IndexFunc(ctx, collection, id, text)
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestStore_SkipsCollectionsOutsideAllowList(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := New(document.NewMemoryStore(""), indexer)
	rec := &recorder{}
	s.AddObserver(rec.observe)

	doc, err := s.Create(ctx, "graphs", map[string]any{"text": "ignored"})
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventSkipped}, rec.kinds())
	assert.Equal(t, ReasonNotAllowed, rec.events[0].Reason)
	assert.Equal(t, doc.ID, rec.events[0].DocumentID)
	assert.Empty(t, indexer.calls, "no index call for skipped collections")
}

func TestStore_EmbedsAllowListedCollection(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := New(document.NewMemoryStore(""), indexer, WithCollections("notes"))
	rec := &recorder{}
	s.AddObserver(rec.observe)

	doc, err := s.Create(ctx, "notes", map[string]any{"text": "hello world"})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)

	require.Equal(t, []EventKind{EventStart, EventSuccess}, rec.kinds())
	assert.Equal(t, "notes", rec.events[1].Collection)
	assert.Equal(t, doc.ID, rec.events[1].DocumentID)
	assert.Equal(t, "hello world", rec.events[1].TextPreview)
	assert.Equal(t, []string{"notes/" + doc.ID + ":hello world"}, indexer.calls)
}

func TestStore_NoTextIsSkipped(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := New(document.NewMemoryStore(""), indexer, WithEmbedAll())
	rec := &recorder{}
	s.AddObserver(rec.observe)

	_, err := s.Create(ctx, "metrics", map[string]any{"count": 3})
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventSkipped}, rec.kinds())
	assert.Equal(t, ReasonNoText, rec.events[0].Reason)
	assert.Empty(t, indexer.calls)
}

func TestStore_IndexFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{IndexFunc: func(context.Context, string, string, string) error {
		return errors.New("index unreachable")
	}}
	inner := document.NewMemoryStore("")
	s := New(inner, indexer, WithCollections("session_cdc"))
	rec := &recorder{}
	s.AddObserver(rec.observe)

	doc, err := s.Create(ctx, "session_cdc", map[string]any{"message": "state changed"})
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventStart, EventFailed}, rec.kinds())
	assert.Equal(t, "index unreachable", rec.events[1].Error)

	stored, err := inner.Read(ctx, "session_cdc", doc.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestStore_UpdateReembedsMergedData(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := New(document.NewMemoryStore(""), indexer, WithCollections("notes"))

	doc, err := s.Create(ctx, "notes", map[string]any{"text": "draft", "author": "kim"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "notes", doc.ID, map[string]any{"text": "final"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "kim", updated.Data["author"])

	missing, err := s.Update(ctx, "notes", "nope", map[string]any{"text": "x"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, []string{
		"notes/" + doc.ID + ":draft",
		"notes/" + doc.ID + ":final",
	}, indexer.calls)
}

func TestStore_PassThroughHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := New(document.NewMemoryStore(""), indexer, WithEmbedAll())

	doc, err := s.CreateWithID(ctx, "notes", "fixed", map[string]any{"text": "x"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", doc.ID)
	require.Len(t, indexer.calls, 1)

	rec := &recorder{}
	s.AddObserver(rec.observe)

	_, err = s.Read(ctx, "notes", "fixed")
	require.NoError(t, err)
	_, err = s.Query(ctx, "notes", map[string]any{"text": "x"}, 10)
	require.NoError(t, err)
	_, err = s.ListCollections(ctx)
	require.NoError(t, err)
	_, err = s.Delete(ctx, "notes", "fixed")
	require.NoError(t, err)
	_, err = s.DeleteCollection(ctx, "notes")
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	assert.Empty(t, rec.kinds())
	assert.Len(t, indexer.calls, 1)
}

func TestStore_ObserverIsolation(t *testing.T) {
	ctx := context.Background()
	s := New(document.NewMemoryStore(""), &mockIndexer{}, WithEmbedAll())

	s.AddObserver(func(Event) { panic("bad observer") })
	rec := &recorder{}
	remove := s.AddObserver(rec.observe)

	_, err := s.Create(ctx, "notes", map[string]any{"text": "a"})
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventStart, EventSuccess}, rec.kinds())

	remove()
	_, err = s.Create(ctx, "notes", map[string]any{"text": "b"})
	require.NoError(t, err)
	assert.Len(t, rec.kinds(), 2, "removed observer receives nothing")
}

func TestStore_EndToEndRecall(t *testing.T) {
	ctx := context.Background()
	embedder := embedFunc(func(text string) []float32 {
		if strings.Contains(text, "hello") {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	})
	b := bridge.New(embedder, vector.NewMemoryIndex())
	s := New(document.NewMemoryStore(""), b, WithCollections("notes"))
	rec := &recorder{}
	s.AddObserver(rec.observe)

	doc, err := s.Create(ctx, "notes", map[string]any{"text": "hello world"})
	require.NoError(t, err)
	require.Equal(t, []EventKind{EventStart, EventSuccess}, rec.kinds())
	assert.Equal(t, "hello world", rec.events[1].TextPreview)

	results, err := b.Recall(ctx, "hello", bridge.RecallOptions{Collection: "notes"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, doc.ID, results[0].DocumentID)
	assert.GreaterOrEqual(t, results[0].Score, bridge.DefaultRecallThreshold)
}

type embedFunc func(text string) []float32

func (f embedFunc) Embed(_ context.Context, text string) ([]float32, error) {
	return f(text), nil
}

func TestPublisherObserver(t *testing.T) {
	ctx := context.Background()
	queue := mq.NewInMemoryQueue()
	s := New(document.NewMemoryStore(""), &mockIndexer{}, WithCollections("notes"))
	s.AddObserver(NewPublisher(queue, "docstore.embed", 0))

	_, err := s.Create(ctx, "notes", map[string]any{"text": strings.Repeat("a", 100)})
	require.NoError(t, err)

	msgs := queue.GetMessages("docstore.embed")
	require.Len(t, msgs, 2)
	assert.Equal(t, "notes", msgs[0].Key)

	var e Event
	require.NoError(t, json.Unmarshal(msgs[0].Value, &e))
	assert.Equal(t, EventStart, e.Kind)
	assert.Len(t, e.TextPreview, 80)
}

func TestEvent_String(t *testing.T) {
	e := Event{Kind: EventFailed, Collection: "notes", DocumentID: "x", Error: "boom"}
	assert.Contains(t, e.String(), "embed_failed")
	assert.Contains(t, e.String(), "notes/x error=boom")

	e = Event{Kind: EventSkipped, Collection: "graphs", DocumentID: "y", Reason: ReasonNotAllowed}
	assert.Contains(t, e.String(), "reason="+ReasonNotAllowed)
}
