package lineage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/internal/embedstore"
	"github.com/Zereker/docstore/pkg/graph"
)

var _ Graph = (*graph.Neo4jStore)(nil)

type mockGraph struct {
	RunFunc func(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	writes  []map[string]any
	err     error
}

func (m *mockGraph) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return m.RunFunc(ctx, cypher, params)
}

func (m *mockGraph) RunWrite(_ context.Context, _ string, params map[string]any) error {
	m.writes = append(m.writes, params)
	return m.err
}

func TestObserver_RecordsOnlySuccess(t *testing.T) {
	g := &mockGraph{}
	observe := NewRecorder(g, "acme").Observer()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	observe(embedstore.Event{Kind: embedstore.EventStart, Collection: "notes", DocumentID: "x"})
	observe(embedstore.Event{Kind: embedstore.EventSkipped, Collection: "graphs", DocumentID: "y"})
	observe(embedstore.Event{Kind: embedstore.EventSuccess, Collection: "notes", DocumentID: "x", Timestamp: ts, TextPreview: "hi"})

	require.Len(t, g.writes, 1)
	assert.Equal(t, map[string]any{
		"collection":  "notes",
		"tenant":      "acme",
		"document_id": "x",
		"indexed_at":  ts,
		"preview":     "hi",
	}, g.writes[0])
}

func TestObserver_SwallowsErrors(t *testing.T) {
	g := &mockGraph{err: errors.New("neo4j down")}
	observe := NewRecorder(g, "acme").Observer()

	assert.NotPanics(t, func() {
		observe(embedstore.Event{Kind: embedstore.EventSuccess, Collection: "notes", DocumentID: "x"})
	})
}

func TestRecorder_Indexed(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := &mockGraph{RunFunc: func(_ context.Context, _ string, params map[string]any) ([]map[string]any, error) {
		assert.Equal(t, 100, params["limit"])
		assert.Equal(t, "acme", params["tenant"])
		return []map[string]any{{"document_id": "x", "indexed_at": ts, "preview": "hi"}}, nil
	}}

	entries, err := NewRecorder(g, "acme").Indexed(context.Background(), "notes", 0)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{DocumentID: "x", IndexedAt: ts, Preview: "hi"}}, entries)
}
