package eventstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/pkg/document"
)

func TestPersistEvent_AddsTimestamp(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemoryStore("")

	event := map[string]any{"event_type": "started"}
	doc, err := PersistEvent(ctx, store, event)
	require.NoError(t, err)

	assert.Equal(t, Collection, doc.Collection)
	assert.NotEmpty(t, doc.Data["timestamp"])
	assert.NotContains(t, event, "timestamp", "input must not be modified")
}

func TestPersistEvent_KeepsTimestamp(t *testing.T) {
	doc, err := PersistEvent(context.Background(), document.NewMemoryStore(""), map[string]any{
		"timestamp": "2024-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", doc.Data["timestamp"])
}

func TestPersist_Entry(t *testing.T) {
	doc, err := Persist(context.Background(), document.NewMemoryStore(""), Entry{
		ServiceID: "cli-transcribe",
		EventType: "session.start",
		SessionID: "s1",
		Data:      map[string]any{"model": "base"},
	})
	require.NoError(t, err)

	assert.Equal(t, "cli-transcribe", doc.Data["service_id"])
	assert.Equal(t, "INFO", doc.Data["level"])
	assert.Equal(t, "s1", doc.Data["session_id"])
	assert.Equal(t, map[string]any{"model": "base"}, doc.Data["data"])
}

func TestDumpAndClear(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemoryStore("")

	for _, kind := range []string{"a", "b", "c"} {
		_, err := PersistEvent(ctx, store, map[string]any{"event_type": kind})
		require.NoError(t, err)
	}

	docs, err := DumpAllEvents(ctx, store, 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].Data["event_type"])
	assert.Equal(t, "c", docs[2].Data["event_type"])

	docs, err = DumpAllEvents(ctx, store, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	cleared, err := ClearAllEvents(ctx, store)
	require.NoError(t, err)
	assert.True(t, cleared)

	docs, err = DumpAllEvents(ctx, store, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)

	cleared, err = ClearAllEvents(ctx, store)
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestWriteJSONL(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemoryStore("")
	_, err := PersistEvent(ctx, store, map[string]any{"event_type": "a"})
	require.NoError(t, err)
	_, err = PersistEvent(ctx, store, map[string]any{"event_type": "b"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := WriteJSONL(ctx, store, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var types []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &l))
		assert.NotEmpty(t, l.ID)
		types = append(types, l.Event["event_type"].(string))
	}
	assert.Equal(t, []string{"a", "b"}, types)
}
