// Package eventstore keeps an append-only log of application events in the
// "events" collection of a document store.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Zereker/docstore/pkg/document"
)

// Collection holds persisted events.
const Collection = "events"

// DumpLimit caps DumpAllEvents when called with a non-positive limit.
const DumpLimit = 10000

const timestampField = "timestamp"

// Entry is the common event shape written by services.
type Entry struct {
	ServiceID string         `json:"service_id"`
	EventType string         `json:"event_type"`
	Level     string         `json:"level"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Fields returns the entry as document data.
func (e Entry) Fields() map[string]any {
	level := e.Level
	if level == "" {
		level = "INFO"
	}
	fields := map[string]any{
		"service_id": e.ServiceID,
		"event_type": e.EventType,
		"level":      level,
	}
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}
	if e.Data != nil {
		fields["data"] = e.Data
	}
	return fields
}

// Persist writes a service event.
func Persist(ctx context.Context, store document.Store, e Entry) (*document.Document, error) {
	return PersistEvent(ctx, store, e.Fields())
}

// PersistEvent appends event to the log. A "timestamp" field (RFC 3339,
// UTC) is added when the event has none; event itself is not modified.
func PersistEvent(ctx context.Context, store document.Store, event map[string]any) (*document.Document, error) {
	data := make(map[string]any, len(event)+1)
	for k, v := range event {
		data[k] = v
	}
	if _, ok := data[timestampField]; !ok {
		data[timestampField] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	doc, err := store.Create(ctx, Collection, data)
	if err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}
	return doc, nil
}

// DumpAllEvents returns up to limit events, oldest first.
func DumpAllEvents(ctx context.Context, store document.Store, limit int) ([]*document.Document, error) {
	if limit <= 0 {
		limit = DumpLimit
	}
	docs, err := store.Query(ctx, Collection, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("dump events: %w", err)
	}
	return docs, nil
}

// line is one record of the JSONL dump.
type line struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Event     map[string]any `json:"event"`
}

// WriteJSONL writes every event to w, one JSON object per line, and returns
// the number written.
func WriteJSONL(ctx context.Context, store document.Store, w io.Writer) (int, error) {
	docs, err := DumpAllEvents(ctx, store, 0)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i, doc := range docs {
		if err := enc.Encode(line{ID: doc.ID, CreatedAt: doc.CreatedAt, Event: doc.Data}); err != nil {
			return i, fmt.Errorf("write event %s: %w", doc.ID, err)
		}
	}
	return len(docs), nil
}

// ClearAllEvents removes the whole event log and reports whether anything
// was removed.
func ClearAllEvents(ctx context.Context, store document.Store) (bool, error) {
	ok, err := store.DeleteCollection(ctx, Collection)
	if err != nil {
		return false, fmt.Errorf("clear events: %w", err)
	}
	return ok, nil
}
