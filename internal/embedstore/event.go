package embedstore

import (
	"fmt"
	"time"
)

// EventKind identifies a step of an embedding attempt.
type EventKind string

const (
	EventStart   EventKind = "embed_start"
	EventSuccess EventKind = "embed_success"
	EventFailed  EventKind = "embed_failed"
	EventSkipped EventKind = "embed_skipped"
)

const previewLength = 80

// Event describes one step of an embedding attempt. Events are delivered to
// observers and never stored by this package.
type Event struct {
	Kind        EventKind `json:"kind"`
	Collection  string    `json:"collection"`
	DocumentID  string    `json:"document_id"`
	Timestamp   time.Time `json:"timestamp"`
	TextPreview string    `json:"text_preview,omitempty"`
	Error       string    `json:"error,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// String renders the event as one line for live traces.
func (e Event) String() string {
	line := fmt.Sprintf("%s %-13s %s/%s", e.Timestamp.Format("15:04:05.000"), e.Kind, e.Collection, e.DocumentID)
	switch {
	case e.Error != "":
		line += " error=" + e.Error
	case e.Reason != "":
		line += " reason=" + e.Reason
	case e.TextPreview != "":
		line += fmt.Sprintf(" %q", e.TextPreview)
	}
	return line
}

// Observer receives embedding events synchronously on the writer's goroutine.
type Observer func(Event)

// Skip reasons
const (
	ReasonNotAllowed = "collection not in allow-list"
	ReasonNoText     = "no extractable text"
)
