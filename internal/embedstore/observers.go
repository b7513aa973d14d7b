package embedstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Zereker/docstore/pkg/mq"
)

// LogObserver writes every event to logger.
func LogObserver(logger *slog.Logger) Observer {
	return func(e Event) {
		attrs := []any{
			"kind", e.Kind,
			"collection", e.Collection,
			"document_id", e.DocumentID,
		}
		switch e.Kind {
		case EventFailed:
			logger.Warn("embed event", append(attrs, "error", e.Error)...)
		case EventSkipped:
			logger.Debug("embed event", append(attrs, "reason", e.Reason)...)
		default:
			logger.Info("embed event", append(attrs, "preview", e.TextPreview)...)
		}
	}
}

// NewPublisher returns an observer that publishes events as JSON to topic,
// keyed by collection. Publish failures are logged and dropped.
func NewPublisher(publisher mq.Publisher, topic string, timeout time.Duration) Observer {
	logger := slog.Default().With("module", "embedstore", "topic", topic)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return func(e Event) {
		payload, err := json.Marshal(e)
		if err != nil {
			logger.Warn("failed to encode event", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := publisher.Publish(ctx, topic, e.Collection, payload); err != nil {
			logger.Warn("failed to publish event", "kind", e.Kind, "error", err)
		}
	}
}
