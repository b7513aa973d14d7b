// Package lineage records which documents were indexed for recall as a graph:
// (:Collection)-[:INDEXED]->(:Document).
package lineage

import (
	"context"
	"log/slog"
	"time"

	"github.com/Zereker/docstore/internal/embedstore"
)

const (
	mergeIndexed = `
MERGE (c:Collection {name: $collection, tenant: $tenant})
MERGE (d:Document {id: $document_id, tenant: $tenant})
MERGE (c)-[r:INDEXED]->(d)
SET r.indexed_at = $indexed_at, r.preview = $preview`

	listIndexed = `
MATCH (c:Collection {name: $collection, tenant: $tenant})-[r:INDEXED]->(d:Document)
RETURN d.id AS document_id, r.indexed_at AS indexed_at, r.preview AS preview
ORDER BY r.indexed_at DESC
LIMIT $limit`
)

// Graph is the subset of pkg/graph.Neo4jStore used here.
type Graph interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	RunWrite(ctx context.Context, cypher string, params map[string]any) error
}

// Recorder writes lineage for one tenant.
type Recorder struct {
	graph   Graph
	tenant  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder creates a recorder for tenant.
func NewRecorder(graph Graph, tenant string) *Recorder {
	return &Recorder{
		graph:   graph,
		tenant:  tenant,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("module", "lineage", "tenant", tenant),
	}
}

// Observer returns an embedding observer that records successful indexing.
func (r *Recorder) Observer() embedstore.Observer {
	return func(e embedstore.Event) {
		if e.Kind != embedstore.EventSuccess {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.Record(ctx, e); err != nil {
			r.logger.Warn("failed to record lineage",
				"collection", e.Collection,
				"document_id", e.DocumentID,
				"error", err,
			)
		}
	}
}

// Record merges the lineage edge for e.
func (r *Recorder) Record(ctx context.Context, e embedstore.Event) error {
	return r.graph.RunWrite(ctx, mergeIndexed, map[string]any{
		"collection":  e.Collection,
		"tenant":      r.tenant,
		"document_id": e.DocumentID,
		"indexed_at":  e.Timestamp.UTC(),
		"preview":     e.TextPreview,
	})
}

// Entry is one indexed document of a collection.
type Entry struct {
	DocumentID string    `json:"document_id"`
	IndexedAt  time.Time `json:"indexed_at"`
	Preview    string    `json:"preview"`
}

// Indexed lists the most recently indexed documents of collection.
func (r *Recorder) Indexed(ctx context.Context, collection string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.graph.Run(ctx, listIndexed, map[string]any{
		"collection": collection,
		"tenant":     r.tenant,
		"limit":      limit,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{}
		e.DocumentID, _ = row["document_id"].(string)
		e.IndexedAt, _ = row["indexed_at"].(time.Time)
		e.Preview, _ = row["preview"].(string)
		entries = append(entries, e)
	}
	return entries, nil
}
