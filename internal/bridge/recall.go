package bridge

import (
	"context"
	"fmt"
	"sort"
)

const (
	DefaultRecallLimit     = 5
	DefaultRecallThreshold = 0.5
)

// RecallOptions narrows a recall.
type RecallOptions struct {
	// Tenant selects whose sub-indexes are searched; empty means the
	// bridge's own tenant.
	Tenant string
	// Collection limits the search to one sub-index; empty searches all.
	Collection string
	Limit      int
	// Threshold is the minimum similarity score in [0, 1].
	Threshold float64
}

// DefaultRecallOptions returns limit 5 and threshold 0.5 across all collections.
func DefaultRecallOptions() RecallOptions {
	return RecallOptions{Limit: DefaultRecallLimit, Threshold: DefaultRecallThreshold}
}

// RecallResult is one semantically recalled document.
type RecallResult struct {
	DocumentID string         `json:"document_id"`
	Collection string         `json:"collection"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata"`
}

// Recall returns documents of one tenant similar to query, best first.
// Sub-indexes that fail to search are logged and skipped.
func (b *Bridge) Recall(ctx context.Context, query string, opts RecallOptions) ([]RecallResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultRecallLimit
	}

	embedding, err := b.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	tenant := opts.Tenant
	if tenant == "" {
		tenant = b.tenant
	}

	var indices []string
	if opts.Collection != "" {
		indices = []string{SubIndexName(tenant, opts.Collection)}
	} else {
		indices, err = b.index.ListIndices(ctx, TenantIndexPrefix(tenant))
		if err != nil {
			return nil, fmt.Errorf("list indices: %w", err)
		}
	}

	var results []RecallResult
	for _, name := range indices {
		hits, err := b.index.Search(ctx, name, embedding, opts.Limit)
		if err != nil {
			b.logger.Warn("recall search failed", "index", name, "error", err)
			continue
		}

		for _, hit := range hits {
			score := similarity(hit.Distance)
			if score < opts.Threshold {
				continue
			}
			results = append(results, RecallResult{
				DocumentID: fieldString(hit.Fields, "document_id", hit.ID),
				Collection: fieldString(hit.Fields, "collection", ""),
				Text:       fieldString(hit.Fields, "text", ""),
				Score:      score,
				Metadata:   map[string]any{"index": name, "distance": hit.Distance},
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (b *Bridge) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if b.queryCache != nil {
		switch v := b.queryCache.Get(query, nil).(type) {
		case []float32:
			return v, nil
		case []any:
			// 从快照恢复的向量是 JSON 数组
			if embedding, ok := toFloat32s(v); ok {
				b.queryCache.Set(query, embedding)
				return embedding, nil
			}
		}
	}

	embedding, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if b.queryCache != nil {
		b.queryCache.Set(query, embedding)
	}
	return embedding, nil
}

func toFloat32s(values []any) ([]float32, bool) {
	out := make([]float32, len(values))
	for i, v := range values {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out[i] = float32(f)
	}
	return out, true
}

// similarity maps cosine distance to a score clamped to [0, 1].
func similarity(distance float64) float64 {
	score := 1 - distance
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func fieldString(fields map[string]any, key, def string) string {
	if s, ok := fields[key].(string); ok && s != "" {
		return s
	}
	return def
}
