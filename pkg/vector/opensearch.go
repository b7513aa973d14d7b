package vector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
)

const embeddingField = "embedding"

// Package-level singleton instance
var indexInstance *OpenSearchIndex

// Init initializes the OpenSearch index singleton with config.
func Init(cfg OpenSearchConfig) error {
	if !cfg.Enabled {
		return nil
	}
	index, err := NewOpenSearchIndex(cfg)
	if err != nil {
		return err
	}
	indexInstance = index
	return nil
}

// NewStore returns the singleton OpenSearch index, nil when not initialized.
func NewStore() *OpenSearchIndex {
	return indexInstance
}

// OpenSearchConfig holds OpenSearch configuration
type OpenSearchConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addresses    []string `toml:"addresses"`
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	EmbeddingDim int      `toml:"embedding_dim"`
	InsecureSSL  bool     `toml:"insecure_ssl"`
}

// Validate checks OpenSearch configuration
func (c *OpenSearchConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Addresses) == 0 {
		return fmt.Errorf("addresses is required")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive")
	}
	return nil
}

// OpenSearchIndex implements Index using OpenSearch k-NN indexes.
type OpenSearchIndex struct {
	client *opensearchapi.Client
}

// 确保 OpenSearchIndex 实现 Index 接口
var _ Index = (*OpenSearchIndex)(nil)

// NewOpenSearchIndex creates a new OpenSearch-backed index
func NewOpenSearchIndex(cfg OpenSearchConfig) (*OpenSearchIndex, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	return &OpenSearchIndex{client: client}, nil
}

// EnsureIndex creates a k-NN index using lucene HNSW with cosine similarity.
// An index that already exists is left untouched.
func (s *OpenSearchIndex) EnsureIndex(ctx context.Context, name string, dim int, fields map[string]string) error {
	body, err := json.Marshal(indexMapping(dim, fields))
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	_, err = s.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: name,
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return nil
}

func indexMapping(dim int, fields map[string]string) map[string]any {
	properties := map[string]any{
		embeddingField: map[string]any{
			"type":      "knn_vector",
			"dimension": dim,
			"method": map[string]any{
				"name":       "hnsw",
				"space_type": "cosinesimil",
				"engine":     "lucene",
			},
		},
	}
	for field, typ := range fields {
		properties[field] = map[string]any{"type": typ}
	}

	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{"properties": properties},
	}
}

func isAlreadyExists(err error) bool {
	return strings.Contains(err.Error(), "resource_already_exists_exception")
}

// Upsert indexes the document under id, replacing any previous version.
func (s *OpenSearchIndex) Upsert(ctx context.Context, index, id string, fields map[string]any, embedding []float32) error {
	doc := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc[embeddingField] = embedding

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = s.client.Index(ctx, opensearchapi.IndexReq{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Params:     opensearchapi.IndexParams{Refresh: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

// Search runs a k-NN query against index.
func (s *OpenSearchIndex) Search(ctx context.Context, index string, embedding []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}

	query := map[string]any{
		"size": k,
		"query": map[string]any{
			"knn": map[string]any{
				embeddingField: map[string]any{"vector": embedding, "k": k},
			},
		},
		"_source": map[string]any{"excludes": []string{embeddingField}},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var fields map[string]any
		if err := json.Unmarshal(h.Source, &fields); err != nil {
			continue
		}
		hits = append(hits, Hit{
			ID:       h.ID,
			Distance: scoreToDistance(float64(h.Score)),
			Fields:   fields,
		})
	}
	return hits, nil
}

// scoreToDistance inverts the cosinesimil score (1 + cos) / 2 into 1 - cos.
func scoreToDistance(score float64) float64 {
	return 2 - 2*score
}

// ListIndices lists indexes whose name starts with prefix.
func (s *OpenSearchIndex) ListIndices(ctx context.Context, prefix string) ([]string, error) {
	resp, err := s.client.Cat.Indices(ctx, &opensearchapi.CatIndicesReq{
		Indices: []string{prefix + "*"},
	})
	if err != nil {
		return nil, fmt.Errorf("list indices failed: %w", err)
	}

	names := make([]string, 0, len(resp.Indices))
	for _, idx := range resp.Indices {
		if strings.HasPrefix(idx.Index, prefix) {
			names = append(names, idx.Index)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks the cluster is reachable.
func (s *OpenSearchIndex) Ping(ctx context.Context) error {
	if _, err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the OpenSearch connection
func (s *OpenSearchIndex) Close() error {
	return nil
}
