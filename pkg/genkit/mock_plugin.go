package genkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// EmbedFunc produces an embedding response for a request.
type EmbedFunc func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)

// MockConfig holds mock plugin configuration
type MockConfig struct {
	Provider string // Provider prefix (default: "mock"). Use "ark" to match real model names.
	Models   []ModelConfig
}

// MockPlugin implements a test-only genkit plugin with configurable embedders
type MockPlugin struct {
	mu sync.RWMutex

	// provider prefix for embedder names
	provider string
	// responses maps embedder name to response function
	responses map[string]EmbedFunc
	// calls counts embed requests per embedder
	calls map[string]int

	models []ModelConfig
}

// NewMockPlugin creates a new mock plugin for testing
func NewMockPlugin(cfg MockConfig) *MockPlugin {
	provider := cfg.Provider
	if provider == "" {
		provider = "mock"
	}
	return &MockPlugin{
		provider:  provider,
		models:    cfg.Models,
		responses: make(map[string]EmbedFunc),
		calls:     make(map[string]int),
	}
}

// Name returns the plugin name
func (p *MockPlugin) Name() string {
	return "mock"
}

// Init implements api.Plugin interface - registers all mock embedders
func (p *MockPlugin) Init(ctx context.Context) []api.Action {
	actions := make([]api.Action, 0, len(p.models))
	for _, m := range p.models {
		embedder := p.defineEmbedder(m)
		actions = append(actions, embedder.(api.Action))
	}
	return actions
}

// defineEmbedder creates a mock embedder. Without a configured response it
// returns zero vectors of the model dimension.
func (p *MockPlugin) defineEmbedder(m ModelConfig) ai.Embedder {
	name := fmt.Sprintf("%s/%s", p.provider, m.Name)
	return ai.NewEmbedder(name, &ai.EmbedderOptions{
		Label:      fmt.Sprintf("Mock %s", m.Name),
		Dimensions: m.Dim,
	}, func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		p.mu.Lock()
		p.calls[m.Name]++
		fn, ok := p.responses[m.Name]
		p.mu.Unlock()

		if ok && fn != nil {
			return fn(ctx, req)
		}

		embeddings := make([]*ai.Embedding, len(req.Input))
		for i := range req.Input {
			embeddings[i] = &ai.Embedding{Embedding: make([]float32, m.Dim)}
		}
		return &ai.EmbedResponse{Embeddings: embeddings}, nil
	})
}

// SetEmbedderResponse sets a custom response function for an embedder
func (p *MockPlugin) SetEmbedderResponse(embedderName string, fn EmbedFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[embedderName] = fn
}

// SetEmbedderVectorResponse makes the embedder return vector for every input
func (p *MockPlugin) SetEmbedderVectorResponse(embedderName string, vector []float32) {
	p.SetEmbedderResponse(embedderName, func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		embeddings := make([]*ai.Embedding, len(req.Input))
		for i := range req.Input {
			embeddings[i] = &ai.Embedding{Embedding: vector}
		}
		return &ai.EmbedResponse{Embeddings: embeddings}, nil
	})
}

// SetEmbedderTextVectors maps input text to vectors. Unknown text gets fallback.
func (p *MockPlugin) SetEmbedderTextVectors(embedderName string, vectors map[string][]float32, fallback []float32) {
	p.SetEmbedderResponse(embedderName, func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		embeddings := make([]*ai.Embedding, len(req.Input))
		for i, doc := range req.Input {
			vec, ok := vectors[docText(doc)]
			if !ok {
				vec = fallback
			}
			embeddings[i] = &ai.Embedding{Embedding: vec}
		}
		return &ai.EmbedResponse{Embeddings: embeddings}, nil
	})
}

// SetEmbedderError makes every request to the embedder fail with err
func (p *MockPlugin) SetEmbedderError(embedderName string, err error) {
	p.SetEmbedderResponse(embedderName, func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		return nil, err
	})
}

// Calls returns how many embed requests the embedder has served
func (p *MockPlugin) Calls(embedderName string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[embedderName]
}

func docText(doc *ai.Document) string {
	var text string
	for _, part := range doc.Content {
		text += part.Text
	}
	return text
}

// DefaultMockConfig returns a default mock config for testing
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Models: []ModelConfig{
			{Name: "test-embedding", Model: "test-embedding", Dim: 1536},
		},
	}
}
