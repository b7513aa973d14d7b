package genkit

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Embedder turns text into vectors through a registered genkit embedder.
type Embedder struct {
	name string
	g    *genkit.Genkit
}

// NewEmbedder binds the embedder registered under name (e.g. "ark/doubao-embedding")
// on the package genkit instance.
func NewEmbedder(name string) (*Embedder, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit is not initialized")
	}
	if genkit.LookupEmbedder(g, name) == nil {
		return nil, fmt.Errorf("embedder not found: %s", name)
	}
	return &Embedder{name: name, g: g}, nil
}

// Name returns the embedder name.
func (e *Embedder) Name() string {
	return e.name
}

// Dim returns the configured vector dimension, 0 if unknown.
func (e *Embedder) Dim() int {
	return EmbedderDim(e.name)
}

// Embed returns the vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := genkit.Embed(ctx, e.g, ai.WithEmbedderName(e.name), ai.WithTextDocs(text))
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	return resp.Embeddings[0].Embedding, nil
}
