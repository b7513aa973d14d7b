package genkit

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPlugin_DefaultBehavior(t *testing.T) {
	ctx := context.Background()

	// 使用默认配置初始化 mock plugin
	mockPlugin := InitForTest(ctx, DefaultMockConfig())

	embedder := genkit.LookupEmbedder(Genkit(), "mock/test-embedding")
	require.NotNil(t, embedder, "mock embedder should be registered")

	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText("hello", nil)},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 1)
	assert.Len(t, resp.Embeddings[0].Embedding, 1536) // default dim
	assert.Equal(t, 1, mockPlugin.Calls("test-embedding"))
}

func TestMockPlugin_TextVectors(t *testing.T) {
	ctx := context.Background()
	mockPlugin := InitForTest(ctx, DefaultMockConfig())

	mockPlugin.SetEmbedderTextVectors("test-embedding", map[string][]float32{
		"cat": {1, 0},
	}, []float32{0, 1})

	e, err := NewEmbedder("mock/test-embedding")
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dim())

	vec, err := e.Embed(ctx, "cat")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)

	vec, err = e.Embed(ctx, "dog")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestEmbedder_Errors(t *testing.T) {
	ctx := context.Background()
	mockPlugin := InitForTest(ctx, DefaultMockConfig())

	_, err := NewEmbedder("mock/unknown")
	assert.Error(t, err)

	e, err := NewEmbedder("mock/test-embedding")
	require.NoError(t, err)

	mockPlugin.SetEmbedderError("test-embedding", errors.New("quota exceeded"))
	_, err = e.Embed(ctx, "hello")
	assert.ErrorContains(t, err, "quota exceeded")

	mockPlugin.SetEmbedderVectorResponse("test-embedding", []float32{})
	_, err = e.Embed(ctx, "hello")
	assert.ErrorContains(t, err, "empty embedding response")
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	assert.NoError(t, cfg.Validate())

	cfg.Ark = ArkConfig{APIKey: "k", BaseURL: "https://example.com", Models: []ModelConfig{{Name: "e", Model: "m"}}}
	assert.ErrorContains(t, cfg.Validate(), "dim")

	cfg.Ark.Models[0].Dim = 8
	assert.NoError(t, cfg.Validate())
}
