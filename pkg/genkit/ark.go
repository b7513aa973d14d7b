package genkit

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const arkProvider = "ark"

// ArkConfig configures the Volcengine Ark (Doubao) embedding endpoint.
type ArkConfig struct {
	APIKey     string        `toml:"api_key"`
	BaseURL    string        `toml:"base_url"`
	Timeout    string        `toml:"timeout"`     // 单次请求超时，为空使用 SDK 默认值
	MaxRetries int           `toml:"max_retries"` // 0 使用 SDK 默认值
	Models     []ModelConfig `toml:"models"`
}

// Validate checks Ark configuration
func (c *ArkConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one embedding model is required")
	}

	seen := make(map[string]struct{}, len(c.Models))
	for i := range c.Models {
		if err := c.Models[i].Validate(i); err != nil {
			return err
		}
		if _, ok := seen[c.Models[i].Name]; ok {
			return fmt.Errorf("models[%d].name %q is duplicated", i, c.Models[i].Name)
		}
		seen[c.Models[i].Name] = struct{}{}
	}
	return nil
}

// requestOptions returns the client options shared by every model.
func (c *ArkConfig) requestOptions(baseURL string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHeader("Content-Type", "application/json"),
	}
	if d, _ := time.ParseDuration(c.Timeout); d > 0 {
		opts = append(opts, option.WithRequestTimeout(d))
	}
	if c.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(c.MaxRetries))
	}
	return opts
}

// ArkPlugin registers one genkit embedder per configured model as
// "ark/<name>". Requests go to the model's upstream id, through the
// model's base URL when it overrides the vendor one.
type ArkPlugin struct {
	cfg     ArkConfig
	clients map[string]*openai.Client
}

// NewArkPlugin creates a new Ark plugin for Genkit
func NewArkPlugin(cfg ArkConfig) *ArkPlugin {
	return &ArkPlugin{cfg: cfg, clients: make(map[string]*openai.Client)}
}

// Name returns the plugin name
func (p *ArkPlugin) Name() string {
	return arkProvider
}

// Init implements api.Plugin.
func (p *ArkPlugin) Init(context.Context) []api.Action {
	actions := make([]api.Action, 0, len(p.cfg.Models))
	for _, m := range p.cfg.Models {
		embedder := p.defineEmbedder(m, p.client(m))
		actions = append(actions, embedder.(api.Action))
	}
	return actions
}

// client returns the client of the model's endpoint, one per base URL.
func (p *ArkPlugin) client(m ModelConfig) *openai.Client {
	baseURL := p.cfg.BaseURL
	if m.BaseURL != "" {
		baseURL = m.BaseURL
	}
	if c, ok := p.clients[baseURL]; ok {
		return c
	}
	c := openai.NewClient(p.cfg.requestOptions(baseURL)...)
	p.clients[baseURL] = &c
	return &c
}

func (p *ArkPlugin) defineEmbedder(m ModelConfig, client *openai.Client) ai.Embedder {
	name := arkProvider + "/" + m.Name
	return ai.NewEmbedder(name, &ai.EmbedderOptions{
		Label:      fmt.Sprintf("Ark %s", m.Name),
		Dimensions: m.Dim,
	}, func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		texts := make([]string, len(req.Input))
		for i, doc := range req.Input {
			texts[i] = docText(doc)
		}

		resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:          openai.EmbeddingModel(m.Model),
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			return nil, fmt.Errorf("ark embed %s: %w", m.Model, err)
		}
		return toEmbedResponse(resp.Data, len(texts))
	})
}

// toEmbedResponse orders the vendor vectors by input position.
func toEmbedResponse(data []openai.Embedding, n int) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, n)
	for _, d := range data {
		if d.Index < 0 || int(d.Index) >= n {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		embeddings[d.Index] = &ai.Embedding{Embedding: vec}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// Dimensions returns the configured dimension of every registered embedder.
func (p *ArkPlugin) Dimensions() map[string]int {
	dims := make(map[string]int, len(p.cfg.Models))
	for _, m := range p.cfg.Models {
		dims[arkProvider+"/"+m.Name] = m.Dim
	}
	return dims
}
