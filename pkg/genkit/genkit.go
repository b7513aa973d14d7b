package genkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/pkg/errors"
)

// ModelConfig holds configuration for a single embedding model (shared by all vendors)
type ModelConfig struct {
	Name    string `toml:"name"`     // Registration name (e.g., "doubao-embedding" -> "ark/doubao-embedding")
	Model   string `toml:"model"`    // Upstream model identifier
	BaseURL string `toml:"base_url"` // Override base URL for this model (optional)
	Dim     int    `toml:"dim"`      // Embedding dimension
}

// Validate validates a model config
func (m *ModelConfig) Validate(index int) error {
	if m.Name == "" {
		return fmt.Errorf("models[%d].name is required", index)
	}
	if m.Model == "" {
		return fmt.Errorf("models[%d].model is required", index)
	}
	if m.Dim <= 0 {
		return fmt.Errorf("models[%d].dim must be positive", index)
	}
	return nil
}

// Config holds genkit configuration with all vendors
type Config struct {
	Ark ArkConfig `toml:"ark"`
}

// Validate checks genkit configuration
func (c *Config) Validate() error {
	if len(c.Ark.Models) > 0 {
		if err := c.Ark.Validate(); err != nil {
			return fmt.Errorf("ark: %w", err)
		}
	}
	return nil
}

var (
	g *genkit.Genkit

	dimsMu sync.RWMutex
	dims   = map[string]int{}
)

// Init initializes the genkit package with multi-vendor config
func Init(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.WithMessage(err, "invalid config")
	}

	var plugins []api.Plugin
	if len(cfg.Ark.Models) > 0 {
		ark := NewArkPlugin(cfg.Ark)
		plugins = append(plugins, ark)
		registerDims(ark.Dimensions())
	}

	g = genkit.Init(ctx, genkit.WithPlugins(plugins...))
	return nil
}

// InitForTest initializes genkit with a mock plugin for testing.
// Returns the mock plugin for configuring responses.
func InitForTest(ctx context.Context, cfg MockConfig) *MockPlugin {
	mockPlugin := NewMockPlugin(cfg)
	dims := make(map[string]int, len(cfg.Models))
	for _, m := range cfg.Models {
		dims[mockPlugin.provider+"/"+m.Name] = m.Dim
	}
	registerDims(dims)

	g = genkit.Init(ctx, genkit.WithPlugins(mockPlugin))
	return mockPlugin
}

// InitWithPlugins initializes genkit with custom plugins (for testing or custom setups)
func InitWithPlugins(ctx context.Context, plugins []api.Plugin) {
	g = genkit.Init(ctx, genkit.WithPlugins(plugins...))
}

// Genkit returns the Genkit instance
func Genkit() *genkit.Genkit {
	return g
}

// EmbedderDim returns the configured dimension of a registered embedder, 0 if unknown.
func EmbedderDim(name string) int {
	dimsMu.RLock()
	defer dimsMu.RUnlock()
	return dims[name]
}

func registerDims(named map[string]int) {
	dimsMu.Lock()
	defer dimsMu.Unlock()
	for name, dim := range named {
		dims[name] = dim
	}
}
