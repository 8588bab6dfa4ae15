package llm

import (
	"fmt"
	"strings"

	"github.com/repolab/repotutor/internal/config"
)

// DefaultCacheSize bounds the embedding LRU cache
const DefaultCacheSize = 10000

// NewEmbedder creates an embedder from provider configuration.
// Supported providers: "ollama", "openai".
func NewEmbedder(cfg config.ProviderConfig) (Embedder, error) {
	cache := NewCache(DefaultCacheSize)

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "local", "":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cache), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cache)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewCompleter creates a completer from provider configuration.
// Supported providers: "ollama", "openai".
func NewCompleter(cfg config.ProviderConfig) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "local", "":
		return NewOllamaCompleter(cfg.BaseURL, cfg.Model), nil
	case ProviderOpenAI:
		return NewOpenAICompleter(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
