package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docbase-ai/docbase/internal/config"
)

// NewFromConfig builds the embedder selected by the configuration and wraps
// it with the LRU cache.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder()
	case "ollama":
		inner, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:  cfg.OllamaHost,
			Model: cfg.EmbeddingsModel,
		})
	case "openai":
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			Model: cfg.EmbeddingsModel,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("embedder_ready",
		"provider", cfg.Provider,
		"model", inner.ModelName(),
		"encoding", cfg.Encoding,
		"dimensions", inner.Dimensions(),
		"cache_size", cfg.CacheSize)
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
