package embed

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// DefaultOpenAIModel is the default embedding model for the OpenAI backend.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL overrides the API endpoint, for OpenAI-compatible servers.
	BaseURL string

	// Model is the embedding model identifier.
	Model string

	// Dimensions requests reduced-dimension output when supported by the
	// model. Zero uses the model's native dimension.
	Dimensions int

	// BatchSize for batch embedding requests.
	BatchSize int

	// MaxRetries for transient failures.
	MaxRetries int
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	cfg    OpenAIConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI embedder. The API key comes from the
// config or the OPENAI_API_KEY environment variable.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("openai embedder requires an API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		params := openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts[start:end],
			},
			Model:          openai.EmbeddingModel(e.cfg.Model),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		}
		if e.cfg.Dimensions > 0 {
			params.Dimensions = openai.Int(int64(e.cfg.Dimensions))
		}

		var resp *openai.CreateEmbeddingResponse
		retry := DefaultRetryConfig()
		retry.MaxRetries = e.cfg.MaxRetries
		err := withRetry(ctx, retry, func() error {
			var err error
			resp, err = e.client.Embeddings.New(ctx, params)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}

	e.mu.Lock()
	if e.dims == 0 && len(out) > 0 {
		e.dims = len(out[0])
	}
	e.mu.Unlock()
	return out, nil
}

// Dimensions returns the embedding dimension, 0 until first use when not
// configured.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the configured model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.cfg.Model
}

// Available reports whether the embedder accepts requests.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder unusable.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
