package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaStub(t *testing.T, dims int, fail *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text"}]}`))
		case "/api/embed":
			if fail != nil && *fail {
				http.Error(w, "model busy", http.StatusInternalServerError)
				return
			}
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			inputs, ok := req.Input.([]any)
			require.True(t, ok)
			resp := ollamaEmbedResponse{Model: req.Model}
			for i := range inputs {
				vec := make([]float64, dims)
				vec[i%dims] = 1
				resp.Embeddings = append(resp.Embeddings, vec)
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaEmbedderDetectsDimensions(t *testing.T) {
	srv := ollamaStub(t, 8, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 8, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedderBatch(t *testing.T) {
	srv := ollamaStub(t, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		SkipHealthCheck: true,
		BatchSize:       2,
	})
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 4)
	}
	assert.Equal(t, 4, e.Dimensions())
}

func TestOllamaEmbedderServerError(t *testing.T) {
	fail := true
	srv := ollamaStub(t, 4, &fail)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		SkipHealthCheck: true,
		MaxRetries:      1,
	})
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Embed(ctx, "x")
	assert.Error(t, err)
}

func TestOllamaEmbedderClosed(t *testing.T) {
	srv := ollamaStub(t, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}
