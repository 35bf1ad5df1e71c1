package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts calls reaching the inner embedder.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls int
	batchCalls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	c.embedCalls++
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	c.batchCalls++
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderServesRepeatsFromCache(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedEmbedderBatchOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 1, inner.batchCalls)

	// All cached now: no further inner calls.
	_, err = c.EmbedBatch(ctx, []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.batchCalls)
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 1)
	ctx := context.Background()

	_, err := c.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "second")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "first")
	require.NoError(t, err)

	assert.Equal(t, 3, inner.embedCalls)
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	inner := NewStaticEmbedder()
	c := NewCachedEmbedder(inner, 0)
	ctx := context.Background()

	assert.Equal(t, inner.Dimensions(), c.Dimensions())
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.True(t, c.Available(ctx))
	assert.Same(t, Embedder(inner), c.Inner())
	require.NoError(t, c.Close())
	assert.False(t, c.Available(ctx))
}
