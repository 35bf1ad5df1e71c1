package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
)

func TestCosineIdentityAndOrthogonal(t *testing.T) {
	v := []float64{3, 4, 0}
	sim, err := Cosine(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-12)

	sim, err = Cosine([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-12)

	_, err = Cosine([]float64{1, 0}, []float64{1, 0, 0})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func queryFixture(t *testing.T) *Index {
	t.Helper()
	ix := New()
	ctx := context.Background()
	for _, tc := range []struct {
		vec   []float64
		docid string
		text  string
	}{
		{[]float64{1, 0}, "d1", "exact match"},
		{[]float64{0.9, 0.1}, "d2", "near match"},
		{[]float64{0, 1}, "d3", "orthogonal"},
	} {
		_, err := ix.Create(ctx, tc.vec, mdFor(tc.docid), tc.text)
		require.NoError(t, err)
	}
	return ix
}

func TestQueryOrdersBySimilarity(t *testing.T) {
	ix := queryFixture(t)

	results, err := ix.Query(context.Background(), []float64{1, 0}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "d1", results[0].Entry.Metadata[meta.KeyDocID])
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-12)
	assert.Equal(t, "d2", results[1].Entry.Metadata[meta.KeyDocID])
	assert.Equal(t, "d3", results[2].Entry.Metadata[meta.KeyDocID])
}

func TestQueryTopKAndMinDistance(t *testing.T) {
	ix := queryFixture(t)
	ctx := context.Background()

	results, err := ix.Query(ctx, []float64{1, 0}, QueryOptions{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = ix.Query(ctx, []float64{1, 0}, QueryOptions{MinDistance: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
}

func TestQueryFilterBeforeAndAfter(t *testing.T) {
	ix := queryFixture(t)
	ctx := context.Background()
	onlyD3 := func(m meta.Metadata) bool { return m[meta.KeyDocID] == "d3" }

	results, err := ix.Query(ctx, []float64{1, 0}, QueryOptions{Filter: onlyD3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d3", results[0].Entry.Metadata[meta.KeyDocID])

	// Post-filter sees the same entries but after scoring and ordering.
	results, err = ix.Query(ctx, []float64{1, 0}, QueryOptions{Filter: onlyD3, FilterAfter: true, TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d3", results[0].Entry.Metadata[meta.KeyDocID])
}

func TestQueryWithText(t *testing.T) {
	ix := queryFixture(t)

	results, err := ix.Query(context.Background(), []float64{1, 0}, QueryOptions{TopK: 1, WithText: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact match", results[0].Text)
}

func TestQueryDimensionMismatch(t *testing.T) {
	ix := queryFixture(t)

	_, err := ix.Query(context.Background(), []float64{1, 0, 0}, QueryOptions{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func TestQueryParallelMatchesSerial(t *testing.T) {
	serial := New()
	parallel := New(WithMultithreaded(true))
	ctx := context.Background()

	for i := 0; i < parallelThreshold+50; i++ {
		vec := []float64{float64(i + 1), 1}
		text := fmt.Sprintf("entry %d", i)
		_, err := serial.Create(ctx, vec, mdFor(text), text)
		require.NoError(t, err)
		_, err = parallel.Create(ctx, vec, mdFor(text), text)
		require.NoError(t, err)
	}

	target := []float64{1, 0}
	want, err := serial.Query(ctx, target, QueryOptions{TopK: 10})
	require.NoError(t, err)
	got, err := parallel.Query(ctx, target, QueryOptions{TopK: 10})
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Entry.Hash, got[i].Entry.Hash)
		assert.InDelta(t, want[i].Similarity, got[i].Similarity, 1e-12)
	}
}

func TestQueryCancelledContext(t *testing.T) {
	ix := queryFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.Query(ctx, []float64{1, 0}, QueryOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
