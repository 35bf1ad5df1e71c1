package vector

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
)

// testEmbed derives a deterministic 4-dimensional vector from the text.
func testEmbed(_ context.Context, text string) ([]float64, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	s := h.Sum64()
	v := make([]float64, 4)
	for i := range v {
		v[i] = float64((s>>(16*i))&0xffff) + 1
	}
	return v, nil
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return New(WithEmbedder(testEmbed))
}

func mdFor(docid string) meta.Metadata {
	return meta.Metadata{meta.KeyDocID: docid}
}

func TestCreateReadRoundTrip(t *testing.T) {
	ix := newTestIndex(t)

	hash, err := ix.Create(context.Background(), nil, mdFor("d1"), "hello world")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 4, ix.Dimensions())
	assert.True(t, ix.Dirty())

	vec, err := testEmbed(context.Background(), "hello world")
	require.NoError(t, err)
	entry, text, err := ix.Read(vec, true)
	require.NoError(t, err)
	assert.Equal(t, hash, entry.Hash)
	assert.Equal(t, "d1", entry.Metadata[meta.KeyDocID])
	assert.Equal(t, "hello world", text)
	assert.InDelta(t, norm(vec), entry.Length, 1e-12)
}

func TestCreateSameVectorIsNoOp(t *testing.T) {
	ix := newTestIndex(t)

	h1, err := ix.Create(context.Background(), nil, mdFor("d1"), "same text")
	require.NoError(t, err)
	h2, err := ix.Create(context.Background(), nil, mdFor("d2"), "same text")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, ix.Len())

	// First writer wins on metadata.
	vec, _ := testEmbed(context.Background(), "same text")
	entry, _, err := ix.Read(vec, false)
	require.NoError(t, err)
	assert.Equal(t, "d1", entry.Metadata[meta.KeyDocID])
}

func TestCreateRejectsEmptyAndMismatchedVectors(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.Create(context.Background(), []float64{}, mdFor("d1"), "x")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmptyVector))

	_, err = ix.Create(context.Background(), []float64{1, 2, 3, 4}, mdFor("d1"), "x")
	require.NoError(t, err)

	_, err = ix.Create(context.Background(), []float64{1, 2}, mdFor("d2"), "y")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func TestHashVectorStable(t *testing.T) {
	v := []float64{0.25, -1.5, 3.0}
	assert.Equal(t, HashVector(v), HashVector([]float64{0.25, -1.5, 3.0}))
	assert.NotEqual(t, HashVector(v), HashVector([]float64{0.25, -1.5, 3.1}))
}

func TestFSTextStoreShardInvariant(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFSTextStore(dir)
	require.NoError(t, err)
	ix := New(WithEmbedder(testEmbed), WithTextStore(fs))

	hash, err := ix.Create(context.Background(), nil, mdFor("d1"), "shard body")
	require.NoError(t, err)

	shard := filepath.Join(dir, "text_"+hash+".txt")
	body, err := os.ReadFile(shard)
	require.NoError(t, err)
	assert.Equal(t, "shard body", string(body))

	vec, _ := testEmbed(context.Background(), "shard body")
	require.NoError(t, ix.Delete(vec))
	_, err = os.Stat(shard)
	assert.True(t, os.IsNotExist(err))
}

func TestUpdateReplacesEntry(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	_, err := ix.Create(ctx, nil, mdFor("d1"), "old text")
	require.NoError(t, err)
	oldVec, _ := testEmbed(ctx, "old text")

	require.NoError(t, ix.Update(ctx, oldVec, mdFor("d1"), "new text"))
	assert.Equal(t, 1, ix.Len())

	_, _, err = ix.Read(oldVec, false)
	assert.True(t, errors.IsNotFound(err))

	newVec, _ := testEmbed(ctx, "new text")
	_, text, err := ix.Read(newVec, true)
	require.NoError(t, err)
	assert.Equal(t, "new text", text)
}

func TestUpdateEmbedFailureKeepsOriginal(t *testing.T) {
	fail := false
	embed := func(ctx context.Context, text string) ([]float64, error) {
		if fail {
			return nil, nil
		}
		return testEmbed(ctx, text)
	}
	ix := New(WithEmbedder(embed))
	ctx := context.Background()

	_, err := ix.Create(ctx, nil, mdFor("d1"), "original")
	require.NoError(t, err)
	vec, _ := testEmbed(ctx, "original")

	fail = true
	err = ix.Update(ctx, vec, mdFor("d1"), "replacement")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmbeddingFailed))

	entry, text, err := ix.Read(vec, true)
	require.NoError(t, err)
	assert.Equal(t, "original", text)
	assert.Equal(t, "d1", entry.Metadata[meta.KeyDocID])
	assert.Equal(t, 1, ix.Len())
}

func TestDeleteWhereCascade(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	for _, text := range []string{"alpha one", "alpha two", "beta one"} {
		md := mdFor("keep")
		if text[0] == 'a' {
			md = mdFor("drop")
		}
		_, err := ix.Create(ctx, nil, md, text)
		require.NoError(t, err)
	}

	removed, err := ix.DeleteWhere(func(m meta.Metadata) bool {
		return m[meta.KeyDocID] == "drop"
	})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, ix.Len())
}

func TestRewriteMetadata(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	_, err := ix.Create(ctx, nil, meta.Metadata{
		meta.KeyDocID:   "d1",
		meta.KeyCmsPath: "docs/old.txt",
	}, "renamed body")
	require.NoError(t, err)

	n := ix.RewriteMetadata(
		func(m meta.Metadata) bool { return m[meta.KeyCmsPath] == "docs/old.txt" },
		func(m meta.Metadata) meta.Metadata {
			out := m.Clone()
			out[meta.KeyCmsPath] = "docs/new.txt"
			return out
		},
	)
	assert.Equal(t, 1, n)

	vec, _ := testEmbed(ctx, "renamed body")
	entry, _, err := ix.Read(vec, false)
	require.NoError(t, err)
	assert.Equal(t, "docs/new.txt", entry.Metadata[meta.KeyCmsPath])
}

func TestRewriteMetadataConcurrentWithQuery(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	texts := []string{"alpha doc", "beta doc", "gamma doc", "delta doc"}
	for _, text := range texts {
		_, err := ix.Create(ctx, nil, meta.Metadata{
			meta.KeyDocID:   text,
			meta.KeyCmsPath: filepath.Join("docs", text+".txt"),
		}, text)
		require.NoError(t, err)
	}
	qvec, err := testEmbed(ctx, "alpha doc")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ix.RewriteMetadata(
				func(meta.Metadata) bool { return true },
				func(m meta.Metadata) meta.Metadata {
					out := m.Clone()
					out[meta.KeyCmsPath] = filepath.Join("moved", strconv.Itoa(i), out[meta.KeyDocID])
					return out
				},
			)
		}
	}()

	for i := 0; i < 200; i++ {
		hits, err := ix.Query(ctx, qvec, QueryOptions{
			Filter: func(m meta.Metadata) bool { return m[meta.KeyCmsPath] != "" },
		})
		require.NoError(t, err)
		require.Len(t, hits, len(texts))
	}
	wg.Wait()
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	for _, text := range []string{"first doc", "second doc", "third doc"} {
		_, err := ix.Create(ctx, nil, mdFor(text), text)
		require.NoError(t, err)
	}

	snap := ix.Snapshot()
	require.Len(t, snap, 3)

	// Lengths are recomputed when absent, matching older persisted snapshots.
	for i := range snap {
		snap[i].Length = 0
	}

	restored := New(WithEmbedder(testEmbed))
	restored.Restore(snap)
	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, ix.Dimensions(), restored.Dimensions())

	vec, _ := testEmbed(ctx, "second doc")
	entry, _, err := restored.Read(vec, false)
	require.NoError(t, err)
	assert.InDelta(t, norm(vec), entry.Length, 1e-12)
}
