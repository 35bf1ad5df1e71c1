package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/internal/config"
	"github.com/docbase-ai/docbase/internal/drive"
	"github.com/docbase-ai/docbase/internal/embed"
	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/vector"
)

type fixture struct {
	drive  *drive.LocalDrive
	tfidf  *tfidf.Engine
	vector *vector.Index
	coord  *Coordinator
}

func newFixture(t *testing.T, opts func(*Options)) *fixture {
	t.Helper()
	d, err := drive.NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder()
	f := &fixture{
		drive:  d,
		tfidf:  tfidf.New(tfidf.Config{NoStemming: true}),
		vector: vector.New(vector.WithEmbedder(embedder.Embed)),
	}
	o := Options{
		Tenant: "u1_org1_app1",
		Drive:  d,
		Tfidf:  f.tfidf,
		Vector: f.vector,
		Retrieval: config.RetrievalConfig{
			ChunkSize:       64,
			SplitSeparators: []string{".", " "},
			Overlap:         8,
		},
	}
	if opts != nil {
		opts(&o)
	}
	f.coord = New(o)
	return f
}

func (f *fixture) writeFile(t *testing.T, cmsPath, body string) {
	t.Helper()
	require.NoError(t, f.drive.WriteFile(cmsPath, []byte(body)))
}

func TestHandleCreateIngestsBothEngines(t *testing.T) {
	f := newFixture(t, nil)
	f.writeFile(t, "docs/a.txt", "hybrid retrieval over private documents")

	err := f.coord.Handle(context.Background(), drive.Event{Path: "docs/a.txt", Operation: drive.OpCreate})
	require.NoError(t, err)

	assert.True(t, f.tfidf.Contains("docs/a.txt"))
	assert.Greater(t, f.vector.Len(), 0)

	ev, ok := f.coord.Progress().Get("u1_org1_app1", "docs/a.txt")
	require.True(t, ok)
	assert.Equal(t, StatusProcessed, ev.Status)
	assert.True(t, ev.Done)
	assert.Equal(t, 100, ev.Percent)
}

func TestHandleDeleteRemovesBothEngines(t *testing.T) {
	f := newFixture(t, nil)
	f.writeFile(t, "docs/a.txt", "to be deleted soon")
	require.NoError(t, f.coord.Handle(context.Background(), drive.Event{Path: "docs/a.txt", Operation: drive.OpCreate}))
	require.Greater(t, f.vector.Len(), 0)

	err := f.coord.Handle(context.Background(), drive.Event{Path: "docs/a.txt", Operation: drive.OpDelete})
	require.NoError(t, err)

	assert.False(t, f.tfidf.Contains("docs/a.txt"))
	assert.Equal(t, 0, f.vector.Len())
}

func TestHandleModifyReingests(t *testing.T) {
	f := newFixture(t, nil)
	f.writeFile(t, "docs/a.txt", "original words here")
	ctx := context.Background()
	require.NoError(t, f.coord.Handle(ctx, drive.Event{Path: "docs/a.txt", Operation: drive.OpCreate}))

	f.writeFile(t, "docs/a.txt", "replacement words instead")
	require.NoError(t, f.coord.Handle(ctx, drive.Event{Path: "docs/a.txt", Operation: drive.OpModify}))

	results, err := f.tfidf.Query(ctx, "replacement", tfidf.QueryOptions{Lang: "en"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = f.tfidf.Query(ctx, "original", tfidf.QueryOptions{Lang: "en"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHandleRenameRewritesMetadata(t *testing.T) {
	f := newFixture(t, nil)
	f.writeFile(t, "docs/old.txt", "renamed file body")
	ctx := context.Background()
	require.NoError(t, f.coord.Handle(ctx, drive.Event{Path: "docs/old.txt", Operation: drive.OpCreate}))

	err := f.coord.Handle(ctx, drive.Event{
		Path:      "docs/new.txt",
		OldPath:   "docs/old.txt",
		Operation: drive.OpRename,
	})
	require.NoError(t, err)

	assert.False(t, f.tfidf.Contains("docs/old.txt"))
	assert.True(t, f.tfidf.Contains("docs/new.txt"))

	// Vector entries carry the new path without re-embedding.
	n := 0
	for _, e := range f.vector.Snapshot() {
		assert.Equal(t, "docs/new.txt", e.Metadata[meta.KeyCmsPath])
		n++
	}
	assert.Greater(t, n, 0)
}

type denyQuota struct {
	limit int64
}

func (q denyQuota) Allow(_ context.Context, _ string, size int64) error {
	if size > q.limit {
		return errors.Quota(fmt.Sprintf("ingest of %d bytes over limit", size))
	}
	return nil
}

func (q denyQuota) Record(context.Context, string, int64) error { return nil }

func TestQuotaGateShortCircuits(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Quota = denyQuota{limit: 5} })
	f.writeFile(t, "docs/big.txt", "this body is longer than five bytes")

	err := f.coord.Handle(context.Background(), drive.Event{Path: "docs/big.txt", Operation: drive.OpCreate})
	require.Error(t, err)
	assert.True(t, errors.IsQuota(err))
	assert.False(t, f.tfidf.Contains("docs/big.txt"))
	assert.Equal(t, 0, f.vector.Len())

	ev, ok := f.coord.Progress().Get("u1_org1_app1", "docs/big.txt")
	require.True(t, ok)
	assert.Equal(t, StatusLimit, ev.Status)
}

type spiderPlugin struct{}

func (spiderPlugin) Match(cmsPath string) bool { return cmsPath == "links/site.url" }

func (spiderPlugin) Content(context.Context, drive.Drive, string) (string, error) {
	return "fetched page content about distributed indexing", nil
}

func TestPluginOverridesDefaultPipeline(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Plugins = []Plugin{spiderPlugin{}} })
	f.writeFile(t, "links/site.url", "https://example.com")
	ctx := context.Background()

	require.NoError(t, f.coord.Handle(ctx, drive.Event{Path: "links/site.url", Operation: drive.OpCreate}))

	results, err := f.tfidf.Query(ctx, "distributed indexing", tfidf.QueryOptions{Lang: "en"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "links/site.url", results[0].Metadata[meta.KeyDocID])
}

func TestProgressDoneLatches(t *testing.T) {
	p := NewProgress(nil)
	ctx := context.Background()

	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusProcessed, Percent: 100, Done: true})
	// A straggler PROGRESS arriving after completion must not regress state.
	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusProgress, Percent: 50})

	ev, ok := p.Get("t", "a")
	require.True(t, ok)
	assert.Equal(t, StatusProcessed, ev.Status)
	assert.Equal(t, 100, ev.Percent)

	p.Reset("t", "a")
	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusProcessing})
	ev, _ = p.Get("t", "a")
	assert.Equal(t, StatusProcessing, ev.Status)
}

// failingTextStore breaks shard deletion to simulate partial cascade failure.
type failingTextStore struct {
	inner vector.TextStore
}

func (s failingTextStore) Write(hash, text string) error { return s.inner.Write(hash, text) }
func (s failingTextStore) Read(hash string) (string, error) {
	return s.inner.Read(hash)
}
func (s failingTextStore) Delete(hash string) error { return fmt.Errorf("disk gone") }

func TestVectorDeleteFailureMarksInconsistent(t *testing.T) {
	d, err := drive.NewLocalDrive(t.TempDir())
	require.NoError(t, err)
	embedder := embed.NewStaticEmbedder()

	ix := vector.New(
		vector.WithEmbedder(embedder.Embed),
		vector.WithTextStore(failingTextStore{inner: vector.NewMemTextStore()}),
	)
	coord := New(Options{
		Tenant: "t",
		Drive:  d,
		Tfidf:  tfidf.New(tfidf.Config{NoStemming: true}),
		Vector: ix,
		Retrieval: config.RetrievalConfig{
			ChunkSize:       64,
			SplitSeparators: []string{" "},
			Overlap:         8,
		},
	})
	require.NoError(t, d.WriteFile("a.txt", []byte("body that will not delete cleanly")))
	ctx := context.Background()
	require.NoError(t, coord.Handle(ctx, drive.Event{Path: "a.txt", Operation: drive.OpCreate}))
	require.False(t, coord.Inconsistent())

	err = coord.Handle(ctx, drive.Event{Path: "a.txt", Operation: drive.OpDelete})
	require.Error(t, err)
	assert.True(t, coord.Inconsistent())
}
