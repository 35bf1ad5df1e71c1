package tfidf

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
)

// fakeRemote simulates merged peer responses.
type fakeRemote struct {
	postings map[string]map[string]int
	docids   []string
	err      error

	deletes []meta.Metadata
	updates [][2]meta.Metadata
}

func (f *fakeRemote) QueryPostings(ctx context.Context, words []string) (map[string]map[string]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.postings, nil
}

func (f *fakeRemote) DocIDs(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docids, nil
}

func (f *fakeRemote) BroadcastDelete(ctx context.Context, md meta.Metadata) error {
	f.deletes = append(f.deletes, md)
	return nil
}

func (f *fakeRemote) BroadcastUpdate(ctx context.Context, oldMD, newMD meta.Metadata) error {
	f.updates = append(f.updates, [2]meta.Metadata{oldMD, newMD})
	return nil
}

func newDistributedEngine(r Remote) *Engine {
	e := New(Config{NoStemming: true, Distributed: true})
	e.SetRemote(r)
	return e
}

func TestQuery_MergesPeerPostingsLocalWins(t *testing.T) {
	remote := &fakeRemote{
		postings: map[string]map[string]int{
			// d1 also exists locally: peer counts must be ignored.
			"alpha": {"d1": 99, "p1": 2},
		},
		docids: []string{"d1", "p1", "p2"},
	}
	e := newDistributedEngine(remote)
	ingest(t, e, "d1", "alpha alpha")
	ingest(t, e, "d2", "beta")

	res, err := e.Query(context.Background(), "alpha", QueryOptions{})
	require.NoError(t, err)

	// Only candidates with a local document record are scored: p1 has none.
	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].DocID(""))

	// df counts merged docids (d1 local + p1 remote), |D| is the cluster
	// union {d1,d2,p1,p2}: idf = 1 + log10(4/(2+1)).
	wantIDF := 1 + log10(4.0/3.0)
	wantTF := 2.0 / 2.0
	wantScore := wantTF * wantIDF * res[0].CoordScore
	assert.InDelta(t, wantScore, res[0].Score, 1e-9)
}

func TestQuery_PeerTimeoutDegradesToLocal(t *testing.T) {
	remote := &fakeRemote{err: errors.ClusterTimeout("tfidf.functioncall", nil)}
	e := newDistributedEngine(remote)
	ingest(t, e, "d1", "alpha")

	res, err := e.Query(context.Background(), "alpha", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].DocID(""))
}

func TestDelete_BroadcastsWhenNotLocal(t *testing.T) {
	remote := &fakeRemote{}
	e := newDistributedEngine(remote)
	ingest(t, e, "d1", "alpha")

	md := meta.Metadata{meta.KeyDocID: "elsewhere"}
	require.NoError(t, e.Delete(context.Background(), md, false))
	require.Len(t, remote.deletes, 1)
	assert.Equal(t, "elsewhere", remote.deletes[0].DocID(""))

	// localOnly suppresses the broadcast.
	err := e.Delete(context.Background(), md, true)
	assert.True(t, errors.IsNotFound(err))
	assert.Len(t, remote.deletes, 1)
}

func TestUpdate_BroadcastsWhenNotLocal(t *testing.T) {
	remote := &fakeRemote{}
	e := newDistributedEngine(remote)

	oldMD := meta.Metadata{meta.KeyDocID: "elsewhere", meta.KeyCmsPath: "a.txt"}
	newMD := meta.Metadata{meta.KeyDocID: "elsewhere", meta.KeyCmsPath: "b.txt"}
	require.NoError(t, e.Update(context.Background(), oldMD, newMD, false))
	require.Len(t, remote.updates, 1)
	assert.Equal(t, "b.txt", remote.updates[0][1][meta.KeyCmsPath])
}

func TestApplyDelete_IdempotentPeerSide(t *testing.T) {
	e := New(Config{NoStemming: true})
	md, err := e.Create(context.Background(), strings.NewReader("alpha"),
		meta.Metadata{meta.KeyDocID: "d1"}, "en")
	require.NoError(t, err)

	e.ApplyDelete(md)
	assert.False(t, e.Contains("d1"))
	// Replayed broadcast: no-op.
	e.ApplyDelete(md)
	assert.Equal(t, 0, e.Len())
}

func log10(x float64) float64 {
	return math.Log10(x)
}
