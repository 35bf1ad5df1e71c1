// Package search runs the two-stage retrieval pipeline: a TF-IDF pass
// narrows the tenant's documents to a candidate set, then the vector index
// refines it by cosine similarity over the candidates' text shards.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docbase-ai/docbase/internal/config"
	"github.com/docbase-ai/docbase/internal/embed"
	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/vector"
)

// Shard is one (tfidf, vector) index pair taking part in a search.
type Shard struct {
	Tfidf  *tfidf.Engine
	Vector *vector.Index
}

// Options tunes one hybrid search.
type Options struct {
	// TopKTfidf bounds the first-stage candidate set.
	TopKTfidf int

	// CutoffScoreTfidf drops first-stage results scoring below this fraction
	// of the best result.
	CutoffScoreTfidf float64

	// TopKVectors bounds the final result count.
	TopKVectors int

	// MinDistanceVectors drops refined results below this cosine similarity.
	MinDistanceVectors float64

	// Lang forces the query language; autodetected when empty.
	Lang string

	// Autocorrect spell-corrects query tokens against the tenant vocabulary.
	Autocorrect bool

	// First-stage scoring switches, forwarded to the TF-IDF engines.
	BM25            bool
	SmallDocPenalty bool
	NoIDF           bool
	IgnoreCoord     bool
	MaxCoordBoost   float64

	// Resort, when set, reorders the merged results in place after scoring
	// reinfusion.
	Resort func([]Result)
}

// Result is one hybrid search hit: the matched text shard with its vector
// similarity and the owning document's TF-IDF scoring fields.
type Result struct {
	Text       string        `json:"text"`
	Metadata   meta.Metadata `json:"metadata"`
	Similarity float64       `json:"similarity"`

	Score             float64 `json:"score"`
	CoordScore        float64 `json:"coord_score"`
	TFScore           float64 `json:"tf_score"`
	TFIDFScore        float64 `json:"tfidf_score"`
	QueryTokensFound  int     `json:"query_tokens_found"`
	TotalQueryTokens  int     `json:"total_query_tokens"`
	CutoffScaledScore float64 `json:"cutoff_scaled_score"`
	HighestQueryScore float64 `json:"highest_query_score"`
}

// Engine orchestrates the two stages over any number of tenant shards.
type Engine struct {
	embedder embed.Embedder
	defaults config.RetrievalConfig
}

// New creates an orchestrator. The retrieval defaults fill in unset options.
func New(embedder embed.Embedder, defaults config.RetrievalConfig) *Engine {
	return &Engine{embedder: embedder, defaults: defaults}
}

func (e *Engine) fill(opts Options) Options {
	if opts.TopKTfidf <= 0 {
		opts.TopKTfidf = e.defaults.TopKTfidf
	}
	if opts.CutoffScoreTfidf == 0 {
		opts.CutoffScoreTfidf = e.defaults.CutoffScoreTfidf
	}
	if opts.TopKVectors <= 0 {
		opts.TopKVectors = e.defaults.TopKVectors
	}
	if opts.MinDistanceVectors == 0 {
		opts.MinDistanceVectors = e.defaults.MinDistanceVectors
	}
	return opts
}

// Search runs both stages and returns the refined results sorted by
// descending similarity.
func (e *Engine) Search(ctx context.Context, shards []Shard, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Validation("empty query")
	}
	if len(shards) == 0 {
		return nil, errors.Validation("no shards to search")
	}
	opts = e.fill(opts)

	candidates, err := e.tfidfStage(ctx, shards, query, opts)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Candidate set for the refine stage, plus score fields for reinfusion.
	docidKey := shards[0].Tfidf.Config().DocIDKey
	byDocID := make(map[string]tfidf.ScoredDoc, len(candidates))
	for _, c := range candidates {
		byDocID[c.DocID(docidKey)] = c
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Embedding("query embedding failed", err)
	}
	if len(queryVec) == 0 {
		return nil, errors.Embedding("query embedding is empty", nil)
	}

	refined, err := e.vectorStage(ctx, shards, queryVec, byDocID, docidKey, opts)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(refined, func(i, j int) bool {
		return refined[i].Similarity > refined[j].Similarity
	})
	if opts.Resort != nil {
		opts.Resort(refined)
	}
	if opts.TopKVectors > 0 && len(refined) > opts.TopKVectors {
		refined = refined[:opts.TopKVectors]
	}
	return refined, nil
}

// SearchJoined runs Search and joins the result texts into one payload,
// best match first.
func (e *Engine) SearchJoined(ctx context.Context, shards []Shard, query string, opts Options) (string, error) {
	results, err := e.Search(ctx, shards, query, opts)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n\n"), nil
}

// tfidfStage queries every shard concurrently and keeps the TopKTfidf
// candidates with the highest term frequency.
func (e *Engine) tfidfStage(ctx context.Context, shards []Shard, query string, opts Options) ([]tfidf.ScoredDoc, error) {
	var (
		mu  sync.Mutex
		all []tfidf.ScoredDoc
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			// No per-shard TopK: the shard's score ordering would evict
			// high-frequency candidates before the global TF cut below.
			docs, err := shard.Tfidf.Query(ctx, query, tfidf.QueryOptions{
				CutoffScore:     opts.CutoffScoreTfidf,
				BM25:            opts.BM25,
				SmallDocPenalty: opts.SmallDocPenalty,
				NoIDF:           opts.NoIDF,
				IgnoreCoord:     opts.IgnoreCoord,
				MaxCoordBoost:   opts.MaxCoordBoost,
				Lang:            opts.Lang,
				Autocorrect:     opts.Autocorrect,
			})
			if err != nil {
				return errors.New(errors.ErrCodeSearchFailed, "tfidf stage failed", err)
			}
			mu.Lock()
			all = append(all, docs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The pre-filter keeps candidates by raw term frequency; the blended
	// TF-IDF score only matters later, at reinfusion.
	docidKey := shards[0].Tfidf.Config().DocIDKey
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].TFScore != all[j].TFScore {
			return all[i].TFScore > all[j].TFScore
		}
		return all[i].DocID(docidKey) < all[j].DocID(docidKey)
	})
	if opts.TopKTfidf > 0 && len(all) > opts.TopKTfidf {
		all = all[:opts.TopKTfidf]
	}
	return all, nil
}

// vectorStage refines the candidate set over every shard's vector index.
func (e *Engine) vectorStage(ctx context.Context, shards []Shard, queryVec []float64, byDocID map[string]tfidf.ScoredDoc, docidKey string, opts Options) ([]Result, error) {
	inSet := func(md meta.Metadata) bool {
		_, ok := byDocID[md.DocID(docidKey)]
		return ok
	}

	var (
		mu      sync.Mutex
		refined []Result
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			hits, err := shard.Vector.Query(ctx, queryVec, vector.QueryOptions{
				TopK:        opts.TopKVectors,
				MinDistance: opts.MinDistanceVectors,
				Filter:      inSet,
				WithText:    true,
			})
			if err != nil {
				return errors.New(errors.ErrCodeSearchFailed, "vector stage failed", err)
			}
			mu.Lock()
			for _, hit := range hits {
				refined = append(refined, reinfuse(hit, byDocID[hit.Entry.Metadata.DocID(docidKey)]))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refined, nil
}

// reinfuse copies the owning document's first-stage scoring onto the refined
// hit.
func reinfuse(hit vector.Result, doc tfidf.ScoredDoc) Result {
	return Result{
		Text:              hit.Text,
		Metadata:          hit.Entry.Metadata,
		Similarity:        hit.Similarity,
		Score:             doc.Score,
		CoordScore:        doc.CoordScore,
		TFScore:           doc.TFScore,
		TFIDFScore:        doc.TFIDFScore,
		QueryTokensFound:  doc.QueryTokensFound,
		TotalQueryTokens:  doc.TotalQueryTokens,
		CutoffScaledScore: doc.CutoffScaledScore,
		HighestQueryScore: doc.HighestQueryScore,
	}
}
