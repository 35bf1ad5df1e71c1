package tfidf

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tokenize"
)

// QueryOptions tunes one query execution.
type QueryOptions struct {
	// TopK limits the result count. Zero returns all matches.
	TopK int

	// Filter restricts candidates by metadata. Applied before scoring, or
	// after when FilterMetadataLast is set.
	Filter func(meta.Metadata) bool

	// FilterMetadataLast defers Filter until after scoring and sorting.
	FilterMetadataLast bool

	// CutoffScore in [0,1] drops results whose score/maxScore falls below it.
	CutoffScore float64

	// BM25 applies the avgLocalLen/docLen length adjustment to TF.
	BM25 bool

	// SmallDocPenalty applies 1-(1-min(len/avg,1))^2 to TF.
	SmallDocPenalty bool

	// NoIDF fixes IDF at 1.
	NoIDF bool

	// IgnoreCoord disables the coordination boost.
	IgnoreCoord bool

	// MaxCoordBoost overrides the default 0.10 boost ceiling.
	MaxCoordBoost float64

	// Lang forces the query language; autodetected when empty.
	Lang string

	// Autocorrect spell-corrects query tokens against the local vocabulary.
	Autocorrect bool
}

// ScoredDoc is one query result.
type ScoredDoc struct {
	Metadata          meta.Metadata `json:"metadata"`
	Score             float64       `json:"score"`
	CoordScore        float64       `json:"coord_score"`
	TFScore           float64       `json:"tf_score"`
	TFIDFScore        float64       `json:"tfidf_score"`
	QueryTokensFound  int           `json:"query_tokens_found"`
	TotalQueryTokens  int           `json:"total_query_tokens"`
	CutoffScaledScore float64       `json:"cutoff_scaled_score"`
	HighestQueryScore float64       `json:"highest_query_score"`
}

// DocID returns the result's document id under the engine's docid key.
func (s *ScoredDoc) DocID(docidKey string) string {
	return s.Metadata.DocID(docidKey)
}

// Query tokenizes the query, merges local and peer postings, scores local
// candidates, and returns them sorted by descending score.
//
// Peer RPC failures degrade to the local-only view: results remain valid but
// possibly incomplete.
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) ([]ScoredDoc, error) {
	var vocab map[string]struct{}
	if opts.Autocorrect {
		vocab = e.vocabularySnapshot()
	}

	// Resolve the language before fetching the stop list, otherwise an
	// autodetected query would bypass its language's stop words.
	lang := opts.Lang
	if lang == "" {
		lang = tokenize.DetectLanguage(query)
	}

	e.mu.RLock()
	stop := e.stopListLocked(lang)
	e.mu.RUnlock()

	tokens, _ := tokenize.Tokenize(query, tokenize.Config{
		Lang:        lang,
		NoStemming:  e.cfg.NoStemming,
		Autocorrect: opts.Autocorrect,
		StopWords:   stop,
		Vocabulary:  vocab,
	})
	if len(tokens) == 0 {
		return nil, nil
	}

	merged, totalDocs := e.mergedView(ctx, tokens)
	results := e.score(tokens, merged, totalDocs, opts)

	if opts.Filter != nil && opts.FilterMetadataLast {
		filtered := results[:0]
		for _, r := range results {
			if opts.Filter(r.Metadata) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	results = applyCutoff(results, opts.CutoffScore)
	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// mergedView builds the combined inverted-index subset for the query tokens
// and the cluster-wide distinct document count. Local postings win over peer
// postings for the same docid.
func (e *Engine) mergedView(ctx context.Context, tokens []string) (map[string]map[string]int, int) {
	merged := make(map[string]map[string]int, len(tokens))

	e.mu.RLock()
	for _, tok := range tokens {
		if _, done := merged[tok]; done {
			continue
		}
		if p, ok := e.iindex[tok]; ok && len(p.Docs) > 0 {
			docs := make(map[string]int, len(p.Docs))
			for id, n := range p.Docs {
				docs[id] = n
			}
			merged[tok] = docs
		}
	}
	localIDs := e.localDocIDsLocked()
	e.mu.RUnlock()

	distinct := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		distinct[id] = struct{}{}
	}

	if e.cfg.Distributed && e.remote != nil {
		remote, err := e.remote.QueryPostings(ctx, tokens)
		if err != nil {
			slog.Warn("tfidf_peer_postings_unavailable", slog.String("error", err.Error()))
		} else {
			localDocs := make(map[string]struct{}, len(localIDs))
			for _, id := range localIDs {
				localDocs[id] = struct{}{}
			}
			for word, docs := range remote {
				m, ok := merged[word]
				if !ok {
					m = make(map[string]int, len(docs))
					merged[word] = m
				}
				for id, n := range docs {
					if _, local := localDocs[id]; local {
						continue // local wins
					}
					m[id] += n
				}
			}
		}

		peerIDs, err := e.remote.DocIDs(ctx)
		if err != nil {
			slog.Warn("tfidf_peer_doccount_unavailable", slog.String("error", err.Error()))
		} else {
			for _, id := range peerIDs {
				distinct[id] = struct{}{}
			}
		}
	}

	return merged, len(distinct)
}

// score walks the candidate set and computes TF-IDF with the configured
// adjustments for every candidate that has a local document record.
func (e *Engine) score(tokens []string, merged map[string]map[string]int, totalDocs int, opts QueryOptions) []ScoredDoc {
	// df per token from the merged subset.
	df := make(map[string]int, len(tokens))
	candidates := make(map[string]struct{})
	for _, tok := range tokens {
		docs := merged[tok]
		df[tok] = len(docs)
		for id := range docs {
			candidates[id] = struct{}{}
		}
	}

	maxBoost := opts.MaxCoordBoost
	if maxBoost == 0 {
		maxBoost = DefaultMaxCoordBoost
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	avgLen := e.avgLengthLocked()

	results := make([]ScoredDoc, 0, len(candidates))
	for id := range candidates {
		doc, ok := e.docs[id]
		if !ok || doc.Length == 0 {
			continue
		}
		if opts.Filter != nil && !opts.FilterMetadataLast && !opts.Filter(doc.Metadata) {
			continue
		}

		var score, tfSum float64
		found := 0
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}

			count, ok := merged[tok][id]
			if !ok || count == 0 {
				continue
			}
			tfRaw := float64(count) / float64(doc.Length)
			tf := tfRaw * lengthAdjustment(doc.Length, avgLen, opts)
			idf := 1.0
			if !opts.NoIDF {
				idf = 1 + math.Log10(float64(totalDocs)/float64(df[tok]+1))
			}
			score += tf * idf
			tfSum += tf
			found++
		}
		if found == 0 {
			continue
		}

		coord := 1.0
		if !opts.IgnoreCoord {
			coord = 1 + maxBoost*(float64(found)/float64(len(tokens)))
		}

		results = append(results, ScoredDoc{
			Metadata:         doc.Metadata.Clone(),
			Score:            score * coord,
			CoordScore:       coord,
			TFScore:          tfSum,
			TFIDFScore:       score,
			QueryTokensFound: found,
			TotalQueryTokens: len(tokens),
		})
	}

	// Candidates come out of a map, so ties need a total order for results
	// to be reproducible across runs and snapshot reloads.
	key := e.cfg.docIDKey()
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID(key) < results[j].DocID(key)
	})

	var maxScore float64
	if len(results) > 0 {
		maxScore = results[0].Score
	}
	for i := range results {
		results[i].HighestQueryScore = maxScore
		if maxScore > 0 {
			results[i].CutoffScaledScore = results[i].Score / maxScore
		}
	}
	return results
}

// lengthAdjustment returns the TF multiplier for the configured scoring mode.
func lengthAdjustment(docLen int, avgLen float64, opts QueryOptions) float64 {
	switch {
	case opts.BM25 && avgLen > 0:
		return avgLen / float64(docLen)
	case opts.SmallDocPenalty && avgLen > 0:
		ratio := math.Min(float64(docLen)/avgLen, 1)
		return 1 - (1-ratio)*(1-ratio)
	default:
		return 1
	}
}

// applyCutoff drops results whose scaled score falls below cutoff.
func applyCutoff(results []ScoredDoc, cutoff float64) []ScoredDoc {
	if cutoff <= 0 || len(results) == 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.CutoffScaledScore >= cutoff {
			kept = append(kept, r)
		}
	}
	return kept
}
