package vector

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
)

// parallelThreshold is the index size below which fan-out is not worth the
// goroutine overhead.
const parallelThreshold = 256

// QueryOptions tunes one similarity search.
type QueryOptions struct {
	// TopK limits the result count. Zero returns all matches.
	TopK int

	// MinDistance drops results whose cosine similarity falls below it.
	MinDistance float64

	// Filter restricts entries by metadata before scoring, or after when
	// FilterAfter is set.
	Filter func(meta.Metadata) bool

	// FilterAfter defers Filter until after scoring and sorting.
	FilterAfter bool

	// WithText loads the text shard for each returned result.
	WithText bool
}

// Result is one similarity search hit.
type Result struct {
	Entry      Entry   `json:"entry"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text,omitempty"`
}

// Cosine returns the cosine similarity of two equal-dimension vectors using
// precomputed lengths. Zero-length vectors score 0.
func cosineWithLength(a []float64, lenA float64, b []float64, lenB float64) float64 {
	if lenA == 0 || lenB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (lenA * lenB)
}

// Cosine computes the cosine similarity of two vectors. A dimension mismatch
// is fatal.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New(errors.ErrCodeDimensionMismatch, "cosine on mismatched dimensions", nil)
	}
	return cosineWithLength(a, norm(a), b, norm(b)), nil
}

// Query finds the entries most similar to target, sorted by descending
// cosine similarity.
func (ix *Index) Query(ctx context.Context, target []float64, opts QueryOptions) ([]Result, error) {
	ix.mu.RLock()
	if ix.dim != 0 && len(target) != ix.dim {
		ix.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeDimensionMismatch, "query vector dimension mismatch", nil)
	}
	// Snapshot handle: entries are never mutated in place after insert, so a
	// slice of pointers is a consistent read view.
	snapshot := make([]*Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		snapshot = append(snapshot, e)
	}
	ix.mu.RUnlock()

	if !opts.FilterAfter && opts.Filter != nil {
		kept := snapshot[:0]
		for _, e := range snapshot {
			if opts.Filter(e.Metadata) {
				kept = append(kept, e)
			}
		}
		snapshot = kept
	}

	targetLen := norm(target)

	var results []Result
	var err error
	if ix.multithreaded && len(snapshot) >= parallelThreshold {
		results, err = scanParallel(ctx, snapshot, target, targetLen)
	} else {
		results, err = scanSerial(ctx, snapshot, target, targetLen)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if opts.MinDistance > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Similarity >= opts.MinDistance {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if opts.FilterAfter && opts.Filter != nil {
		kept := results[:0]
		for _, r := range results {
			if opts.Filter(r.Entry.Metadata) {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	if opts.WithText {
		for i := range results {
			text, terr := ix.texts.Read(results[i].Entry.Hash)
			if terr != nil {
				return nil, errors.Inconsistent("entry without text shard", terr)
			}
			results[i].Text = text
		}
	}
	return results, nil
}

func scanSerial(ctx context.Context, entries []*Entry, target []float64, targetLen float64) ([]Result, error) {
	results := make([]Result, 0, len(entries))
	for i, e := range entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results = append(results, score(e, target, targetLen))
	}
	return results, nil
}

// scanParallel splits the snapshot into cores-1 contiguous ranges and scores
// each on its own worker.
func scanParallel(ctx context.Context, entries []*Entry, target []float64, targetLen float64) ([]Result, error) {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) {
		workers = len(entries)
	}

	results := make([]Result, len(entries))
	g, ctx := errgroup.WithContext(ctx)

	chunk := (len(entries) + workers - 1) / workers
	for start := 0; start < len(entries); start += chunk {
		end := start + chunk
		if end > len(entries) {
			end = len(entries)
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				results[i] = score(entries[i], target, targetLen)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func score(e *Entry, target []float64, targetLen float64) Result {
	cp := *e
	cp.Metadata = e.Metadata.Clone()
	return Result{
		Entry:      cp,
		Similarity: cosineWithLength(e.Vector, e.Length, target, targetLen),
	}
}
