// Package tfidf implements the sharded inverted-index keyword engine:
// streaming ingest, auto-learned stop words, cluster-merged querying, and
// configurable scoring (raw TF-IDF, BM25 length adjustment, small-document
// penalty, query-coordination boost).
package tfidf

import (
	"context"
	"sync"
	"time"

	"github.com/docbase-ai/docbase/internal/meta"
)

// DefaultMaxCoordBoost is the default coordination boost ceiling.
const DefaultMaxCoordBoost = 0.10

// Stop-word auto-learning thresholds: once a shard holds at least
// stopLearnMinDocs documents, words appearing in at least stopLearnRatio of
// them become stop words for that language.
const (
	stopLearnMinDocs = 5
	stopLearnRatio   = 0.95
)

// Config carries the tenant-level engine settings.
type Config struct {
	// DocIDKey is the metadata key holding the stable document id.
	// Defaults to "docid".
	DocIDKey string

	// LangIDKey is the metadata key holding the ISO language code.
	// Defaults to "langid".
	LangIDKey string

	// NoStemming disables stemming for this shard.
	NoStemming bool

	// StopWords maps ISO codes to externally supplied stop lists. When a
	// language is present here, auto-learning is skipped for it.
	StopWords map[string][]string

	// Distributed enables cross-node merging and mutation broadcast.
	Distributed bool
}

func (c Config) docIDKey() string {
	if c.DocIDKey == "" {
		return meta.KeyDocID
	}
	return c.DocIDKey
}

func (c Config) langIDKey() string {
	if c.LangIDKey == "" {
		return meta.KeyLangID
	}
	return c.LangIDKey
}

// Posting is the per-word record mapping docids to term frequencies.
// Counts are positive; a docid with zero occurrences is absent.
type Posting struct {
	Word string         `json:"word"`
	Docs map[string]int `json:"docs"`
}

// Document is the per-document record in the local shard.
type Document struct {
	Metadata     meta.Metadata `json:"metadata"`
	Length       int           `json:"length"`
	DateCreated  time.Time     `json:"dateCreated"`
	DateModified time.Time     `json:"dateModified"`
}

// Remote is the cluster view the engine consults on distributed operations.
// Implementations merge peer responses; the engine applies the local-wins
// rule on top. A nil Remote (or Distributed=false) keeps everything local.
type Remote interface {
	// QueryPostings returns peer postings for the given words, summed across
	// peers: word -> docid -> term frequency.
	QueryPostings(ctx context.Context, words []string) (map[string]map[string]int, error)

	// DocIDs returns the docids held by peers.
	DocIDs(ctx context.Context) ([]string, error)

	// BroadcastDelete asks peers to delete the document locally.
	BroadcastDelete(ctx context.Context, md meta.Metadata) error

	// BroadcastUpdate asks peers to rewrite the document metadata locally.
	BroadcastUpdate(ctx context.Context, oldMD, newMD meta.Metadata) error
}

// Engine is one local TF-IDF shard. One logical writer mutates it at a time;
// readers observe consistent snapshots through the read lock.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	docs   map[string]*Document
	iindex map[string]*Posting

	// learned stop words, per language; nil until the 5-document threshold.
	autoStop map[string]map[string]struct{}

	remote Remote
	dirty  bool
}

// New creates an empty shard with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		docs:     make(map[string]*Document),
		iindex:   make(map[string]*Posting),
		autoStop: make(map[string]map[string]struct{}),
	}
}

// SetRemote installs the cluster view. Safe to call once during wiring,
// before the engine is shared.
func (e *Engine) SetRemote(r Remote) {
	e.remote = r
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Len returns the number of local documents.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Contains reports whether the local shard holds the given docid.
func (e *Engine) Contains(docid string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.docs[docid]
	return ok
}

// Dirty reports whether the shard mutated since the last MarkClean.
func (e *Engine) Dirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dirty
}

// MarkClean resets the dirty flag. The persistence timer calls it under the
// same snapshot it saves.
func (e *Engine) MarkClean() {
	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
}

// Vocabulary returns all words known to the local inverted index.
func (e *Engine) Vocabulary() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	words := make([]string, 0, len(e.iindex))
	for w := range e.iindex {
		words = append(words, w)
	}
	return words
}

// vocabularySnapshot returns the vocabulary as a set, for spell correction.
// Caller must not hold the lock.
func (e *Engine) vocabularySnapshot() map[string]struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := make(map[string]struct{}, len(e.iindex))
	for w := range e.iindex {
		set[w] = struct{}{}
	}
	return set
}

// Snapshot returns deep copies of the document store and postings for
// persistence. The copies are safe to serialize without further locking.
func (e *Engine) Snapshot() (map[string]Document, []Posting) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	docs := make(map[string]Document, len(e.docs))
	for id, d := range e.docs {
		docs[id] = Document{
			Metadata:     d.Metadata.Clone(),
			Length:       d.Length,
			DateCreated:  d.DateCreated,
			DateModified: d.DateModified,
		}
	}
	postings := make([]Posting, 0, len(e.iindex))
	for _, p := range e.iindex {
		cp := Posting{Word: p.Word, Docs: make(map[string]int, len(p.Docs))}
		for id, n := range p.Docs {
			cp.Docs[id] = n
		}
		postings = append(postings, cp)
	}
	return docs, postings
}

// Restore replaces the shard contents from a loaded snapshot.
func (e *Engine) Restore(docs map[string]Document, postings []Posting) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.docs = make(map[string]*Document, len(docs))
	for id, d := range docs {
		doc := d
		e.docs[id] = &doc
	}
	e.iindex = make(map[string]*Posting, len(postings))
	for _, p := range postings {
		posting := p
		if posting.Docs == nil {
			posting.Docs = make(map[string]int)
		}
		e.iindex[posting.Word] = &posting
	}
	e.dirty = false
}

// localDocIDs returns the docids of the local shard. Caller must hold a lock.
func (e *Engine) localDocIDsLocked() []string {
	ids := make([]string, 0, len(e.docs))
	for id := range e.docs {
		ids = append(ids, id)
	}
	return ids
}

// LocalDocIDs returns the docids held by this shard. Used by the cluster
// dispatcher to answer CountDocs requests.
func (e *Engine) LocalDocIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localDocIDsLocked()
}

// PostingsFor returns this shard's postings for the given words:
// word -> docid -> term frequency. Used by the cluster dispatcher to answer
// QueryPostings requests.
func (e *Engine) PostingsFor(words []string) map[string]map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]map[string]int, len(words))
	for _, w := range words {
		p, ok := e.iindex[w]
		if !ok || len(p.Docs) == 0 {
			continue
		}
		docs := make(map[string]int, len(p.Docs))
		for id, n := range p.Docs {
			docs[id] = n
		}
		out[w] = docs
	}
	return out
}

// avgLengthLocked returns the mean local document length.
// Averages are computed from local documents only.
func (e *Engine) avgLengthLocked() float64 {
	if len(e.docs) == 0 {
		return 0
	}
	total := 0
	for _, d := range e.docs {
		total += d.Length
	}
	return float64(total) / float64(len(e.docs))
}
