// Package vector implements the in-memory flat cosine-similarity engine:
// pluggable embedding callback, chunked streaming ingest with overlap, CRUD,
// and optional worker-pool parallel search.
package vector

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"sync"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
)

// EmbedFunc maps a text shard to a fixed-dimension vector. A nil result or an
// error aborts the operation with an embedding error.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// Entry is one stored vector. Length is the euclidean norm, precomputed once
// and used to accelerate cosine similarity.
type Entry struct {
	Vector   []float64     `json:"vector"`
	Hash     string        `json:"hash"`
	Metadata meta.Metadata `json:"metadata"`
	Length   float64       `json:"length"`
}

// Index is one tenant's flat vector store. The accompanying text shards live
// in the TextStore, addressed by vector hash.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	dim     int
	dirty   bool

	embed         EmbedFunc
	texts         TextStore
	multithreaded bool
}

// Option configures the index.
type Option func(*Index)

// WithEmbedder installs the embedding callback used when no explicit vector
// is supplied.
func WithEmbedder(fn EmbedFunc) Option {
	return func(ix *Index) { ix.embed = fn }
}

// WithTextStore overrides the default in-memory text shard store.
func WithTextStore(ts TextStore) Option {
	return func(ix *Index) { ix.texts = ts }
}

// WithMultithreaded enables worker-pool fan-out for queries.
func WithMultithreaded(on bool) Option {
	return func(ix *Index) { ix.multithreaded = on }
}

// New creates an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		entries: make(map[string]*Entry),
		texts:   NewMemTextStore(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// HashVector returns the sha1 hex digest of the vector's float64 bits.
func HashVector(v []float64) string {
	h := sha1.New()
	var buf [8]byte
	for _, f := range v {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// norm returns the euclidean vector length.
func norm(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimensions returns the vector dimension, or 0 while the index is empty.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Dirty reports whether the index mutated since the last MarkClean.
func (ix *Index) Dirty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dirty
}

// MarkClean resets the dirty flag.
func (ix *Index) MarkClean() {
	ix.mu.Lock()
	ix.dirty = false
	ix.mu.Unlock()
}

// MarkDirty sets the dirty flag. The persistence adapter restores it when a
// snapshot fails so the next timer retries.
func (ix *Index) MarkDirty() {
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
}

// checkDimLocked validates the vector dimension against the index, fixing the
// dimension on first insert. Caller must hold the write lock.
func (ix *Index) checkDimLocked(v []float64) error {
	if len(v) == 0 {
		return errors.New(errors.ErrCodeEmptyVector, "empty vector", nil)
	}
	if ix.dim == 0 {
		return nil
	}
	if len(v) != ix.dim {
		return errors.New(errors.ErrCodeDimensionMismatch, "vector dimension mismatch", nil).
			WithDetail("expected", strconv.Itoa(ix.dim)).
			WithDetail("got", strconv.Itoa(len(v)))
	}
	return nil
}

// Create stores a vector with its metadata and text shard. When vec is nil
// the embedding callback generates it from text. The text shard is persisted
// first; if that fails no entry is created. An existing hash is a no-op.
func (ix *Index) Create(ctx context.Context, vec []float64, md meta.Metadata, text string) (string, error) {
	var err error
	if vec == nil {
		vec, err = ix.embedText(ctx, text)
		if err != nil {
			return "", err
		}
	}
	hash := HashVector(vec)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkDimLocked(vec); err != nil {
		return "", err
	}
	if _, exists := ix.entries[hash]; exists {
		return hash, nil
	}

	// Text shard first: invariant is that every entry has its shard.
	if err := ix.texts.Write(hash, text); err != nil {
		return "", errors.Wrap(errors.ErrCodeShardWrite, err)
	}

	ix.entries[hash] = &Entry{
		Vector:   vec,
		Hash:     hash,
		Metadata: md.Clone(),
		Length:   norm(vec),
	}
	if ix.dim == 0 {
		ix.dim = len(vec)
	}
	ix.dirty = true
	return hash, nil
}

// Read returns the entry for the exact vector, optionally with its text shard.
func (ix *Index) Read(vec []float64, withText bool) (*Entry, string, error) {
	hash := HashVector(vec)
	ix.mu.RLock()
	entry, ok := ix.entries[hash]
	ix.mu.RUnlock()
	if !ok {
		return nil, "", errors.NotFound("vector " + hash)
	}

	copied := *entry
	copied.Metadata = entry.Metadata.Clone()
	if !withText {
		return &copied, "", nil
	}
	text, err := ix.texts.Read(hash)
	if err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeShardWrite, err)
	}
	return &copied, text, nil
}

// Update re-embeds text and replaces the entry identified by vec. The old
// entry is snapshotted and restored if any step fails.
func (ix *Index) Update(ctx context.Context, vec []float64, md meta.Metadata, text string) error {
	oldHash := HashVector(vec)

	ix.mu.Lock()
	old, ok := ix.entries[oldHash]
	if !ok {
		ix.mu.Unlock()
		return errors.NotFound("vector " + oldHash)
	}
	snapshot := *old
	snapshot.Metadata = old.Metadata.Clone()
	ix.mu.Unlock()

	newVec, err := ix.embedText(ctx, text)
	if err != nil {
		// Original entry untouched.
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkDimLocked(newVec); err != nil {
		return err
	}

	newHash := HashVector(newVec)
	if err := ix.texts.Write(newHash, text); err != nil {
		return errors.Wrap(errors.ErrCodeShardWrite, err)
	}

	delete(ix.entries, oldHash)
	if newHash != oldHash {
		if err := ix.texts.Delete(oldHash); err != nil {
			// Restore the snapshot; the new shard is removed best-effort.
			ix.entries[oldHash] = &snapshot
			_ = ix.texts.Delete(newHash)
			return errors.Inconsistent("update left stale text shard", err)
		}
	}
	ix.entries[newHash] = &Entry{
		Vector:   newVec,
		Hash:     newHash,
		Metadata: md.Clone(),
		Length:   norm(newVec),
	}
	ix.dirty = true
	return nil
}

// Delete removes the entry and its text shard.
func (ix *Index) Delete(vec []float64) error {
	return ix.deleteHash(HashVector(vec))
}

func (ix *Index) deleteHash(hash string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.entries[hash]; !ok {
		return errors.NotFound("vector " + hash)
	}
	delete(ix.entries, hash)
	ix.dirty = true
	if err := ix.texts.Delete(hash); err != nil {
		return errors.Inconsistent("entry removed but text shard remains", err)
	}
	return nil
}

// DeleteWhere removes every entry whose metadata matches. Returns the number
// removed. Partial shard failures surface as an inconsistency error after all
// matching entries were attempted.
func (ix *Index) DeleteWhere(match func(meta.Metadata) bool) (int, error) {
	ix.mu.Lock()
	var hashes []string
	for hash, e := range ix.entries {
		if match(e.Metadata) {
			hashes = append(hashes, hash)
		}
	}
	ix.mu.Unlock()

	removed := 0
	var firstErr error
	for _, hash := range hashes {
		if err := ix.deleteHash(hash); err != nil {
			if firstErr == nil && !errors.IsNotFound(err) {
				firstErr = err
			}
			continue
		}
		removed++
	}
	if firstErr != nil {
		return removed, errors.Inconsistent("vector delete cascade incomplete", firstErr)
	}
	return removed, nil
}

// RewriteMetadata applies rewrite to every entry whose metadata matches.
// Vectors and hashes are untouched. Returns the number rewritten.
//
// Matching entries are replaced with fresh copies rather than mutated, so
// pointer snapshots held by in-flight queries keep reading the old metadata.
func (ix *Index) RewriteMetadata(match func(meta.Metadata) bool, rewrite func(meta.Metadata) meta.Metadata) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := 0
	for hash, e := range ix.entries {
		if match(e.Metadata) {
			cp := *e
			cp.Metadata = rewrite(e.Metadata.Clone())
			ix.entries[hash] = &cp
			n++
		}
	}
	if n > 0 {
		ix.dirty = true
	}
	return n
}

// Snapshot returns a deep copy of all entries, safe to serialize.
func (ix *Index) Snapshot() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		cp := *e
		cp.Metadata = e.Metadata.Clone()
		cp.Vector = append([]float64(nil), e.Vector...)
		out = append(out, cp)
	}
	return out
}

// Restore replaces the index contents from a loaded snapshot.
func (ix *Index) Restore(entries []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = make(map[string]*Entry, len(entries))
	ix.dim = 0
	for _, e := range entries {
		entry := e
		if entry.Length == 0 {
			entry.Length = norm(entry.Vector)
		}
		ix.entries[entry.Hash] = &entry
		if ix.dim == 0 {
			ix.dim = len(entry.Vector)
		}
	}
	ix.dirty = false
}

// Texts exposes the text shard store, for persistence wiring.
func (ix *Index) Texts() TextStore {
	return ix.texts
}

func (ix *Index) embedText(ctx context.Context, text string) ([]float64, error) {
	if ix.embed == nil {
		return nil, errors.Embedding("no embedding callback configured", nil)
	}
	vec, err := ix.embed(ctx, text)
	if err != nil {
		return nil, errors.Embedding("embedding callback failed", err)
	}
	if vec == nil {
		return nil, errors.Embedding("embedding callback returned null", nil)
	}
	return vec, nil
}

