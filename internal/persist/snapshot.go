// Package persist snapshots tenant indexes to disk and restores them.
//
// Layout under one tenant directory:
//
//	tfidfdb/iindex          NDJSON, one posting per line
//	tfidfdb/vocabulary      JSON array of words, informational
//	tfidfdb/<sha1(docid)>   JSON document record
//	vectordb/dbindex.json   vector index snapshot
//	vectordb/text_<hash>.txt  one text shard per entry
//
// Writes go through a temp file plus rename so a crash never leaves a
// half-written snapshot. The in-memory engines stay dirty until their
// snapshot lands, so a failed save retries on the next timer tick.
package persist

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/vector"
)

const (
	tfidfDirName    = "tfidfdb"
	vectorDirName   = "vectordb"
	iindexFile      = "iindex"
	vocabularyFile  = "vocabulary"
	vectorIndexFile = "dbindex.json"
)

// docRecord is the on-disk form of one document. The filename is the sha1 of
// the docid, which is not invertible, so the docid travels in the record.
type docRecord struct {
	DocID    string         `json:"docid"`
	Document tfidf.Document `json:"document"`
}

// vectorSnapshot is the on-disk form of the vector index.
type vectorSnapshot struct {
	Dimensions int            `json:"dimensions"`
	Entries    []vector.Entry `json:"entries"`
}

func docHash(docid string) string {
	sum := sha1.Sum([]byte(docid))
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes data to path via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// SaveTfidf writes the shard snapshot under dir and marks the engine clean.
// The engine stays dirty if any file fails, so the next autosave retries.
func SaveTfidf(dir string, e *tfidf.Engine) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	docs, postings := e.Snapshot()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	sort.Slice(postings, func(i, j int) bool { return postings[i].Word < postings[j].Word })
	for _, p := range postings {
		if err := enc.Encode(p); err != nil {
			return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
		}
	}
	if err := writeFileAtomic(filepath.Join(dir, iindexFile), buf.Bytes()); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}

	words := make([]string, 0, len(postings))
	for _, p := range postings {
		words = append(words, p.Word)
	}
	vocab, err := json.Marshal(words)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, vocabularyFile), vocab); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}

	keep := map[string]struct{}{iindexFile: {}, vocabularyFile: {}}
	for docid, doc := range docs {
		name := docHash(docid)
		keep[name] = struct{}{}
		data, err := json.Marshal(docRecord{DocID: docid, Document: doc})
		if err != nil {
			return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
		}
		if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
			return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
		}
	}

	// Drop records of documents deleted since the last snapshot.
	listing, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	for _, entry := range listing {
		name := entry.Name()
		if _, ok := keep[name]; ok || entry.IsDir() || filepath.Ext(name) == ".tmp" {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			slog.Warn("snapshot_prune_failed", "file", name, "error", err)
		}
	}

	e.MarkClean()
	return nil
}

// LoadTfidf reads the shard snapshot under dir into a fresh engine. A missing
// directory yields an empty shard. Unreadable document records are skipped
// with a warning; their postings are dropped so the postings/documents
// invariant holds on the restored shard.
func LoadTfidf(dir string, cfg tfidf.Config) (*tfidf.Engine, error) {
	e := tfidf.New(cfg)

	f, err := os.Open(filepath.Join(dir, iindexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, errors.Wrap(errors.ErrCodeSnapshotRead, err)
	}
	defer f.Close()

	var postings []tfidf.Posting
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var p tfidf.Posting
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCorruptIndex, err)
		}
		postings = append(postings, p)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSnapshotRead, err)
	}

	listing, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSnapshotRead, err)
	}
	docs := make(map[string]tfidf.Document)
	for _, entry := range listing {
		name := entry.Name()
		if entry.IsDir() || name == iindexFile || name == vocabularyFile || filepath.Ext(name) == ".tmp" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("snapshot_doc_unreadable", "file", name, "error", err)
			continue
		}
		var rec docRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.DocID == "" {
			slog.Warn("snapshot_doc_corrupt", "file", name, "error", err)
			continue
		}
		docs[rec.DocID] = rec.Document
	}

	// Postings may reference documents whose records were lost; drop those
	// docids so occurrence counts stay consistent with the restored store.
	kept := postings[:0]
	for _, p := range postings {
		for docid := range p.Docs {
			if _, ok := docs[docid]; !ok {
				delete(p.Docs, docid)
			}
		}
		if len(p.Docs) > 0 {
			kept = append(kept, p)
		}
	}

	e.Restore(docs, kept)
	return e, nil
}

// SaveVector writes the index snapshot under dir and marks the index clean.
// Text shards are persisted as they are written by the index's FSTextStore,
// so only dbindex.json is rewritten here.
func SaveVector(dir string, ix *vector.Index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	snap := vectorSnapshot{Dimensions: ix.Dimensions(), Entries: ix.Snapshot()}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Hash < snap.Entries[j].Hash })
	data, err := json.MarshalIndent(snap, "", " ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, vectorIndexFile), data); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	ix.MarkClean()
	return nil
}

// LoadVector reads the index snapshot under dir into a fresh index wired to
// an FSTextStore in the same directory. A missing snapshot yields an empty
// index. Caller options (embedder, thresholds) are applied before the store.
func LoadVector(dir string, opts ...vector.Option) (*vector.Index, error) {
	texts, err := vector.NewFSTextStore(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSnapshotRead, err)
	}
	ix := vector.New(append(opts, vector.WithTextStore(texts))...)

	data, err := os.ReadFile(filepath.Join(dir, vectorIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return nil, errors.Wrap(errors.ErrCodeSnapshotRead, err)
	}
	var snap vectorSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCorruptIndex, err)
	}
	ix.Restore(snap.Entries)
	return ix, nil
}
