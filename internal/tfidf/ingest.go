package tfidf

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tokenize"
)

// ingestChunkBytes is the streaming read size. Each chunk is tokenized and
// applied to the index before the next read, with a cancellation check in
// between.
const ingestChunkBytes = 32 * 1024

// Create ingests a document from the reader. Requires metadata[docidKey].
// If the docid already exists locally the call is an idempotent no-op; for
// replacement, delete first. The language is autodetected from the first
// chunk when lang is empty, and written back into the returned metadata.
// Any error mid-stream rolls back the partial document.
func (e *Engine) Create(ctx context.Context, r io.Reader, md meta.Metadata, lang string) (meta.Metadata, error) {
	docid := md.DocID(e.cfg.docIDKey())
	if docid == "" {
		return nil, errors.New(errors.ErrCodeMissingDocID, "metadata missing "+e.cfg.docIDKey(), nil)
	}

	md = md.Clone()

	e.mu.Lock()
	if _, exists := e.docs[docid]; exists {
		e.mu.Unlock()
		return md, nil
	}
	now := time.Now()
	e.docs[docid] = &Document{Metadata: md, DateCreated: now, DateModified: now}
	e.dirty = true
	e.mu.Unlock()

	if err := e.streamTokens(ctx, r, docid, md, lang); err != nil {
		e.deleteLocal(docid)
		slog.Warn("tfidf_ingest_rolled_back",
			slog.String("docid", docid),
			slog.String("error", err.Error()))
		return nil, err
	}
	return md, nil
}

// streamTokens reads the document chunk by chunk and applies token counts.
func (e *Engine) streamTokens(ctx context.Context, r io.Reader, docid string, md meta.Metadata, lang string) error {
	reader := bufio.NewReaderSize(r, ingestChunkBytes)
	buf := make([]byte, ingestChunkBytes)
	var tail string
	var stop map[string]struct{}
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeIngestFailed, err)
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := tail + string(buf[:n])
			chunk, tail = splitTail(chunk, readErr == io.EOF)

			if first {
				if lang == "" {
					lang = md.Lang(e.cfg.langIDKey())
				}
				if lang == "" {
					lang = tokenize.DetectLanguage(chunk)
				}
				if md.Lang(e.cfg.langIDKey()) == "" {
					md[e.cfg.langIDKey()] = lang
				}

				e.mu.Lock()
				e.maybeLearnStopWordsLocked(lang)
				stop = e.stopListLocked(lang)
				e.mu.Unlock()
				first = false
			}

			tokens, _ := tokenize.Tokenize(chunk, tokenize.Config{
				Lang:       lang,
				NoStemming: e.cfg.NoStemming,
				StopWords:  stop,
			})
			e.applyTokens(docid, tokens)
		}

		if readErr == io.EOF {
			if tail != "" {
				// A previous read left a partial word and the final read
				// returned no data, so the tail never went through splitTail.
				tokens, _ := tokenize.Tokenize(tail, tokenize.Config{
					Lang:       lang,
					NoStemming: e.cfg.NoStemming,
					StopWords:  stop,
				})
				e.applyTokens(docid, tokens)
			}
			return nil
		}
		if readErr != nil {
			return errors.Wrap(errors.ErrCodeIngestFailed, readErr)
		}
	}
}

// splitTail cuts the chunk at the last whitespace so a word split across two
// reads is tokenized whole. A chunk without whitespace, which is the normal
// case for CJK text, is cut at the last rune boundary instead so a multi-byte
// rune straddling the read never reaches tokenization as invalid UTF-8. At
// EOF the full chunk is processed.
func splitTail(chunk string, eof bool) (head, tail string) {
	if eof {
		return chunk, ""
	}
	if i := strings.LastIndexAny(chunk, " \t\r\n"); i >= 0 {
		return chunk[:i+1], chunk[i+1:]
	}
	for i := len(chunk) - 1; i >= 0 && len(chunk)-i <= utf8.UTFMax; i-- {
		if utf8.RuneStart(chunk[i]) {
			if !utf8.ValidString(chunk[i:]) {
				return chunk[:i], chunk[i:]
			}
			break
		}
	}
	return chunk, ""
}

// applyTokens increments postings and document length for one token batch.
func (e *Engine) applyTokens(docid string, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, ok := e.docs[docid]
	if !ok {
		return
	}
	for _, tok := range tokens {
		p, ok := e.iindex[tok]
		if !ok {
			p = &Posting{Word: tok, Docs: make(map[string]int)}
			e.iindex[tok] = p
		}
		p.Docs[docid]++
	}
	doc.Length += len(tokens)
	e.dirty = true
}

// Delete removes the document identified by the metadata. When the document
// is not held locally and localOnly is false, the delete is broadcast so the
// owning peer applies it. Returns a not-found error when nothing was removed
// anywhere.
func (e *Engine) Delete(ctx context.Context, md meta.Metadata, localOnly bool) error {
	docid := md.Identity(e.cfg.docIDKey())

	if e.deleteLocal(docid) {
		return nil
	}
	if !localOnly && e.cfg.Distributed && e.remote != nil {
		if err := e.remote.BroadcastDelete(ctx, md); err != nil {
			return err
		}
		return nil
	}
	return errors.NotFound("document " + docid)
}

// deleteLocal removes the docid from every posting and the doc store.
// Postings themselves survive with empty maps; only rebuild discards them.
func (e *Engine) deleteLocal(docid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.docs[docid]; !ok {
		return false
	}
	delete(e.docs, docid)
	for _, p := range e.iindex {
		delete(p.Docs, docid)
	}
	e.dirty = true
	return true
}

// Update rewrites document metadata: the doc store is rekeyed and posting
// docid keys rewritten. Non-local updates are broadcast unless localOnly.
func (e *Engine) Update(ctx context.Context, oldMD, newMD meta.Metadata, localOnly bool) error {
	oldID := oldMD.Identity(e.cfg.docIDKey())
	newID := newMD.Identity(e.cfg.docIDKey())

	if e.updateLocal(oldID, newID, newMD) {
		return nil
	}
	if !localOnly && e.cfg.Distributed && e.remote != nil {
		return e.remote.BroadcastUpdate(ctx, oldMD, newMD)
	}
	return errors.NotFound("document " + oldID)
}

func (e *Engine) updateLocal(oldID, newID string, newMD meta.Metadata) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, ok := e.docs[oldID]
	if !ok {
		return false
	}
	doc.Metadata = newMD.Clone()
	doc.DateModified = time.Now()

	if newID != oldID {
		delete(e.docs, oldID)
		e.docs[newID] = doc
		for _, p := range e.iindex {
			if n, ok := p.Docs[oldID]; ok {
				delete(p.Docs, oldID)
				p.Docs[newID] = n
			}
		}
	}
	e.dirty = true
	return true
}

// ApplyDelete executes a peer-initiated delete locally. Absent docs are a
// no-op, which keeps replayed broadcasts idempotent.
func (e *Engine) ApplyDelete(md meta.Metadata) {
	e.deleteLocal(md.Identity(e.cfg.docIDKey()))
}

// ApplyUpdate executes a peer-initiated metadata rewrite locally.
func (e *Engine) ApplyUpdate(oldMD, newMD meta.Metadata) {
	oldID := oldMD.Identity(e.cfg.docIDKey())
	newID := newMD.Identity(e.cfg.docIDKey())
	e.updateLocal(oldID, newID, newMD)
}
