package vector

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
)

// streamBufSize is the read granularity for IngestStream.
const streamBufSize = 16 * 1024

// IngestOptions controls document splitting during ingest.
type IngestOptions struct {
	// ChunkSize is the maximum chunk length in bytes. Must exceed Overlap.
	ChunkSize int

	// Separators are preferred chunk boundaries, tried from the end of the
	// window backwards. Empty means hard cuts at ChunkSize.
	Separators []string

	// Overlap is the number of bytes adjacent chunks share.
	Overlap int

	// ReturnTail withholds a trailing partial chunk from ingest and returns
	// it, so a streaming caller can stitch it onto the next buffer.
	ReturnTail bool

	// ChunkIndexBase offsets the chunkindex metadata value, letting stream
	// ingest number chunks across buffers.
	ChunkIndexBase int
}

func (o IngestOptions) validate() error {
	if o.ChunkSize <= 0 {
		return errors.Validation("chunkSize must be positive")
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return errors.Validation("overlap must be in [0, chunkSize)")
	}
	return nil
}

// IngestResult reports the vectors created by one ingest call.
type IngestResult struct {
	// Hashes lists the created entries in chunk order.
	Hashes []string

	// Tail is the withheld trailing fragment when ReturnTail was set.
	Tail string

	// Chunks is the number of chunks emitted.
	Chunks int

	// created tracks only the hashes this call newly added, so rollback
	// never removes entries that predate it.
	created []string
}

// Ingest splits document into chunks, embeds each and adds it to the index.
// Each chunk carries the shared metadata plus its chunk index. On any failure
// every vector created by this call is removed again.
func (ix *Index) Ingest(ctx context.Context, md meta.Metadata, document string, opts IngestOptions) (*IngestResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	res := &IngestResult{}

	rollback := func(cause error) error {
		for _, h := range res.created {
			if derr := ix.deleteHash(h); derr != nil {
				slog.Warn("vector_ingest_rollback_failed",
					"hash", h,
					"error", derr)
			}
		}
		return errors.New(errors.ErrCodeIngestFailed, "vector ingest aborted", cause)
	}

	start := 0
	chunkIdx := opts.ChunkIndexBase
	for start < len(document) {
		if err := ctx.Err(); err != nil {
			return nil, rollback(err)
		}

		lim := start + opts.ChunkSize
		partial := false
		if lim >= len(document) {
			lim = len(document)
			partial = start+opts.ChunkSize > len(document)
		}

		if partial && opts.ReturnTail {
			res.Tail = document[start:]
			break
		}

		end := lim
		if !partial {
			if cut := lastSeparatorEnd(document[start:lim], opts.Separators); cut > 0 {
				end = start + cut
			}
		}

		chunk := document[start:end]
		if strings.TrimSpace(chunk) != "" {
			chunkMD := md.Clone()
			chunkMD[meta.KeyChunkIndex] = strconv.Itoa(chunkIdx)

			before := ix.Len()
			hash, err := ix.Create(ctx, nil, chunkMD, chunk)
			if err != nil {
				return nil, rollback(err)
			}
			if ix.Len() > before {
				res.created = append(res.created, hash)
			}
			res.Hashes = append(res.Hashes, hash)
			res.Chunks++
		}
		chunkIdx++

		if partial {
			break
		}
		start += opts.ChunkSize - opts.Overlap
	}
	return res, nil
}

// lastSeparatorEnd returns the end offset of the last separator occurrence in
// window, or 0 when none is found.
func lastSeparatorEnd(window string, separators []string) int {
	best := 0
	for _, sep := range separators {
		if sep == "" {
			continue
		}
		if i := strings.LastIndex(window, sep); i >= 0 && i+len(sep) > best {
			best = i + len(sep)
		}
	}
	return best
}

// IngestStream consumes the reader in buffered chunks, ingesting each full
// buffer with tail stitching so chunks never split across reads. Partial state
// is rolled back on error.
func (ix *Index) IngestStream(ctx context.Context, md meta.Metadata, r io.Reader, opts IngestOptions) (*IngestResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	total := &IngestResult{}
	rollback := func(cause error) error {
		for _, h := range total.created {
			if derr := ix.deleteHash(h); derr != nil {
				slog.Warn("vector_ingest_rollback_failed",
					"hash", h,
					"error", derr)
			}
		}
		return errors.New(errors.ErrCodeIngestFailed, "vector stream ingest aborted", cause)
	}

	var pending strings.Builder
	buf := make([]byte, streamBufSize)
	nextIdx := opts.ChunkIndexBase
	for {
		if err := ctx.Err(); err != nil {
			return nil, rollback(err)
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
		}
		atEOF := rerr == io.EOF
		if rerr != nil && !atEOF {
			return nil, rollback(rerr)
		}

		if pending.Len() >= opts.ChunkSize || (atEOF && pending.Len() > 0) {
			sub := opts
			sub.ReturnTail = !atEOF
			sub.ChunkIndexBase = nextIdx
			part, err := ix.Ingest(ctx, md, pending.String(), sub)
			if err != nil {
				// Sub-ingest already rolled back its own chunks.
				return nil, rollback(err)
			}
			total.Hashes = append(total.Hashes, part.Hashes...)
			total.created = append(total.created, part.created...)
			total.Chunks += part.Chunks
			nextIdx += part.Chunks

			pending.Reset()
			pending.WriteString(part.Tail)
		}

		if atEOF {
			break
		}
	}
	return total, nil
}
