// Package indexer translates drive events into index mutations: file content
// flows through the tokenizer into the TF-IDF shard and through the chunker
// into the vector index, under a per-tenant quota gate, with progress events
// for observers.
package indexer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/docbase-ai/docbase/internal/config"
	"github.com/docbase-ai/docbase/internal/drive"
	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/vector"
)

// Quota gates ingest volume per tenant.
type Quota interface {
	// Allow reports whether the tenant may ingest size more bytes.
	Allow(ctx context.Context, tenant string, size int64) error

	// Record accounts size ingested bytes to the tenant.
	Record(ctx context.Context, tenant string, size int64) error
}

// Plugin intercepts matching files before the default pipeline, e.g. a
// web-spider that expands a link file into fetched pages.
type Plugin interface {
	// Match reports whether the plugin owns this cmspath.
	Match(cmsPath string) bool

	// Content returns the text to index in place of the raw file body.
	Content(ctx context.Context, d drive.Drive, cmsPath string) (string, error)
}

// progress step weights for one ingest run.
const totalSteps = 4

// Coordinator owns the event-to-mutation translation for one tenant index.
type Coordinator struct {
	tenant    string
	drive     drive.Drive
	tfidf     *tfidf.Engine
	vector    *vector.Index
	quota     Quota
	progress  *Progress
	retrieval config.RetrievalConfig
	plugins   []Plugin

	inconsistent atomic.Bool
}

// Options wires a coordinator.
type Options struct {
	Tenant    string
	Drive     drive.Drive
	Tfidf     *tfidf.Engine
	Vector    *vector.Index
	Quota     Quota // nil disables the gate
	Progress  *Progress
	Retrieval config.RetrievalConfig
	Plugins   []Plugin
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	if opts.Progress == nil {
		opts.Progress = NewProgress(nil)
	}
	return &Coordinator{
		tenant:    opts.Tenant,
		drive:     opts.Drive,
		tfidf:     opts.Tfidf,
		vector:    opts.Vector,
		quota:     opts.Quota,
		progress:  opts.Progress,
		retrieval: opts.Retrieval,
		plugins:   opts.Plugins,
	}
}

// Inconsistent reports whether a partial mutation left the tenant index
// needing a rebuild.
func (c *Coordinator) Inconsistent() bool {
	return c.inconsistent.Load()
}

// Progress exposes the progress store.
func (c *Coordinator) Progress() *Progress {
	return c.progress
}

// Run consumes watcher batches until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, events <-chan []drive.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			for _, ev := range batch {
				if err := c.Handle(ctx, ev); err != nil {
					slog.Error("indexer_event_failed",
						"tenant", c.tenant,
						"event", ev.Operation.String(),
						"cmspath", ev.Path,
						"error", err)
				}
			}
		}
	}
}

// Handle applies one drive event to both engines.
func (c *Coordinator) Handle(ctx context.Context, ev drive.Event) error {
	switch ev.Operation {
	case drive.OpCreate:
		return c.ingest(ctx, ev.Path)
	case drive.OpModify:
		if err := c.uningest(ctx, ev.Path); err != nil && !errors.IsNotFound(err) {
			return err
		}
		return c.ingest(ctx, ev.Path)
	case drive.OpDelete:
		return c.uningest(ctx, ev.Path)
	case drive.OpRename:
		return c.rename(ctx, ev.OldPath, ev.Path)
	default:
		return errors.Validation("unknown drive operation")
	}
}

func (c *Coordinator) metadataFor(cmsPath string) meta.Metadata {
	return meta.Metadata{
		meta.KeyDocID:    cmsPath,
		meta.KeyCmsPath:  cmsPath,
		meta.KeyFullPath: c.drive.GetFullPath(cmsPath),
	}
}

func (c *Coordinator) step(ctx context.Context, cmsPath string, status Status, step int) {
	c.progress.Emit(ctx, ProgressEvent{
		Tenant:  c.tenant,
		CmsPath: cmsPath,
		Status:  status,
		Percent: step * 100 / totalSteps,
		Done:    status == StatusProcessed || status == StatusLimit || status == StatusError,
	})
}

func (c *Coordinator) fail(ctx context.Context, cmsPath string, err error) error {
	c.progress.Emit(ctx, ProgressEvent{
		Tenant:  c.tenant,
		CmsPath: cmsPath,
		Status:  StatusError,
		Done:    true,
		Error:   err.Error(),
	})
	return err
}

// ingest runs the full pipeline for one file: content acquisition, quota
// gate, then TF-IDF and vector ingest in parallel. A vector failure rolls
// the document back out of the TF-IDF shard.
func (c *Coordinator) ingest(ctx context.Context, cmsPath string) error {
	c.progress.Reset(c.tenant, cmsPath)
	c.step(ctx, cmsPath, StatusProcessing, 0)

	content, err := c.content(ctx, cmsPath)
	if err != nil {
		return c.fail(ctx, cmsPath, err)
	}
	c.step(ctx, cmsPath, StatusProgress, 1)

	if c.quota != nil {
		if err := c.quota.Allow(ctx, c.tenant, int64(len(content))); err != nil {
			c.step(ctx, cmsPath, StatusLimit, 2)
			return err
		}
	}
	c.step(ctx, cmsPath, StatusProgress, 2)

	md := c.metadataFor(cmsPath)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.tfidf.Create(gctx, strings.NewReader(content), md.Clone(), "")
		return err
	})
	g.Go(func() error {
		_, err := c.vector.Ingest(gctx, md.Clone(), content, vector.IngestOptions{
			ChunkSize:  c.retrieval.ChunkSize,
			Separators: c.retrieval.SplitSeparators,
			Overlap:    c.retrieval.Overlap,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		// Unwind whichever engine got the document.
		if derr := c.tfidf.Delete(ctx, md, true); derr != nil && !errors.IsNotFound(derr) {
			slog.Warn("indexer_rollback_tfidf_failed", "cmspath", cmsPath, "error", derr)
		}
		if _, derr := c.vector.DeleteWhere(matchFullPath(md[meta.KeyFullPath])); derr != nil {
			c.markInconsistent(cmsPath, derr)
		}
		return c.fail(ctx, cmsPath, err)
	}
	c.step(ctx, cmsPath, StatusProgress, 3)

	if c.quota != nil {
		if err := c.quota.Record(ctx, c.tenant, int64(len(content))); err != nil {
			slog.Warn("indexer_quota_record_failed", "tenant", c.tenant, "error", err)
		}
	}
	c.step(ctx, cmsPath, StatusProcessed, totalSteps)
	return nil
}

// content resolves the file text: the first matching plugin wins, otherwise
// the raw drive bytes.
func (c *Coordinator) content(ctx context.Context, cmsPath string) (string, error) {
	for _, p := range c.plugins {
		if p.Match(cmsPath) {
			return p.Content(ctx, c.drive, cmsPath)
		}
	}

	r, err := c.drive.GetReadStream(cmsPath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", errors.New(errors.ErrCodeIngestFailed, "read failed for "+cmsPath, err)
	}
	return buf.String(), nil
}

// uningest removes the file from both engines.
func (c *Coordinator) uningest(ctx context.Context, cmsPath string) error {
	md := c.metadataFor(cmsPath)

	tfErr := c.tfidf.Delete(ctx, md, false)
	if tfErr != nil && !errors.IsNotFound(tfErr) {
		return tfErr
	}

	if _, err := c.vector.DeleteWhere(matchFullPath(md[meta.KeyFullPath])); err != nil {
		c.markInconsistent(cmsPath, err)
		return err
	}
	c.progress.Reset(c.tenant, cmsPath)
	return tfErr
}

// rename rewrites path metadata in both engines without re-reading content.
func (c *Coordinator) rename(ctx context.Context, oldPath, newPath string) error {
	oldMD := c.metadataFor(oldPath)
	newMD := c.metadataFor(newPath)

	if err := c.tfidf.Update(ctx, oldMD, newMD, false); err != nil && !errors.IsNotFound(err) {
		return err
	}

	c.vector.RewriteMetadata(
		func(md meta.Metadata) bool { return md[meta.KeyCmsPath] == oldPath },
		func(md meta.Metadata) meta.Metadata {
			out := md.Clone()
			out[meta.KeyDocID] = newMD[meta.KeyDocID]
			out[meta.KeyCmsPath] = newMD[meta.KeyCmsPath]
			out[meta.KeyFullPath] = newMD[meta.KeyFullPath]
			return out
		},
	)
	return nil
}

func matchFullPath(fullPath string) func(meta.Metadata) bool {
	return func(md meta.Metadata) bool {
		return md[meta.KeyFullPath] == fullPath
	}
}

func (c *Coordinator) markInconsistent(cmsPath string, err error) {
	c.inconsistent.Store(true)
	slog.Error("tenant_index_inconsistent",
		"tenant", c.tenant,
		"cmspath", cmsPath,
		"error", err)
}
