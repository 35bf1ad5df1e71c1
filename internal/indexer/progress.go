package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Status is the lifecycle stage of one file's indexing run.
type Status string

const (
	// StatusProcessing marks the start of a run.
	StatusProcessing Status = "PROCESSING"
	// StatusProgress carries a percentage update.
	StatusProgress Status = "PROGRESS"
	// StatusProcessed marks a completed run.
	StatusProcessed Status = "PROCESSED"
	// StatusLimit marks a run rejected by the quota gate.
	StatusLimit Status = "LIMIT"
	// StatusError marks a failed run.
	StatusError Status = "ERROR"
)

// ProgressEvent is one status update, keyed by tenant and cmspath.
type ProgressEvent struct {
	Tenant  string `json:"tenant"`
	CmsPath string `json:"cmspath"`
	Status  Status `json:"status"`
	Percent int    `json:"percent"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

func (ev ProgressEvent) key() string {
	return ev.Tenant + "/" + ev.CmsPath
}

// publisher is the bus surface progress fan-out needs.
type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Bus topics progress events are mirrored on, one per lifecycle stage.
const (
	TopicFileProcessing = "aidb.file.processing"
	TopicFileProgress   = "aidb.file.progress"
	TopicFileProcessed  = "aidb.file.processed"
)

// topic maps a status to its bus topic. Terminal states, including quota
// rejections and failures, land on the processed topic.
func (ev ProgressEvent) topic() string {
	switch ev.Status {
	case StatusProcessing:
		return TopicFileProcessing
	case StatusProgress:
		return TopicFileProgress
	default:
		return TopicFileProcessed
	}
}

// Progress keeps the latest state per file and optionally mirrors updates on
// the cluster bus. Done latches: once a run finished, stale updates for the
// same run no longer regress the state.
type Progress struct {
	mu    sync.RWMutex
	state map[string]ProgressEvent
	bus   publisher
}

// NewProgress creates a progress store. bus may be nil for single-node use.
func NewProgress(bus publisher) *Progress {
	return &Progress{state: make(map[string]ProgressEvent), bus: bus}
}

// Emit records the event and mirrors it on the bus. A late event for a run
// already marked done is dropped.
func (p *Progress) Emit(ctx context.Context, ev ProgressEvent) {
	p.mu.Lock()
	if prev, ok := p.state[ev.key()]; ok && prev.Done && !ev.Done {
		p.mu.Unlock()
		return
	}
	p.state[ev.key()] = ev
	p.mu.Unlock()

	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err := p.bus.Publish(ctx, ev.topic(), payload); err != nil {
				slog.Warn("progress_publish_failed", "cmspath", ev.CmsPath, "error", err)
			}
		}
	}
}

// Get returns the latest state for (tenant, cmspath).
func (p *Progress) Get(tenant, cmsPath string) (ProgressEvent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.state[tenant+"/"+cmsPath]
	return ev, ok
}

// Reset clears the latch for (tenant, cmspath) so the next run starts fresh.
func (p *Progress) Reset(tenant, cmsPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.state, tenant+"/"+cmsPath)
}
