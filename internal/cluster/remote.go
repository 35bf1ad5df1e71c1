package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tfidf"
)

// BusRemote gives a shard engine its cluster view over the bus. Replies from
// all reachable peers are merged; the engine applies local-wins on top.
type BusRemote struct {
	bus     bus
	tenant  string
	timeout time.Duration

	// expectedPeers stops a gather early when the cluster size is known.
	expectedPeers int
}

// bus is the subset of Bus the remote needs, split out for test fakes.
type bus interface {
	NodeID() string
	Publish(ctx context.Context, topic string, payload []byte) error
	Request(ctx context.Context, topic string, payload []byte, opts RequestOptions) ([][]byte, error)
}

// RemoteOptions configures a BusRemote.
type RemoteOptions struct {
	// Timeout bounds each peer gather.
	Timeout time.Duration

	// KnownNodes is the number of peer nodes, 0 when unknown.
	KnownNodes int
}

// NewRemote creates the cluster view for one tenant shard.
func NewRemote(b Bus, tenant string, opts RemoteOptions) *BusRemote {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &BusRemote{
		bus:           b,
		tenant:        tenant,
		timeout:       timeout,
		expectedPeers: opts.KnownNodes,
	}
}

var _ tfidf.Remote = (*BusRemote)(nil)

func (r *BusRemote) call(ctx context.Context, req callRequest) ([]callReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBadRPCPayload, err)
	}
	raw, err := r.bus.Request(ctx, topicFor(topicFunctionCall, r.tenant), payload, RequestOptions{
		Timeout:         r.timeout,
		ExpectedReplies: r.expectedPeers,
	})
	if err != nil {
		return nil, err
	}

	replies := make([]callReply, 0, len(raw))
	for _, body := range raw {
		var rep callReply
		if err := json.Unmarshal(body, &rep); err != nil {
			slog.Warn("cluster_bad_reply_body", "tenant", r.tenant, "error", err)
			continue
		}
		replies = append(replies, rep)
	}
	return replies, nil
}

// QueryPostings gathers peer postings for words, summing term frequencies
// per docid across peers.
func (r *BusRemote) QueryPostings(ctx context.Context, words []string) (map[string]map[string]int, error) {
	replies, err := r.call(ctx, callRequest{Verb: VerbQueryPostings, Words: words})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]map[string]int)
	for _, rep := range replies {
		for word, docs := range rep.Postings {
			dst := merged[word]
			if dst == nil {
				dst = make(map[string]int, len(docs))
				merged[word] = dst
			}
			for docid, count := range docs {
				dst[docid] += count
			}
		}
	}
	return merged, nil
}

// DocIDs gathers the docids held by peers, deduplicated.
func (r *BusRemote) DocIDs(ctx context.Context) ([]string, error) {
	replies, err := r.call(ctx, callRequest{Verb: VerbCountDocs})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, rep := range replies {
		for _, id := range rep.DocIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// BroadcastDelete asks peers to delete the document. Fire and forget: peers
// holding the docid apply it, the rest ignore it.
func (r *BusRemote) BroadcastDelete(ctx context.Context, md meta.Metadata) error {
	payload, err := json.Marshal(mutationEvent{CreationData: md})
	if err != nil {
		return errors.Wrap(errors.ErrCodeBadRPCPayload, err)
	}
	return r.bus.Publish(ctx, topicFor(topicRemoveDoc, r.tenant), payload)
}

// BroadcastUpdate asks peers to rewrite the document metadata.
func (r *BusRemote) BroadcastUpdate(ctx context.Context, oldMD, newMD meta.Metadata) error {
	payload, err := json.Marshal(mutationEvent{CreationData: oldMD, NewData: newMD})
	if err != nil {
		return errors.Wrap(errors.ErrCodeBadRPCPayload, err)
	}
	return r.bus.Publish(ctx, topicFor(topicUpdateDoc, r.tenant), payload)
}
