package cluster

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/meta"
	"github.com/docbase-ai/docbase/internal/tfidf"
)

// RPC verbs exchanged on the function-call topic.
const (
	VerbQueryPostings = "query_postings"
	VerbCountDocs     = "count_docs"
)

// Topic suffixes. Full topics are scoped per tenant.
const (
	topicFunctionCall = "tfidf.functioncall"
	topicRemoveDoc    = "tfidf.rmdoc"
	topicUpdateDoc    = "tfidf.updatedoc"
)

func topicFor(base, tenant string) string {
	if tenant == "" {
		return base
	}
	return base + "." + tenant
}

// callRequest is the body of a function-call message.
type callRequest struct {
	Verb  string   `json:"verb"`
	Words []string `json:"words,omitempty"`
}

// callReply is the body of a function-call reply.
type callReply struct {
	Node     string                    `json:"node"`
	Postings map[string]map[string]int `json:"postings,omitempty"`
	DocIDs   []string                  `json:"docids,omitempty"`
}

// mutationEvent is the body of delete and update broadcasts.
type mutationEvent struct {
	CreationData meta.Metadata `json:"creation_data"`
	NewData      meta.Metadata `json:"new_data,omitempty"`
}

// Serve attaches a shard engine to the bus for one tenant: peers may query
// its postings and docids, and its documents follow cluster-wide delete and
// update broadcasts. The returned function detaches the shard.
func Serve(ctx context.Context, bus Bus, tenant string, engine *tfidf.Engine) (func(), error) {
	var unsubs []func()
	detach := func() {
		for _, u := range unsubs {
			u()
		}
	}

	external := SubscribeOptions{ExternalOnly: true}

	unsub, err := bus.Subscribe(ctx, topicFor(topicFunctionCall, tenant), external,
		func(ctx context.Context, msg Message) ([]byte, error) {
			var req callRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return nil, errors.Wrap(errors.ErrCodeBadRPCPayload, err)
			}
			reply := callReply{Node: bus.NodeID()}
			switch req.Verb {
			case VerbQueryPostings:
				reply.Postings = engine.PostingsFor(req.Words)
			case VerbCountDocs:
				reply.DocIDs = engine.LocalDocIDs()
			default:
				return nil, errors.New(errors.ErrCodeBadRPCPayload, "unknown verb "+req.Verb, nil)
			}
			return json.Marshal(reply)
		})
	if err != nil {
		return nil, err
	}
	unsubs = append(unsubs, unsub)

	unsub, err = bus.Subscribe(ctx, topicFor(topicRemoveDoc, tenant), external,
		func(ctx context.Context, msg Message) ([]byte, error) {
			var ev mutationEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return nil, errors.Wrap(errors.ErrCodeBadRPCPayload, err)
			}
			engine.ApplyDelete(ev.CreationData)
			return nil, nil
		})
	if err != nil {
		detach()
		return nil, err
	}
	unsubs = append(unsubs, unsub)

	unsub, err = bus.Subscribe(ctx, topicFor(topicUpdateDoc, tenant), external,
		func(ctx context.Context, msg Message) ([]byte, error) {
			var ev mutationEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return nil, errors.Wrap(errors.ErrCodeBadRPCPayload, err)
			}
			engine.ApplyUpdate(ev.CreationData, ev.NewData)
			return nil, nil
		})
	if err != nil {
		detach()
		return nil, err
	}
	unsubs = append(unsubs, unsub)

	slog.Info("cluster_shard_attached", "tenant", tenant, "node", bus.NodeID())
	return detach, nil
}
