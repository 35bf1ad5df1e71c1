package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/docbase-ai/docbase/internal/errors"
)

// RedisBus carries node traffic over Redis pub/sub. Requests publish an
// envelope with a per-node reply channel; each peer that handles the verb
// publishes its reply there.
type RedisBus struct {
	rdb    *redis.Client
	nodeID string

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// RedisOptions configures the Redis transport.
type RedisOptions struct {
	// Addr is the Redis host:port.
	Addr string

	// Password, when the server requires one.
	Password string

	// DB selects the Redis logical database.
	DB int

	// NodeID overrides the generated node identity.
	NodeID string
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.New(errors.ErrCodeClusterUnavailable, "redis not reachable", err)
	}
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = newCorrelationID()
	}
	return &RedisBus{rdb: rdb, nodeID: nodeID}, nil
}

var _ Bus = (*RedisBus)(nil)

// NodeID identifies this node on the bus.
func (b *RedisBus) NodeID() string { return b.nodeID }

// Publish broadcasts payload on topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	body, err := json.Marshal(Message{Topic: topic, Sender: b.nodeID, Payload: payload})
	if err != nil {
		return errors.Wrap(errors.ErrCodeBadRPCPayload, err)
	}
	if err := b.rdb.Publish(ctx, topic, body).Err(); err != nil {
		return errors.New(errors.ErrCodeClusterUnavailable, "publish failed", err)
	}
	return nil
}

// Subscribe registers a handler for topic. Each subscription runs its own
// reader goroutine until unsubscribed or the bus closes.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, opts SubscribeOptions, h Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New(errors.ErrCodeClusterUnavailable, "bus closed", nil)
	}
	ps := b.rdb.Subscribe(ctx, topic)
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	// Force the subscription onto the wire before returning, so a publish
	// issued right after Subscribe is not lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.New(errors.ErrCodeClusterUnavailable, "subscribe failed", err)
	}

	go b.readLoop(ps, opts, h)
	return func() { _ = ps.Close() }, nil
}

func (b *RedisBus) readLoop(ps *redis.PubSub, opts SubscribeOptions, h Handler) {
	for raw := range ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			slog.Warn("cluster_bad_envelope", "channel", raw.Channel, "error", err)
			continue
		}
		if opts.ExternalOnly && msg.Sender == b.nodeID {
			continue
		}

		ctx := context.Background()
		reply, err := h(ctx, msg)
		if err != nil {
			slog.Warn("cluster_handler_failed",
				"topic", msg.Topic,
				"node", b.nodeID,
				"error", err)
			continue
		}
		if reply != nil && msg.ReplyTo != "" {
			envelope := Message{
				Topic:         msg.ReplyTo,
				Sender:        b.nodeID,
				CorrelationID: msg.CorrelationID,
				Payload:       reply,
			}
			body, err := json.Marshal(envelope)
			if err != nil {
				slog.Warn("cluster_bad_reply", "topic", msg.ReplyTo, "error", err)
				continue
			}
			if err := b.rdb.Publish(ctx, msg.ReplyTo, body).Err(); err != nil {
				slog.Warn("cluster_reply_failed", "topic", msg.ReplyTo, "error", err)
			}
		}
	}
}

// Request broadcasts payload on topic and gathers peer replies from a
// correlation-scoped reply channel.
func (b *RedisBus) Request(ctx context.Context, topic string, payload []byte, opts RequestOptions) ([][]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	correlation := newCorrelationID()
	replyTopic := "docbase.reply." + b.nodeID + "." + correlation

	ps := b.rdb.Subscribe(ctx, replyTopic)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return nil, errors.New(errors.ErrCodeClusterUnavailable, "reply subscribe failed", err)
	}

	envelope := Message{
		Topic:         topic,
		Sender:        b.nodeID,
		CorrelationID: correlation,
		ReplyTo:       replyTopic,
		Payload:       payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBadRPCPayload, err)
	}
	if err := b.rdb.Publish(ctx, topic, body).Err(); err != nil {
		return nil, errors.New(errors.ErrCodeClusterUnavailable, "publish failed", err)
	}

	var out [][]byte
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			if len(out) == 0 {
				return nil, errors.ClusterTimeout(topic, ctx.Err())
			}
			return out, nil
		case raw, ok := <-ch:
			if !ok {
				return out, nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				slog.Warn("cluster_bad_envelope", "channel", raw.Channel, "error", err)
				continue
			}
			if msg.CorrelationID != correlation {
				continue
			}
			out = append(out, msg.Payload)
			if opts.FirstReplyOnly || (opts.ExpectedReplies > 0 && len(out) >= opts.ExpectedReplies) {
				return out, nil
			}
		}
	}
}

// Close tears down all subscriptions and the Redis connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	return b.rdb.Close()
}
