package cluster

import (
	"context"
	"log/slog"
	"sync"

	"github.com/docbase-ai/docbase/internal/errors"
)

// LocalBus is an in-process bus. Several nodes attach to one shared exchange,
// which makes it the single-node transport and the cluster fixture for tests.
type LocalBus struct {
	exchange *Exchange
	nodeID   string
	closed   bool
	mu       sync.Mutex
}

// Exchange routes messages between LocalBus nodes in the same process.
type Exchange struct {
	mu   sync.RWMutex
	subs map[string][]*localSub
}

type localSub struct {
	node    string
	opts    SubscribeOptions
	handler Handler
	active  bool
}

// NewExchange creates an empty in-process exchange.
func NewExchange() *Exchange {
	return &Exchange{subs: make(map[string][]*localSub)}
}

// NewLocalBus attaches a node to the exchange.
func NewLocalBus(exchange *Exchange, nodeID string) *LocalBus {
	if nodeID == "" {
		nodeID = newCorrelationID()
	}
	return &LocalBus{exchange: exchange, nodeID: nodeID}
}

var _ Bus = (*LocalBus)(nil)

// NodeID identifies this node.
func (b *LocalBus) NodeID() string { return b.nodeID }

// Publish delivers payload to every subscriber of topic, synchronously.
func (b *LocalBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New(errors.ErrCodeClusterUnavailable, "bus closed", nil)
	}
	b.mu.Unlock()

	msg := Message{Topic: topic, Sender: b.nodeID, Payload: payload}
	b.exchange.deliver(ctx, msg, nil)
	return nil
}

// Subscribe registers a handler for topic.
func (b *LocalBus) Subscribe(ctx context.Context, topic string, opts SubscribeOptions, h Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New(errors.ErrCodeClusterUnavailable, "bus closed", nil)
	}
	b.mu.Unlock()

	sub := &localSub{node: b.nodeID, opts: opts, handler: h, active: true}
	b.exchange.mu.Lock()
	b.exchange.subs[topic] = append(b.exchange.subs[topic], sub)
	b.exchange.mu.Unlock()

	return func() {
		b.exchange.mu.Lock()
		sub.active = false
		b.exchange.mu.Unlock()
	}, nil
}

// Request delivers payload to every subscriber and gathers their replies.
func (b *LocalBus) Request(ctx context.Context, topic string, payload []byte, opts RequestOptions) ([][]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := Message{
		Topic:         topic,
		Sender:        b.nodeID,
		CorrelationID: newCorrelationID(),
		ReplyTo:       "local.reply." + b.nodeID,
	}
	msg.Payload = payload

	replies := make(chan []byte, 64)
	go func() {
		b.exchange.deliver(ctx, msg, replies)
		close(replies)
	}()

	var out [][]byte
	for {
		select {
		case <-ctx.Done():
			if len(out) == 0 {
				return nil, errors.ClusterTimeout("no replies before deadline", ctx.Err())
			}
			return out, nil
		case reply, ok := <-replies:
			if !ok {
				return out, nil
			}
			out = append(out, reply)
			if opts.FirstReplyOnly || (opts.ExpectedReplies > 0 && len(out) >= opts.ExpectedReplies) {
				return out, nil
			}
		}
	}
}

// Close detaches the node. Its subscriptions stop receiving messages.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true

	b.exchange.mu.Lock()
	for _, subs := range b.exchange.subs {
		for _, s := range subs {
			if s.node == b.nodeID {
				s.active = false
			}
		}
	}
	b.exchange.mu.Unlock()
	return nil
}

// deliver fans msg out to topic subscribers, honoring ExternalOnly, and
// forwards handler replies to the replies channel when set.
func (e *Exchange) deliver(ctx context.Context, msg Message, replies chan<- []byte) {
	e.mu.RLock()
	subs := make([]*localSub, 0, len(e.subs[msg.Topic]))
	for _, s := range e.subs[msg.Topic] {
		if s.active {
			subs = append(subs, s)
		}
	}
	e.mu.RUnlock()

	for _, s := range subs {
		if s.opts.ExternalOnly && s.node == msg.Sender {
			continue
		}
		reply, err := s.handler(ctx, msg)
		if err != nil {
			slog.Warn("cluster_handler_failed",
				"topic", msg.Topic,
				"node", s.node,
				"error", err)
			continue
		}
		if reply != nil && replies != nil {
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}
}
