// Package cluster connects shard nodes through a message bus. Nodes exchange
// posting queries, docid counts and document mutations so every shard can
// answer with cluster-wide statistics while holding only its own documents.
package cluster

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultRequestTimeout bounds a request/reply round trip when the caller
// does not configure one.
const DefaultRequestTimeout = 2 * time.Second

// Message is one envelope on the bus.
type Message struct {
	// Topic the message was published on.
	Topic string `json:"topic"`

	// Sender is the node id of the publisher.
	Sender string `json:"sender"`

	// CorrelationID ties replies to their request.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ReplyTo is the topic replies must be published on. Empty for plain
	// broadcasts.
	ReplyTo string `json:"reply_to,omitempty"`

	// Payload is the verb-specific body.
	Payload []byte `json:"payload"`
}

// Handler consumes one message. A non-nil reply payload is sent back to the
// requester when the message carries a ReplyTo topic.
type Handler func(ctx context.Context, msg Message) ([]byte, error)

// SubscribeOptions tunes message delivery for one subscription.
type SubscribeOptions struct {
	// ExternalOnly drops messages published by this node itself.
	ExternalOnly bool
}

// RequestOptions tunes one request/reply round trip.
type RequestOptions struct {
	// Timeout bounds the whole gather. Zero selects DefaultRequestTimeout.
	Timeout time.Duration

	// FirstReplyOnly returns as soon as one reply arrives.
	FirstReplyOnly bool

	// ExpectedReplies stops the gather early once that many replies arrived.
	// Zero waits for the full timeout (or the first reply, when
	// FirstReplyOnly is set).
	ExpectedReplies int
}

// Bus is the transport between shard nodes. Implementations deliver
// broadcasts to every subscriber and route replies back to the requester.
type Bus interface {
	// NodeID identifies this node on the bus.
	NodeID() string

	// Publish broadcasts payload on topic without waiting for replies.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for topic and returns an unsubscribe
	// function.
	Subscribe(ctx context.Context, topic string, opts SubscribeOptions, h Handler) (func(), error)

	// Request broadcasts payload on topic and gathers reply payloads from
	// peers until the options say stop.
	Request(ctx context.Context, topic string, payload []byte, opts RequestOptions) ([][]byte, error)

	// Close tears down subscriptions and the transport.
	Close() error
}

// newCorrelationID returns a sortable unique id for request/reply pairing.
func newCorrelationID() string {
	return ulid.Make().String()
}
