// Package bus provides the fan-out mechanism the router uses for
// per-agent outbound delivery and channel/agent multicast. Queue is
// the router's actual delivery path: every envelope Send routes to a
// recipient lives in that recipient's EnvelopeQueue until
// PullOutbound/Ack retires it. Publish/Subscribe/Request is a
// secondary, best-effort broadcast for external observers (an audit
// consumer, a dashboard sidecar) layered on top — it never gates
// delivery. The default implementation is in-memory (single router
// process, per spec); a NATS-backed implementation can be selected
// for deployments that want the fan-out mechanism itself externalized,
// without changing the router's routing semantics (still a single
// logical router, per CHORUS_BUS_URL).
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/chorusrt/chorus/internal/envelope"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or queue.
	ErrClosed = errors.New("bus or queue closed")
)

// MessageBus is the core interface for agent communication.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends an envelope to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery. Used for
	// external observability, not for the router's own queued delivery.
	Publish(ctx context.Context, subject string, env *envelope.Envelope) error

	// Subscribe registers a handler for envelopes on the given subject.
	// The handler is called in a separate goroutine for each message.
	// Supports wildcards: "chorus.agent.*" matches "chorus.agent.abc".
	Subscribe(ctx context.Context, subject string, handler EnvelopeHandler) (Subscription, error)

	// Request sends an envelope and waits for a single reply envelope.
	Request(ctx context.Context, subject string, env *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error)

	// QueueSubscribe creates a queue subscription where envelopes are
	// load-balanced across subscribers in the same queue group.
	QueueSubscribe(ctx context.Context, subject, queue string, handler EnvelopeHandler) (Subscription, error)

	// Queue returns the durable, never-drop outbound queue for name (an
	// agent id). This backs Router.Send/PullOutbound directly: it is
	// not a mirror of some other store, it IS the store.
	Queue(name string) EnvelopeQueue

	// Close shuts down the bus, every subscription, and every queue.
	Close() error
}

// EnvelopeHandler processes an incoming message. For request/reply,
// return an envelope to send as the response; return nil for no
// response.
type EnvelopeHandler func(msg *Message) *envelope.Envelope

// Message represents an incoming message from the bus.
type Message struct {
	Subject  string
	Envelope *envelope.Envelope
	ReplyTo  string // Set if sender expects a response
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// EnvelopeQueue is a per-recipient FIFO of envelopes awaiting delivery.
// Push always succeeds once the queue is open (spec §4.1 "Failure
// semantics": a disconnected agent's queue backs up in memory rather
// than losing messages). Pull hands the caller ownership of the
// envelope by message_id; Ack/Nack let a durable backend (NATSQueue)
// retry a failed delivery without the router needing to know the
// difference between backends.
type EnvelopeQueue interface {
	// Push enqueues env at the tail.
	Push(ctx context.Context, env *envelope.Envelope) error

	// Pull retrieves the next envelope, blocking until one is available
	// or ctx is cancelled.
	Pull(ctx context.Context) (*envelope.Envelope, error)

	// Ack retires a pulled envelope by message_id.
	Ack(ctx context.Context, messageID string) error

	// Nack returns a pulled envelope to the queue for redelivery.
	Nack(ctx context.Context, messageID string) error

	// Len returns the approximate number of pending envelopes.
	Len(ctx context.Context) (int, error)

	// Name returns the queue name (the agent id it backs).
	Name() string

	// Close wakes any blocked Pull and rejects further Push calls.
	Close() error
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "chorus-router",
		Timeout: 30 * time.Second,
	}
}

// AgentSubject returns the pub/sub subject for agentID. The per-agent
// queues returned by Queue do not use it.
func AgentSubject(agentID string) string {
	return "chorus.agent." + agentID
}

// ChannelSubject returns the subject a channel's members are subscribed
// to for multicast delivery.
func ChannelSubject(channel string) string {
	return "chorus.channel." + channel
}
