package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chorusrt/chorus/internal/envelope"
)

// NATSBus implements MessageBus using NATS, selected when CHORUS_BUS_URL
// is set. Unlike MemoryBus, envelopes genuinely cross a process (and
// often a machine) boundary here, so every operation marshals to and
// from JSON at the NATS message body rather than passing a pointer.
// JetStream-backed queues give the router's per-agent outbound queues
// durable, redeliverable storage without the router itself needing to
// persist the message log (the non-goal this runtime still honors).
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config Config
	mu     sync.RWMutex
	queues map[string]*natsQueue
	closed atomic.Bool
}

// NewNATSBus creates a new NATS-backed message bus.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &NATSBus{
		conn:   conn,
		js:     js,
		config: cfg,
		queues: make(map[string]*natsQueue),
	}, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
// Useful for testing with embedded NATS server.
func NewNATSBusFromConn(conn *nats.Conn) (*NATSBus, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &NATSBus{
		conn:   conn,
		js:     js,
		config: DefaultConfig(),
		queues: make(map[string]*natsQueue),
	}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, env *envelope.Envelope) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler EnvelopeHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.conn.Subscribe(subject, natsEnvelopeHandler(handler))
	if err != nil {
		return nil, err
	}

	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) QueueSubscribe(ctx context.Context, subject, queue string, handler EnvelopeHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.conn.QueueSubscribe(subject, queue, natsEnvelopeHandler(handler))
	if err != nil {
		return nil, err
	}

	return &natsSubscription{sub: sub}, nil
}

func natsEnvelopeHandler(handler EnvelopeHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var env envelope.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		m := &Message{
			Subject:  msg.Subject,
			Envelope: &env,
			ReplyTo:  msg.Reply,
		}
		reply := handler(m)
		if reply != nil && msg.Reply != "" {
			if data, err := json.Marshal(reply); err == nil {
				_ = msg.Respond(data)
			}
		}
	}
}

func (b *NATSBus) Request(ctx context.Context, subject string, env *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("bus: marshal envelope: %w", err)
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if err == nats.ErrNoResponders {
			return nil, ErrNoResponders
		}
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, err
	}

	var reply envelope.Envelope
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("bus: unmarshal reply envelope: %w", err)
	}
	return &reply, nil
}

func (b *NATSBus) Queue(name string) EnvelopeQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q
	}

	q := &natsQueue{
		name:    name,
		js:      b.js,
		pending: make(map[string]jetstream.Msg),
	}
	b.queues[name] = q
	return q
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection.
// Useful for advanced operations not exposed by MessageBus.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// JetStream returns the JetStream context.
func (b *NATSBus) JetStream() jetstream.JetStream {
	return b.js
}

// natsSubscription wraps a NATS subscription.
type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}

// natsQueue implements EnvelopeQueue using JetStream's work-queue
// retention policy: Push publishes to a per-agent stream, Pull fetches
// the next unacked message, and Ack/Nack resolve the jetstream.Msg the
// router has in flight, keyed by the envelope's message_id so the
// router never has to know it's talking to a durable backend instead
// of MemoryBus's in-process list.
type natsQueue struct {
	name     string
	js       jetstream.JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer
	init     sync.Once
	initErr  error

	mu      sync.Mutex
	pending map[string]jetstream.Msg
}

func (q *natsQueue) ensureStream(ctx context.Context) error {
	q.init.Do(func() {
		streamName := fmt.Sprintf("CHORUS_QUEUE_%s", q.name)

		q.stream, q.initErr = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:        streamName,
			Subjects:    []string{fmt.Sprintf("chorus.queue.%s", q.name)},
			Retention:   jetstream.WorkQueuePolicy,
			MaxMsgs:     100000,
			MaxBytes:    1024 * 1024 * 1024, // 1GB
			Discard:     jetstream.DiscardOld,
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			AllowDirect: true,
		})
		if q.initErr != nil {
			return
		}

		consumerName := fmt.Sprintf("chorus_worker_%s", q.name)
		q.consumer, q.initErr = q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       5 * time.Minute,
			MaxDeliver:    5,
			MaxAckPending: 1000,
		})
	})
	return q.initErr
}

func (q *natsQueue) Push(ctx context.Context, env *envelope.Envelope) error {
	if err := q.ensureStream(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("chorus.queue.%s", q.name)
	_, err = q.js.Publish(ctx, subject, data)
	return err
}

func (q *natsQueue) Pull(ctx context.Context) (*envelope.Envelope, error) {
	if err := q.ensureStream(ctx); err != nil {
		return nil, err
	}

	for {
		msgs, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(30*time.Second))
		if err != nil {
			return nil, err
		}

		for msg := range msgs.Messages() {
			var env envelope.Envelope
			if err := json.Unmarshal(msg.Data(), &env); err != nil {
				_ = msg.Ack() // malformed payload: drop it, don't wedge the stream
				continue
			}
			q.mu.Lock()
			q.pending[env.MessageID] = msg
			q.mu.Unlock()
			return &env, nil
		}

		if msgs.Error() != nil {
			return nil, msgs.Error()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (q *natsQueue) Ack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	msg, ok := q.pending[messageID]
	if ok {
		delete(q.pending, messageID)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return msg.Ack()
}

func (q *natsQueue) Nack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	msg, ok := q.pending[messageID]
	if ok {
		delete(q.pending, messageID)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return msg.Nak()
}

func (q *natsQueue) Len(ctx context.Context) (int, error) {
	if err := q.ensureStream(ctx); err != nil {
		return 0, err
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return int(info.State.Msgs), nil
}

func (q *natsQueue) Name() string {
	return q.name
}

// Close is a no-op: the underlying JetStream stream/consumer outlive
// one router process by design (that's the point of choosing NATS
// over MemoryBus), so closing a queue here only means "this router
// stopped pulling from it", which Pull's ctx cancellation already
// covers.
func (q *natsQueue) Close() error {
	return nil
}
