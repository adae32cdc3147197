package bus

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chorusrt/chorus/internal/envelope"
)

// MemoryBus is the default, single-process implementation of MessageBus.
// It is what the router uses when CHORUS_BUS_URL is unset: all fan-out
// happens via Go data structures inside the router's own process,
// matching the "router is a single process on localhost" non-goal.
// Envelopes pass between publisher and subscriber (and between Push and
// Pull) as the same pointer — no marshal/unmarshal round trip, since
// nothing here crosses a process boundary.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	queues        map[string]*memoryQueue
	closed        atomic.Bool
	subCounter    atomic.Uint64
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*memorySubscription),
		queues:        make(map[string]*memoryQueue),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, env *envelope.Envelope) error {
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject:  subject,
		Envelope: env,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, subs := range b.subscriptions {
		if matchSubject(pattern, subject) {
			for _, sub := range subs {
				if sub.closed.Load() {
					continue
				}
				// Non-blocking send to avoid deadlocks. This channel is
				// the observability fan-out, not the router's delivery
				// path (that's EnvelopeQueue below), so a slow observer
				// drops rather than backing up the router.
				select {
				case sub.messages <- msg:
				default:
				}
			}
		}
	}

	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler EnvelopeHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:       fmt.Sprintf("sub-%d", b.subCounter.Add(1)),
		subject:  subject,
		messages: make(chan *Message, 256),
		handler:  handler,
		bus:      b,
	}

	b.mu.Lock()
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	b.mu.Unlock()

	go sub.run(ctx)

	return sub, nil
}

func (b *MemoryBus) QueueSubscribe(ctx context.Context, subject, queue string, handler EnvelopeHandler) (Subscription, error) {
	// For in-memory, queue subscribe is same as regular subscribe
	// (proper load balancing would need more sophisticated implementation)
	return b.Subscribe(ctx, subject, handler)
}

func (b *MemoryBus) Request(ctx context.Context, subject string, env *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	replySubject := fmt.Sprintf("_INBOX.%s", ulid.Make().String())
	replyChan := make(chan *envelope.Envelope, 1)

	sub, err := b.Subscribe(ctx, replySubject, func(msg *Message) *envelope.Envelope {
		select {
		case replyChan <- msg.Envelope:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := &Message{
		Subject:  subject,
		Envelope: env,
		ReplyTo:  replySubject,
	}

	b.mu.RLock()
	foundResponder := false
	for pattern, subs := range b.subscriptions {
		if matchSubject(pattern, subject) {
			for _, s := range subs {
				if s.closed.Load() {
					continue
				}
				foundResponder = true
				select {
				case s.messages <- msg:
				default:
				}
			}
		}
	}
	b.mu.RUnlock()

	if !foundResponder {
		return nil, ErrNoResponders
	}

	select {
	case reply := <-replyChan:
		return reply, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBus) Queue(name string) EnvelopeQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q
	}

	q := newMemoryQueue(name)
	b.queues[name] = q
	return q
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.closed.Store(true)
			close(sub.messages)
		}
	}

	for _, q := range b.queues {
		q.Close()
	}

	return nil
}

// memorySubscription implements Subscription for MemoryBus.
type memorySubscription struct {
	id       string
	subject  string
	messages chan *Message
	handler  EnvelopeHandler
	bus      *MemoryBus
	closed   atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.messages:
			if !ok {
				return
			}
			reply := s.handler(msg)
			if reply != nil && msg.ReplyTo != "" {
				_ = s.bus.Publish(ctx, msg.ReplyTo, reply)
			}
		case <-ctx.Done():
			return
		}
	}
}

// memoryQueue implements EnvelopeQueue for MemoryBus. Unlike the
// generic, bounded channel the teacher's task queue used, this one is
// the router's real per-agent outbound queue: it must never drop
// (spec §4.1 "Failure semantics"), so it is backed by an unbounded
// container/list FIFO guarded by a sync.Cond rather than a fixed-
// capacity channel. Inflight tracking is keyed by envelope.MessageID
// (not a generated task id), since the unit of work here is always an
// envelope the router already assigned an id to.
type memoryQueue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool

	inflightMu sync.Mutex
	inflight   map[string]*envelope.Envelope
}

func newMemoryQueue(name string) *memoryQueue {
	q := &memoryQueue{
		name:     name,
		items:    list.New(),
		inflight: make(map[string]*envelope.Envelope),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *memoryQueue) Push(ctx context.Context, env *envelope.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items.PushBack(env)
	q.cond.Signal()
	return nil
}

func (q *memoryQueue) Pull(ctx context.Context) (*envelope.Envelope, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	for q.items.Len() == 0 && !q.closed {
		if ctx.Err() != nil {
			q.mu.Unlock()
			return nil, ctx.Err()
		}
		q.cond.Wait()
	}
	if q.items.Len() == 0 {
		q.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrClosed
	}
	front := q.items.Front()
	q.items.Remove(front)
	q.mu.Unlock()

	env := front.Value.(*envelope.Envelope)
	q.inflightMu.Lock()
	q.inflight[env.MessageID] = env
	q.inflightMu.Unlock()
	return env, nil
}

func (q *memoryQueue) Ack(ctx context.Context, messageID string) error {
	q.inflightMu.Lock()
	defer q.inflightMu.Unlock()
	delete(q.inflight, messageID)
	return nil
}

func (q *memoryQueue) Nack(ctx context.Context, messageID string) error {
	q.inflightMu.Lock()
	env, ok := q.inflight[messageID]
	if ok {
		delete(q.inflight, messageID)
	}
	q.inflightMu.Unlock()

	if !ok {
		return nil
	}
	return q.Push(ctx, env)
}

func (q *memoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

func (q *memoryQueue) Name() string {
	return q.name
}

// Close wakes any blocked Pull and rejects further Push calls.
func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

// matchSubject checks if a subject matches a pattern with wildcards.
// Supports "*" for single token and ">" for multiple tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			return true
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}

	return pi == len(patternParts) && si == len(subjectParts)
}
