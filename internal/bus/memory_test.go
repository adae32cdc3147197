package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorusrt/chorus/internal/envelope"
)

func TestMemoryBusPublishSubscribeDelivers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	_, err := b.Subscribe(ctx, AgentSubject("agent:a"), func(msg *Message) *envelope.Envelope {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	env := envelope.New(envelope.EventMessage, "agent:x", "agent:a").WithContent("hello")
	require.NoError(t, b.Publish(ctx, AgentSubject("agent:a"), env))

	select {
	case msg := <-received:
		assert.Same(t, env, msg.Envelope, "in-process delivery must not round-trip through serialization")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBusWildcardSubjectMatches(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	_, err := b.Subscribe(ctx, "chorus.agent.*", func(msg *Message) *envelope.Envelope {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	env := envelope.New(envelope.EventMessage, "agent:x", "agent:b")
	require.NoError(t, b.Publish(ctx, AgentSubject("agent:b"), env))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("wildcard subscription never matched")
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	sub, err := b.Subscribe(ctx, "chorus.agent.a", func(msg *Message) *envelope.Envelope {
		received <- msg
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	env := envelope.New(envelope.EventMessage, "agent:x", "agent:a")
	require.NoError(t, b.Publish(ctx, "chorus.agent.a", env))

	select {
	case <-received:
		t.Fatal("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusRequestReplyRoundTrips(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "chorus.rpc.echo", func(msg *Message) *envelope.Envelope {
		return msg.Envelope
	})
	require.NoError(t, err)

	req := envelope.New(envelope.EventMessage, "agent:x", "").WithContent("ping")
	reply, err := b.Request(ctx, "chorus.rpc.echo", req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", reply.Content)
}

func TestMemoryBusRequestWithNoRespondersErrors(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	req := envelope.New(envelope.EventMessage, "agent:x", "")
	_, err := b.Request(ctx, "chorus.rpc.nobody", req, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoResponders)
}

func TestMemoryBusQueuePushPullAckRoundTrips(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	q := b.Queue("toolbox")
	env := envelope.New(envelope.EventMessage, "agent:a", "agent:b").WithContent("task-1")
	require.NoError(t, q.Push(ctx, env))

	got, err := q.Pull(ctx)
	require.NoError(t, err)
	assert.Same(t, env, got)

	require.NoError(t, q.Ack(ctx, got.MessageID))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryBusQueueNackRequeuesTask(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	q := b.Queue("toolbox")
	env := envelope.New(envelope.EventMessage, "agent:a", "agent:b").WithContent("task-1")
	require.NoError(t, q.Push(ctx, env))

	got, err := q.Pull(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, got.MessageID))

	requeued, err := q.Pull(ctx)
	require.NoError(t, err)
	assert.Same(t, env, requeued)
}

func TestMemoryBusQueueNeverDropsUnderLoad(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	q := b.Queue("agent:b")
	const total = 5000
	for i := 0; i < total; i++ {
		require.NoError(t, q.Push(ctx, envelope.New(envelope.EventMessage, "agent:a", "agent:b")))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, n, "the router's outbound queue must never drop, unlike the bounded fan-out channels above")
}

func TestMemoryBusQueueCloseUnblocksPull(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	q := b.Queue("agent:a")
	done := make(chan error, 1)
	go func() {
		_, err := q.Pull(ctx)
		done <- err
	}()

	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Pull never returned after Close")
	}
}

func TestMemoryBusCloseRejectsFurtherOperations(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	env := envelope.New(envelope.EventMessage, "agent:x", "agent:a")
	assert.ErrorIs(t, b.Publish(context.Background(), "x", env), ErrClosed)
	assert.ErrorIs(t, b.Close(), ErrClosed)
}

func TestAgentAndChannelSubjectNaming(t *testing.T) {
	assert.Equal(t, "chorus.agent.agent:a", AgentSubject("agent:a"))
	assert.Equal(t, "chorus.channel.main", ChannelSubject("main"))
}
