package passiveloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/passiveloop"
	"github.com/chorusrt/chorus/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestRouter(t *testing.T) string {
	t.Helper()
	r := router.New(router.DefaultConfig(), nil)
	server, err := router.Listen(r, "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		r.Close()
	})
	return server.Addr().String()
}

func echoResponder(received *[]*envelope.Envelope) passiveloop.Responder {
	return passiveloop.ResponderFunc(func(ctx context.Context, state *passiveloop.State, inbound *envelope.Envelope) (*passiveloop.State, error) {
		*received = append(*received, inbound)
		return state, nil
	})
}

func TestLoopIterateProcessesFirstUnprocessedInboundOnce(t *testing.T) {
	addr := startTestRouter(t)

	self, err := agentclient.Dial(context.Background(), addr, "agent:b", "", "", 2*time.Second)
	require.NoError(t, err)
	defer self.Stop()
	peer, err := agentclient.Dial(context.Background(), addr, "agent:a", "", "", 2*time.Second)
	require.NoError(t, err)
	defer peer.Stop()

	require.NoError(t, peer.SendMessage(envelope.New(envelope.EventMessage, "agent:a", "agent:b").WithContent("hi")))
	require.Eventually(t, func() bool { return len(self.FetchAllMessages()) == 1 }, time.Second, 10*time.Millisecond)

	var received []*envelope.Envelope
	loop := passiveloop.NewLoop("agent:b", self, echoResponder(&received), nil)
	state := passiveloop.NewState()

	state, err = loop.Iterate(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "hi", received[0].Content)

	// A second Iterate with no new message must not re-invoke Respond.
	state, err = loop.Iterate(context.Background(), state)
	require.NoError(t, err)
	assert.Len(t, received, 1)
}

func TestLoopIterateIgnoresConfiguredSources(t *testing.T) {
	addr := startTestRouter(t)
	self, err := agentclient.Dial(context.Background(), addr, "agent:b", "", "", 2*time.Second)
	require.NoError(t, err)
	defer self.Stop()
	peer, err := agentclient.Dial(context.Background(), addr, "agent:noisy", "", "", 2*time.Second)
	require.NoError(t, err)
	defer peer.Stop()

	require.NoError(t, peer.SendMessage(envelope.New(envelope.EventMessage, "agent:noisy", "agent:b").WithContent("spam")))
	require.Eventually(t, func() bool { return len(self.FetchAllMessages()) == 1 }, time.Second, 10*time.Millisecond)

	var received []*envelope.Envelope
	loop := passiveloop.NewLoop("agent:b", self, echoResponder(&received), []string{"agent:noisy"})

	_, err = loop.Iterate(context.Background(), passiveloop.NewState())
	require.NoError(t, err)
	assert.Empty(t, received)
}

func TestLoopIterateNoEligibleMessageReturnsStateUnchanged(t *testing.T) {
	addr := startTestRouter(t)
	self, err := agentclient.Dial(context.Background(), addr, "agent:b", "", "", 2*time.Second)
	require.NoError(t, err)
	defer self.Stop()

	var received []*envelope.Envelope
	loop := passiveloop.NewLoop("agent:b", self, echoResponder(&received), nil)
	state := passiveloop.NewState()

	got, err := loop.Iterate(context.Background(), state)
	require.NoError(t, err)
	assert.Same(t, state, got)
	assert.Empty(t, received)
}

func TestLoopIteratePopulatesHistoryViaSelector(t *testing.T) {
	addr := startTestRouter(t)

	self, err := agentclient.Dial(context.Background(), addr, "agent:b", "", "", 2*time.Second)
	require.NoError(t, err)
	defer self.Stop()
	peer, err := agentclient.Dial(context.Background(), addr, "agent:a", "", "", 2*time.Second)
	require.NoError(t, err)
	defer peer.Stop()

	require.NoError(t, peer.SendMessage(envelope.New(envelope.EventMessage, "agent:a", "agent:b").WithContent("hi")))
	require.Eventually(t, func() bool { return len(self.FetchAllMessages()) == 1 }, time.Second, 10*time.Millisecond)

	var seenHistoryLen int
	responder := passiveloop.ResponderFunc(func(ctx context.Context, state *passiveloop.State, inbound *envelope.Envelope) (*passiveloop.State, error) {
		seenHistoryLen = len(state.History)
		return state, nil
	})
	loop := passiveloop.NewLoop("agent:b", self, responder, nil)

	_, err = loop.Iterate(context.Background(), passiveloop.NewState())
	require.NoError(t, err)
	assert.Equal(t, 1, seenHistoryLen)
}

func TestStatusReporterTransitionsBusyThenIdle(t *testing.T) {
	addr := startTestRouter(t)
	self, err := agentclient.Dial(context.Background(), addr, "agent:b", "", "", 2*time.Second)
	require.NoError(t, err)
	defer self.Stop()
	peer, err := agentclient.Dial(context.Background(), addr, "agent:a", "", "", 2*time.Second)
	require.NoError(t, err)
	defer peer.Stop()

	require.NoError(t, peer.SendMessage(envelope.New(envelope.EventMessage, "agent:a", "agent:b").WithContent("hi")))
	require.Eventually(t, func() bool { return len(self.FetchAllMessages()) == 1 }, time.Second, 10*time.Millisecond)

	var transitions []passiveloop.Status
	loop := passiveloop.NewLoop("agent:b", self, echoResponder(&[]*envelope.Envelope{}), nil)
	loop.Reporter = recordingReporter{transitions: &transitions}

	_, err = loop.Iterate(context.Background(), passiveloop.NewState())
	require.NoError(t, err)
	assert.Equal(t, []passiveloop.Status{passiveloop.StatusBusy, passiveloop.StatusIdle}, transitions)
}

type recordingReporter struct {
	transitions *[]passiveloop.Status
}

func (r recordingReporter) ReportStatus(agentID string, status passiveloop.Status) {
	*r.transitions = append(*r.transitions, status)
}
