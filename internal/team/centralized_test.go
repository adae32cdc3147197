package team

import (
	"testing"

	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentralizedForwardsFirstRequestToCoordinator(t *testing.T) {
	c := NewCentralized("team:1", "agent:coord")
	req := envelope.New(envelope.EventMessage, "agent:a", "team:1").WithContent("do thing")

	out := c.HandleMessage(req)
	require.Len(t, out, 1)
	assert.Equal(t, "agent:coord", out[0].Destination)
	assert.Equal(t, "team:1", out[0].Source)
	assert.Equal(t, "do thing", out[0].Content)
}

func TestCentralizedQueuesSecondRequestWhileBusy(t *testing.T) {
	c := NewCentralized("team:1", "agent:coord")
	c.HandleMessage(envelope.New(envelope.EventMessage, "agent:a", "team:1"))

	out := c.HandleMessage(envelope.New(envelope.EventMessage, "agent:b", "team:1"))
	require.Len(t, out, 1)
	assert.Equal(t, "agent:b", out[0].Destination)
	assert.Contains(t, out[0].Content, "position = 1")
}

func TestCentralizedCoordinatorReplyGoesToOriginalRequester(t *testing.T) {
	c := NewCentralized("team:1", "agent:coord")
	c.HandleMessage(envelope.New(envelope.EventMessage, "agent:a", "team:1"))

	reply := c.HandleMessage(envelope.New(envelope.EventMessage, "agent:coord", "team:1").WithContent("done"))
	require.Len(t, reply, 1)
	assert.Equal(t, "agent:a", reply[0].Destination)
	assert.Equal(t, "done", reply[0].Content)
}

func TestCentralizedDequeuesNextTaskAfterCoordinatorReply(t *testing.T) {
	c := NewCentralized("team:1", "agent:coord")
	c.HandleMessage(envelope.New(envelope.EventMessage, "agent:a", "team:1"))
	c.HandleMessage(envelope.New(envelope.EventMessage, "agent:b", "team:1"))

	out := c.HandleMessage(envelope.New(envelope.EventMessage, "agent:coord", "team:1").WithContent("done a"))
	require.Len(t, out, 2)
	assert.Equal(t, "agent:a", out[0].Destination)
	assert.Equal(t, "agent:coord", out[1].Destination)
}

func TestCentralizedTickIsNoOp(t *testing.T) {
	c := NewCentralized("team:1", "agent:coord")
	assert.Nil(t, c.Tick())
}
