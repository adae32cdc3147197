// Package agentclient implements the per-process transport handle
// described in spec §4.2: the API a hosted agent uses to talk to the
// router, plus the local ordered view of everything it has observed.
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/wire"
	"github.com/google/uuid"
)

// PollInterval is the bounded sleep wait_for_response polls at (spec
// §4.2 step 2).
const PollInterval = 50 * time.Millisecond

// Client is the agent-side connection to the router.
//
// Concurrency contract (spec §4.2): the receive loop appends to view
// under mu; the hosted agent's iterate task reads view under the same
// mu. SendMessage is fire-and-forget.
type Client struct {
	transport *wire.Transport
	agentID   string
	teamID    string

	mu            sync.Mutex
	view          []*envelope.Envelope
	teamInfo      *wire.TeamInfoPayload
	stopRequested bool
	closed        bool
	closeErr      error
}

// Dial connects to the router at addr, registers agentID (optionally
// as a member of teamID), and starts the background receive loop. It
// blocks until register_ack arrives (spec §4.3 step 2).
func Dial(ctx context.Context, addr, agentID, teamID, endpoint string, timeout time.Duration) (*Client, error) {
	t, err := wire.Dial(addr, timeout)
	if err != nil {
		return nil, err
	}

	regFrame, err := wire.EncodePayload(wire.MsgRegister, agentID, uuid.NewString(),
		wire.RegisterPayload{Endpoint: endpoint, TeamID: teamID})
	if err != nil {
		t.Close()
		return nil, err
	}
	if err := t.WriteFrame(regFrame); err != nil {
		t.Close()
		return nil, err
	}

	ack, err := t.ReadFrame()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("agentclient: awaiting register_ack: %w", err)
	}
	if ack.MsgType != wire.MsgRegisterAck {
		t.Close()
		return nil, fmt.Errorf("agentclient: expected register_ack, got %s", ack.MsgType)
	}
	var ackPayload wire.RegisterAckPayload
	if err := ack.DecodePayload(&ackPayload); err != nil {
		t.Close()
		return nil, err
	}
	if !ackPayload.Accepted {
		t.Close()
		return nil, fmt.Errorf("agentclient: registration rejected: %s", ackPayload.Reason)
	}

	c := &Client{transport: t, agentID: agentID, teamID: teamID}
	go c.receiveLoop()
	return c, nil
}

func (c *Client) receiveLoop() {
	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.closeErr = err
			c.mu.Unlock()
			return
		}

		switch frame.MsgType {
		case wire.MsgAgentMessage, wire.MsgRouterMessage:
			var env envelope.Envelope
			if err := frame.DecodePayload(&env); err != nil {
				continue
			}
			c.mu.Lock()
			c.view = append(c.view, &env)
			c.mu.Unlock()

		case wire.MsgTeamInfo:
			var info wire.TeamInfoPayload
			if err := frame.DecodePayload(&info); err != nil {
				continue
			}
			c.mu.Lock()
			c.teamInfo = &info
			c.mu.Unlock()

		case wire.MsgStop:
			c.mu.Lock()
			c.stopRequested = true
			c.mu.Unlock()
			ack, _ := wire.EncodePayload(wire.MsgStopAck, c.agentID, frame.MsgID, nil)
			_ = c.transport.WriteFrame(ack)

		case wire.MsgHeartbeat:
			ack, _ := wire.EncodePayload(wire.MsgHeartbeatAck, c.agentID, frame.MsgID, nil)
			_ = c.transport.WriteFrame(ack)
		}
	}
}

// SendMessage fire-and-forgets env to the router. Source defaults to
// this client's agentID if unset.
func (c *Client) SendMessage(env *envelope.Envelope) error {
	if env.Source == "" {
		env.Source = c.agentID
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	frame := &wire.Frame{MsgType: wire.MsgAgentMessage, AgentID: c.agentID, MsgID: env.MessageID, Payload: payload}
	return c.transport.WriteFrame(frame)
}

// FetchAllMessages returns an ordered snapshot of everything this
// client has observed so far.
func (c *Client) FetchAllMessages() []*envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*envelope.Envelope, len(c.view))
	copy(out, c.view)
	return out
}

// FilterMessages returns the subset of FetchAllMessages matching the
// given source/destination/channel; an empty string matches any value
// for that field.
func (c *Client) FilterMessages(source, destination, channel string) []*envelope.Envelope {
	all := c.FetchAllMessages()
	out := make([]*envelope.Envelope, 0, len(all))
	for _, env := range all {
		if source != "" && env.Source != source {
			continue
		}
		if destination != "" && env.Destination != destination {
			continue
		}
		if channel != "" && env.Channel != channel {
			continue
		}
		out = append(out, env)
	}
	return out
}

// WaitForResponse implements spec §4.2's wait_for_response: it
// snapshots the already-seen baseline at call entry, then polls for
// the first new envelope matching the filter. Timeout and context
// cancellation both return nil without error.
func (c *Client) WaitForResponse(ctx context.Context, source, destination, channel string, timeout time.Duration) *envelope.Envelope {
	baseline := make(map[string]struct{})
	for _, env := range c.FilterMessages(source, destination, channel) {
		baseline[env.MessageID] = struct{}{}
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, env := range c.FilterMessages(source, destination, channel) {
				if _, seen := baseline[env.MessageID]; !seen {
					return env
				}
			}
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}

// TeamInfo returns the team_info payload received after registration,
// or nil if this agent is not a team member (or it hasn't arrived yet).
func (c *Client) TeamInfo() *wire.TeamInfoPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teamInfo
}

// StopRequested reports whether the router has asked this agent to
// stop (spec §4.3 step 4).
func (c *Client) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// Closed reports whether the underlying connection has dropped, and
// the error that caused it, if any.
func (c *Client) Closed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeErr
}

// Heartbeat sends a heartbeat frame to the router.
func (c *Client) Heartbeat() error {
	frame, err := wire.EncodePayload(wire.MsgHeartbeat, c.agentID, uuid.NewString(), nil)
	if err != nil {
		return err
	}
	return c.transport.WriteFrame(frame)
}

// Stop sends a stop frame and closes the connection right after the
// write; it does not wait for the router's stop_ack.
func (c *Client) Stop() error {
	frame, err := wire.EncodePayload(wire.MsgStop, c.agentID, uuid.NewString(), nil)
	if err != nil {
		return err
	}
	if err := c.transport.WriteFrame(frame); err != nil {
		return err
	}
	return c.transport.Close()
}

// AgentID returns the id this client registered with.
func (c *Client) AgentID() string { return c.agentID }

// PushState sends a best-effort serialized snapshot of the agent's
// state to the router after each iterate (spec §4.2 "State sync"), so
// the router can surface it to save_checkpoint.
func (c *Client) PushState(state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	frame := &wire.Frame{MsgType: wire.MsgStatusUpdate, AgentID: c.agentID, MsgID: uuid.NewString(), Payload: data}
	return c.transport.WriteFrame(frame)
}
