package team

import (
	"fmt"
	"sync"

	"github.com/chorusrt/chorus/internal/envelope"
)

// TaskInfo pairs an inbound envelope with the agent id that requested
// it, so the team can route the coordinator's eventual reply back
// without exposing the requester to the coordinator (spec §4.6.1).
type TaskInfo struct {
	Envelope  *envelope.Envelope
	Requester string
}

// Centralized implements spec §4.6.1: a single designated coordinator
// agent processes at most one task at a time; everyone else's requests
// queue in arrival order.
type Centralized struct {
	mu          sync.Mutex
	teamID      string
	coordinator string
	queue       []TaskInfo
	current     *TaskInfo
}

// NewCentralized constructs a Centralized collaboration for teamID,
// whose designated coordinator agent is one of the team's members.
func NewCentralized(teamID, coordinatorID string) *Centralized {
	return &Centralized{teamID: teamID, coordinator: coordinatorID}
}

// HandleMessage implements the state machine of spec §4.6.1.
func (c *Centralized) HandleMessage(m *envelope.Envelope) []*envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.Source == c.coordinator {
		return c.handleCoordinatorReply(m)
	}

	if c.current == nil {
		c.current = &TaskInfo{Envelope: m, Requester: m.Source}
		forward := m.Clone()
		forward.Source = c.teamID
		forward.Destination = c.coordinator
		return []*envelope.Envelope{forward}
	}

	c.queue = append(c.queue, TaskInfo{Envelope: m, Requester: m.Source})
	position := len(c.queue)
	notice := envelope.New(envelope.EventNotification, c.teamID, m.Source)
	notice.WithContent(fmt.Sprintf("queued, position = %d", position))
	return []*envelope.Envelope{notice}
}

func (c *Centralized) handleCoordinatorReply(m *envelope.Envelope) []*envelope.Envelope {
	if c.current == nil {
		return nil
	}

	reply := m.Clone()
	reply.Source = c.teamID
	reply.Destination = c.current.Requester
	out := []*envelope.Envelope{reply}
	c.current = nil

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.current = &next
		forward := next.Envelope.Clone()
		forward.Source = c.teamID
		forward.Destination = c.coordinator
		out = append(out, forward)
	}

	return out
}

// Tick is a no-op: centralized collaboration is driven entirely by
// inbound messages, not by polling (spec §4.6.1 has no periodic step).
func (c *Centralized) Tick() []*envelope.Envelope { return nil }
