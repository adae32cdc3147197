package team

import (
	"fmt"
	"sync"
	"time"

	"github.com/chorusrt/chorus/internal/envelope"
)

// Decentralized implements spec §4.6.2: an attached voting service
// decides outcomes; iterate polls it on a fixed interval rather than
// waiting for a dedicated coordinator reply.
type Decentralized struct {
	mu        sync.Mutex
	teamID    string
	members   []string
	voting    *VotingService
	timeLimit time.Duration

	currentTaskID string
	requester     string
	taskStart     time.Time
	lastCheck     time.Time
	queue         []TaskInfo
}

// NewDecentralized constructs a Decentralized collaboration backed by
// voting, broadcasting new tasks to members and deciding with timeLimit
// as the per-task deadline.
func NewDecentralized(teamID string, members []string, voting *VotingService, timeLimit time.Duration) *Decentralized {
	return &Decentralized{teamID: teamID, members: members, voting: voting, timeLimit: timeLimit}
}

// Voting exposes the backing VotingService so it can also be
// registered as the team's "voting" team_service, letting members
// propose/vote directly as well as have tasks auto-decided.
func (d *Decentralized) Voting() *VotingService { return d.voting }

// HandleMessage starts a new task if idle, else queues it (spec
// §4.6.2 "On inbound message").
func (d *Decentralized) HandleMessage(m *envelope.Envelope) []*envelope.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.currentTaskID == "" {
		d.currentTaskID = m.MessageID
		d.requester = m.Source
		d.taskStart = time.Now()
		d.lastCheck = d.taskStart

		out := make([]*envelope.Envelope, 0, len(d.members))
		for _, member := range d.members {
			if member == m.Source {
				continue
			}
			broadcast := m.Clone()
			broadcast.Source = d.teamID
			broadcast.Destination = member
			out = append(out, broadcast)
		}
		return out
	}

	d.queue = append(d.queue, TaskInfo{Envelope: m, Requester: m.Source})
	position := len(d.queue)
	notice := envelope.New(envelope.EventNotification, d.teamID, m.Source)
	notice.WithContent(fmt.Sprintf("queued, position = %d", position))
	return []*envelope.Envelope{notice}
}

// Tick runs the periodic check of spec §4.6.2 steps 1-4: expire a task
// past its time limit, otherwise ask the voting service for a decision.
func (d *Decentralized) Tick() []*envelope.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.currentTaskID == "" {
		return nil
	}
	d.lastCheck = time.Now()

	if d.timeLimit > 0 && time.Since(d.taskStart) > d.timeLimit {
		out := []*envelope.Envelope{
			noteTo(d.teamID, d.requester, "no decision within time limit"),
		}
		out = append(out, d.broadcastToMembers("collaboration ended")...)
		out = append(out, d.endTask()...)
		return out
	}

	if content, ok := d.voting.GetDecision(); ok {
		out := []*envelope.Envelope{
			noteTo(d.teamID, d.requester, fmt.Sprintf("decision reached: %s", content)),
		}
		out = append(out, d.broadcastToMembers(fmt.Sprintf("decision reached: %s", content))...)
		out = append(out, d.endTask()...)
		return out
	}

	return nil
}

func noteTo(from, to, content string) *envelope.Envelope {
	e := envelope.New(envelope.EventNotification, from, to)
	e.WithContent(content)
	return e
}

func (d *Decentralized) broadcastToMembers(content string) []*envelope.Envelope {
	out := make([]*envelope.Envelope, 0, len(d.members))
	for _, member := range d.members {
		out = append(out, noteTo(d.teamID, member, content))
	}
	return out
}

// endTask clears the current task and, if the queue is non-empty,
// dequeues the next one and notifies remaining requesters of their
// updated positions (spec §4.6.2 step 4).
func (d *Decentralized) endTask() []*envelope.Envelope {
	d.currentTaskID = ""
	d.requester = ""

	if len(d.queue) == 0 {
		return nil
	}

	next := d.queue[0]
	d.queue = d.queue[1:]
	d.currentTaskID = next.Envelope.MessageID
	d.requester = next.Requester
	d.taskStart = time.Now()

	out := make([]*envelope.Envelope, 0, len(d.members)+len(d.queue))
	for _, member := range d.members {
		if member == next.Requester {
			continue
		}
		broadcast := next.Envelope.Clone()
		broadcast.Source = d.teamID
		broadcast.Destination = member
		out = append(out, broadcast)
	}
	for i, task := range d.queue {
		out = append(out, noteTo(d.teamID, task.Requester, fmt.Sprintf("queued, position = %d", i+1)))
	}
	return out
}
