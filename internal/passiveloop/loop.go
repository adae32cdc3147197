// Package passiveloop implements the default iterate loop of spec §4.4:
// an agent that waits for messages directed to it and responds, rather
// than initiating interactions on its own.
package passiveloop

import (
	"context"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/view"
)

// Status mirrors the busy/idle signal the host reports while an
// iterate call is in flight (spec §4.4 step 4).
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// State is the per-agent state threaded through iterate calls.
type State struct {
	Processed map[string]struct{}
	// InternalEvents is this agent's own thought/action/observation
	// trail, merged with external history by the message-view selector
	// (spec §4.5).
	InternalEvents []*envelope.Envelope
	// History is the view a Responder should answer inbound in the
	// context of, as narrowed by Loop.Selector (spec §4.5). Recomputed
	// on every Iterate call that dispatches to Respond.
	History []*envelope.Envelope
}

// NewState returns an empty State.
func NewState() *State {
	return &State{Processed: make(map[string]struct{})}
}

// Responder is implemented by a hosted agent's behavior. It receives
// the inbound message that unblocked this iterate call and returns the
// (possibly unchanged) updated state.
type Responder interface {
	Respond(ctx context.Context, state *State, inbound *envelope.Envelope) (*State, error)
}

// ResponderFunc adapts a plain function to Responder.
type ResponderFunc func(ctx context.Context, state *State, inbound *envelope.Envelope) (*State, error)

func (f ResponderFunc) Respond(ctx context.Context, state *State, inbound *envelope.Envelope) (*State, error) {
	return f(ctx, state, inbound)
}

// StatusReporter is notified of busy/idle transitions. The agent
// process host's reporter logs them at debug level; it does not send
// them to the router.
type StatusReporter interface {
	ReportStatus(agentID string, status Status)
}

// NoopStatusReporter discards status transitions.
type NoopStatusReporter struct{}

func (NoopStatusReporter) ReportStatus(string, Status) {}

// Loop runs the default passive iterate algorithm against a Client.
type Loop struct {
	AgentID   string
	Client    *agentclient.Client
	Responder Responder
	Reporter  StatusReporter

	// IgnoreSources lists source ids this agent never responds to
	// (spec §4.4 step 2, "no_response_sources").
	IgnoreSources map[string]struct{}

	// Selector narrows the merged history into the view Respond sees as
	// state.History (spec §4.5). Defaults to view.Channel{} in NewLoop:
	// a direct message gets the direct-pair view, anything on a channel
	// gets the whole channel's history.
	Selector view.Selector
}

// NewLoop constructs a Loop with a no-op status reporter and the
// default channel-scoped message view.
func NewLoop(agentID string, client *agentclient.Client, responder Responder, ignoreSources []string) *Loop {
	ignore := make(map[string]struct{}, len(ignoreSources))
	for _, s := range ignoreSources {
		ignore[s] = struct{}{}
	}
	return &Loop{
		AgentID:       agentID,
		Client:        client,
		Responder:     responder,
		Reporter:      NoopStatusReporter{},
		IgnoreSources: ignore,
		Selector:      view.Channel{},
	}
}

// Iterate runs one pass of the algorithm in spec §4.4: find the first
// unprocessed inbound message addressed to this agent (directly or via
// a channel), and if one exists, call Respond and record it processed.
// If no eligible message exists, state is returned unchanged.
func (l *Loop) Iterate(ctx context.Context, state *State) (*State, error) {
	all := l.Client.FetchAllMessages()

	var inbound *envelope.Envelope
	for _, m := range all {
		if m.Destination != l.AgentID && m.Channel == "" {
			continue
		}
		if _, seen := state.Processed[m.MessageID]; seen {
			continue
		}
		if m.EventType == envelope.EventInternal && m.Source != l.AgentID {
			continue
		}
		if _, ignored := l.IgnoreSources[m.Source]; ignored {
			continue
		}
		inbound = m
		break
	}

	if inbound == nil {
		return state, nil
	}

	state.Processed[inbound.MessageID] = struct{}{}
	sel := l.Selector
	if sel == nil {
		sel = view.Channel{}
	}
	state.History = view.SelectWithInternalEvents(sel, all, state.InternalEvents, inbound)

	l.Reporter.ReportStatus(l.AgentID, StatusBusy)
	next, err := l.Responder.Respond(ctx, state, inbound)
	l.Reporter.ReportStatus(l.AgentID, StatusIdle)
	if err != nil {
		return state, err
	}
	if next == nil {
		return state, nil
	}
	return next, nil
}
