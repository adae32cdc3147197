// Package team implements the team agent of spec §4.6: a fixed-member
// collaboration unit addressed as "team:<name>", whose respond
// delegates to team services (voting, scratchpad, storage, toolbox)
// for team_service envelopes and to a pluggable Collaboration strategy
// for everything else.
package team

import (
	"github.com/chorusrt/chorus/internal/envelope"
)

// Service is a team-scoped auxiliary actor addressed via
// event_type=team_service envelopes whose actions carry tool-style
// calls (spec §4.7).
type Service interface {
	// Name is the tool_name this service answers to.
	Name() string
	// Handle executes inbound's actions and returns the observation
	// envelope to send back to inbound.Source.
	Handle(inbound *envelope.Envelope) *envelope.Envelope
}

// Collaboration is the pluggable strategy a Team hands non-service
// envelopes to (spec §4.6.1, §4.6.2).
type Collaboration interface {
	// HandleMessage processes one inbound envelope and returns the
	// envelopes the team should emit as a result.
	HandleMessage(m *envelope.Envelope) []*envelope.Envelope
	// Tick runs the collaboration's periodic check (a no-op for
	// centralized collaboration, the time-limit/decision poll for
	// decentralized collaboration).
	Tick() []*envelope.Envelope
}

// Team is the team agent's dispatcher.
type Team struct {
	ID            string
	Members       []string
	Services      map[string]Service
	Collaboration Collaboration
}

// NewTeam constructs a Team with the given fixed membership.
func NewTeam(id string, members []string, collab Collaboration) *Team {
	return &Team{
		ID:            id,
		Members:       members,
		Services:      make(map[string]Service),
		Collaboration: collab,
	}
}

// RegisterService adds svc under its own Name().
func (t *Team) RegisterService(svc Service) {
	t.Services[svc.Name()] = svc
}

// Respond implements the team's dispatch rule (spec §4.6): team_service
// envelopes go to the matching registered service; everything else goes
// to the configured Collaboration strategy.
func (t *Team) Respond(inbound *envelope.Envelope) []*envelope.Envelope {
	if inbound.EventType == envelope.EventTeamService {
		var out []*envelope.Envelope
		for _, action := range inbound.Actions {
			svc, ok := t.Services[action.ToolName]
			if !ok {
				continue
			}
			if obs := svc.Handle(inbound); obs != nil {
				out = append(out, obs)
			}
		}
		return out
	}
	return t.Collaboration.HandleMessage(inbound)
}

// Poll runs the collaboration's periodic tick (spec §4.6.2 step 1-4),
// a no-op for centralized collaboration.
func (t *Team) Poll() []*envelope.Envelope {
	return t.Collaboration.Tick()
}
