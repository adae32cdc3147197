package team

import (
	"context"
	"fmt"
	"time"

	"github.com/chorusrt/chorus/internal/envelope"
)

// defaultProposalTTL bounds how long a proposal stays active absent an
// explicit expiry in its action parameters.
const defaultProposalTTL = 10 * time.Minute

func reply(inbound *envelope.Envelope, obs envelope.Observation) *envelope.Envelope {
	e := envelope.New(envelope.EventTeamService, inbound.Destination, inbound.Source)
	e.Observations = []envelope.Observation{obs}
	return e
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// VotingServiceAdapter exposes a VotingService as a team Service
// answering the "voting" tool_name (spec §4.7.1 actions).
type VotingServiceAdapter struct {
	Voting *VotingService
}

func (VotingServiceAdapter) Name() string { return "voting" }

func (a VotingServiceAdapter) Handle(inbound *envelope.Envelope) *envelope.Envelope {
	if len(inbound.Actions) == 0 {
		return nil
	}
	action := inbound.Actions[0]
	switch action.ActionName {
	case "propose":
		p := a.Voting.Propose(inbound.Source, stringParam(action.Parameters, "content"), stringParam(action.Parameters, "reasoning"), defaultProposalTTL)
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: p})

	case "vote":
		id := stringParam(action.Parameters, "proposal_id")
		if err := a.Voting.Vote(id, inbound.Source, true); err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: "ok"})

	case "get_proposal":
		p := a.Voting.GetProposal(stringParam(action.Parameters, "id"))
		if p == nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: "proposal not found"})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: p})

	case "list_active_proposals":
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: a.Voting.ListActiveProposals()})

	default:
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: fmt.Sprintf("team: unknown voting action %q", action.ActionName)})
	}
}

// ScratchpadAdapter exposes a Scratchpad as a team Service answering
// the "scratchpad" tool_name.
type ScratchpadAdapter struct {
	Scratchpad *Scratchpad
}

func (ScratchpadAdapter) Name() string { return "scratchpad" }

func (a ScratchpadAdapter) Handle(inbound *envelope.Envelope) *envelope.Envelope {
	if len(inbound.Actions) == 0 {
		return nil
	}
	action := inbound.Actions[0]
	switch action.ActionName {
	case "edit_lines":
		start, _ := action.Parameters["start"].(float64)
		end, _ := action.Parameters["end"].(float64)
		doc, err := a.Scratchpad.EditLines(
			stringParam(action.Parameters, "id"),
			int(start), int(end),
			stringParam(action.Parameters, "new_content"),
			inbound.Source,
		)
		if err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: doc})

	case "get_document":
		doc := a.Scratchpad.Get(stringParam(action.Parameters, "id"))
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: doc})

	case "list_documents":
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: a.Scratchpad.ListDocuments()})

	default:
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: fmt.Sprintf("team: unknown scratchpad action %q", action.ActionName)})
	}
}

// StorageAdapter exposes a Storage as a team Service answering the
// "storage" tool_name.
type StorageAdapter struct {
	Storage *Storage
}

func (StorageAdapter) Name() string { return "storage" }

func (a StorageAdapter) Handle(inbound *envelope.Envelope) *envelope.Envelope {
	if len(inbound.Actions) == 0 {
		return nil
	}
	action := inbound.Actions[0]
	name := stringParam(action.Parameters, "name")
	switch action.ActionName {
	case "write":
		content, _ := action.Parameters["content"].(string)
		err := a.Storage.Write(name, []byte(content))
		if err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: "ok"})

	case "read":
		data, err := a.Storage.Read(name)
		if err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: string(data)})

	case "delete":
		if err := a.Storage.Delete(name); err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: "ok"})

	case "list":
		names, err := a.Storage.List()
		if err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Data: names})

	default:
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: fmt.Sprintf("team: unknown storage action %q", action.ActionName)})
	}
}

// ToolboxAdapter exposes a Toolbox as a team Service answering the
// "toolbox" tool_name, supporting synchronous and asynchronous
// invocation via async_execution_id.
type ToolboxAdapter struct {
	Toolbox *Toolbox
}

func (ToolboxAdapter) Name() string { return "toolbox" }

func (a ToolboxAdapter) Handle(inbound *envelope.Envelope) *envelope.Envelope {
	if len(inbound.Actions) == 0 {
		return nil
	}
	action := inbound.Actions[0]

	if action.AsyncExecutionID != "" {
		obs, err := a.Toolbox.AwaitAsync(context.Background(), action.AsyncExecutionID)
		if err != nil {
			return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()})
		}
		return reply(inbound, obs)
	}

	if async, _ := action.Parameters["async"].(bool); async {
		id := a.Toolbox.InvokeAsync(context.Background(), action)
		return reply(inbound, envelope.Observation{ToolUseID: action.ToolUseID, AsyncExecutionID: id, IsAsyncObservation: true})
	}

	obs := a.Toolbox.Invoke(context.Background(), action)
	return reply(inbound, obs)
}
