package builtin

import (
	"context"
	"encoding/json"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/passiveloop"
	"github.com/chorusrt/chorus/internal/registry"
)

func init() {
	registry.Register("echo", newEchoResponder)
}

// newEchoResponder builds an agent that replies to every inbound
// message by sending its content back to the sender, prefixed with
// this agent's id. Useful for verifying a workspace's wiring (router
// reachable, process spawns, messages route) before plugging in real
// agent logic.
func newEchoResponder(_ json.RawMessage, client *agentclient.Client) (passiveloop.Responder, error) {
	agentID := client.AgentID()
	return passiveloop.ResponderFunc(func(ctx context.Context, state *passiveloop.State, inbound *envelope.Envelope) (*passiveloop.State, error) {
		out := envelope.New(envelope.EventMessage, agentID, inbound.Source)
		out.WithContent(agentID + " echo: " + inbound.Content)
		if err := client.SendMessage(out); err != nil {
			return state, err
		}
		state.InternalEvents = append(state.InternalEvents, out)
		return state, nil
	}), nil
}
