package team

import (
	"context"
	"time"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/passiveloop"
)

// PollInterval is the default decentralized-collaboration tick period
// (spec §4.6.2: "a polling loop, default 3s").
const PollInterval = 3 * time.Second

// Responder adapts a Team to passiveloop.Responder, so the team agent
// can be hosted by the same agent process host as any other agent:
// every envelope the team's dispatch produces is sent to the router
// and also kept in the agent's own internal-event trail.
type Responder struct {
	Team   *Team
	Client *agentclient.Client
}

func (r Responder) Respond(ctx context.Context, state *passiveloop.State, inbound *envelope.Envelope) (*passiveloop.State, error) {
	_ = ctx
	out := r.Team.Respond(inbound)
	state.InternalEvents = append(state.InternalEvents, out...)
	for _, env := range out {
		if err := r.Client.SendMessage(env); err != nil {
			return state, err
		}
	}
	return state, nil
}

// RunPoller drives Team.Poll on PollInterval, pushing each resulting
// envelope through client. Only meaningful for decentralized
// collaboration; centralized collaboration's Tick is a no-op so this
// is harmless to run unconditionally.
func RunPoller(ctx context.Context, client *agentclient.Client, t *Team) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, out := range t.Poll() {
				_ = client.SendMessage(out)
			}
		}
	}
}
