// Package builtin registers the agent classes chorus ships out of the
// box: the team coordinator (spec §4.6) and a minimal echo agent
// useful for smoke-testing a workspace. Real agent business logic is
// out of this runtime's scope (spec §0 non-goals); these exist so
// `chorus run` has something to run before a user adds their own
// registry.Register call.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/passiveloop"
	"github.com/chorusrt/chorus/internal/registry"
	"github.com/chorusrt/chorus/internal/team"
)

func init() {
	registry.Register("team", newTeamResponder)
}

// teamInitArgs is the JSON shape a "team" class agent's init_args
// carries, mirroring internal/config.TeamConfig minus its id (the
// team's agent id is the agent's own AgentID).
type teamInitArgs struct {
	Members        []string `json:"members"`
	Collaboration  string   `json:"collaboration"`
	CoordinatorID  string   `json:"coordinator,omitempty"`
	VotingStrategy string   `json:"voting_strategy,omitempty"`
	TimeLimitMS    int64    `json:"time_limit_ms,omitempty"`
}

func newTeamResponder(initArgs json.RawMessage, client *agentclient.Client) (passiveloop.Responder, error) {
	var args teamInitArgs
	if len(initArgs) > 0 {
		if err := json.Unmarshal(initArgs, &args); err != nil {
			return nil, fmt.Errorf("builtin: decoding team init_args: %w", err)
		}
	}

	teamID := client.AgentID()

	var collab team.Collaboration
	var voting *team.VotingService
	switch args.Collaboration {
	case "centralized":
		if args.CoordinatorID == "" {
			return nil, fmt.Errorf("builtin: team %q: centralized collaboration requires a coordinator", teamID)
		}
		collab = team.NewCentralized(teamID, args.CoordinatorID)
	case "decentralized":
		strategy := team.DecisionStrategy(args.VotingStrategy)
		if strategy == "" {
			strategy = team.FirstComeFirstServe
		}
		voting = team.NewVotingService(strategy, len(args.Members))
		collab = team.NewDecentralized(teamID, args.Members, voting, time.Duration(args.TimeLimitMS)*time.Millisecond)
	default:
		return nil, fmt.Errorf("builtin: team %q: unknown collaboration %q", teamID, args.Collaboration)
	}

	t := team.NewTeam(teamID, args.Members, collab)

	storage, err := team.NewStorage(teamID)
	if err != nil {
		return nil, fmt.Errorf("builtin: team %q: opening storage: %w", teamID, err)
	}
	t.RegisterService(team.ScratchpadAdapter{Scratchpad: team.NewScratchpad()})
	t.RegisterService(team.StorageAdapter{Storage: storage})
	t.RegisterService(team.ToolboxAdapter{Toolbox: team.NewToolbox()})
	if voting != nil {
		t.RegisterService(team.VotingServiceAdapter{Voting: voting})
	}

	// Decentralized collaboration needs its Tick polled periodically;
	// centralized's Tick is a no-op, so running the poller
	// unconditionally is harmless. The team agent's own process
	// lifetime bounds this goroutine.
	go team.RunPoller(context.Background(), client, t)

	return team.Responder{Team: t, Client: client}, nil
}
