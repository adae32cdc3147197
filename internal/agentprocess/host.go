package agentprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chorusrt/chorus/internal/agentclient"
	chorerrors "github.com/chorusrt/chorus/internal/errors"
	"github.com/chorusrt/chorus/internal/observability"
	"github.com/chorusrt/chorus/internal/passiveloop"
	"github.com/chorusrt/chorus/internal/registry"
)

// IteratePeriod is the sleep between iterate calls (spec §5,
// "≈100ms between iterations").
const IteratePeriod = 100 * time.Millisecond

// DialTimeout bounds the child's initial connection to the router.
const DialTimeout = 10 * time.Second

// RunFromEnv reads CHORUS_AGENT_SPEC, reconstructs the agent it names,
// and runs it to completion. This is cmd/chorus's agent-host
// subcommand entry point (spec §4.3 steps 2-5).
func RunFromEnv(ctx context.Context) error {
	specPath := os.Getenv("CHORUS_AGENT_SPEC")
	if specPath == "" {
		return fmt.Errorf("agentprocess: CHORUS_AGENT_SPEC not set")
	}
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("agentprocess: reading spec: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("agentprocess: decoding spec: %w", err)
	}
	return Run(ctx, spec)
}

// Run implements the child side of spec §4.3: reconstruct the agent,
// connect to the router and register, then iterate until stopped (by
// signal or router STOP) or a crash. It does not wait for team_info;
// the client records that frame whenever it arrives.
func Run(ctx context.Context, spec Spec) error {
	logger := observability.NewLogger("agent-host", slog.LevelInfo).WithAgent(spec.AgentID)

	factory, err := registry.Lookup(spec.ClassIdentifier)
	if err != nil {
		return err
	}

	client, err := agentclient.Dial(ctx, spec.RouterAddr, spec.AgentID, spec.TeamID, "", DialTimeout)
	if err != nil {
		return chorerrors.Wrap(err, chorerrors.ErrCodeTransport, "connecting to router").
			WithContext("agent_id", spec.AgentID).
			WithContext("router_addr", spec.RouterAddr).
			WithRetryable(true)
	}

	responder, err := factory(spec.InitArgs, client)
	if err != nil {
		return fmt.Errorf("agentprocess: constructing %s: %w", spec.ClassIdentifier, err)
	}

	state := passiveloop.NewState()
	if len(spec.StateSnapshot) > 0 {
		if err := json.Unmarshal(spec.StateSnapshot, state); err != nil {
			logger.Logger.Warn("failed to restore state snapshot", "error", err)
		}
	}

	loop := passiveloop.NewLoop(spec.AgentID, client, responder, nil)
	loop.Reporter = statusPusher{client: client, logger: logger}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(IteratePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sigCtx.Done():
			// Finish is implicit: we only stop between iterations, never
			// mid-respond (spec §4.3 step 4).
			_ = client.Stop()
			return nil
		case <-ticker.C:
			if client.StopRequested() {
				return nil
			}
			next, err := iterateSafely(ctx, loop, state)
			if err != nil {
				logger.AgentCrashed(spec.AgentID, 1)
				return err
			}
			state = next
			if err := client.PushState(state); err != nil {
				logger.Logger.Warn("state push failed", "error", err)
			}
		}

		if closed, closeErr := client.Closed(); closed {
			if closeErr != nil {
				return fmt.Errorf("agentprocess: connection closed: %w", closeErr)
			}
			return nil
		}
	}
}

// iterateSafely runs one Loop.Iterate, recovering a panicking
// Responder into an ErrCodeAgentCrash error instead of taking the
// whole agent process down uncaught. A hosted agent's Respond is
// arbitrary caller code (spec §4.3's whole point is isolating it in
// its own OS process); a panic in it is a crash to report, not a
// reason to crash the host loop that's supposed to detect crashes.
func iterateSafely(ctx context.Context, loop *passiveloop.Loop, state *passiveloop.State) (next *passiveloop.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = chorerrors.New(chorerrors.ErrCodeAgentCrash, fmt.Sprintf("responder panicked: %v", r)).
				WithContext("agent_id", loop.AgentID)
		}
	}()
	return loop.Iterate(ctx, state)
}

type statusPusher struct {
	client *agentclient.Client
	logger *observability.Logger
}

func (s statusPusher) ReportStatus(agentID string, status passiveloop.Status) {
	s.logger.Logger.Debug("status transition", "agent_id", agentID, "status", string(status))
}
