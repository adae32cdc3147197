// Package runner implements the process supervisor of spec §4.8: it
// holds the set of agents and teams, spawns their OS processes,
// watches for crashes, and evaluates pluggable stop conditions.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chorusrt/chorus/internal/agentprocess"
	"github.com/chorusrt/chorus/internal/observability"
	"github.com/chorusrt/chorus/internal/reliability"
	"github.com/chorusrt/chorus/internal/router"
	"golang.org/x/sync/errgroup"
)

// AgentSpec describes one agent the runner is responsible for.
type AgentSpec struct {
	Spec          agentprocess.Spec
	CircuitConfig reliability.CircuitBreakerConfig
}

// Config tunes the runner.
type Config struct {
	// StartTimeout bounds how long start() waits for every expected
	// agent to register before giving up (spec §4.8).
	StartTimeout time.Duration
	// StopGrace is how long stop() waits for cooperative shutdown
	// before force-terminating (spec §5, default 5s).
	StopGrace time.Duration
	// SelfPath is the executable re-exec'd to host each agent process.
	SelfPath string
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig(selfPath string) Config {
	return Config{
		StartTimeout: 30 * time.Second,
		StopGrace:    5 * time.Second,
		SelfPath:     selfPath,
	}
}

type managedAgent struct {
	spec    AgentSpec
	proc    *agentprocess.Process
	breaker *reliability.CircuitBreaker
}

// Runner owns the lifecycle of every agent process in a workspace.
type Runner struct {
	cfg    Config
	router *router.Router
	server *router.Server
	logger *observability.Logger

	mu      sync.Mutex
	agents  map[string]*managedAgent
	done    chan struct{}
	stopped bool
}

// New constructs a Runner bound to an already-listening router server.
func New(cfg Config, r *router.Router, s *router.Server, logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NewLogger("runner", slog.LevelInfo)
	}
	return &Runner{
		cfg:    cfg,
		router: r,
		server: s,
		logger: logger,
		agents: make(map[string]*managedAgent),
		done:   make(chan struct{}),
	}
}

// Add registers spec as one of the agents this runner manages. Call
// before Start.
func (rn *Runner) Add(spec AgentSpec) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.agents[spec.Spec.AgentID] = &managedAgent{
		spec:    spec,
		breaker: reliability.NewCircuitBreaker(spec.CircuitConfig),
	}
}

// Start spawns every added agent and blocks (non-blocking to the
// caller's own goroutines notwithstanding) until each has registered
// with the router, or ctx/StartTimeout elapses (spec §4.8 "start()").
func (rn *Runner) Start(ctx context.Context) error {
	rn.mu.Lock()
	pending := make([]*managedAgent, 0, len(rn.agents))
	for _, a := range rn.agents {
		pending = append(pending, a)
	}
	rn.mu.Unlock()

	// Spawn every agent's OS process concurrently: spec §4.8's start()
	// has no ordering requirement between agents, and a slow fork/exec
	// for one agent shouldn't delay the rest. errgroup stops at the
	// first spawn failure and reports it, rather than partially
	// spawning the set with no caller-visible aggregate error.
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range pending {
		a := a
		g.Go(func() error {
			if err := rn.spawn(gctx, a); err != nil {
				return fmt.Errorf("runner: spawning %s: %w", a.spec.Spec.AgentID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	deadline := time.Now().Add(rn.cfg.StartTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if rn.allRegistered(pending) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("runner: timed out waiting for %d agents to register", len(pending))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (rn *Runner) allRegistered(agents []*managedAgent) bool {
	for _, a := range agents {
		reg := rn.router.Registry().Get(a.spec.Spec.AgentID)
		if reg == nil || reg.Status != router.StatusConnected {
			return false
		}
	}
	return true
}

func (rn *Runner) spawn(ctx context.Context, a *managedAgent) error {
	spec := a.spec.Spec
	spec.RouterAddr = rn.server.Addr().String()
	proc, err := agentprocess.Spawn(ctx, rn.cfg.SelfPath, spec)
	if err != nil {
		return err
	}
	rn.mu.Lock()
	a.proc = proc
	rn.mu.Unlock()
	return nil
}

// StopCondition is a pluggable predicate Run polls to decide when to
// end (spec §4.8 "Stop conditions"): no-activity-for-N-seconds,
// message-match, or any caller-supplied rule.
type StopCondition func() bool

// AnyStopCondition composes multiple StopConditions with OR, matching
// the original runner's support for combining several stop rules
// rather than only ever polling one.
func AnyStopCondition(conds ...StopCondition) StopCondition {
	return func() bool {
		for _, c := range conds {
			if c != nil && c() {
				return true
			}
		}
		return false
	}
}

// IdleStopCondition fires once no message has been routed for idle.
// lastActivity is typically Router.Log().LastActivity, a unix-seconds
// timestamp updated on every Send.
func IdleStopCondition(lastActivity func() int64, idle time.Duration, now func() time.Time) StopCondition {
	return func() bool {
		last := lastActivity()
		if last == 0 {
			return false
		}
		return now().Sub(time.Unix(last, 0)) >= idle
	}
}

// Run blocks, respawning crashed agents, until cond reports true or
// ctx is cancelled, then calls Stop (spec §4.8 "run()").
func (rn *Runner) Run(ctx context.Context, cond StopCondition) error {
	watch := time.NewTicker(200 * time.Millisecond)
	defer watch.Stop()

	for {
		select {
		case <-ctx.Done():
			rn.Stop(context.Background())
			return ctx.Err()
		case <-watch.C:
			if cond != nil && cond() {
				rn.Stop(ctx)
				return nil
			}
			rn.respawnCrashed(ctx)
		}
	}
}

func (rn *Runner) respawnCrashed(ctx context.Context) {
	rn.mu.Lock()
	stopping := rn.stopped
	candidates := make([]*managedAgent, 0, len(rn.agents))
	for _, a := range rn.agents {
		candidates = append(candidates, a)
	}
	rn.mu.Unlock()
	if stopping {
		return
	}

	for _, a := range candidates {
		if a.proc == nil {
			continue
		}
		exitCode := a.proc.ExitCode()
		if exitCode == -1 {
			continue // still running
		}
		rn.logger.AgentCrashed(a.spec.Spec.AgentID, exitCode)
		respawned := false
		err := a.breaker.Execute(func() error {
			if err := rn.spawn(ctx, a); err != nil {
				return err
			}
			respawned = true
			// The crash that prompted this respawn counts as a failure,
			// so an agent that keeps crashing opens the breaker.
			return fmt.Errorf("agent exited with code %d", exitCode)
		})
		if !respawned {
			rn.logger.Logger.Error("respawn suppressed by circuit breaker", "agent_id", a.spec.Spec.AgentID, "error", err)
		}
	}
}

// Stop signals every agent, waits StopGrace for cooperative shutdown,
// then force-terminates stragglers (spec §4.8 "stop()", spec §5).
func (rn *Runner) Stop(ctx context.Context) {
	rn.mu.Lock()
	if rn.stopped {
		rn.mu.Unlock()
		return
	}
	rn.stopped = true
	agents := make([]*managedAgent, 0, len(rn.agents))
	for _, a := range rn.agents {
		agents = append(agents, a)
	}
	rn.mu.Unlock()

	for _, a := range agents {
		if a.proc == nil {
			continue
		}
		rn.router.Stop(a.spec.Spec.AgentID)
		_ = a.proc.Signal(signalTERM())
	}

	grace := time.After(rn.cfg.StopGrace)
	remaining := make(map[string]*managedAgent, len(agents))
	for _, a := range agents {
		if a.proc != nil {
			remaining[a.spec.Spec.AgentID] = a
		}
	}

	for len(remaining) > 0 {
		select {
		case <-grace:
			for _, a := range remaining {
				_ = a.proc.Kill()
			}
			return
		case <-time.After(50 * time.Millisecond):
			for id, a := range remaining {
				if a.proc.ExitCode() != -1 {
					delete(remaining, id)
				}
			}
		}
	}
}

// Close closes the runner's router (and with it the router's bus); it
// does not close the server.
func (rn *Runner) Close() error {
	close(rn.done)
	return rn.router.Close()
}
