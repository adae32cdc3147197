package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chorusrt/chorus/internal/agentprocess"
	"github.com/chorusrt/chorus/internal/bus"
	_ "github.com/chorusrt/chorus/internal/builtin"
	"github.com/chorusrt/chorus/internal/config"
	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/observability"
	"github.com/chorusrt/chorus/internal/reliability"
	"github.com/chorusrt/chorus/internal/router"
	"github.com/chorusrt/chorus/internal/runner"
)

// newRouterBus selects the bus backing the router's per-agent outbound
// queues and channel broadcasts: in-memory unless CHORUS_BUS_URL points
// at a NATS server, per internal/bus's CHORUS_BUS_URL convention. This
// is not an optional add-on — the router has no queue implementation
// of its own, so whatever this returns is where every routed envelope
// actually lives until its recipient pulls it.
func newRouterBus(logger *observability.Logger) bus.MessageBus {
	url := os.Getenv("CHORUS_BUS_URL")
	if url == "" {
		return bus.NewMemoryBus()
	}
	cfg := bus.DefaultConfig()
	cfg.URL = url
	b, err := bus.NewNATSBus(cfg)
	if err != nil {
		logger.Logger.Warn("CHORUS_BUS_URL set but NATS connect failed, falling back to in-memory bus", "url", url, "error", err)
		return bus.NewMemoryBus()
	}
	return b
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	workspace := fs.String("w", "", "workspace name")
	input := fs.String("i", "", "initial message to the workspace's main channel")
	debug := fs.Bool("debug", false, "enable debug logging")
	visual := fs.Bool("visual", false, "enable the visual debugger")
	visualPort := fs.Int("visual-port", 5000, "port for the visual debugger")
	root := fs.String("r", ".", "root directory for workspaces")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspace == "" {
		return fmt.Errorf("run: -w is required")
	}
	dir := filepath.Join(*root, *workspace)
	if _, err := os.Stat(dir); err != nil {
		return &workspaceNotFoundError{path: dir}
	}

	cfg, err := config.Load(filepath.Join(dir, "agents.yaml"))
	if err != nil {
		return &configError{err: err}
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	if v := os.Getenv("CHORUS_LOG_LEVEL"); v != "" {
		level = parseLogLevel(v)
	}
	logger := observability.NewLogger("chorus", level)

	if *visual {
		// The visual debugger is explicitly out of this runtime's
		// scope (spec.md's non-goals); log that the flag was accepted
		// but has nothing behind it rather than silently ignoring it.
		logger.Logger.Warn("--visual requested but the visual debugger is not implemented", "visual_port", *visualPort)
	}

	fmt.Printf(">>> running workspace %s <<<\n", *workspace)

	r := router.New(router.DefaultConfig(), logger)
	r.SetMessageBus(newRouterBus(logger))
	server, err := router.Listen(r, cfg.RouterBind)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer server.Close()

	health, err := observability.StartHealthServer(cfg.HealthPort, func() map[string]any {
		return map[string]any{
			"workspace": *workspace,
			"agents":    len(r.Registry().ConnectedAgents()),
		}
	})
	if err != nil {
		logger.Logger.Warn("health server not started", "error", err)
	} else {
		defer health.Close()
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("run: locating executable: %w", err)
	}

	runnerCfg := runner.Config{StartTimeout: cfg.StartTimeout, StopGrace: cfg.StopGrace, SelfPath: self}
	rn := runner.New(runnerCfg, r, server, logger)

	for _, a := range cfg.Agents {
		initArgs, err := a.InitArgsJSON()
		if err != nil {
			return &configError{err: err}
		}
		rn.Add(runner.AgentSpec{
			Spec: agentprocess.Spec{
				ClassIdentifier: a.ClassIdentifier,
				InstanceName:    a.InstanceName,
				AgentID:         a.ID,
				TeamID:          a.TeamID,
				InitArgs:        initArgs,
			},
			CircuitConfig: reliability.CircuitBreakerConfig{
				MaxFailures: a.CircuitBreaker.MaxFailures,
				Timeout:     a.CircuitBreaker.ResetTimeout,
			},
		})
	}
	for _, t := range cfg.Teams {
		initArgs, err := teamInitArgsJSON(t)
		if err != nil {
			return &configError{err: err}
		}
		rn.Add(runner.AgentSpec{Spec: agentprocess.Spec{
			ClassIdentifier: "team",
			InstanceName:    t.ID,
			AgentID:         t.ID,
			InitArgs:        initArgs,
		}})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rn.Start(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	r.StartLivenessMonitor(ctx, server.Ping)

	seed := *input
	if seed == "" {
		seed = promptForInput(cfg.MainChannel)
	}
	if seed != "" && !strings.EqualFold(strings.TrimSpace(seed), "exit") {
		env := envelope.New(envelope.EventMessage, "human", "")
		env.Channel = cfg.MainChannel
		env.WithContent(seed)
		if err := r.Send(ctx, env); err != nil {
			logger.Logger.Warn("failed to send initial message", "error", err)
		}
	}

	stopCond := runner.AnyStopCondition(
		runner.IdleStopCondition(r.Log().LastActivity, cfg.StopCondition.IdleTimeout, time.Now),
	)
	if err := rn.Run(ctx, stopCond); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run: %w", err)
	}

	if cfg.CheckpointDB != "" {
		store, err := runner.OpenCheckpointStore(cfg.CheckpointDB)
		if err != nil {
			logger.Logger.Warn("checkpoint store not opened", "error", err)
		} else {
			defer store.Close()
			if err := store.Save(context.Background(), rn.SaveCheckpoint(*workspace)); err != nil {
				logger.Logger.Warn("checkpoint save failed", "error", err)
			}
		}
	}

	return rn.Close()
}

// promptForInput mirrors the original CLI's single stdin prompt when
// -i isn't given (original_source/src/chorus/cli.py's human_input
// read). This runtime runs one round per invocation rather than the
// original's interactive while-true loop; rerun chorus run for another
// round.
func promptForInput(mainChannel string) string {
	fmt.Printf("Human -> %s: ", mainChannel)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teamInitArgsJSON builds the JSON shape internal/builtin's "team"
// class expects for its init_args, since that struct is unexported and
// lives in a different package.
func teamInitArgsJSON(t config.TeamConfig) (json.RawMessage, error) {
	args := map[string]any{
		"members":       t.Members,
		"collaboration": t.Collaboration,
	}
	if t.CoordinatorID != "" {
		args["coordinator"] = t.CoordinatorID
	}
	if t.VotingStrategy != "" {
		args["voting_strategy"] = t.VotingStrategy
	}
	if t.TimeLimit > 0 {
		args["time_limit_ms"] = t.TimeLimit.Milliseconds()
	}
	return json.Marshal(args)
}
