// Package observability provides the structured logging, tracing, and
// metrics wrappers shared by the router, agent process host, and
// runner.
package observability

import (
	"log/slog"
	"os"
)

// Logger is a structured logger scoped to one chorus component.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON-handler logger tagged with component.
func NewLogger(component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewJSONHandler(os.Stdout, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "chorus"),
	)

	return &Logger{Logger: logger}
}

// WithAgent returns a logger with agent-specific fields.
func (l *Logger) WithAgent(agentID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("agent_id", agentID))}
}

// WithTeam returns a logger with team-specific fields.
func (l *Logger) WithTeam(teamID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("team_id", teamID))}
}

// WithChannel returns a logger with channel-specific fields.
func (l *Logger) WithChannel(channel string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("channel", channel))}
}

// AgentRegistered logs a successful registration.
func (l *Logger) AgentRegistered(agentID, teamID, endpoint string) {
	l.Info("agent registered",
		slog.String("agent_id", agentID),
		slog.String("team_id", teamID),
		slog.String("endpoint", endpoint),
	)
}

// AgentDisconnected logs a liveness-driven disconnect.
func (l *Logger) AgentDisconnected(agentID string, missedBeats int) {
	l.Warn("agent marked disconnected",
		slog.String("agent_id", agentID),
		slog.Int("missed_heartbeats", missedBeats),
	)
}

// AgentCrashed logs a process-host-detected crash.
func (l *Logger) AgentCrashed(agentID string, exitCode int) {
	l.Error("agent process exited unexpectedly",
		slog.String("agent_id", agentID),
		slog.Int("exit_code", exitCode),
	)
}

// MessageRouted logs a completed Send dispatch.
func (l *Logger) MessageRouted(messageID, source, destination, channel string, recipients int) {
	l.Debug("message routed",
		slog.String("message_id", messageID),
		slog.String("source", source),
		slog.String("destination", destination),
		slog.String("channel", channel),
		slog.Int("recipients", recipients),
	)
}

// MessageDropped logs a send that matched no recipient (spec §4.1 step
// 3: "drop with a warning (no broadcast-without-channel)").
func (l *Logger) MessageDropped(messageID, source, reason string) {
	l.Warn("message dropped",
		slog.String("message_id", messageID),
		slog.String("source", source),
		slog.String("reason", reason),
	)
}

// CircuitBreakerStateChange logs a respawn circuit breaker transition.
func (l *Logger) CircuitBreakerStateChange(agentID, from, to string) {
	l.Warn("circuit breaker state changed",
		slog.String("agent_id", agentID),
		slog.String("from_state", from),
		slog.String("to_state", to),
	)
}
