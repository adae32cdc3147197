package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	handler := slog.NewJSONHandler(buf, nil)
	return &Logger{Logger: slog.New(handler).With(slog.String("component", "test"))}
}

func decodeLastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestWithAgentAddsAgentIDField(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf).WithAgent("agent:1")
	l.Info("hello")

	out := decodeLastLine(t, &buf)
	assert.Equal(t, "agent:1", out["agent_id"])
}

func TestAgentRegisteredLogsFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.AgentRegistered("agent:1", "team:1", "127.0.0.1:1234")

	out := decodeLastLine(t, &buf)
	assert.Equal(t, "agent registered", out["msg"])
	assert.Equal(t, "agent:1", out["agent_id"])
	assert.Equal(t, "team:1", out["team_id"])
	assert.Equal(t, "127.0.0.1:1234", out["endpoint"])
}

func TestAgentCrashedLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.AgentCrashed("agent:1", 137)

	out := decodeLastLine(t, &buf)
	assert.Equal(t, "ERROR", out["level"])
	assert.Equal(t, float64(137), out["exit_code"])
}

func TestMessageDroppedLogsReason(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.MessageDropped("msg-1", "agent:a", "no recipients")

	out := decodeLastLine(t, &buf)
	assert.Equal(t, "no recipients", out["reason"])
}
