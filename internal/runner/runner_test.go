package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/chorusrt/chorus/internal/agentprocess"
	"github.com/chorusrt/chorus/internal/reliability"
	"github.com/chorusrt/chorus/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSelf(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake self scripts are POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-chorus")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func defaultTestConfig() Config {
	return Config{StartTimeout: time.Second, StopGrace: time.Second}
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *router.Router) {
	t.Helper()
	r := router.New(router.DefaultConfig(), nil)
	server, err := router.Listen(r, "127.0.0.1:0")
	require.NoError(t, err)
	rn := New(cfg, r, server, nil)
	t.Cleanup(func() { rn.Close() })
	return rn, r
}

func TestStartWithNoAgentsSucceedsImmediately(t *testing.T) {
	rn, _ := newTestRunner(t, Config{StartTimeout: time.Second, StopGrace: time.Second})
	require.NoError(t, rn.Start(context.Background()))
}

func TestStartTimesOutWhenAgentNeverRegisters(t *testing.T) {
	self := fakeSelf(t, "sleep 5")
	rn, _ := newTestRunner(t, Config{StartTimeout: 100 * time.Millisecond, StopGrace: time.Second, SelfPath: self})
	rn.Add(AgentSpec{Spec: agentprocess.Spec{AgentID: "agent:1", ClassIdentifier: "echo"}})

	err := rn.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting")
}

func TestStartRespectsContextCancellation(t *testing.T) {
	self := fakeSelf(t, "sleep 5")
	rn, _ := newTestRunner(t, Config{StartTimeout: 10 * time.Second, StopGrace: time.Second, SelfPath: self})
	rn.Add(AgentSpec{Spec: agentprocess.Spec{AgentID: "agent:1", ClassIdentifier: "echo"}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := rn.Start(ctx)
	assert.Error(t, err)
}

func TestStopTerminatesSpawnedAgentsAfterFailedStart(t *testing.T) {
	self := fakeSelf(t, "trap 'exit 0' TERM; sleep 30 & wait")
	rn, _ := newTestRunner(t, Config{StartTimeout: 50 * time.Millisecond, StopGrace: time.Second, SelfPath: self})
	rn.Add(AgentSpec{Spec: agentprocess.Spec{AgentID: "agent:1", ClassIdentifier: "echo"}})

	_ = rn.Start(context.Background())
	rn.Stop(context.Background())

	require.Eventually(t, func() bool {
		rn.mu.Lock()
		defer rn.mu.Unlock()
		a := rn.agents["agent:1"]
		return a != nil && a.proc != nil && a.proc.ExitCode() != -1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAnyStopConditionFiresIfAnyComposedConditionFires(t *testing.T) {
	falseCond := func() bool { return false }
	trueCond := func() bool { return true }

	assert.False(t, AnyStopCondition(falseCond, falseCond)())
	assert.True(t, AnyStopCondition(falseCond, trueCond)())
	assert.False(t, AnyStopCondition()())
	assert.False(t, AnyStopCondition(nil, falseCond)())
}

func TestIdleStopConditionFalseWhenNeverActive(t *testing.T) {
	cond := IdleStopCondition(func() int64 { return 0 }, time.Second, time.Now)
	assert.False(t, cond())
}

func TestIdleStopConditionFiresPastIdleDuration(t *testing.T) {
	last := time.Now().Add(-2 * time.Second).Unix()
	cond := IdleStopCondition(func() int64 { return last }, time.Second, time.Now)
	assert.True(t, cond())
}

func TestIdleStopConditionFalseBeforeIdleDurationElapses(t *testing.T) {
	last := time.Now().Unix()
	cond := IdleStopCondition(func() int64 { return last }, time.Hour, time.Now)
	assert.False(t, cond())
}

func TestRespawnCrashedUsesCircuitBreaker(t *testing.T) {
	self := fakeSelf(t, "exit 1")
	rn, _ := newTestRunner(t, Config{StartTimeout: 50 * time.Millisecond, StopGrace: time.Second, SelfPath: self})
	rn.agents["agent:1"] = &managedAgent{
		spec:    AgentSpec{Spec: agentprocess.Spec{AgentID: "agent:1"}, CircuitConfig: reliability.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}},
		breaker: reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}),
	}
	require.NoError(t, rn.spawn(context.Background(), rn.agents["agent:1"]))

	require.Eventually(t, func() bool {
		return rn.agents["agent:1"].proc.ExitCode() != -1
	}, 2*time.Second, 20*time.Millisecond)

	rn.respawnCrashed(context.Background())
	assert.Equal(t, reliability.CircuitOpen, rn.agents["agent:1"].breaker.State())
}

func TestCloseClosesUnderlyingRouter(t *testing.T) {
	r := router.New(router.DefaultConfig(), nil)
	server, err := router.Listen(r, "127.0.0.1:0")
	require.NoError(t, err)
	rn := New(Config{StartTimeout: time.Second, StopGrace: time.Second}, r, server, nil)

	require.NoError(t, rn.Close())
}
