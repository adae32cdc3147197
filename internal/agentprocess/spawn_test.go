package agentprocess

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSelf writes an executable shell script standing in for the real
// chorus binary's "agent-host" re-exec, since Spawn always invokes
// `self agent-host` and we don't have a real agent host to run here.
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

func TestSpawnExitCodeTransitionsOnceChildExits(t *testing.T) {
	self := fakeSelf(t, "sleep 0.2; exit 7")

	p, err := Spawn(context.Background(), self, Spec{AgentID: "agent:1"})
	require.NoError(t, err)

	require.Equal(t, -1, p.ExitCode())

	require.Error(t, p.Wait())
	require.Equal(t, 7, p.ExitCode())
}

func TestWaitBlocksUntilExit(t *testing.T) {
	self := fakeSelf(t, "sleep 0.1; exit 0")
	p, err := Spawn(context.Background(), self, Spec{AgentID: "agent:1"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Wait())
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 0, p.ExitCode())

	// A second Wait must not block again or panic on a closed channel.
	require.NoError(t, p.Wait())
}

func TestKillTerminatesProcess(t *testing.T) {
	self := fakeSelf(t, "sleep 30")
	p, err := Spawn(context.Background(), self, Spec{AgentID: "agent:1"})
	require.NoError(t, err)

	require.NoError(t, p.Kill())

	select {
	case <-time.After(2 * time.Second):
		t.Fatal("process was not reaped after Kill")
	case <-p.waitOnce:
	}
	require.Error(t, p.Wait())
	require.NotEqual(t, -1, p.ExitCode())
}

func TestSignalDeliversSIGTERM(t *testing.T) {
	self := fakeSelf(t, "trap 'exit 21' TERM; sleep 30 & wait")
	p, err := Spawn(context.Background(), self, Spec{AgentID: "agent:1"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the trap install
	require.NoError(t, p.Signal(syscall.SIGTERM))

	require.Eventually(t, func() bool {
		return p.ExitCode() != -1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 21, p.ExitCode())
}
