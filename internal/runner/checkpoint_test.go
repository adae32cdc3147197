package runner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/chorusrt/chorus/internal/agentprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := OpenCheckpointStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	cp := Checkpoint{
		WorkspaceName: "ws1",
		Agents: []AgentCheckpoint{
			{ClassIdentifier: "echo", InstanceName: "e1", ID: "agent:1", InitArgs: json.RawMessage(`{"k":1}`)},
		},
	}
	require.NoError(t, store.Save(context.Background(), cp))

	got, err := store.Load(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Equal(t, "ws1", got.WorkspaceName)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "agent:1", got.Agents[0].ID)
	assert.JSONEq(t, `{"k":1}`, string(got.Agents[0].InitArgs))
}

func TestCheckpointLoadUnknownWorkspaceErrors(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Load(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestCheckpointSaveOverwritesPriorForSameWorkspace(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(context.Background(), Checkpoint{WorkspaceName: "ws1", Agents: []AgentCheckpoint{{ID: "agent:1"}}}))
	require.NoError(t, store.Save(context.Background(), Checkpoint{WorkspaceName: "ws1", Agents: []AgentCheckpoint{{ID: "agent:2"}}}))

	got, err := store.Load(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "agent:2", got.Agents[0].ID)
}

func TestLoadCheckpointReconstructsAgentSpecs(t *testing.T) {
	cp := Checkpoint{
		WorkspaceName: "ws1",
		Agents: []AgentCheckpoint{
			{ClassIdentifier: "echo", InstanceName: "e1", ID: "agent:1", InitArgs: json.RawMessage(`{"a":1}`)},
		},
	}
	specs := LoadCheckpoint(cp)
	require.Len(t, specs, 1)
	assert.Equal(t, agentprocess.Spec{
		ClassIdentifier: "echo",
		InstanceName:    "e1",
		AgentID:         "agent:1",
		InitArgs:        json.RawMessage(`{"a":1}`),
	}, specs[0].Spec)
}

func TestSaveCheckpointSnapshotsManagedAgents(t *testing.T) {
	rn, _ := newTestRunner(t, defaultTestConfig())
	rn.Add(AgentSpec{Spec: agentprocess.Spec{AgentID: "agent:1", ClassIdentifier: "echo", InitArgs: json.RawMessage(`{"x":1}`)}})

	cp := rn.SaveCheckpoint("ws1")
	assert.Equal(t, "ws1", cp.WorkspaceName)
	require.Len(t, cp.Agents, 1)
	assert.Equal(t, "agent:1", cp.Agents[0].ID)
	assert.JSONEq(t, `{"x":1}`, string(cp.Agents[0].InitArgs))
}
