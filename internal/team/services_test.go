package team

import (
	"context"
	"testing"

	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serviceAction(toolName, actionName string, params map[string]any) *envelope.Envelope {
	e := envelope.New(envelope.EventTeamService, "agent:a", "team:1")
	e.Actions = []envelope.Action{{ToolName: toolName, ActionName: actionName, Parameters: params, ToolUseID: "use-1"}}
	return e
}

func TestVotingServiceAdapterPropose(t *testing.T) {
	a := VotingServiceAdapter{Voting: NewVotingService(FirstComeFirstServe, 3)}
	out := a.Handle(serviceAction("voting", "propose", map[string]any{"content": "do x", "reasoning": "why"}))
	require.Len(t, out.Observations, 1)
	assert.Empty(t, out.Observations[0].Error)
	p, ok := out.Observations[0].Data.(*Proposal)
	require.True(t, ok)
	assert.Equal(t, "do x", p.Content)
}

func TestVotingServiceAdapterUnknownAction(t *testing.T) {
	a := VotingServiceAdapter{Voting: NewVotingService(FirstComeFirstServe, 3)}
	out := a.Handle(serviceAction("voting", "nonsense", nil))
	require.Len(t, out.Observations, 1)
	assert.NotEmpty(t, out.Observations[0].Error)
}

func TestVotingServiceAdapterVoteOnUnknownProposal(t *testing.T) {
	a := VotingServiceAdapter{Voting: NewVotingService(FirstComeFirstServe, 3)}
	out := a.Handle(serviceAction("voting", "vote", map[string]any{"proposal_id": "nope"}))
	require.Len(t, out.Observations, 1)
	assert.NotEmpty(t, out.Observations[0].Error)
}

func TestScratchpadAdapterEditLinesAndGetDocument(t *testing.T) {
	a := ScratchpadAdapter{Scratchpad: NewScratchpad()}
	edit := serviceAction("scratchpad", "edit_lines", map[string]any{
		"id": "doc1", "start": float64(0), "end": float64(-1), "new_content": "hello",
	})
	out := a.Handle(edit)
	require.Len(t, out.Observations, 1)
	assert.Empty(t, out.Observations[0].Error)

	get := serviceAction("scratchpad", "get_document", map[string]any{"id": "doc1"})
	got := a.Handle(get)
	doc, ok := got.Observations[0].Data.(Document)
	require.True(t, ok)
	assert.Equal(t, "hello", doc.Lines[0].Content)
}

func TestScratchpadAdapterUnknownAction(t *testing.T) {
	a := ScratchpadAdapter{Scratchpad: NewScratchpad()}
	out := a.Handle(serviceAction("scratchpad", "nonsense", nil))
	assert.NotEmpty(t, out.Observations[0].Error)
}

func TestStorageAdapterWriteReadDelete(t *testing.T) {
	st, err := NewStorage("team:adapter")
	require.NoError(t, err)
	defer st.Close()
	a := StorageAdapter{Storage: st}

	write := serviceAction("storage", "write", map[string]any{"name": "f.txt", "content": "hi"})
	out := a.Handle(write)
	require.Len(t, out.Observations, 1)
	assert.Empty(t, out.Observations[0].Error)

	read := serviceAction("storage", "read", map[string]any{"name": "f.txt"})
	got := a.Handle(read)
	assert.Equal(t, "hi", got.Observations[0].Data)

	del := serviceAction("storage", "delete", map[string]any{"name": "f.txt"})
	delOut := a.Handle(del)
	assert.Empty(t, delOut.Observations[0].Error)

	readAgain := serviceAction("storage", "read", map[string]any{"name": "f.txt"})
	gotAgain := a.Handle(readAgain)
	assert.NotEmpty(t, gotAgain.Observations[0].Error)
}

func TestToolboxAdapterSyncInvocation(t *testing.T) {
	tb := NewToolbox()
	tb.Register("double", ToolFunc(func(ctx context.Context, params map[string]any) (any, error) {
		n := params["n"].(float64)
		return n * 2, nil
	}))
	a := ToolboxAdapter{Toolbox: tb}

	action := serviceAction("toolbox", "", nil)
	action.Actions[0].ToolName = "double"
	action.Actions[0].Parameters = map[string]any{"n": float64(21)}

	out := a.Handle(action)
	require.Len(t, out.Observations, 1)
	assert.Equal(t, float64(42), out.Observations[0].Data)
}

func TestToolboxAdapterAsyncInvocationThenAwait(t *testing.T) {
	tb := NewToolbox()
	tb.Register("slow", ToolFunc(func(ctx context.Context, params map[string]any) (any, error) {
		return "done", nil
	}))
	a := ToolboxAdapter{Toolbox: tb}

	start := serviceAction("toolbox", "", nil)
	start.Actions[0].ToolName = "slow"
	start.Actions[0].Parameters = map[string]any{"async": true}

	started := a.Handle(start)
	require.Len(t, started.Observations, 1)
	require.True(t, started.Observations[0].IsAsyncObservation)
	id := started.Observations[0].AsyncExecutionID
	require.NotEmpty(t, id)

	await := serviceAction("toolbox", "", nil)
	await.Actions[0].ToolName = "slow"
	await.Actions[0].AsyncExecutionID = id

	final := a.Handle(await)
	require.Len(t, final.Observations, 1)
	assert.Equal(t, "done", final.Observations[0].Data)
}
