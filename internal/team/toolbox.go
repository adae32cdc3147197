package team

import (
	"context"
	"fmt"
	"sync"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/envelope"
)

// Tool is a team-scoped tool invoked through the Toolbox, as opposed
// to a per-agent tool invoked directly from respond.
type Tool interface {
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ToolFunc adapts a plain function to Tool.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

func (f ToolFunc) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Toolbox forwards team_service actions to named tools that live in
// team scope rather than per-agent (spec §4.7.2), supporting both
// synchronous and asynchronous invocation.
type Toolbox struct {
	mu    sync.Mutex
	tools map[string]Tool
	async *agentclient.AsyncExecutionCache
}

// NewToolbox returns an empty Toolbox.
func NewToolbox() *Toolbox {
	return &Toolbox{
		tools: make(map[string]Tool),
		async: agentclient.NewAsyncExecutionCache(),
	}
}

// Register adds name to the toolbox.
func (tb *Toolbox) Register(name string, tool Tool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tools[name] = tool
}

// Invoke executes action synchronously and returns its observation.
func (tb *Toolbox) Invoke(ctx context.Context, action envelope.Action) envelope.Observation {
	tb.mu.Lock()
	tool, ok := tb.tools[action.ToolName]
	tb.mu.Unlock()
	if !ok {
		return envelope.Observation{ToolUseID: action.ToolUseID, Error: fmt.Sprintf("team: unknown tool %q", action.ToolName)}
	}
	data, err := tool.Execute(ctx, action.Parameters)
	if err != nil {
		return envelope.Observation{ToolUseID: action.ToolUseID, Error: err.Error()}
	}
	return envelope.Observation{ToolUseID: action.ToolUseID, Data: data}
}

// InvokeAsync starts action in the background, returning an
// async_execution_id the caller polls or awaits via AwaitAsync.
func (tb *Toolbox) InvokeAsync(ctx context.Context, action envelope.Action) string {
	return tb.async.Start(ctx, func(ctx context.Context) envelope.Observation {
		return tb.Invoke(ctx, action)
	})
}

// AwaitAsync blocks until the async invocation identified by id
// completes or ctx is cancelled.
func (tb *Toolbox) AwaitAsync(ctx context.Context, id string) (envelope.Observation, error) {
	return tb.async.Await(ctx, id)
}
