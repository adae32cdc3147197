package agentclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/google/uuid"
)

// AsyncExecutionCache correlates an async_execution_id with the
// eventual Observation it resolves to, the pattern the original
// async_tool_chat_agent used to let a respond() call return
// immediately while a tool keeps running in the background (spec
// §3.5, §9). The Team Toolbox (spec §4.7.2) uses one of these for its
// asynchronous invocations.
type AsyncExecutionCache struct {
	mu      sync.Mutex
	pending map[string]chan envelope.Observation
}

// NewAsyncExecutionCache returns an empty cache.
func NewAsyncExecutionCache() *AsyncExecutionCache {
	return &AsyncExecutionCache{pending: make(map[string]chan envelope.Observation)}
}

// Start allocates a fresh async_execution_id and runs work in the
// background, resolving the id to whatever Observation work returns.
// Start stamps AsyncExecutionID and IsAsyncObservation on that
// Observation before it is delivered.
func (c *AsyncExecutionCache) Start(ctx context.Context, work func(ctx context.Context) envelope.Observation) string {
	id := uuid.NewString()
	ch := make(chan envelope.Observation, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	go func() {
		obs := work(ctx)
		obs.AsyncExecutionID = id
		obs.IsAsyncObservation = true
		ch <- obs
	}()

	return id
}

// Await blocks until id resolves or ctx is cancelled. The entry is
// removed from the cache once its Observation is delivered; after a
// cancelled wait it stays, so id can be awaited again.
func (c *AsyncExecutionCache) Await(ctx context.Context, id string) (envelope.Observation, error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return envelope.Observation{}, fmt.Errorf("agentclient: unknown async_execution_id %q", id)
	}
	select {
	case obs := <-ch:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return obs, nil
	case <-ctx.Done():
		return envelope.Observation{}, ctx.Err()
	}
}
