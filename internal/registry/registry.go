// Package registry implements the name -> factory agent-class binding
// described in spec §9's redesign note: agent classes register
// themselves at startup via an explicit call, rather than being
// instantiated through source-language reflection.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chorusrt/chorus/internal/agentclient"
	"github.com/chorusrt/chorus/internal/passiveloop"
)

// Factory reconstructs a Responder from JSON-encoded init-args and the
// already-dialed client it should use to talk to the router — a
// Responder with nothing to send through is useless, so the client is
// part of construction rather than bolted on after.
type Factory func(initArgs json.RawMessage, client *agentclient.Client) (passiveloop.Responder, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register associates classID with factory. Call from an init() in the
// package defining the agent class; registering the same classID twice
// is a programming error and panics, matching the teacher's
// fail-fast-at-startup convention for duplicate registrations.
func Register(classID string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[classID]; exists {
		panic(fmt.Sprintf("registry: class %q already registered", classID))
	}
	factories[classID] = factory
}

// Lookup returns the factory registered for classID.
func Lookup(classID string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := factories[classID]
	if !ok {
		return nil, fmt.Errorf("registry: no factory registered for class %q", classID)
	}
	return factory, nil
}

// Known returns every registered class identifier, for diagnostics.
func Known() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for id := range factories {
		out = append(out, id)
	}
	return out
}
