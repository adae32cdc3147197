package router

import (
	"sync"
	"time"

	chorerrors "github.com/chorusrt/chorus/internal/errors"
)

// AgentStatus is the router's view of an agent's connection liveness.
type AgentStatus string

const (
	StatusConnected    AgentStatus = "connected"
	StatusDisconnected AgentStatus = "disconnected"
	StatusStopped      AgentStatus = "stopped"
)

// AgentRegistration is the router's registry entry for one agent_id.
// Grounded on the teacher's coordination/coordinator.AgentInfo, narrowed
// to the fields the routing algorithm and liveness monitor need.
type AgentRegistration struct {
	AgentID       string
	TeamID        string
	Endpoint      string
	Status        AgentStatus
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	MissedBeats   int

	mu            sync.Mutex
	stateSnapshot []byte
}

// SetStateSnapshot records the most recent state pushed by the agent's
// client (spec §4.2 "State sync"). Safe for concurrent use.
func (a *AgentRegistration) SetStateSnapshot(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateSnapshot = append([]byte(nil), data...)
}

// StateSnapshot returns the most recently pushed state snapshot, or
// nil if none has been pushed yet.
func (a *AgentRegistration) StateSnapshot() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stateSnapshot == nil {
		return nil
	}
	return append([]byte(nil), a.stateSnapshot...)
}

// Registry holds the router's agent registry and channel membership
// sets (spec §4.1: "Owns... the agent registry, the channel
// registry..."). Channel membership is read-heavy and rarely mutated,
// so it shares the same RWMutex as the agent map (spec §5).
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*AgentRegistration
	channels map[string]map[string]struct{}
	teams    map[string][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[string]*AgentRegistration),
		channels: make(map[string]map[string]struct{}),
		teams:    make(map[string][]string),
	}
}

// ErrAlreadyRegistered is returned by Register when agentID is
// currently registered with a live heartbeat (spec §4.1: "Fails with
// AlreadyRegistered if the id is in use with a live heartbeat"). It
// carries ErrCodeRegistration so callers classifying errors by code
// (internal/reliability's retry policy, the server's handshake
// rejection) see this as non-retryable rather than a generic failure.
var ErrAlreadyRegistered = chorerrors.New(chorerrors.ErrCodeRegistration, "agent already registered with a live heartbeat").WithRetryable(false)

// Register (re)associates agentID with endpoint. If the agent was
// previously registered but is not currently Connected, this is a
// reconnect: the existing registration is reused so backlog draining
// (by AgentID) keeps working across the reconnect.
func (r *Registry) Register(agentID, teamID, endpoint string) (*AgentRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[agentID]; ok && existing.Status == StatusConnected {
		return nil, ErrAlreadyRegistered
	}

	now := time.Now()
	reg, ok := r.agents[agentID]
	if !ok {
		reg = &AgentRegistration{AgentID: agentID, RegisteredAt: now}
		r.agents[agentID] = reg
	}
	reg.TeamID = teamID
	reg.Endpoint = endpoint
	reg.Status = StatusConnected
	reg.LastHeartbeat = now
	reg.MissedBeats = 0

	if teamID != "" {
		members := r.teams[teamID]
		found := false
		for _, m := range members {
			if m == agentID {
				found = true
				break
			}
		}
		if !found {
			r.teams[teamID] = append(members, agentID)
		}
	}

	return reg, nil
}

// Get returns the registration for agentID, or nil if never registered.
func (r *Registry) Get(agentID string) *AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// MarkDisconnected flips an agent's status without removing its
// registration or backlog (spec §4.1 "Failure semantics").
func (r *Registry) MarkDisconnected(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.agents[agentID]; ok {
		reg.Status = StatusDisconnected
	}
}

// MarkStopped flips an agent's status to Stopped (after STOP_ACK).
func (r *Registry) MarkStopped(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.agents[agentID]; ok {
		reg.Status = StatusStopped
	}
}

// Heartbeat records a heartbeat_ack from agentID.
func (r *Registry) Heartbeat(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.agents[agentID]; ok {
		reg.LastHeartbeat = time.Now()
		reg.MissedBeats = 0
		if reg.Status != StatusStopped {
			reg.Status = StatusConnected
		}
	}
}

// ConnectedAgents returns a snapshot of every registration currently
// in Connected status, for the liveness monitor to ping.
func (r *Registry) ConnectedAgents() []*AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentRegistration, 0, len(r.agents))
	for _, reg := range r.agents {
		if reg.Status == StatusConnected {
			out = append(out, reg)
		}
	}
	return out
}

// IncrementMissedBeat records one missed heartbeat, returning the new
// count. Callers compare against the configured threshold.
func (r *Registry) IncrementMissedBeat(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return 0
	}
	reg.MissedBeats++
	return reg.MissedBeats
}

// JoinChannel adds agentID to channel's membership set.
func (r *Registry) JoinChannel(channel, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		r.channels[channel] = members
	}
	members[agentID] = struct{}{}
}

// LeaveChannel removes agentID from channel's membership set.
func (r *Registry) LeaveChannel(channel, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.channels[channel]; ok {
		delete(members, agentID)
	}
}

// ChannelMembers returns a snapshot of channel's members.
func (r *Registry) ChannelMembers(channel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[channel]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// TeamMembers returns a snapshot of teamID's member agent ids, in
// registration order.
func (r *Registry) TeamMembers(teamID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.teams[teamID]
	out := make([]string, len(members))
	copy(out, members)
	return out
}
