// Package envelope defines the single unit of transport between agents:
// the Envelope, and the Action/Observation payloads it carries.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// EventType governs visibility and routing for an Envelope.
type EventType string

const (
	// EventMessage is an ordinary agent-to-agent or agent-to-human message.
	EventMessage EventType = "message"
	// EventInternal marks a thought/action/observation the sender keeps in
	// its own memory rather than broadcasting.
	EventInternal EventType = "internal_event"
	// EventTeamService addresses an in-team auxiliary actor (voting,
	// scratchpad, storage, toolbox) via action messages.
	EventTeamService EventType = "team_service"
	// EventNotification is a side-channel status update (e.g. "queued,
	// position = k") that isn't itself a conversational turn.
	EventNotification EventType = "notification"
)

// Action requests a tool invocation.
type Action struct {
	ToolName         string         `json:"tool_name"`
	ActionName       string         `json:"action_name"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	ToolUseID        string         `json:"tool_use_id"`
	AsyncExecutionID string         `json:"async_execution_id,omitempty"`
}

// Observation reports the result of a tool invocation.
type Observation struct {
	Data               any    `json:"data,omitempty"`
	ToolUseID          string `json:"tool_use_id"`
	AsyncExecutionID   string `json:"async_execution_id,omitempty"`
	IsAsyncObservation bool   `json:"is_async_observation,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Envelope is the single unit of transport carried by the router.
//
// Invariants: MessageID is globally unique across the router's
// lifetime; once appended to the log an Envelope is immutable; Timestamp
// is non-decreasing per Source.
type Envelope struct {
	MessageID          string         `json:"message_id"`
	EventType          EventType      `json:"event_type"`
	Source             string         `json:"source"`
	Destination        string         `json:"destination,omitempty"`
	Channel            string         `json:"channel,omitempty"`
	Timestamp          int64          `json:"timestamp"`
	Content            string         `json:"content,omitempty"`
	Actions            []Action       `json:"actions,omitempty"`
	Observations       []Observation  `json:"observations,omitempty"`
	StructuredContent  map[string]any `json:"structured_content,omitempty"`
	Artifacts          map[string]any `json:"artifacts,omitempty"`
}

// New returns an Envelope with MessageID and Timestamp assigned if unset.
// Mirrors the router's "assign id/timestamp on first send if absent"
// rule (spec §4.1 step 1) so callers can construct envelopes that are
// already well-formed before they ever reach the router.
func New(eventType EventType, source, destination string) *Envelope {
	return &Envelope{
		MessageID:   uuid.NewString(),
		EventType:   eventType,
		Source:      source,
		Destination: destination,
		Timestamp:   time.Now().Unix(),
	}
}

// WithChannel sets the Channel field and returns the envelope for chaining.
func (e *Envelope) WithChannel(channel string) *Envelope {
	e.Channel = channel
	return e
}

// WithContent sets the Content field and returns the envelope for chaining.
func (e *Envelope) WithContent(content string) *Envelope {
	e.Content = content
	return e
}

// Clone returns a deep-enough copy safe to mutate (e.g. to rewrite
// Source before re-emitting, as the team coordinator does).
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Actions != nil {
		clone.Actions = append([]Action(nil), e.Actions...)
	}
	if e.Observations != nil {
		clone.Observations = append([]Observation(nil), e.Observations...)
	}
	return &clone
}

// IsBroadcast reports whether the envelope targets a channel rather than
// (or in addition to) a single destination.
func (e *Envelope) IsBroadcast() bool {
	return e.Channel != ""
}
