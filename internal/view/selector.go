// Package view implements the message-view selector described in spec
// §4.5: a pluggable function that narrows the full message history down
// to what a single respond() call should see as "conversation history".
package view

import (
	"sort"

	"github.com/chorusrt/chorus/internal/envelope"
)

// Selector narrows history down to the view incoming should be
// answered in the context of.
type Selector interface {
	Select(history []*envelope.Envelope, incoming *envelope.Envelope) []*envelope.Envelope
}

// merge sorts external history and internalEvents by timestamp into a
// single sequence, the input every Selector implementation filters
// (spec §4.5: "applied to the merger of external messages and the
// agent's own state.internal_events, sorted by timestamp").
func merge(history, internalEvents []*envelope.Envelope) []*envelope.Envelope {
	merged := make([]*envelope.Envelope, 0, len(history)+len(internalEvents))
	merged = append(merged, history...)
	merged = append(merged, internalEvents...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// truncateAt returns everything up to and including the envelope
// matching incoming.MessageID, or all of messages followed by incoming
// when no envelope matches.
func truncateAt(messages []*envelope.Envelope, incoming *envelope.Envelope) []*envelope.Envelope {
	for i, m := range messages {
		if m.MessageID == incoming.MessageID {
			return messages[:i+1]
		}
	}
	return append(messages, incoming)
}

func includeInternal(env *envelope.Envelope, includeInternalEvents bool) bool {
	return includeInternalEvents || env.EventType != envelope.EventInternal
}

// Direct includes only messages whose (source, destination) pair
// equals (incoming.source, incoming.destination), in either direction,
// with a matching channel, up to and including incoming.
type Direct struct {
	IncludeInternalEvents bool
}

func (d Direct) Select(history []*envelope.Envelope, incoming *envelope.Envelope) []*envelope.Envelope {
	merged := truncateAt(merge(history, nil), incoming)
	return filterPairwise(merged, incoming.Source, incoming.Destination, incoming.Channel, d.IncludeInternalEvents)
}

func filterPairwise(messages []*envelope.Envelope, source, destination, channel string, includeInternalEvents bool) []*envelope.Envelope {
	out := make([]*envelope.Envelope, 0, len(messages))
	for _, m := range messages {
		if !includeInternal(m, includeInternalEvents) {
			continue
		}
		pair := (m.Source == source && m.Destination == destination) ||
			(m.Source == destination && m.Destination == source)
		if pair && m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// Channel includes every message on the same channel up to incoming;
// if incoming is itself a direct message (non-empty, distinct source
// and destination) it behaves as Direct instead.
type Channel struct {
	IncludeInternalEvents bool
}

func (c Channel) Select(history []*envelope.Envelope, incoming *envelope.Envelope) []*envelope.Envelope {
	merged := truncateAt(merge(history, nil), incoming)

	if incoming.Source != "" && incoming.Destination != "" && incoming.Source != incoming.Destination {
		return filterPairwise(merged, incoming.Source, incoming.Destination, incoming.Channel, c.IncludeInternalEvents)
	}

	out := make([]*envelope.Envelope, 0, len(merged))
	for _, m := range merged {
		if !includeInternal(m, c.IncludeInternalEvents) {
			continue
		}
		if m.Channel == incoming.Channel {
			out = append(out, m)
		}
	}
	return out
}

// Global includes every message up to and including incoming.
type Global struct {
	IncludeInternalEvents bool
}

func (g Global) Select(history []*envelope.Envelope, incoming *envelope.Envelope) []*envelope.Envelope {
	merged := truncateAt(merge(history, nil), incoming)
	if g.IncludeInternalEvents {
		return merged
	}
	out := make([]*envelope.Envelope, 0, len(merged))
	for _, m := range merged {
		if includeInternal(m, false) {
			out = append(out, m)
		}
	}
	return out
}

// SelectWithInternalEvents is the entry point respond() uses: it
// merges history with the agent's own internalEvents before applying
// sel (spec §4.5).
func SelectWithInternalEvents(sel Selector, history, internalEvents []*envelope.Envelope, incoming *envelope.Envelope) []*envelope.Envelope {
	return sel.Select(merge(history, internalEvents), incoming)
}
