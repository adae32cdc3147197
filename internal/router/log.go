package router

import (
	"sync"

	"github.com/chorusrt/chorus/internal/envelope"
)

// Log is the router's single piece of authoritative cross-agent shared
// state (spec §5): an append-only, monotonically growing sequence of
// envelopes. Readers take a stable snapshot by index; the writer
// (always the router's Send path) holds the lock only long enough to
// append.
type Log struct {
	mu      sync.RWMutex
	entries []*envelope.Envelope
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Append adds env to the log and returns its index (0-based).
func (l *Log) Append(env *envelope.Envelope) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, env)
	return len(l.entries) - 1
}

// Since returns every entry at or after index from (inclusive), as a
// stable snapshot safe to read without further locking.
func (l *Log) Since(from int) []*envelope.Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	out := make([]*envelope.Envelope, len(l.entries)-from)
	copy(out, l.entries[from:])
	return out
}

// All returns every entry in the log.
func (l *Log) All() []*envelope.Envelope {
	return l.Since(0)
}

// Len returns the number of entries currently in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastActivity returns the unix timestamp (seconds) of the most
// recently appended envelope, or 0 if the log is empty. Backs the
// runner's no-activity stop condition.
func (l *Log) LastActivity() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Timestamp
}
