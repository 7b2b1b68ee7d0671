package eventlog

import (
	"sync"

	"github.com/xkilldash9x/eventlogger/api/schemas"
)

// EventLog is an append-only, insertion-ordered list of entries.
type EventLog struct {
	mu      sync.RWMutex
	entries []schemas.LogEntry
}

func (l *EventLog) Append(e schemas.LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of the log.
func (l *EventLog) Entries() []schemas.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schemas.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Records converts the log into plain report records.
func (l *EventLog) Records() []schemas.EventRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schemas.EventRecord, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Record()
	}
	return out
}
