package activity

import (
	"sync"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/rs/zerolog"
)

// EntryType classifies an activity log entry.
type EntryType string

const (
	Info    EntryType = "info"
	Warning EntryType = "warning"
	Error   EntryType = "error"
	Action  EntryType = "action"
)

// Entry is one human-readable activity record, read newest-first by the UI.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Type      EntryType `json:"type"`
	WindowID  int64     `json:"windowId,omitempty"`
}

// DefaultMaxEntries bounds the ring buffer when no size is configured.
const DefaultMaxEntries = 50

// Log is a bounded newest-first ring buffer of activity entries. Oldest
// entries are dropped silently on overflow. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	zl      zerolog.Logger
}

// NewLog creates a Log holding at most max entries; max <= 0 uses the default.
func NewLog(max int, zl zerolog.Logger) *Log {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Log{max: max, zl: zl}
}

// Record prepends an entry and truncates to the configured maximum. The
// entry is mirrored to the structured logger at a matching level.
func (l *Log) Record(typ EntryType, message string, windowID int64) {
	entry := Entry{
		Timestamp: time.Now(),
		Message:   message,
		Type:      typ,
		WindowID:  windowID,
	}

	l.mu.Lock()
	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}
	size := len(l.entries)
	l.mu.Unlock()

	metrics.ActivityLogSize.Set(float64(size))

	ev := l.zl.Info()
	switch typ {
	case Warning:
		ev = l.zl.Warn()
	case Error:
		ev = l.zl.Error()
	}
	if windowID != 0 {
		ev = ev.Int64("window_id", windowID)
	}
	ev.Str("activity", string(typ)).Msg(message)
}

// Helpers keep call sites terse.

func (l *Log) Info(message string) { l.Record(Info, message, 0) }

func (l *Log) Warn(message string, windowID int64) { l.Record(Warning, message, windowID) }

func (l *Log) Error(message string, windowID int64) { l.Record(Error, message, windowID) }

func (l *Log) Action(message string, windowID int64) { l.Record(Action, message, windowID) }

// Snapshot returns a copy of the entries, newest first.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current entry count.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops all entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
	metrics.ActivityLogSize.Set(0)
}
