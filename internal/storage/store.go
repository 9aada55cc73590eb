package storage

import (
	"time"
)

// SettingsRecord is the persisted flat configuration record. Reads and
// writes are all-or-nothing per call; partial updates are not supported.
type SettingsRecord struct {
	Enabled              bool          `msgpack:"enabled"`
	TabLimit             int           `msgpack:"tab_limit"`
	WindowLimit          int           `msgpack:"window_limit"`
	AutoClose            bool          `msgpack:"auto_close"`
	AutoCloseWindows     bool          `msgpack:"auto_close_windows"`
	Notifications        bool          `msgpack:"notifications"`
	PauseBetweenClosures time.Duration `msgpack:"pause_between_closures"`
	WindowGracePeriod    time.Duration `msgpack:"window_grace_period"`
	SavedAt              time.Time     `msgpack:"saved_at"`
}

// ClosureRecord is one enforced closure, kept for the history view and
// pruned by the janitor after the retention window.
type ClosureRecord struct {
	Resource string    `msgpack:"resource"` // "tab" or "window"
	ID       int64     `msgpack:"id"`
	WindowID int64     `msgpack:"window_id"`
	Reason   string    `msgpack:"reason"`
	ClosedAt time.Time `msgpack:"closed_at"`
}

// Store is the persistence interface for the limiter.
type Store interface {
	// Settings record. GetSettings returns (nil, nil) when nothing has
	// been saved yet.
	GetSettings() (*SettingsRecord, error)
	PutSettings(rec SettingsRecord) error

	// Closure history
	AppendClosure(rec ClosureRecord) error
	ListClosures(limit int) ([]ClosureRecord, error) // newest first
	PruneClosures(olderThan time.Time) (int, error)

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
