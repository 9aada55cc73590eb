package config

import (
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
)

// Settings is the enforced configuration: the record the popup edits and the
// enforcers consult. The JSON shape uses millisecond integers for durations,
// matching what the UI sends.
type Settings struct {
	Enabled              bool          `json:"enabled"`
	TabLimit             int           `json:"tabLimit"`
	WindowLimit          int           `json:"windowLimit"`
	AutoClose            bool          `json:"autoClose"`
	AutoCloseWindows     bool          `json:"autoCloseWindows"`
	Notifications        bool          `json:"notifications"`
	PauseBetweenClosures time.Duration `json:"-"`
	WindowGracePeriod    time.Duration `json:"-"`

	// Wire fields for the two durations, in milliseconds.
	PauseBetweenClosuresMs int64 `json:"pauseBetweenClosures"`
	WindowGracePeriodMs    int64 `json:"windowGracePeriod"`
}

// DefaultSettings are the built-in values used when nothing is stored.
// Every field of an effective configuration is total: a merge always starts
// from here.
func DefaultSettings() Settings {
	return Settings{
		Enabled:              true,
		TabLimit:             10,
		WindowLimit:          3,
		AutoClose:            true,
		AutoCloseWindows:     false,
		Notifications:        true,
		PauseBetweenClosures: 500 * time.Millisecond,
		WindowGracePeriod:    30 * time.Second,
	}
}

// Normalize clamps out-of-range values and syncs the wire duration fields.
func (s *Settings) Normalize() {
	if s.TabLimit < 1 {
		s.TabLimit = 1
	}
	if s.WindowLimit < 1 {
		s.WindowLimit = 1
	}
	if s.PauseBetweenClosures < 0 {
		s.PauseBetweenClosures = 0
	}
	if s.WindowGracePeriod < 0 {
		s.WindowGracePeriod = 0
	}
	s.PauseBetweenClosuresMs = s.PauseBetweenClosures.Milliseconds()
	s.WindowGracePeriodMs = s.WindowGracePeriod.Milliseconds()
}

// ApplyWire copies the millisecond wire fields into the duration fields.
// Called after decoding a Settings value from JSON.
func (s *Settings) ApplyWire() {
	s.PauseBetweenClosures = time.Duration(s.PauseBetweenClosuresMs) * time.Millisecond
	s.WindowGracePeriod = time.Duration(s.WindowGracePeriodMs) * time.Millisecond
}

// toRecord converts to the persisted flat record.
func (s Settings) toRecord() storage.SettingsRecord {
	return storage.SettingsRecord{
		Enabled:              s.Enabled,
		TabLimit:             s.TabLimit,
		WindowLimit:          s.WindowLimit,
		AutoClose:            s.AutoClose,
		AutoCloseWindows:     s.AutoCloseWindows,
		Notifications:        s.Notifications,
		PauseBetweenClosures: s.PauseBetweenClosures,
		WindowGracePeriod:    s.WindowGracePeriod,
	}
}

// fromRecord converts a persisted record back into Settings.
func fromRecord(rec storage.SettingsRecord) Settings {
	return Settings{
		Enabled:              rec.Enabled,
		TabLimit:             rec.TabLimit,
		WindowLimit:          rec.WindowLimit,
		AutoClose:            rec.AutoClose,
		AutoCloseWindows:     rec.AutoCloseWindows,
		Notifications:        rec.Notifications,
		PauseBetweenClosures: rec.PauseBetweenClosures,
		WindowGracePeriod:    rec.WindowGracePeriod,
	}
}
