package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/rs/zerolog"
)

// Kind identifies a browser lifecycle event.
type Kind string

const (
	TabCreated         Kind = "tab-created"
	TabRemoved         Kind = "tab-removed"
	TabAttached        Kind = "tab-attached"
	TabDetached        Kind = "tab-detached"
	WindowCreated      Kind = "window-created"
	WindowRemoved      Kind = "window-removed"
	WindowFocusChanged Kind = "window-focus-changed"
	Initialize         Kind = "initialize"
)

// Valid reports whether k names a known event kind. Used to reject junk
// arriving over the ingest endpoint.
func Valid(k Kind) bool {
	switch k {
	case TabCreated, TabRemoved, TabAttached, TabDetached,
		WindowCreated, WindowRemoved, WindowFocusChanged, Initialize:
		return true
	}
	return false
}

// Event is a single observed change. TabID is zero for window-level events;
// WindowID is the affected window, or the newly focused one for focus changes.
type Event struct {
	Kind     Kind      `json:"kind"`
	TabID    int64     `json:"tabId,omitempty"`
	WindowID int64     `json:"windowId,omitempty"`
	At       time.Time `json:"at"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s tab=%d window=%d", e.Kind, e.TabID, e.WindowID)
}

// Watcher derives lifecycle events by diffing successive browser snapshots.
// The remote protocol has no subscription for window-level changes, so the
// daemon polls; the diff keeps downstream handlers identical to the push path.
type Watcher struct {
	browser browser.Browser
	log     zerolog.Logger

	primed    bool
	prevTabs  map[int64]int64 // tab id -> window id
	prevWins  map[int64]struct{}
	prevFocus int64
}

// NewWatcher builds a Watcher over the given browser connection.
func NewWatcher(b browser.Browser, log zerolog.Logger) *Watcher {
	return &Watcher{
		browser:  b,
		log:      log,
		prevTabs: make(map[int64]int64),
		prevWins: make(map[int64]struct{}),
	}
}

// Poll captures a snapshot and returns the events since the previous one.
// The first successful poll emits a single Initialize event. A snapshot
// failure returns the error and leaves the previous state untouched, so a
// transient outage does not fabricate removal events.
func (w *Watcher) Poll(ctx context.Context) ([]Event, error) {
	wins, err := w.browser.QueryWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	tabs, err := w.browser.QueryAllTabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}

	now := time.Now()
	curTabs := make(map[int64]int64, len(tabs))
	for _, t := range tabs {
		curTabs[t.ID] = t.WindowID
	}
	curWins := make(map[int64]struct{}, len(wins))
	var focus int64
	for _, win := range wins {
		curWins[win.ID] = struct{}{}
		if win.Focused {
			focus = win.ID
		}
	}

	if !w.primed {
		w.primed = true
		w.prevTabs = curTabs
		w.prevWins = curWins
		w.prevFocus = focus
		return []Event{{Kind: Initialize, At: now}}, nil
	}

	var out []Event

	// Window changes first so tab handlers see their window already known.
	for id := range curWins {
		if _, ok := w.prevWins[id]; !ok {
			out = append(out, Event{Kind: WindowCreated, WindowID: id, At: now})
		}
	}
	for id := range w.prevWins {
		if _, ok := curWins[id]; !ok {
			out = append(out, Event{Kind: WindowRemoved, WindowID: id, At: now})
		}
	}

	for id, win := range curTabs {
		prevWin, ok := w.prevTabs[id]
		switch {
		case !ok:
			out = append(out, Event{Kind: TabCreated, TabID: id, WindowID: win, At: now})
		case prevWin != win:
			out = append(out,
				Event{Kind: TabDetached, TabID: id, WindowID: prevWin, At: now},
				Event{Kind: TabAttached, TabID: id, WindowID: win, At: now})
		}
	}
	for id, win := range w.prevTabs {
		if _, ok := curTabs[id]; !ok {
			out = append(out, Event{Kind: TabRemoved, TabID: id, WindowID: win, At: now})
		}
	}

	if focus != w.prevFocus && focus != 0 {
		out = append(out, Event{Kind: WindowFocusChanged, WindowID: focus, At: now})
	}

	w.prevTabs = curTabs
	w.prevWins = curWins
	w.prevFocus = focus
	return out, nil
}
