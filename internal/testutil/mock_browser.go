package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
)

// MockBrowser implements browser.Browser against in-memory tab/window state.
// All methods are safe for concurrent use.
type MockBrowser struct {
	mu      sync.Mutex
	tabs    map[int64]browser.Tab
	windows map[int64]browser.Window

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// Call recording
	ClosedTabs    []int64
	ClosedWindows []int64
	Navigations   []Navigation
}

// Navigation records a NavigateTab call.
type Navigation struct {
	TabID int64
	URL   string
}

// NewMockBrowser returns an empty MockBrowser.
func NewMockBrowser() *MockBrowser {
	return &MockBrowser{
		tabs:    make(map[int64]browser.Tab),
		windows: make(map[int64]browser.Window),
		errors:  make(map[string]error),
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockBrowser) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockBrowser) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// AddWindow registers a window.
func (m *MockBrowser) AddWindow(w browser.Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.ID] = w
}

// AddTab registers a tab. The owning window must already exist for
// realistic setups, but this is not enforced.
func (m *MockBrowser) AddTab(t browser.Tab) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[t.ID] = t
}

// RemoveTab drops a tab without recording a close, simulating the user
// closing it themselves.
func (m *MockBrowser) RemoveTab(tabID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tabs, tabID)
}

// RemoveWindow drops a window and its tabs without recording a close.
func (m *MockBrowser) RemoveWindow(windowID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, windowID)
	for id, t := range m.tabs {
		if t.WindowID == windowID {
			delete(m.tabs, id)
		}
	}
}

// MoveTab reassigns a tab to another window.
func (m *MockBrowser) MoveTab(tabID, windowID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[tabID]; ok {
		t.WindowID = windowID
		m.tabs[tabID] = t
	}
}

// SetFocused marks exactly one window as focused.
func (m *MockBrowser) SetFocused(windowID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.windows {
		w.Focused = id == windowID
		m.windows[id] = w
	}
}

// HasWindow reports whether the window still exists.
func (m *MockBrowser) HasWindow(windowID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.windows[windowID]
	return ok
}

// HasTab reports whether the tab still exists.
func (m *MockBrowser) HasTab(tabID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tabs[tabID]
	return ok
}

func (m *MockBrowser) QueryTabs(_ context.Context, windowID int64) ([]browser.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("QueryTabs"); err != nil {
		return nil, err
	}
	var tabs []browser.Tab
	for _, t := range m.tabs {
		if t.WindowID == windowID {
			tabs = append(tabs, t)
		}
	}
	sortTabs(tabs)
	return tabs, nil
}

func (m *MockBrowser) QueryAllTabs(_ context.Context) ([]browser.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("QueryAllTabs"); err != nil {
		return nil, err
	}
	tabs := make([]browser.Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	sortTabs(tabs)
	return tabs, nil
}

func (m *MockBrowser) QueryWindows(_ context.Context) ([]browser.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("QueryWindows"); err != nil {
		return nil, err
	}
	windows := make([]browser.Window, 0, len(m.windows))
	for _, w := range m.windows {
		windows = append(windows, w)
	}
	sortWindows(windows)
	return windows, nil
}

func (m *MockBrowser) CloseTab(_ context.Context, tabID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("CloseTab"); err != nil {
		return err
	}
	if _, ok := m.tabs[tabID]; !ok {
		return &browser.ErrTabGone{ID: tabID}
	}
	delete(m.tabs, tabID)
	m.ClosedTabs = append(m.ClosedTabs, tabID)
	return nil
}

func (m *MockBrowser) CloseWindow(_ context.Context, windowID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("CloseWindow"); err != nil {
		return err
	}
	if _, ok := m.windows[windowID]; !ok {
		return &browser.ErrWindowGone{ID: windowID}
	}
	delete(m.windows, windowID)
	for id, t := range m.tabs {
		if t.WindowID == windowID {
			delete(m.tabs, id)
		}
	}
	m.ClosedWindows = append(m.ClosedWindows, windowID)
	return nil
}

func (m *MockBrowser) NavigateTab(_ context.Context, tabID int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("NavigateTab"); err != nil {
		return err
	}
	t, ok := m.tabs[tabID]
	if !ok {
		return &browser.ErrTabGone{ID: tabID}
	}
	t.URL = url
	m.tabs[tabID] = t
	m.Navigations = append(m.Navigations, Navigation{TabID: tabID, URL: url})
	return nil
}

func (m *MockBrowser) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popError("Ping")
}

func (m *MockBrowser) Close() error {
	return nil
}

func sortTabs(tabs []browser.Tab) {
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
}

func sortWindows(windows []browser.Window) {
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
}
