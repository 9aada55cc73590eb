package browser

import (
	"context"
	"errors"
	"fmt"
)

// WindowType discriminates normal top-level windows from popups and app shells.
type WindowType string

const (
	WindowNormal WindowType = "normal"
	WindowPopup  WindowType = "popup"
	WindowApp    WindowType = "app"
)

// Tab is a single open tab. IDs are assigned monotonically in creation
// order, so a larger id means a younger tab.
type Tab struct {
	ID       int64
	WindowID int64
	Pinned   bool
	Active   bool
	Title    string
	URL      string
}

// Window is a single top-level browser window.
type Window struct {
	ID      int64
	Type    WindowType
	Focused bool
}

// Browser is the host-runtime seam. All methods accept context for deadline
// control. Close operations against an already-gone target return ErrTabGone
// or ErrWindowGone, which callers treat as success.
type Browser interface {
	QueryTabs(ctx context.Context, windowID int64) ([]Tab, error)
	QueryAllTabs(ctx context.Context) ([]Tab, error)
	QueryWindows(ctx context.Context) ([]Window, error)

	CloseTab(ctx context.Context, tabID int64) error
	CloseWindow(ctx context.Context, windowID int64) error

	// NavigateTab points an existing tab at a new URL (used for the
	// warning view redirect).
	NavigateTab(ctx context.Context, tabID int64, url string) error

	Ping(ctx context.Context) error
	Close() error
}

// --- Typed errors -----------------------------------------------------------

// ErrTabGone is returned when the target tab no longer exists.
type ErrTabGone struct {
	ID int64
}

func (e *ErrTabGone) Error() string {
	return fmt.Sprintf("tab %d gone", e.ID)
}

// ErrWindowGone is returned when the target window no longer exists.
type ErrWindowGone struct {
	ID int64
}

func (e *ErrWindowGone) Error() string {
	return fmt.Sprintf("window %d gone", e.ID)
}

// IsGone reports whether err is an already-closed tab or window. Closing a
// resource that is already gone is defined as a no-op success.
func IsGone(err error) bool {
	var tg *ErrTabGone
	var wg *ErrWindowGone
	return errors.As(err, &tg) || errors.As(err, &wg)
}
