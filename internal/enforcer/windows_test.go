package enforcer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/directory"
	"github.com/Camilo-ovalle/tab-limiter/internal/notify"
	"github.com/Camilo-ovalle/tab-limiter/internal/testutil"
	"github.com/rs/zerolog"
)

const testWarningURL = "http://127.0.0.1:8732/warning"

type winFixture struct {
	browser  *testutil.MockBrowser
	store    *testutil.MockStore
	activity *activity.Log
	enforcer *WindowEnforcer
}

// newWinFixture wires a WindowEnforcer over mocks with window auto-close on,
// zero settle delay, and no inter-closure pause.
func newWinFixture(t *testing.T, mutate func(*config.Settings)) *winFixture {
	t.Helper()
	b := testutil.NewMockBrowser()
	store := testutil.NewMockStore()
	resolver := config.NewResolver(store, nil, zerolog.Nop())

	s := config.DefaultSettings()
	s.AutoCloseWindows = true
	s.WindowLimit = 3
	s.PauseBetweenClosures = 0
	s.WindowGracePeriod = 50 * time.Millisecond
	if mutate != nil {
		mutate(&s)
	}
	if err := resolver.Save(s); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	act := activity.NewLog(100, zerolog.Nop())
	dir := directory.New(b, zerolog.Nop())
	enf := NewWindowEnforcer(b, dir, resolver, store, act, notify.Nop{}, testWarningURL, 0, zerolog.Nop())
	return &winFixture{browser: b, store: store, activity: act, enforcer: enf}
}

// addWindows creates n normal windows with ids 1..n, each with one tab of the
// same id offset by 100.
func (f *winFixture) addWindows(n int) {
	for i := int64(1); i <= int64(n); i++ {
		f.browser.AddWindow(browser.Window{ID: i, Type: browser.WindowNormal})
		f.browser.AddTab(browser.Tab{ID: 100 + i, WindowID: i})
	}
}

func TestWindowCreated_RedirectsToWarning(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(4)

	if err := f.enforcer.OnWindowCreated(context.Background(), 4); err != nil {
		t.Fatalf("OnWindowCreated: %v", err)
	}

	if len(f.browser.ClosedWindows) != 0 {
		t.Fatalf("warning strategy must not close immediately, closed %v", f.browser.ClosedWindows)
	}
	if len(f.browser.Navigations) != 1 {
		t.Fatalf("expected one warning redirect, got %v", f.browser.Navigations)
	}
	nav := f.browser.Navigations[0]
	if nav.TabID != 104 {
		t.Errorf("warning must load in the window's first tab, got tab %d", nav.TabID)
	}
	for _, param := range []string{"limit=3", "count=4", "windowId=4"} {
		if !strings.Contains(nav.URL, param) {
			t.Errorf("warning URL missing %q: %s", param, nav.URL)
		}
	}
	if f.enforcer.PendingCount() != 1 {
		t.Errorf("expected one pending closure, got %d", f.enforcer.PendingCount())
	}
}

func TestWindowCreated_UnderLimitIsNoop(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(3)

	if err := f.enforcer.OnWindowCreated(context.Background(), 3); err != nil {
		t.Fatalf("OnWindowCreated: %v", err)
	}
	if len(f.browser.Navigations) != 0 || f.enforcer.PendingCount() != 0 {
		t.Error("under the limit no warning must be shown")
	}
}

func TestWindowCreated_DisabledIsNoop(t *testing.T) {
	for _, mutate := range []func(*config.Settings){
		func(s *config.Settings) { s.Enabled = false },
		func(s *config.Settings) { s.AutoCloseWindows = false },
	} {
		f := newWinFixture(t, mutate)
		f.addWindows(4)
		if err := f.enforcer.OnWindowCreated(context.Background(), 4); err != nil {
			t.Fatalf("OnWindowCreated: %v", err)
		}
		if len(f.browser.Navigations) != 0 || len(f.browser.ClosedWindows) != 0 {
			t.Error("disabled enforcement must do nothing")
		}
	}
}

func TestWindowCreated_WarningFailureFallsBackToClose(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(3)
	// Window 4 exists but has no tabs, so the warning cannot display.
	f.browser.AddWindow(browser.Window{ID: 4, Type: browser.WindowNormal})

	if err := f.enforcer.OnWindowCreated(context.Background(), 4); err != nil {
		t.Fatalf("OnWindowCreated: %v", err)
	}
	if len(f.browser.ClosedWindows) != 1 || f.browser.ClosedWindows[0] != 4 {
		t.Errorf("expected best-effort close of window 4, got %v", f.browser.ClosedWindows)
	}
}

func TestWindowCreated_FocusedWindowNeverForceClosed(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(3)
	f.browser.AddWindow(browser.Window{ID: 4, Type: browser.WindowNormal})
	f.browser.SetFocused(4)

	if err := f.enforcer.OnWindowCreated(context.Background(), 4); err != nil {
		t.Fatalf("OnWindowCreated: %v", err)
	}
	if len(f.browser.ClosedWindows) != 0 {
		t.Fatalf("the focused window must never be closed, got %v", f.browser.ClosedWindows)
	}
	found := false
	for _, e := range f.activity.Snapshot() {
		if e.Type == activity.Warning && strings.Contains(e.Message, "focused") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning entry about the focused window")
	}
}

func TestConfirmClose_ClosesRegardlessOfFlag(t *testing.T) {
	f := newWinFixture(t, nil)
	f.browser.AddWindow(browser.Window{ID: 42, Type: browser.WindowNormal})
	f.browser.AddTab(browser.Tab{ID: 1, WindowID: 42})

	if err := f.enforcer.ConfirmClose(context.Background(), 42, false); err != nil {
		t.Fatalf("ConfirmClose: %v", err)
	}
	if len(f.browser.ClosedWindows) != 1 || f.browser.ClosedWindows[0] != 42 {
		t.Errorf("confirmed=false must still close window 42, got %v", f.browser.ClosedWindows)
	}
}

func TestConfirmClose_GoneWindowIsSuccess(t *testing.T) {
	f := newWinFixture(t, nil)
	if err := f.enforcer.ConfirmClose(context.Background(), 99, true); err != nil {
		t.Errorf("closing an already-gone window must succeed, got %v", err)
	}
}

func TestWindowRemoved_CancelsPending(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(4)

	if err := f.enforcer.OnWindowCreated(context.Background(), 4); err != nil {
		t.Fatalf("OnWindowCreated: %v", err)
	}
	f.enforcer.OnWindowRemoved(4)
	if f.enforcer.PendingCount() != 0 {
		t.Errorf("removal must drop the pending entry, got %d", f.enforcer.PendingCount())
	}
}

func TestTrack_CancelAndReplace(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(4)

	ctx := context.Background()
	if err := f.enforcer.OnWindowCreated(ctx, 4); err != nil {
		t.Fatalf("OnWindowCreated: %v", err)
	}
	if err := f.enforcer.OnWindowCreated(ctx, 4); err != nil {
		t.Fatalf("OnWindowCreated again: %v", err)
	}
	if f.enforcer.PendingCount() != 1 {
		t.Errorf("re-entry must replace, not duplicate, got %d pending", f.enforcer.PendingCount())
	}
}

func TestFallbackExpiry_GuardsStaleDecision(t *testing.T) {
	cases := []struct {
		name      string
		prepare   func(f *winFixture)
		wantClose bool
	}{
		{
			name:      "still over limit and unfocused",
			prepare:   func(f *winFixture) {},
			wantClose: true,
		},
		{
			name:      "window already gone",
			prepare:   func(f *winFixture) { f.browser.RemoveWindow(4) },
			wantClose: false,
		},
		{
			name:      "count dropped back under limit",
			prepare:   func(f *winFixture) { f.browser.RemoveWindow(2) },
			wantClose: false,
		},
		{
			name:      "window became focused",
			prepare:   func(f *winFixture) { f.browser.SetFocused(4) },
			wantClose: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newWinFixture(t, nil)
			f.addWindows(4)
			f.browser.SetFocused(1)
			f.enforcer.track(4, time.Hour)

			tc.prepare(f)
			f.enforcer.onFallbackExpired(4)

			closed := len(f.browser.ClosedWindows) == 1 && f.browser.ClosedWindows[0] == 4
			if closed != tc.wantClose {
				t.Errorf("wantClose=%v, closed windows %v", tc.wantClose, f.browser.ClosedWindows)
			}
			if f.enforcer.PendingCount() != 0 {
				t.Errorf("expiry must consume the pending entry, got %d", f.enforcer.PendingCount())
			}
		})
	}
}

func TestEnforceImmediate_ClosesNewestNonFocused(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(5)
	f.browser.SetFocused(5)

	if err := f.enforcer.EnforceImmediate(context.Background()); err != nil {
		t.Fatalf("EnforceImmediate: %v", err)
	}
	// Excess is 2; the focused window 5 is protected, so 4 and 3 go.
	want := []int64{4, 3}
	if len(f.browser.ClosedWindows) != len(want) {
		t.Fatalf("expected %v closed, got %v", want, f.browser.ClosedWindows)
	}
	for i, id := range want {
		if f.browser.ClosedWindows[i] != id {
			t.Errorf("closure %d: expected window %d, got %d", i, id, f.browser.ClosedWindows[i])
		}
	}
	if f.browser.HasWindow(5) != true {
		t.Error("focused window must survive")
	}
}

func TestEnforceImmediate_UnderLimitIsNoop(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(3)

	if err := f.enforcer.EnforceImmediate(context.Background()); err != nil {
		t.Fatalf("EnforceImmediate: %v", err)
	}
	if len(f.browser.ClosedWindows) != 0 {
		t.Errorf("under the limit nothing closes, got %v", f.browser.ClosedWindows)
	}
}

func TestEnforceImmediate_RecordsClosures(t *testing.T) {
	f := newWinFixture(t, nil)
	f.addWindows(4)
	f.browser.SetFocused(1)

	if err := f.enforcer.EnforceImmediate(context.Background()); err != nil {
		t.Fatalf("EnforceImmediate: %v", err)
	}
	recs, err := f.store.ListClosures(0)
	if err != nil {
		t.Fatalf("ListClosures: %v", err)
	}
	if len(recs) != 1 || recs[0].Resource != "window" || recs[0].ID != 4 {
		t.Errorf("unexpected closure history: %+v", recs)
	}
}
