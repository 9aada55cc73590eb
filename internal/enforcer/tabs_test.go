package enforcer

import (
	"context"
	"errors"
	"testing"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/notify"
	"github.com/Camilo-ovalle/tab-limiter/internal/testutil"
	"github.com/rs/zerolog"
)

type tabFixture struct {
	browser  *testutil.MockBrowser
	store    *testutil.MockStore
	activity *activity.Log
	enforcer *TabEnforcer
}

// newTabFixture wires a TabEnforcer over mocks, with settings mutated for the
// test. The inter-closure pause is zeroed so batches run instantly.
func newTabFixture(t *testing.T, mutate func(*config.Settings)) *tabFixture {
	t.Helper()
	b := testutil.NewMockBrowser()
	store := testutil.NewMockStore()
	resolver := config.NewResolver(store, nil, zerolog.Nop())

	s := config.DefaultSettings()
	s.PauseBetweenClosures = 0
	if mutate != nil {
		mutate(&s)
	}
	if err := resolver.Save(s); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	act := activity.NewLog(100, zerolog.Nop())
	return &tabFixture{
		browser:  b,
		store:    store,
		activity: act,
		enforcer: NewTabEnforcer(b, resolver, store, act, notify.Nop{}, zerolog.Nop()),
	}
}

func addTabs(b *testutil.MockBrowser, windowID int64, ids ...int64) {
	for _, id := range ids {
		b.AddTab(browser.Tab{ID: id, WindowID: windowID})
	}
}

func TestTabEnforce_ClosesNewestFirstWithTriggerLeading(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 5 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	addTabs(f.browser, 1, 1, 2, 3, 4, 5, 6, 7, 8)

	if err := f.enforcer.Enforce(context.Background(), 1, 8); err != nil {
		t.Fatalf("Enforce: %v", err)
	}

	want := []int64{8, 7, 6}
	if len(f.browser.ClosedTabs) != len(want) {
		t.Fatalf("expected %d closures, got %v", len(want), f.browser.ClosedTabs)
	}
	for i, id := range want {
		if f.browser.ClosedTabs[i] != id {
			t.Errorf("closure %d: expected tab %d, got %d", i, id, f.browser.ClosedTabs[i])
		}
	}
	for _, id := range []int64{1, 2, 3, 4, 5} {
		if !f.browser.HasTab(id) {
			t.Errorf("tab %d should have survived", id)
		}
	}
}

func TestTabEnforce_UnderLimitIsNoop(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 5 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	addTabs(f.browser, 1, 1, 2, 3)

	if err := f.enforcer.Enforce(context.Background(), 1, 3); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(f.browser.ClosedTabs) != 0 {
		t.Errorf("under the limit nothing closes, got %v", f.browser.ClosedTabs)
	}
}

func TestTabEnforce_PinnedNeverClosed(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 2 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	f.browser.AddTab(browser.Tab{ID: 1, WindowID: 1, Pinned: true})
	f.browser.AddTab(browser.Tab{ID: 2, WindowID: 1, Pinned: true})
	f.browser.AddTab(browser.Tab{ID: 3, WindowID: 1})
	f.browser.AddTab(browser.Tab{ID: 4, WindowID: 1})

	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	for _, id := range f.browser.ClosedTabs {
		if id == 1 || id == 2 {
			t.Errorf("pinned tab %d was closed", id)
		}
	}
	if len(f.browser.ClosedTabs) != 2 {
		t.Errorf("expected 2 closures, got %v", f.browser.ClosedTabs)
	}
}

func TestTabEnforce_PinnedTriggerNotFirst(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 2 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	f.browser.AddTab(browser.Tab{ID: 1, WindowID: 1})
	f.browser.AddTab(browser.Tab{ID: 2, WindowID: 1})
	f.browser.AddTab(browser.Tab{ID: 3, WindowID: 1, Pinned: true})

	// Trigger tab 3 is pinned, so the excess comes from the unpinned, newest
	// first.
	if err := f.enforcer.Enforce(context.Background(), 1, 3); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(f.browser.ClosedTabs) != 1 || f.browser.ClosedTabs[0] != 2 {
		t.Errorf("expected only tab 2 closed, got %v", f.browser.ClosedTabs)
	}
}

func TestTabEnforce_ActiveTabNotProtected(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 1 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	f.browser.AddTab(browser.Tab{ID: 1, WindowID: 1})
	f.browser.AddTab(browser.Tab{ID: 2, WindowID: 1, Active: true})

	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(f.browser.ClosedTabs) != 1 || f.browser.ClosedTabs[0] != 2 {
		t.Errorf("active tab is not exempt, expected tab 2 closed, got %v", f.browser.ClosedTabs)
	}
}

func TestTabEnforce_MostlyPinnedClosesOnlyAvailable(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 1 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	f.browser.AddTab(browser.Tab{ID: 1, WindowID: 1, Pinned: true})
	f.browser.AddTab(browser.Tab{ID: 2, WindowID: 1, Pinned: true})
	f.browser.AddTab(browser.Tab{ID: 3, WindowID: 1, Pinned: true})
	f.browser.AddTab(browser.Tab{ID: 4, WindowID: 1})

	// Excess is 3 but only one candidate exists. Close it, never error.
	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(f.browser.ClosedTabs) != 1 || f.browser.ClosedTabs[0] != 4 {
		t.Errorf("expected just tab 4 closed, got %v", f.browser.ClosedTabs)
	}
}

func TestTabEnforce_DisabledIsNoop(t *testing.T) {
	for _, mutate := range []func(*config.Settings){
		func(s *config.Settings) { s.Enabled = false; s.TabLimit = 1 },
		func(s *config.Settings) { s.AutoClose = false; s.TabLimit = 1 },
	} {
		f := newTabFixture(t, mutate)
		f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
		addTabs(f.browser, 1, 1, 2, 3)

		if err := f.enforcer.Enforce(context.Background(), 1, 3); err != nil {
			t.Fatalf("Enforce: %v", err)
		}
		if len(f.browser.ClosedTabs) != 0 {
			t.Errorf("disabled enforcement must not close, got %v", f.browser.ClosedTabs)
		}
	}
}

func TestTabEnforce_CloseFailureDoesNotAbortBatch(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 1 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	addTabs(f.browser, 1, 1, 2, 3)

	f.browser.SetError("CloseTab", errors.New("permission denied"))
	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	// Tab 3 failed, tab 2 still closed.
	if len(f.browser.ClosedTabs) != 1 || f.browser.ClosedTabs[0] != 2 {
		t.Errorf("expected the batch to continue past the failure, got %v", f.browser.ClosedTabs)
	}

	found := false
	for _, e := range f.activity.Snapshot() {
		if e.Type == activity.Error {
			found = true
		}
	}
	if !found {
		t.Error("close failure must be logged as an error entry")
	}
}

func TestTabEnforce_GoneTabIsSuccess(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 1 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	addTabs(f.browser, 1, 1, 2)

	f.browser.SetError("CloseTab", &browser.ErrTabGone{ID: 2})
	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	for _, e := range f.activity.Snapshot() {
		if e.Type == activity.Error {
			t.Errorf("already-gone tab must not log an error: %q", e.Message)
		}
	}
}

func TestTabEnforce_WarningAndActionEntries(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 1 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	addTabs(f.browser, 1, 1, 2, 3)

	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}

	var warnings, actions int
	for _, e := range f.activity.Snapshot() {
		switch e.Type {
		case activity.Warning:
			warnings++
		case activity.Action:
			actions++
		}
	}
	if warnings != 1 {
		t.Errorf("expected exactly one warning entry per batch, got %d", warnings)
	}
	if actions != 2 {
		t.Errorf("expected one action entry per closure, got %d", actions)
	}
}

func TestTabEnforce_ClosuresRecorded(t *testing.T) {
	f := newTabFixture(t, func(s *config.Settings) { s.TabLimit = 1 })
	f.browser.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal})
	addTabs(f.browser, 1, 1, 2)

	if err := f.enforcer.Enforce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	recs, err := f.store.ListClosures(0)
	if err != nil {
		t.Fatalf("ListClosures: %v", err)
	}
	if len(recs) != 1 || recs[0].Resource != "tab" || recs[0].ID != 2 {
		t.Errorf("unexpected closure history: %+v", recs)
	}
}
