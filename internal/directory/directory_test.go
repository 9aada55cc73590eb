package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/testutil"
	"github.com/rs/zerolog"
)

func seed(b *testutil.MockBrowser) {
	b.AddWindow(browser.Window{ID: 1, Type: browser.WindowNormal, Focused: true})
	b.AddWindow(browser.Window{ID: 2, Type: browser.WindowNormal})
	b.AddWindow(browser.Window{ID: 3, Type: browser.WindowPopup})
	b.AddTab(browser.Tab{ID: 10, WindowID: 1})
	b.AddTab(browser.Tab{ID: 11, WindowID: 1})
	b.AddTab(browser.Tab{ID: 12, WindowID: 2})
}

func TestCountNormalWindows_ExcludesPopups(t *testing.T) {
	b := testutil.NewMockBrowser()
	seed(b)
	d := New(b, zerolog.Nop())

	n, err := d.CountNormalWindows(context.Background())
	if err != nil {
		t.Fatalf("CountNormalWindows: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 normal windows, got %d", n)
	}
}

func TestWindowStats(t *testing.T) {
	b := testutil.NewMockBrowser()
	seed(b)
	d := New(b, zerolog.Nop())

	stats, err := d.WindowStats(context.Background())
	if err != nil {
		t.Fatalf("WindowStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for 2 windows, got %d", len(stats))
	}
	if stats[0].WindowID != 1 || stats[0].TabCount != 2 || !stats[0].Focused {
		t.Errorf("unexpected stat for window 1: %+v", stats[0])
	}
	if stats[1].WindowID != 2 || stats[1].TabCount != 1 {
		t.Errorf("unexpected stat for window 2: %+v", stats[1])
	}
}

func TestWindowStats_PartialFailure(t *testing.T) {
	b := testutil.NewMockBrowser()
	seed(b)
	d := New(b, zerolog.Nop())

	// First per-window tab query fails; the list must not be zeroed out.
	b.SetError("QueryTabs", errors.New("window vanished"))
	stats, err := d.WindowStats(context.Background())
	if err != nil {
		t.Fatalf("WindowStats should tolerate one window failing: %v", err)
	}
	if len(stats) != 1 {
		t.Errorf("expected the surviving window's stat, got %d entries", len(stats))
	}
}

func TestFocusedWindow(t *testing.T) {
	b := testutil.NewMockBrowser()
	seed(b)
	d := New(b, zerolog.Nop())

	id, err := d.FocusedWindow(context.Background())
	if err != nil {
		t.Fatalf("FocusedWindow: %v", err)
	}
	if id != 1 {
		t.Errorf("expected window 1 focused, got %d", id)
	}

	b.SetFocused(0) // nobody focused
	id, err = d.FocusedWindow(context.Background())
	if err != nil {
		t.Fatalf("FocusedWindow: %v", err)
	}
	if id != 0 {
		t.Errorf("expected 0 when no window reports focus, got %d", id)
	}
}

func TestWindowQueryFailurePropagates(t *testing.T) {
	b := testutil.NewMockBrowser()
	seed(b)
	d := New(b, zerolog.Nop())

	b.SetError("QueryWindows", errors.New("browser gone"))
	if _, err := d.WindowStats(context.Background()); err == nil {
		t.Error("expected the top-level window query failure to propagate")
	}
}
