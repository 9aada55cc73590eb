package storage

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewBboltStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSettings_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil settings before first save, got %+v", rec)
	}

	in := SettingsRecord{
		Enabled:              true,
		TabLimit:             7,
		WindowLimit:          2,
		AutoClose:            true,
		AutoCloseWindows:     false,
		Notifications:        true,
		PauseBetweenClosures: 250 * time.Millisecond,
		WindowGracePeriod:    30 * time.Second,
	}
	if err := store.PutSettings(in); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}

	out, err := store.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings after save: %v", err)
	}
	if out == nil {
		t.Fatal("expected settings after save, got nil")
	}
	if out.TabLimit != 7 || out.WindowLimit != 2 || !out.Enabled {
		t.Errorf("settings mismatch: %+v", out)
	}
	if out.PauseBetweenClosures != 250*time.Millisecond {
		t.Errorf("pause mismatch: %s", out.PauseBetweenClosures)
	}
	if out.SavedAt.IsZero() {
		t.Error("SavedAt should be stamped on save")
	}
}

func TestSettings_SaveReplacesWhole(t *testing.T) {
	store := newTestStore(t)

	_ = store.PutSettings(SettingsRecord{Enabled: true, TabLimit: 10, WindowLimit: 3})
	_ = store.PutSettings(SettingsRecord{Enabled: false, TabLimit: 4})

	out, err := store.GetSettings()
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	// Second write is a full replace, not a merge.
	if out.Enabled || out.TabLimit != 4 || out.WindowLimit != 0 {
		t.Errorf("expected full replace, got %+v", out)
	}
}

func TestClosures_NewestFirstAndLimit(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		err := store.AppendClosure(ClosureRecord{
			Resource: "tab",
			ID:       int64(i + 1),
			WindowID: 100,
			Reason:   "over limit",
			ClosedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendClosure %d: %v", i, err)
		}
	}

	list, err := store.ListClosures(3)
	if err != nil {
		t.Fatalf("ListClosures: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if list[0].ID != 5 || list[1].ID != 4 || list[2].ID != 3 {
		t.Errorf("expected newest-first order, got %v %v %v", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestClosures_SameNanosecondNotClobbered(t *testing.T) {
	store := newTestStore(t)

	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := store.AppendClosure(ClosureRecord{Resource: "tab", ID: int64(i), ClosedAt: at}); err != nil {
			t.Fatalf("AppendClosure: %v", err)
		}
	}
	list, err := store.ListClosures(0)
	if err != nil {
		t.Fatalf("ListClosures: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 records despite identical timestamps, got %d", len(list))
	}
}

func TestClosures_Prune(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	_ = store.AppendClosure(ClosureRecord{Resource: "tab", ID: 1, ClosedAt: old})
	_ = store.AppendClosure(ClosureRecord{Resource: "window", ID: 2, ClosedAt: recent})

	pruned, err := store.PruneClosures(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneClosures: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}
	list, _ := store.ListClosures(0)
	if len(list) != 1 || list[0].ID != 2 {
		t.Errorf("expected only the recent record to survive, got %+v", list)
	}
}

func TestSizeBytes(t *testing.T) {
	store := newTestStore(t)
	size, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("SizeBytes: %v", err)
	}
	if size <= 0 {
		t.Errorf("expected positive db size, got %d", size)
	}
}
