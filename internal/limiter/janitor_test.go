package limiter

import (
	"errors"
	"testing"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/directory"
	"github.com/Camilo-ovalle/tab-limiter/internal/enforcer"
	"github.com/Camilo-ovalle/tab-limiter/internal/notify"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/Camilo-ovalle/tab-limiter/internal/testutil"
	"github.com/rs/zerolog"
)

func newTestJanitor(t *testing.T, store storage.Store, retention time.Duration) *Janitor {
	t.Helper()
	b := testutil.NewMockBrowser()
	resolver := config.NewResolver(testutil.NewMockStore(), nil, zerolog.Nop())
	dir := directory.New(b, zerolog.Nop())
	act := activity.NewLog(10, zerolog.Nop())
	windows := enforcer.NewWindowEnforcer(b, dir, resolver, store, act, notify.Nop{},
		"http://127.0.0.1:8732/warning", 0, zerolog.Nop())
	return NewJanitor(store, windows, nil, time.Hour, retention, zerolog.Nop())
}

func TestJanitor_PrunesOldClosures(t *testing.T) {
	store := testutil.NewMockStore()
	if err := store.AppendClosure(storage.ClosureRecord{
		Resource: "tab", ID: 1, ClosedAt: time.Now().Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("AppendClosure: %v", err)
	}
	if err := store.AppendClosure(storage.ClosureRecord{
		Resource: "tab", ID: 2, ClosedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AppendClosure: %v", err)
	}

	j := newTestJanitor(t, store, 24*time.Hour)
	j.tick()

	recs, err := store.ListClosures(0)
	if err != nil {
		t.Fatalf("ListClosures: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 2 {
		t.Errorf("expected only the recent record to survive, got %+v", recs)
	}
}

func TestJanitor_TickSurvivesStoreFailure(t *testing.T) {
	store := testutil.NewMockStore()
	store.SetError("PruneClosures", errors.New("db locked"))
	store.SetError("SizeBytes", errors.New("db locked"))

	j := newTestJanitor(t, store, time.Hour)
	j.tick() // must not panic or abort
}
