package enforcer

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/directory"
	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/Camilo-ovalle/tab-limiter/internal/notify"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/rs/zerolog"
)

// fallbackSlack is added to the grace period before the daemon-side fallback
// timer fires, giving the warning view time to post its confirmation first.
const fallbackSlack = 2 * time.Second

// closeTimeout bounds the browser calls made from timer callbacks, which have
// no request context of their own.
const closeTimeout = 10 * time.Second

// pendingClosure tracks one over-limit window that has been shown a warning
// and not yet resolved.
type pendingClosure struct {
	createdAt time.Time
	timer     *time.Timer
}

// WindowEnforcer applies the window limit with an interactive warning: the
// offending window's first tab is redirected to a countdown view, and the
// window is closed when the view confirms or the fallback timer fires.
// A manual check bypasses the warning and closes immediately.
type WindowEnforcer struct {
	browser  browser.Browser
	dir      *directory.Directory
	resolver *config.Resolver
	store    storage.Store
	activity *activity.Log
	notifier notify.Notifier
	log      zerolog.Logger

	warningBaseURL string
	settleDelay    time.Duration

	mu      sync.Mutex
	pending map[int64]*pendingClosure
}

// NewWindowEnforcer builds a WindowEnforcer. warningBaseURL is where the
// countdown view is served; settleDelay is how long a freshly created window
// gets to settle before the count is re-verified.
func NewWindowEnforcer(b browser.Browser, dir *directory.Directory, resolver *config.Resolver,
	store storage.Store, act *activity.Log, notifier notify.Notifier,
	warningBaseURL string, settleDelay time.Duration, log zerolog.Logger) *WindowEnforcer {
	return &WindowEnforcer{
		browser:        b,
		dir:            dir,
		resolver:       resolver,
		store:          store,
		activity:       act,
		notifier:       notifier,
		log:            log,
		warningBaseURL: warningBaseURL,
		settleDelay:    settleDelay,
		pending:        make(map[int64]*pendingClosure),
	}
}

// OnWindowCreated handles a new window. If the normal-window count still
// exceeds the limit after the settle delay, the window's first tab is
// redirected to the warning view. If the redirect fails (the window vanished
// or has no tabs) the window is closed immediately, unless it is focused.
func (e *WindowEnforcer) OnWindowCreated(ctx context.Context, windowID int64) error {
	eff := e.resolver.Effective()
	if !eff.Enabled || !eff.AutoCloseWindows {
		return nil
	}

	if e.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.settleDelay):
		}
	}

	// Re-verify after the settle delay; the user may already have closed
	// something.
	count, err := e.dir.CountNormalWindows(ctx)
	if err != nil {
		return fmt.Errorf("count windows: %w", err)
	}
	if count <= eff.WindowLimit {
		return nil
	}
	metrics.EnforcementRuns.WithLabelValues("windows", "window-created").Inc()

	if err := e.showWarning(ctx, windowID, eff, count); err != nil {
		e.log.Warn().Int64("window_id", windowID).Err(err).Msg("warning view failed, falling back to close")
		return e.fallbackClose(ctx, windowID)
	}

	e.activity.Warn(fmt.Sprintf("window limit exceeded (%d/%d), warning shown for window %d",
		count, eff.WindowLimit, windowID), windowID)
	if eff.Notifications {
		e.notifier.Notify(ctx, "Window limit reached",
			fmt.Sprintf("Window %d will close in %ds unless you act", windowID, int(eff.WindowGracePeriod.Seconds())))
	}

	e.track(windowID, eff.WindowGracePeriod)
	return nil
}

// showWarning redirects the window's first tab to the countdown view.
func (e *WindowEnforcer) showWarning(ctx context.Context, windowID int64, eff config.Effective, count int) error {
	tabs, err := e.browser.QueryTabs(ctx, windowID)
	if err != nil {
		return fmt.Errorf("query tabs: %w", err)
	}
	if len(tabs) == 0 {
		return fmt.Errorf("window %d has no tabs", windowID)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })

	q := url.Values{}
	q.Set("limit", strconv.Itoa(eff.WindowLimit))
	q.Set("count", strconv.Itoa(count))
	q.Set("windowId", strconv.FormatInt(windowID, 10))
	return e.browser.NavigateTab(ctx, tabs[0].ID, e.warningBaseURL+"?"+q.Encode())
}

// fallbackClose closes the window immediately, unless it is focused.
func (e *WindowEnforcer) fallbackClose(ctx context.Context, windowID int64) error {
	focused, err := e.dir.FocusedWindow(ctx)
	if err != nil {
		return fmt.Errorf("focused window: %w", err)
	}
	if windowID == focused {
		e.activity.Warn(fmt.Sprintf("window %d over limit but focused, not closing", windowID), windowID)
		return nil
	}
	return e.closeWindow(ctx, windowID, "fallback")
}

// track registers the pending closure and arms the fallback timer. Re-entry
// for the same window cancels and replaces the previous timer; there is never
// more than one live timer per window id.
func (e *WindowEnforcer) track(windowID int64, grace time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.pending[windowID]; ok {
		prev.timer.Stop()
	}
	p := &pendingClosure{createdAt: time.Now()}
	p.timer = time.AfterFunc(grace+fallbackSlack, func() {
		e.onFallbackExpired(windowID)
	})
	e.pending[windowID] = p
	metrics.PendingClosures.Set(float64(len(e.pending)))
}

// onFallbackExpired fires when the warning view never confirmed. The original
// decision is stale by now, so re-verify that the window still exists, the
// count still exceeds the limit, and the window is not focused.
func (e *WindowEnforcer) onFallbackExpired(windowID int64) {
	if !e.untrack(windowID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	eff := e.resolver.Effective()
	if !eff.Enabled || !eff.AutoCloseWindows {
		return
	}
	windows, err := e.dir.NormalWindows(ctx)
	if err != nil {
		e.log.Warn().Int64("window_id", windowID).Err(err).Msg("fallback re-verify failed")
		return
	}
	exists := false
	var focused int64
	for _, w := range windows {
		if w.ID == windowID {
			exists = true
		}
		if w.Focused {
			focused = w.ID
		}
	}
	if !exists || len(windows) <= eff.WindowLimit || windowID == focused {
		return
	}
	if err := e.closeWindow(ctx, windowID, "expired"); err != nil {
		e.log.Error().Int64("window_id", windowID).Err(err).Msg("fallback close failed")
	}
}

// ConfirmClose handles the warning view's confirmation. The window closes on
// every confirmation path; letting the countdown expire and clicking the
// button converge to the same outcome, so the confirmed flag does not gate
// the closure.
func (e *WindowEnforcer) ConfirmClose(ctx context.Context, windowID int64, confirmed bool) error {
	e.untrack(windowID)
	if !confirmed {
		e.log.Debug().Int64("window_id", windowID).Msg("countdown expired without click, closing anyway")
	}
	return e.closeWindow(ctx, windowID, "confirmed")
}

// OnWindowRemoved drops tracking state when a window disappears through any
// path, so no stale timer fires against a reused id.
func (e *WindowEnforcer) OnWindowRemoved(windowID int64) {
	e.untrack(windowID)
}

// untrack removes and cancels the pending entry. Reports whether one existed.
func (e *WindowEnforcer) untrack(windowID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[windowID]
	if ok {
		p.timer.Stop()
		delete(e.pending, windowID)
	}
	metrics.PendingClosures.Set(float64(len(e.pending)))
	return ok
}

// PendingCount returns the number of windows awaiting a warning resolution.
func (e *WindowEnforcer) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// PrunePending drops entries older than maxAge whose timers somehow never
// resolved. Returns the number removed.
func (e *WindowEnforcer) PrunePending(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, p := range e.pending {
		if p.createdAt.Before(cutoff) {
			p.timer.Stop()
			delete(e.pending, id)
			n++
		}
	}
	metrics.PendingClosures.Set(float64(len(e.pending)))
	return n
}

// EnforceImmediate applies the window limit in one synchronous pass with no
// warning and no grace, as a manual check does. Candidates are all normal
// windows except the focused one, newest first. With zero candidates a
// warning is logged and nothing closes.
func (e *WindowEnforcer) EnforceImmediate(ctx context.Context) error {
	eff := e.resolver.Effective()
	if !eff.Enabled || !eff.AutoCloseWindows {
		return nil
	}

	windows, err := e.dir.NormalWindows(ctx)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	excess := len(windows) - eff.WindowLimit
	if excess <= 0 {
		return nil
	}
	metrics.EnforcementRuns.WithLabelValues("windows", "check").Inc()

	var candidates []browser.Window
	for _, w := range windows {
		if w.Focused {
			continue
		}
		candidates = append(candidates, w)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID > candidates[j].ID })
	if len(candidates) == 0 {
		e.activity.Warn(fmt.Sprintf("window limit exceeded (%d/%d) but only the focused window is open",
			len(windows), eff.WindowLimit), 0)
		return nil
	}
	if len(candidates) > excess {
		candidates = candidates[:excess]
	}

	e.activity.Warn(fmt.Sprintf("closing %d excess windows (%d/%d)",
		len(candidates), len(windows), eff.WindowLimit), 0)
	if eff.Notifications {
		e.notifier.Notify(ctx, "Window limit reached",
			fmt.Sprintf("Closing %d windows (limit %d)", len(candidates), eff.WindowLimit))
	}

	for i, w := range candidates {
		if i > 0 && eff.PauseBetweenClosures > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(eff.PauseBetweenClosures):
			}
		}
		if err := e.closeWindow(ctx, w.ID, "immediate"); err != nil {
			e.activity.Error(fmt.Sprintf("failed to close window %d: %v", w.ID, err), w.ID)
		}
	}
	return nil
}

// closeWindow closes one window, records the closure, and drops any pending
// tracking. A window that is already gone counts as closed.
func (e *WindowEnforcer) closeWindow(ctx context.Context, windowID int64, path string) error {
	e.untrack(windowID)
	if err := e.browser.CloseWindow(ctx, windowID); err != nil {
		if browser.IsGone(err) {
			return nil
		}
		metrics.CloseFailures.WithLabelValues("window").Inc()
		return err
	}
	metrics.WindowsClosed.WithLabelValues(path).Inc()
	e.activity.Action(fmt.Sprintf("closed window %d (%s)", windowID, path), windowID)
	rec := storage.ClosureRecord{
		Resource: "window",
		ID:       windowID,
		WindowID: windowID,
		Reason:   "window limit (" + path + ")",
		ClosedAt: time.Now().UTC(),
	}
	if err := e.store.AppendClosure(rec); err != nil {
		e.log.Warn().Err(err).Msg("closure history write failed")
	}
	return nil
}
