package enforcer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/Camilo-ovalle/tab-limiter/internal/notify"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/rs/zerolog"
)

// TabEnforcer closes excess tabs in a single window according to the
// effective configuration.
type TabEnforcer struct {
	browser  browser.Browser
	resolver *config.Resolver
	store    storage.Store
	activity *activity.Log
	notifier notify.Notifier
	log      zerolog.Logger
}

// NewTabEnforcer builds a TabEnforcer.
func NewTabEnforcer(b browser.Browser, resolver *config.Resolver, store storage.Store,
	act *activity.Log, notifier notify.Notifier, log zerolog.Logger) *TabEnforcer {
	return &TabEnforcer{
		browser:  b,
		resolver: resolver,
		store:    store,
		activity: act,
		notifier: notifier,
		log:      log,
	}
}

// Enforce checks the window's tab count against the limit and closes the
// excess. newTabID is the tab whose creation triggered the pass, or zero when
// the trigger did not name one (attach, force check).
//
// Candidate order: pinned tabs are never closed; the triggering tab goes
// first when present and unpinned; the rest follow newest first (descending
// id). The active tab is not protected, only pinned ones are.
func (e *TabEnforcer) Enforce(ctx context.Context, windowID, newTabID int64) error {
	eff := e.resolver.Effective()
	if !eff.Enabled || !eff.AutoClose {
		return nil
	}

	tabs, err := e.browser.QueryTabs(ctx, windowID)
	if err != nil {
		metrics.BrowserQueryErrors.WithLabelValues("tabs").Inc()
		return fmt.Errorf("query tabs for window %d: %w", windowID, err)
	}

	excess := len(tabs) - eff.TabLimit
	if excess <= 0 {
		return nil
	}
	metrics.EnforcementRuns.WithLabelValues("tabs", triggerName(newTabID)).Inc()

	candidates := closeOrder(tabs, newTabID)
	if len(candidates) > excess {
		candidates = candidates[:excess]
	}
	// Mostly pinned windows can leave fewer candidates than excess. Close
	// what is available, never fail.
	if len(candidates) == 0 {
		e.activity.Warn(fmt.Sprintf("window %d over tab limit (%d/%d) but all tabs pinned",
			windowID, len(tabs), eff.TabLimit), windowID)
		return nil
	}

	e.activity.Warn(fmt.Sprintf("closing %d excess tabs in window %d (%d/%d)",
		len(candidates), windowID, len(tabs), eff.TabLimit), windowID)
	if eff.Notifications {
		e.notifier.Notify(ctx, "Tab limit reached",
			fmt.Sprintf("Closing %d tabs in window %d (limit %d)", len(candidates), windowID, eff.TabLimit))
	}

	for i, tab := range candidates {
		if i > 0 && eff.PauseBetweenClosures > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(eff.PauseBetweenClosures):
			}
		}
		if err := e.browser.CloseTab(ctx, tab.ID); err != nil {
			if browser.IsGone(err) {
				// Already closed by the user or a concurrent pass.
				continue
			}
			metrics.CloseFailures.WithLabelValues("tab").Inc()
			e.activity.Error(fmt.Sprintf("failed to close tab %d: %v", tab.ID, err), windowID)
			continue
		}
		metrics.TabsClosed.Inc()
		e.activity.Action(fmt.Sprintf("closed tab %d (%q)", tab.ID, tab.Title), windowID)
		e.recordClosure(storage.ClosureRecord{
			Resource: "tab",
			ID:       tab.ID,
			WindowID: windowID,
			Reason:   "tab limit",
		})
	}
	return nil
}

// closeOrder returns the closable tabs in enforcement order.
func closeOrder(tabs []browser.Tab, newTabID int64) []browser.Tab {
	var first *browser.Tab
	var rest []browser.Tab
	for i := range tabs {
		t := tabs[i]
		if t.Pinned {
			continue
		}
		if t.ID == newTabID {
			first = &t
			continue
		}
		rest = append(rest, t)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID > rest[j].ID })
	if first != nil {
		return append([]browser.Tab{*first}, rest...)
	}
	return rest
}

func (e *TabEnforcer) recordClosure(rec storage.ClosureRecord) {
	rec.ClosedAt = time.Now().UTC()
	if err := e.store.AppendClosure(rec); err != nil {
		e.log.Warn().Err(err).Msg("closure history write failed")
	}
}

func triggerName(newTabID int64) string {
	if newTabID != 0 {
		return "tab-created"
	}
	return "check"
}
