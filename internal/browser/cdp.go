package browser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// focusProbeTimeout bounds the per-window document.hasFocus() evaluation.
const focusProbeTimeout = time.Second

// CDPConfig holds connection settings for the DevTools adapter.
type CDPConfig struct {
	// URL is the DevTools websocket or http endpoint, e.g. ws://127.0.0.1:9222.
	URL string
	// ConnectTimeout bounds the initial attach.
	ConnectTimeout time.Duration
}

// cdpBrowser implements Browser over the Chrome DevTools Protocol. Page
// targets map to tabs and DevTools window ids map to windows. The protocol
// does not expose pinned state, so Pinned is always false here; an extension
// pushing events through the ingest endpoint supplies it where it matters.
type cdpBrowser struct {
	browserCtx context.Context
	cancelAll  context.CancelFunc
	log        zerolog.Logger

	mu      sync.Mutex
	tabIDs  map[target.ID]int64 // target -> stable monotonic tab id
	targets map[int64]target.ID // reverse lookup
	nextID  int64
}

// NewCDP attaches to a running browser over the DevTools protocol.
func NewCDP(ctx context.Context, cfg CDPConfig, log zerolog.Logger) (Browser, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cdp url is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cfg.URL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancelAll := func() {
		browserCancel()
		allocCancel()
	}

	// Establish the connection eagerly so a bad endpoint fails at startup.
	connectCtx, done := context.WithTimeout(browserCtx, timeout)
	defer done()
	if err := chromedp.Run(connectCtx); err != nil {
		cancelAll()
		return nil, fmt.Errorf("attach to browser at %s: %w", cfg.URL, err)
	}

	b := &cdpBrowser{
		browserCtx: browserCtx,
		cancelAll:  cancelAll,
		log:        log,
		tabIDs:     make(map[target.ID]int64),
		targets:    make(map[int64]target.ID),
		nextID:     1,
	}
	log.Info().Str("url", cfg.URL).Msg("attached to browser over CDP")
	return b, nil
}

// tabID returns the stable int64 id for a target, assigning the next
// monotonic id on first sight so younger tabs get larger ids.
func (b *cdpBrowser) tabID(t target.ID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.tabIDs[t]; ok {
		return id
	}
	id := b.nextID
	b.nextID++
	b.tabIDs[t] = id
	b.targets[id] = t
	return id
}

func (b *cdpBrowser) targetFor(tabID int64) (target.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.targets[tabID]
	return t, ok
}

func (b *cdpBrowser) forget(tabID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.targets[tabID]; ok {
		delete(b.tabIDs, t)
		delete(b.targets, tabID)
	}
}

// pageTargets lists page-type targets, excluding devtools and extension shells.
func (b *cdpBrowser) pageTargets(ctx context.Context) ([]*target.Info, error) {
	var infos []*target.Info
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		infos, err = target.GetTargets().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	pages := infos[:0]
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if strings.HasPrefix(info.URL, "devtools://") || strings.HasPrefix(info.URL, "chrome-extension://") {
			continue
		}
		pages = append(pages, info)
	}
	return pages, nil
}

// windowOf resolves the DevTools window id owning a target.
func (b *cdpBrowser) windowOf(ctx context.Context, t target.ID) (int64, error) {
	var winID cdpbrowser.WindowID
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		winID, _, err = cdpbrowser.GetWindowForTarget().WithTargetID(t).Do(ctx)
		return err
	}))
	return int64(winID), err
}

func (b *cdpBrowser) QueryAllTabs(ctx context.Context) ([]Tab, error) {
	pages, err := b.pageTargets(ctx)
	if err != nil {
		return nil, err
	}
	tabs := make([]Tab, 0, len(pages))
	for _, info := range pages {
		winID, err := b.windowOf(ctx, info.TargetID)
		if err != nil {
			// Target likely vanished mid-query; skip rather than abort.
			b.log.Debug().Str("target", string(info.TargetID)).Err(err).Msg("window lookup failed")
			continue
		}
		tabs = append(tabs, Tab{
			ID:       b.tabID(info.TargetID),
			WindowID: winID,
			Title:    info.Title,
			URL:      info.URL,
		})
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}

func (b *cdpBrowser) QueryTabs(ctx context.Context, windowID int64) ([]Tab, error) {
	all, err := b.QueryAllTabs(ctx)
	if err != nil {
		return nil, err
	}
	tabs := all[:0]
	for _, t := range all {
		if t.WindowID == windowID {
			tabs = append(tabs, t)
		}
	}
	return tabs, nil
}

func (b *cdpBrowser) QueryWindows(ctx context.Context) ([]Window, error) {
	tabs, err := b.QueryAllTabs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]int64) // window id -> probe tab id
	order := make([]int64, 0, 4)
	for _, t := range tabs {
		if _, ok := seen[t.WindowID]; !ok {
			seen[t.WindowID] = t.ID
			order = append(order, t.WindowID)
		}
	}
	windows := make([]Window, 0, len(order))
	for _, id := range order {
		windows = append(windows, Window{
			ID:      id,
			Type:    WindowNormal, // DevTools windows backing page targets are top-level windows
			Focused: b.probeFocus(seen[id]),
		})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
	return windows, nil
}

// probeFocus evaluates document.hasFocus() in one of the window's tabs.
// Failure means unfocused; focus detection is best-effort over CDP.
func (b *cdpBrowser) probeFocus(tabID int64) bool {
	t, ok := b.targetFor(tabID)
	if !ok {
		return false
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(t))
	defer cancel()
	probeCtx, done := context.WithTimeout(tabCtx, focusProbeTimeout)
	defer done()

	var focused bool
	if err := chromedp.Run(probeCtx, chromedp.Evaluate("document.hasFocus()", &focused)); err != nil {
		return false
	}
	return focused
}

func (b *cdpBrowser) CloseTab(ctx context.Context, tabID int64) error {
	t, ok := b.targetFor(tabID)
	if !ok {
		return &ErrTabGone{ID: tabID}
	}
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(t).Do(ctx)
	}))
	if err != nil {
		if strings.Contains(err.Error(), "No target with given id") {
			b.forget(tabID)
			return &ErrTabGone{ID: tabID}
		}
		return fmt.Errorf("close target %s: %w", t, err)
	}
	b.forget(tabID)
	return nil
}

// CloseWindow closes every tab belonging to the window; the host closes the
// window itself once its last tab is gone.
func (b *cdpBrowser) CloseWindow(ctx context.Context, windowID int64) error {
	tabs, err := b.QueryTabs(ctx, windowID)
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		return &ErrWindowGone{ID: windowID}
	}
	for _, t := range tabs {
		if err := b.CloseTab(ctx, t.ID); err != nil && !IsGone(err) {
			return err
		}
	}
	return nil
}

func (b *cdpBrowser) NavigateTab(ctx context.Context, tabID int64, url string) error {
	t, ok := b.targetFor(tabID)
	if !ok {
		return &ErrTabGone{ID: tabID}
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(t))
	defer cancel()
	if err := chromedp.Run(tabCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate tab %d: %w", tabID, err)
	}
	return nil
}

func (b *cdpBrowser) Ping(ctx context.Context) error {
	return b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		return err
	}))
}

func (b *cdpBrowser) Close() error {
	b.cancelAll()
	return nil
}

// run executes an action on the shared browser context, honoring the
// caller's deadline.
func (b *cdpBrowser) run(ctx context.Context, action chromedp.Action) error {
	runCtx := b.browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, action)
}
