package directory

import (
	"context"

	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/rs/zerolog"
)

// WindowStat is the per-window view recomputed on every query.
type WindowStat struct {
	WindowID int64 `json:"windowId"`
	TabCount int   `json:"tabCount"`
	Focused  bool  `json:"focused"`
}

// Directory enumerates open tabs and windows, filtered to normal-type
// windows. One window's query failing never zeroes out the whole result.
type Directory struct {
	browser browser.Browser
	log     zerolog.Logger
}

// New creates a Directory over the given browser seam.
func New(b browser.Browser, log zerolog.Logger) *Directory {
	return &Directory{browser: b, log: log}
}

// NormalWindows returns all open normal-type windows.
func (d *Directory) NormalWindows(ctx context.Context) ([]browser.Window, error) {
	windows, err := d.browser.QueryWindows(ctx)
	if err != nil {
		metrics.BrowserQueryErrors.WithLabelValues("windows").Inc()
		return nil, err
	}
	normal := windows[:0]
	for _, w := range windows {
		if w.Type == browser.WindowNormal {
			normal = append(normal, w)
		}
	}
	return normal, nil
}

// CountNormalWindows returns the count of normal-type windows only.
func (d *Directory) CountNormalWindows(ctx context.Context) (int, error) {
	windows, err := d.NormalWindows(ctx)
	if err != nil {
		return 0, err
	}
	return len(windows), nil
}

// FocusedWindow returns the id of the focused normal window, or 0 when no
// window reports focus.
func (d *Directory) FocusedWindow(ctx context.Context) (int64, error) {
	windows, err := d.NormalWindows(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range windows {
		if w.Focused {
			return w.ID, nil
		}
	}
	return 0, nil
}

// WindowStats computes per-window tab counts for all normal windows. A tab
// query failing for one window logs and skips that window; the remaining
// stats are still returned.
func (d *Directory) WindowStats(ctx context.Context) ([]WindowStat, error) {
	windows, err := d.NormalWindows(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]WindowStat, 0, len(windows))
	for _, w := range windows {
		tabs, err := d.browser.QueryTabs(ctx, w.ID)
		if err != nil {
			metrics.BrowserQueryErrors.WithLabelValues("tabs").Inc()
			d.log.Warn().Int64("window_id", w.ID).Err(err).Msg("tab query failed, skipping window")
			continue
		}
		stats = append(stats, WindowStat{
			WindowID: w.ID,
			TabCount: len(tabs),
			Focused:  w.Focused,
		})
	}
	return stats, nil
}
