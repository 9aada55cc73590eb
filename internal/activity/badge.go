package activity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/directory"
	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/rs/zerolog"
)

// Badge is the visible indicator state: a counter and an alert flag.
type Badge struct {
	Text      string    `json:"text"`
	Alert     bool      `json:"alert"`
	TotalTabs int       `json:"totalTabs"`
	Windows   int       `json:"windows"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BadgeUpdater recomputes the badge from live window stats. Refresh never
// lets a failure escape its own boundary; a stale badge is preferable to a
// crashed handler.
type BadgeUpdater struct {
	dir      *directory.Directory
	resolver *config.Resolver
	log      zerolog.Logger

	mu      sync.Mutex
	current Badge
}

// NewBadgeUpdater builds a BadgeUpdater.
func NewBadgeUpdater(dir *directory.Directory, resolver *config.Resolver, log zerolog.Logger) *BadgeUpdater {
	return &BadgeUpdater{dir: dir, resolver: resolver, log: log}
}

// Refresh recomputes the total tab count and whether any limit is exceeded.
func (u *BadgeUpdater) Refresh(ctx context.Context) {
	eff := u.resolver.Effective()

	stats, err := u.dir.WindowStats(ctx)
	if err != nil {
		u.log.Warn().Err(err).Msg("badge refresh failed, keeping previous state")
		return
	}

	total := 0
	alert := false
	for _, s := range stats {
		total += s.TabCount
		if s.TabCount > eff.TabLimit {
			alert = true
		}
	}
	if len(stats) > eff.WindowLimit {
		alert = true
	}

	badge := Badge{
		Text:      strconv.Itoa(total),
		Alert:     alert,
		TotalTabs: total,
		Windows:   len(stats),
		UpdatedAt: time.Now(),
	}

	u.mu.Lock()
	u.current = badge
	u.mu.Unlock()

	metrics.TotalTabs.Set(float64(total))
	metrics.NormalWindows.Set(float64(len(stats)))
	if alert {
		metrics.OverLimit.Set(1)
	} else {
		metrics.OverLimit.Set(0)
	}
}

// Current returns the last computed badge state.
func (u *BadgeUpdater) Current() Badge {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}
