package limiter

import (
	"context"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/enforcer"
	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/Camilo-ovalle/tab-limiter/internal/pool"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/rs/zerolog"
)

// pendingMaxAge is how long a pending window closure may outlive its grace
// period before the janitor treats its timer as leaked.
const pendingMaxAge = 15 * time.Minute

// Janitor performs periodic housekeeping: pruning old closure records and
// stale pending entries, updating gauges.
type Janitor struct {
	store     storage.Store
	windows   *enforcer.WindowEnforcer
	pool      *pool.Pool
	interval  time.Duration
	retention time.Duration
	log       zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(store storage.Store, windows *enforcer.WindowEnforcer, p *pool.Pool,
	interval, retention time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		windows:   windows,
		pool:      p,
		interval:  interval,
		retention: retention,
		log:       log,
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	// Prune closure history past the retention window
	pruned, err := j.store.PruneClosures(time.Now().Add(-j.retention))
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: prune closure history failed")
	} else if pruned > 0 {
		j.log.Info().Int("count", pruned).Msg("janitor: pruned closure records")
	}

	// Drop pending window closures whose timers never resolved
	if n := j.windows.PrunePending(pendingMaxAge); n > 0 {
		j.log.Warn().Int("count", n).Msg("janitor: dropped stale pending closures")
	}

	// Update DB size gauge
	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read db size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}

	// Update queue depth gauge
	if j.pool != nil {
		metrics.WorkerQueueDepth.Set(float64(j.pool.Depth()))
	}

	j.log.Debug().Msg("janitor: tick complete")
}
