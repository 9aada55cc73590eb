package limiter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/api"
	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/directory"
	"github.com/Camilo-ovalle/tab-limiter/internal/enforcer"
	"github.com/Camilo-ovalle/tab-limiter/internal/events"
	"github.com/Camilo-ovalle/tab-limiter/internal/metrics"
	"github.com/Camilo-ovalle/tab-limiter/internal/notify"
	"github.com/Camilo-ovalle/tab-limiter/internal/pool"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ingestBuffer bounds events pushed over the HTTP ingest endpoint.
const ingestBuffer = 256

// Service wires together the event watcher, dispatcher, enforcers, worker
// pool, janitor, and the command API.
type Service struct {
	cfg      *config.Config
	browser  browser.Browser
	dir      *directory.Directory
	resolver *config.Resolver
	store    storage.Store
	activity *activity.Log
	badge    *activity.BadgeUpdater
	tabs     *enforcer.TabEnforcer
	windows  *enforcer.WindowEnforcer
	watcher  *events.Watcher
	pool     *pool.Pool
	apiSrv   *api.Server
	log      zerolog.Logger

	ingestCh chan events.Event
}

// New constructs a fully wired Service.
func New(cfg *config.Config, b browser.Browser, store storage.Store, log zerolog.Logger) (*Service, error) {
	resolver := config.NewResolver(store, config.EnvPolicySource{}, log)
	dir := directory.New(b, log)
	act := activity.NewLog(cfg.ActivityLogMax, log)
	badge := activity.NewBadgeUpdater(dir, resolver, log)
	notifier := notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout, log)

	base := cfg.WarningBaseURL
	if base == "" {
		base = "http://" + cfg.ListenAddr
	}
	warningURL := strings.TrimRight(base, "/") + "/warning"

	s := &Service{
		cfg:      cfg,
		browser:  b,
		dir:      dir,
		resolver: resolver,
		store:    store,
		activity: act,
		badge:    badge,
		tabs:     enforcer.NewTabEnforcer(b, resolver, store, act, notifier, log),
		windows: enforcer.NewWindowEnforcer(b, dir, resolver, store, act, notifier,
			warningURL, cfg.SettleDelay, log),
		watcher:  events.NewWatcher(b, log),
		log:      log,
		ingestCh: make(chan events.Event, ingestBuffer),
	}

	p, err := pool.New(pool.Config{
		Workers:    cfg.PoolWorkers,
		QueueDepth: cfg.PoolQueueDepth,
		MaxRetries: cfg.PoolMaxRetries,
		RetryBase:  cfg.PoolRetryBase,
	}, s.handleJob, log)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	s.pool = p

	s.apiSrv = api.New(cfg.ListenAddr, resolver, dir, act, badge, s, store, log)
	return s, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a fatal
// error occurs.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.pool.Start(gctx)

	// A zero poll interval disables the watcher; events then only arrive
	// over the ingest endpoint.
	if s.cfg.PollInterval > 0 {
		g.Go(func() error {
			return s.watchLoop(gctx)
		})
	}

	g.Go(func() error {
		return s.ingestLoop(gctx)
	})

	g.Go(func() error {
		return s.apiSrv.Run(gctx)
	})

	janitor := NewJanitor(s.store, s.windows, s.pool, s.cfg.JanitorInterval, s.cfg.ClosureRetention, s.log)
	g.Go(func() error {
		return janitor.Run(gctx)
	})

	if s.cfg.MetricsEnabled {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}
	g.Go(func() error {
		return s.serveHealth(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s.pool.Stop()
	return nil
}

// watchLoop polls the browser for lifecycle changes and dispatches them.
func (s *Service) watchLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		evs, err := s.watcher.Poll(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("browser snapshot failed")
		}
		for _, ev := range evs {
			s.Dispatch(ctx, ev)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ingestLoop drains events pushed by an extension over the HTTP API.
func (s *Service) ingestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.ingestCh:
			s.Dispatch(ctx, ev)
		}
	}
}

// Ingest queues an externally supplied event. Returns false when the buffer
// is full.
func (s *Service) Ingest(ev events.Event) bool {
	select {
	case s.ingestCh <- ev:
		return true
	default:
		metrics.EventsSkipped.WithLabelValues("ingest_full").Inc()
		return false
	}
}

// Dispatch routes one lifecycle event. Every kind short-circuits when the
// limiter is disabled; enforcement work goes through the pool so a slow
// closure batch never blocks the watcher.
func (s *Service) Dispatch(ctx context.Context, ev events.Event) {
	metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()

	if !s.resolver.Effective().Enabled {
		metrics.EventsSkipped.WithLabelValues("disabled").Inc()
		return
	}

	switch ev.Kind {
	case events.TabCreated:
		s.activity.Info(fmt.Sprintf("tab %d created in window %d", ev.TabID, ev.WindowID))
		s.badge.Refresh(ctx)
		s.enqueue(pool.Job{Kind: pool.KindEnforceTabs, WindowID: ev.WindowID, NewTabID: ev.TabID})

	case events.TabAttached:
		s.activity.Info(fmt.Sprintf("tab %d attached to window %d", ev.TabID, ev.WindowID))
		s.badge.Refresh(ctx)
		// An attached tab is not newly created; no trigger id.
		s.enqueue(pool.Job{Kind: pool.KindEnforceTabs, WindowID: ev.WindowID})

	case events.TabRemoved:
		s.activity.Info(fmt.Sprintf("tab %d removed from window %d", ev.TabID, ev.WindowID))
		s.badge.Refresh(ctx)

	case events.TabDetached:
		s.activity.Info(fmt.Sprintf("tab %d detached from window %d", ev.TabID, ev.WindowID))
		s.badge.Refresh(ctx)

	case events.WindowCreated:
		s.activity.Info(fmt.Sprintf("window %d created", ev.WindowID))
		s.badge.Refresh(ctx)
		s.enqueue(pool.Job{Kind: pool.KindEnforceWindows, WindowID: ev.WindowID})

	case events.WindowRemoved:
		s.activity.Info(fmt.Sprintf("window %d removed", ev.WindowID))
		s.windows.OnWindowRemoved(ev.WindowID)
		s.badge.Refresh(ctx)

	case events.WindowFocusChanged:
		s.badge.Refresh(ctx)

	case events.Initialize:
		// Startup deliberately skips window enforcement; closing windows the
		// user did not just open would be a surprise.
		s.activity.Info("limiter started")
		s.badge.Refresh(ctx)

	default:
		metrics.EventsSkipped.WithLabelValues("unknown_kind").Inc()
		s.log.Warn().Str("kind", string(ev.Kind)).Msg("unknown event kind")
	}
}

func (s *Service) enqueue(job pool.Job) {
	if !s.pool.Enqueue(job) {
		s.log.Warn().Str("kind", job.Kind).Int64("window_id", job.WindowID).Msg("job dropped: queue full")
	}
}

// handleJob is the pool worker entry point.
func (s *Service) handleJob(ctx context.Context, job pool.Job) error {
	switch job.Kind {
	case pool.KindEnforceTabs:
		return s.tabs.Enforce(ctx, job.WindowID, job.NewTabID)
	case pool.KindEnforceWindows:
		return s.windows.OnWindowCreated(ctx, job.WindowID)
	case pool.KindForceCheck:
		return s.ForceCheck(ctx)
	case pool.KindBadgeRefresh:
		s.badge.Refresh(ctx)
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// ForceCheck runs tab and window enforcement together in one synchronous
// pass, with no settle delay, grace, or warning.
func (s *Service) ForceCheck(ctx context.Context) error {
	metrics.EnforcementRuns.WithLabelValues("all", "force-check").Inc()
	s.activity.Info("manual check requested")

	stats, err := s.dir.WindowStats(ctx)
	if err != nil {
		return fmt.Errorf("window stats: %w", err)
	}
	for _, st := range stats {
		if err := s.tabs.Enforce(ctx, st.WindowID, 0); err != nil {
			s.log.Warn().Int64("window_id", st.WindowID).Err(err).Msg("tab check failed")
		}
	}
	if err := s.windows.EnforceImmediate(ctx); err != nil {
		return err
	}
	s.badge.Refresh(ctx)
	return nil
}

// ConfirmClose closes a window the warning view reported on. The window
// closes on every path; the confirmed flag only records how the view exited.
func (s *Service) ConfirmClose(ctx context.Context, windowID int64, confirmed bool) error {
	return s.windows.ConfirmClose(ctx, windowID, confirmed)
}

// Activity exposes the activity log, used by the check subcommand.
func (s *Service) Activity() *activity.Log {
	return s.activity
}

// serveMetrics runs the Prometheus HTTP server.
func (s *Service) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    s.cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info().Str("addr", s.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoint.
func (s *Service) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.browser.Ping(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    s.cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info().Str("addr", s.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
