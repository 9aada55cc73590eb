package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/activity"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/directory"
	"github.com/Camilo-ovalle/tab-limiter/internal/events"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/rs/zerolog"
)

// Limiter is the slice of the service the command API drives. Kept as an
// interface so handler tests run against a stub.
type Limiter interface {
	ForceCheck(ctx context.Context) error
	ConfirmClose(ctx context.Context, windowID int64, confirmed bool) error
	Ingest(ev events.Event) bool
}

// Server is the local HTTP command interface consumed by the popup and the
// warning view.
type Server struct {
	addr     string
	resolver *config.Resolver
	dir      *directory.Directory
	activity *activity.Log
	badge    *activity.BadgeUpdater
	limiter  Limiter
	store    storage.Store
	log      zerolog.Logger

	httpSrv *http.Server
}

// New builds the command server.
func New(addr string, resolver *config.Resolver, dir *directory.Directory,
	act *activity.Log, badge *activity.BadgeUpdater, limiter Limiter,
	store storage.Store, log zerolog.Logger) *Server {
	s := &Server{
		addr:     addr,
		resolver: resolver,
		dir:      dir,
		activity: act,
		badge:    badge,
		limiter:  limiter,
		store:    store,
		log:      log,
	}
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the routed handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("POST /v1/config", s.handleSaveConfig)
	mux.HandleFunc("GET /v1/windows", s.handleWindows)
	mux.HandleFunc("GET /v1/log", s.handleLog)
	mux.HandleFunc("POST /v1/log/clear", s.handleClearLog)
	mux.HandleFunc("POST /v1/check", s.handleCheck)
	mux.HandleFunc("POST /v1/windows/confirm-close", s.handleConfirmClose)
	mux.HandleFunc("POST /v1/events", s.handleIngest)
	mux.HandleFunc("GET /v1/closures", s.handleClosures)
	mux.HandleFunc("GET /warning", s.handleWarning)
	return s.logRequests(mux)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info().Str("addr", s.addr).Msg("command API listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("command API: %w", err)
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("request")
	})
}

// envelope is the uniform response shape: success flag plus either a payload
// or an error string.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

func writeOK(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Payload: payload})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.resolver.Effective())
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var in config.Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFail(w, http.StatusBadRequest, "malformed settings: "+err.Error())
		return
	}
	in.ApplyWire()

	if err := s.resolver.Save(in); err != nil {
		if errors.Is(err, config.ErrPolicyLocked) {
			// A well-formed rejection, not a server failure.
			writeFail(w, http.StatusOK, config.ErrPolicyLocked.Error())
			return
		}
		writeFail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.badge.Refresh(r.Context())
	writeOK(w, s.resolver.Effective())
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dir.WindowStats(r.Context())
	if err != nil {
		writeFail(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOK(w, map[string]any{
		"windows": stats,
		"badge":   s.badge.Current(),
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.activity.Snapshot())
}

func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	s.activity.Clear()
	writeOK(w, nil)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.ForceCheck(r.Context()); err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.badge.Refresh(r.Context())
	writeOK(w, s.badge.Current())
}

func (s *Server) handleConfirmClose(w http.ResponseWriter, r *http.Request) {
	var in struct {
		WindowID  int64 `json:"windowId"`
		Confirmed bool  `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFail(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if in.WindowID == 0 {
		writeFail(w, http.StatusBadRequest, "windowId required")
		return
	}
	if err := s.limiter.ConfirmClose(r.Context(), in.WindowID, in.Confirmed); err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.badge.Refresh(r.Context())
	writeOK(w, nil)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev events.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeFail(w, http.StatusBadRequest, "malformed event: "+err.Error())
		return
	}
	if !events.Valid(ev.Kind) {
		writeFail(w, http.StatusBadRequest, "unknown event kind: "+string(ev.Kind))
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if !s.limiter.Ingest(ev) {
		writeFail(w, http.StatusServiceUnavailable, "event queue full")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleClosures(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeFail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.store.ListClosures(limit)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, recs)
}
