// Package statusapi exposes a dsyncd daemon's brain/scheduler state over
// HTTP, for cmd/dsyncctl's status command and TUI.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fho/dsyncd/internal/dsync"
	"github.com/fho/dsyncd/internal/logx"
)

// BrainStatus is the read-only brain state the endpoint reports.
type BrainStatus interface {
	State() dsync.State
	Failed() bool
	Done() bool
	SyncType() dsync.SyncType
}

// StatusProvider supplies the current brain, which may be nil between
// sessions (no sync currently in flight).
type StatusProvider func() BrainStatus

// SchedulerProvider supplies the scheduler status, or the zero value if
// the daemon runs in slave mode and has no scheduler.
type SchedulerProvider func() (running bool, lastRun, nextRun time.Time, lastErr string)

// Server is a small chi-routed HTTP server exposing /status and
// /healthz for cmd/dsyncctl.
type Server struct {
	logger    *slog.Logger
	router    chi.Router
	brain     StatusProvider
	scheduler SchedulerProvider
	server    *http.Server
}

// statusResponse is the JSON body served by GET /status.
type statusResponse struct {
	State     string `json:"state"`
	Failed    bool   `json:"failed"`
	Done      bool   `json:"done"`
	SyncType  string `json:"sync_type,omitempty"`
	HasBrain  bool   `json:"has_brain"`
	Scheduled bool   `json:"scheduled"`
	Running   bool   `json:"running,omitempty"`
	LastRun   string `json:"last_run,omitempty"`
	NextRun   string `json:"next_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// NewServer builds a Server. brain and scheduler may be nil; a nil
// scheduler means the endpoint never reports schedule fields.
func NewServer(logger *slog.Logger, brain StatusProvider, scheduler SchedulerProvider) *Server {
	s := &Server{
		logger:    logx.SloggerWithGroup(logger, "statusapi"),
		brain:     brain,
		scheduler: scheduler,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(5 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/status", s.handleStatus)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse

	if s.brain != nil {
		if b := s.brain(); b != nil {
			resp.HasBrain = true
			resp.State = b.State().String()
			resp.Failed = b.Failed()
			resp.Done = b.Done()
			resp.SyncType = b.SyncType().String()
		}
	}

	if s.scheduler != nil {
		resp.Scheduled = true
		running, lastRun, nextRun, lastErr := s.scheduler()
		resp.Running = running
		if !lastRun.IsZero() {
			resp.LastRun = lastRun.Format(time.RFC3339)
		}
		if !nextRun.IsZero() {
			resp.NextRun = nextRun.Format(time.RFC3339)
		}
		resp.LastError = lastErr
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encoding status response failed", "error", err)
	}
}

// ServeHTTP makes Server an http.Handler directly, so it can be used
// with httptest.NewServer or mounted under another router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Close shuts the server down, if it was started.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}
