// Package server exposes health, status, live events, job control and
// metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/model"
	"github.com/rickgao/eve-market/internal/snipes"
)

// EventSource is the live event bus.
type EventSource interface {
	Snapshot() events.StatusSnapshot
	Subscribe(ctx context.Context, sub events.Subscriber) error
	Unsubscribe(sub events.Subscriber)
}

// JobRunner enqueues jobs by name.
type JobRunner interface {
	EnqueueName(name string, prio jobs.Priority) (string, error)
}

// ScheduleStore reads and updates job schedules.
type ScheduleStore interface {
	Settings() map[string]jobs.Setting
	UpdateAll(ctx context.Context, settings map[string]jobs.Setting) error
}

// SnipeSource finds underpriced asks.
type SnipeSource interface {
	Find(ctx context.Context, limit int) ([]snipes.Snipe, error)
}

// Store is the subset of the market store the server reads.
type Store interface {
	Ping(ctx context.Context) error
	RecentJobRuns(ctx context.Context, limit int) ([]model.JobRun, error)
}

// Config holds server configuration.
type Config struct {
	Addr         string        // Listen address (default: ":8000")
	ReadTimeout  time.Duration // (default: 15s)
	WriteTimeout time.Duration // Also bounds one websocket write (default: 15s)
	MetricsPath  string        // Empty disables /metrics
	InstanceID   string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8000",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Deps are the components the handlers call. Scheduler may be nil when
// background jobs are disabled; Snipes and Metrics may be nil.
type Deps struct {
	Events    EventSource
	Jobs      JobRunner
	Scheduler ScheduleStore
	Snipes    SnipeSource
	Store     Store
	Metrics   http.Handler
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	http   *http.Server
	logger *slog.Logger

	wg sync.WaitGroup
}

// New creates a Server and builds its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.router = s.routes()
	// WriteTimeout is not set on http.Server; it would cut hijacked
	// websocket connections.
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.handleWS)
	r.Get("/snipes", s.handleSnipes)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Post("/{name}/run", s.handleRunJob)
	})

	r.Route("/scheduler/settings", func(r chi.Router) {
		r.Get("/", s.handleGetSettings)
		r.Put("/", s.handlePutSettings)
		r.Put("/{name}", s.handlePutSetting)
	})

	if s.deps.Metrics != nil && s.cfg.MetricsPath != "" {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.deps.Metrics)
	}
	return r
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("http server stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
