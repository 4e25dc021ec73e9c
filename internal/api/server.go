package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/reroute/internal/auth"
	"github.com/mattjoyce/reroute/internal/events"
	"github.com/mattjoyce/reroute/internal/jobtype"
	"github.com/mattjoyce/reroute/internal/queue"
	"github.com/mattjoyce/reroute/internal/rerouting"
)

// MarkerStore is the routing table surface exposed over HTTP.
type MarkerStore interface {
	Table() string
	Reroute(ctx context.Context, destination string, kind rerouting.Kind, value string) error
	RemoveRerouting(ctx context.Context, kind rerouting.Kind, value string) error
	RemoveAllRerouting(ctx context.Context) error
	ListMarkers(ctx context.Context) (map[string]string, error)
}

// JobSubmitter enqueues new jobs by type.
type JobSubmitter interface {
	Enqueue(ctx context.Context, jobType, queueName string, args json.RawMessage) (string, error)
}

// JobQueuer reads queue state.
type JobQueuer interface {
	EntriesForJob(ctx context.Context, jobID string) ([]*queue.Entry, error)
	Depth(ctx context.Context) (int, error)
}

// TypeLister lists registered job types.
type TypeLister interface {
	All() []*jobtype.Descriptor
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey enables bearer auth on everything except /healthz and /metrics.
	// It grants every scope.
	APIKey string
	Tokens []auth.TokenConfig
}

// Deps are the collaborators the handlers call into. Metrics may be nil.
type Deps struct {
	Markers MarkerStore
	Jobs    JobSubmitter
	Queue   JobQueuer
	Types   TypeLister
	Events  *events.Hub
	Metrics http.Handler
	// Webhooks serves POST /webhooks/{name}; it authenticates by signature.
	Webhooks http.Handler
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(0)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.Webhooks != nil {
		r.Method(http.MethodPost, "/webhooks/{name}", s.deps.Webhooks)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/markers", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeMarkersRO)).Get("/", s.handleListMarkers)
			r.With(s.requireScopes(auth.ScopeMarkersRW)).Delete("/", s.handleClearMarkers)
			r.With(s.requireScopes(auth.ScopeMarkersRW)).Put("/{kind}/{value}", s.handleSetMarker)
			r.With(s.requireScopes(auth.ScopeMarkersRW)).Delete("/{kind}/{value}", s.handleRemoveMarker)
		})
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/jobs", s.handleEnqueue)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/jobs/{jobID}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/job-types", s.handleJobTypes)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
