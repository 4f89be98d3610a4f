package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hitscribe/internal/admission"
	"hitscribe/internal/artifacts"
	"hitscribe/internal/config"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/metrics"
)

// JobStore is the record store surface the handlers use.
type JobStore interface {
	Create(ctx context.Context, job *jobs.Job) (string, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Stats(ctx context.Context) (map[jobs.Status]int, error)
	Ping(ctx context.Context) error
}

// Pipeline starts and cancels jobs.
type Pipeline interface {
	Dispatch(ctx context.Context, jobID string) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

// Admitter gates job creation per user.
type Admitter interface {
	Allow(ctx context.Context, user string) (admission.Decision, error)
}

// Checker probes one dependency for the health endpoint.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps wires the HTTP handlers.
type Deps struct {
	Config    *config.Config
	Store     JobStore
	Artifacts artifacts.Store
	Pipeline  Pipeline
	Admission Admitter
	Metrics   metrics.Recorder
	Checks    []Checker
	Logger    *slog.Logger
}

type handlers struct {
	cfg       *config.Config
	store     JobStore
	artifacts artifacts.Store
	pipeline  Pipeline
	admission Admitter
	metrics   metrics.Recorder
	checks    []Checker
	logger    *slog.Logger
}

// NewRouter builds the chi router serving /api/v1.
func NewRouter(d Deps) http.Handler {
	h := &handlers{
		cfg:       d.Config,
		store:     d.Store,
		artifacts: d.Artifacts,
		pipeline:  d.Pipeline,
		admission: d.Admission,
		metrics:   d.Metrics,
		checks:    d.Checks,
		logger:    d.Logger,
	}
	if h.logger == nil {
		h.logger = logging.NewNop()
	}
	h.logger = logging.NewComponentLogger(h.logger, "api")
	if h.metrics == nil {
		h.metrics = metrics.NewMemory()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/metrics", h.handleMetrics)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.handleCreateJob)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.handleGetJob)
				r.Delete("/", h.handleDeleteJob)
				r.Get("/result", h.handleGetResult)
				r.Get("/download/{format}", h.handleDownload)
			})
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// Server runs the HTTP listener.
type Server struct {
	bind     string
	handler  http.Handler
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
}

// NewServer wraps handler in an http.Server bound to bind.
func NewServer(bind string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		bind:    bind,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       2 * time.Minute,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start listens and serves in the background until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}
