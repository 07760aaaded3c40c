// Package web serves the error aggregator's query API and a live stream of
// pool lifecycle events over HTTP. It is the consumption surface dashboards
// read from; it renders nothing itself.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/odavlstudio/insight/internal/errstore"
	"github.com/odavlstudio/insight/internal/events"
	"github.com/odavlstudio/insight/internal/logging"
)

// Config holds the server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	EnableCORS      bool
	CORSOrigins     []string
}

// DefaultConfig returns the default server configuration. WriteTimeout is
// zero because the SSE endpoint holds its response open indefinitely.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8645,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		EnableCORS:      true,
		CORSOrigins:     []string{"http://localhost:5173"},
	}
}

// Server exposes the error store and event bus over HTTP.
type Server struct {
	config     Config
	logger     *logging.Logger
	store      *errstore.Store
	sseHandler *SSEHandler
	httpServer *http.Server
}

// New creates a server over the given store and bus.
func New(cfg Config, logger *logging.Logger, store *errstore.Store, bus *events.Bus) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		store:      store,
		sseHandler: NewSSEHandler(bus),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}).Handler)
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/errors", s.handleErrors)
		r.Get("/errors/{detector}", s.handleErrorsByDetector)
		r.Get("/detectors", s.handleDetectors)
		r.Get("/export.jsonl", s.handleExportJSONL)
		r.Get("/events", s.sseHandler.ServeHTTP)
	})

	return r
}

// Start runs the server until the context is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler returns the router, used by httptest in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"errors": s.store.TotalErrorCount(),
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":  s.store.TotalErrorCount(),
		"errors": s.store.Errors(),
	})
}

func (s *Server) handleErrorsByDetector(w http.ResponseWriter, r *http.Request) {
	detector := chi.URLParam(r, "detector")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"detector": detector,
		"errors":   s.store.ErrorsByDetector(detector),
	})
}

func (s *Server) handleDetectors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"detectors": s.store.DetectorsWithErrors(),
	})
}

func (s *Server) handleExportJSONL(w http.ResponseWriter, _ *http.Request) {
	data, err := s.store.ToJSONL()
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("web: writing response failed", "error", err)
	}
}
