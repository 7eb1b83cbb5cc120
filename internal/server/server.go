// Package server provides the HTTP API for Archivext.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/config"
	"github.com/hyperjump/archivext/internal/metrics"
	"github.com/hyperjump/archivext/internal/session"
	"github.com/hyperjump/archivext/internal/storage"
	"github.com/hyperjump/archivext/internal/updater"
)

// Server is the HTTP server for the Archivext API.
type Server struct {
	session *session.Session
	updater *updater.Updater
	storage storage.Storage
	metrics *metrics.Metrics
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithUpdater enables POST /api/v1/archives/update.
func WithUpdater(u *updater.Updater) Option {
	return func(s *Server) { s.updater = u }
}

// WithStorage persists the working session after every change made through the API.
func WithStorage(st storage.Storage) Option {
	return func(s *Server) { s.storage = st }
}

// WithMetrics serves /metrics and instruments every route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server over sess.
func NewServer(sess *session.Session, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		session: sess,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(s.metrics.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/records", s.handleListRecords)
		r.Post("/records", s.handleAddRecords)
		r.Get("/records/fuzzy", s.handleFuzzy)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Patch("/records/{id}", s.handleEditRecord)
		r.Delete("/records/{id}", s.handleDeleteRecord)
		r.Post("/records/{id}/archive", s.handleArchiveRecord)

		r.Get("/session", s.handleExportSession)
		r.Put("/session", s.handleImportSession)
		r.Post("/session/archive", s.handleArchiveSession)

		r.Get("/archives/hash", s.handleArchiveHash)
		r.Post("/archives/reload", s.handleReloadArchives)
		r.Post("/archives/update", s.handleUpdateArchives)

		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
