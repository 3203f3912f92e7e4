// Package api serves the document ingestion HTTP surface.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/contentstore"
	"github.com/Veraticus/ledger-intake/internal/pipeline"
	"github.com/Veraticus/ledger-intake/internal/ratelimit"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// Documents creates and deletes documents.
type Documents interface {
	CreateDocument(ctx context.Context, req pipeline.CreateRequest) (pipeline.CreateResponse, error)
	DeleteDocument(ctx context.Context, ownerID, docID string) (pipeline.DeleteResponse, error)
}

// Processor runs the processing triggers.
type Processor interface {
	Extract(ctx context.Context, docID string) (*pipeline.Outcome, error)
	ParseTabular(ctx context.Context, docID string) (*pipeline.Outcome, error)
	Finalize(ctx context.Context, docID string) (*pipeline.Outcome, error)
}

// Config configures a Server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	RateLimit       int
	RateWindow      time.Duration
	// TLS, when set, makes Run serve HTTPS.
	TLS *tls.Config
}

// Deps are the collaborators behind the handlers. Limiter may be nil.
type Deps struct {
	Documents  Documents
	Processor  Processor
	Content    service.ContentStore
	Signer     *contentstore.Signer
	Dispatcher service.Dispatcher
	Limiter    ratelimit.Limiter
}

// Server is the HTTP server.
type Server struct {
	deps       Deps
	httpServer *http.Server
	logger     *slog.Logger
	cfg        Config
}

// New creates a Server with its routes mounted.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: common.LoggerOrDefault(logger).With("component", "api"),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLS,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Metrics())
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.deps.Limiter, s.cfg.RateLimit, s.cfg.RateWindow, s.logger))

		r.Post("/documents", s.handleCreateDocument)
		r.Post("/documents/{id}/extract", s.handleTrigger(s.deps.Processor.Extract))
		r.Post("/documents/{id}/parse-tabular", s.handleTrigger(s.deps.Processor.ParseTabular))
		r.Post("/documents/{id}/finalize", s.handleTrigger(s.deps.Processor.Finalize))
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/runs/{run_id}/complete", s.handleCompleteRun)
		r.Put("/uploads/*", s.handleUpload)
	})
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr, "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
