// Package api exposes the ingestion and query pipelines over HTTP.
//
// Endpoints:
//
//	POST /api/v1/documents  →  accept a document and/or prompt for ingestion
//	POST /api/v1/query      →  answer a question against indexed documents
//	GET  /health            →  liveness probe
//	GET  /ready             →  readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - document.go: document/prompt upload endpoint
//   - query.go: query endpoint
//   - health.go: health check endpoints (/health, /ready)
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomibot/ragserver/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request,
	// uploads included.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is the maximum duration for writing the response. Query
	// answers wait on the model, so this exceeds the model timeout.
	WriteTimeout = 90 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the RAG API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	// Handlers
	documents *DocumentHandler
	query     *QueryHandler
	health    *HealthHandler
}

// NewServer creates a server with all routes registered. logger may be
// nil.
func NewServer(documents *DocumentHandler, query *QueryHandler, health *HealthHandler, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:       mux,
		logger:    logger,
		documents: documents,
		query:     query,
		health:    health,
	}

	s.documents.RegisterRoutes(mux)
	s.query.RegisterRoutes(mux)
	s.health.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
