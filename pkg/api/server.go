// Package api serves the stackd HTTP API: health probes, the legacy
// /api/health envelope and the bearer-protected cache admin routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/config"
)

// DefaultShutdownTimeout is used by Start when the caller does not bound
// graceful shutdown itself.
const DefaultShutdownTimeout = 5 * time.Second

// Server provides an HTTP server for the REST API.
//
// Endpoints:
//   - GET /health: Liveness probe
//   - GET /health/ready: Readiness probe
//   - GET /health/cache: Detailed cache health
//   - GET /api/health: Legacy health envelope
//   - /api/v1/cache/*: Cache admin routes
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server          *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
	ready           chan struct{}
	shutdownOnce    sync.Once
}

// NewServer creates a new API HTTP server and binds its listener, so
// Addr is valid before Start and port 0 picks a free port.
//
// The server does not accept requests until Start is called.
func NewServer(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.CORSOrigins == nil {
		deps.CORSOrigins = cfg.CORSOrigins
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	server := &http.Server{
		Handler:      NewRouter(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		server:          server,
		listener:        ln,
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
	}, nil
}

// WithShutdownTimeout overrides the graceful shutdown bound used by Start.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	if d > 0 {
		s.shutdownTimeout = d
	}
	return s
}

// Start serves requests and blocks until the context is cancelled or the
// server fails.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the server fails or shutdown encounters an error
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.Addr(s.Addr()))
		logger.Debug("API endpoints available",
			"health", fmt.Sprintf("http://%s/health", s.Addr()),
			"ready", fmt.Sprintf("http://%s/health/ready", s.Addr()),
			"legacy", fmt.Sprintf("http://%s/api/health", s.Addr()),
		)
		close(s.ready)

		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Ready is closed once Start has begun serving.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
