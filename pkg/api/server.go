// Package api exposes the orchestrator's HTTP surface: health, profile
// snapshots and overrides, and read-only workflow status.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
	"github.com/isomorphiq/orchestrator/pkg/profile"
	"github.com/isomorphiq/orchestrator/pkg/task"
	"github.com/isomorphiq/orchestrator/pkg/worker"
)

// PoolHealth is the worker pool surface the server reads.
type PoolHealth interface {
	Health() worker.Health
}

// Pinger is implemented by stores with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	profiles *profile.Registry
	tasks    task.Store
	contexts contextstore.Store
	pool     PoolHealth
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(profiles *profile.Registry, tasks task.Store, contexts contextstore.Store, pool PoolHealth, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		profiles: profiles,
		tasks:    tasks,
		contexts: contexts,
		pool:     pool,
		logger:   logger.With("component", "api"),
	}
}

// SetupRoutes registers all routes on the echo instance.
func (s *Server) SetupRoutes(e *echo.Echo) {
	e.GET("/healthz", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/profiles", s.listProfilesHandler)
	v1.GET("/profiles/:name", s.getProfileHandler)
	v1.PUT("/profiles/:name/override", s.putOverrideHandler)
	v1.DELETE("/profiles/:name/override", s.deleteOverrideHandler)
	v1.GET("/workflow/:contextId", s.workflowStatusHandler)
}

// Serve runs the HTTP server until the context is cancelled, then shuts
// it down gracefully. Echo v5 is a plain http.Handler, so the listener
// lifecycle belongs to the http.Server wrapping it.
func (s *Server) Serve(ctx context.Context, e *echo.Echo, addr string) error {
	srv := &http.Server{Addr: addr, Handler: e}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
