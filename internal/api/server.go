package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/plakt/internal/api/handlers"
	"github.com/amaumene/plakt/internal/api/middleware"
	"github.com/amaumene/plakt/internal/cache"
	"github.com/amaumene/plakt/internal/config"
	"github.com/amaumene/plakt/internal/controllers"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	runner *controllers.Runner
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, runner *controllers.Runner, c *cache.Cache, logger *logrus.Logger) *Server {
	s := &Server{
		runner: runner,
		cache:  c,
		logger: logger,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // a triggered sync run answers inline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	healthHandler := handlers.NewHealthHandler(s.logger)
	mux.HandleFunc("/health", healthHandler.ServeHTTP)

	statusHandler := handlers.NewStatusHandler(s.runner, s.cache, s.logger)
	mux.HandleFunc("/status", statusHandler.ServeHTTP)

	syncHandler := handlers.NewSyncHandler(s.runner, s.logger)
	mux.HandleFunc("/api/sync", syncHandler.ServeHTTP)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
