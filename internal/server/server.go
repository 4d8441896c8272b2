// Package server wires the HTTP surface together: router, middleware,
// routes, and graceful shutdown. It is the composition point between the
// handlers and the services main.go constructed; no business logic
// lives here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepsense/sandboxd/internal/auth"
	"github.com/deepsense/sandboxd/internal/handler"
	"github.com/deepsense/sandboxd/internal/middleware"
	"github.com/deepsense/sandboxd/internal/service"
)

// Config holds the server's own settings; everything else arrives as a
// constructed dependency in Deps.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Deps carries the services and infrastructure the routes need. Tokens
// may be nil, which disables authentication: every API route is then
// open, which is only sane for local development.
type Deps struct {
	Executions *service.ExecutionService
	Auth       *service.AuthService
	Tokens     *auth.TokenService
	Backend    handler.Pinger
	Registry   *prometheus.Registry
}

// Server is the HTTP front end.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New assembles the router. Middleware order matters: RequestID first so
// the logger can tag lines, Recoverer before anything that can panic.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(logger))

	healthHandler := handler.NewHealthHandler(deps.Backend, logger)
	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		deps.Registry,
		promhttp.HandlerOpts{},
	))

	if deps.Tokens != nil && deps.Auth != nil {
		tokenHandler := handler.NewTokenHandler(deps.Auth, logger)
		s.router.Post("/auth/token", tokenHandler.HandleToken)
	}

	executeHandler := handler.NewExecuteHandler(deps.Executions, logger)
	recordHandler := handler.NewRecordHandler(deps.Executions, logger)

	s.router.Route("/api", func(r chi.Router) {
		if deps.Tokens != nil {
			r.Use(auth.RequireAuth(deps.Tokens))
		} else {
			logger.Warn("authentication disabled: no JWT secret configured")
		}
		r.Post("/execute", executeHandler.HandleExecute)
		r.Get("/executions", recordHandler.HandleList)
		r.Get("/executions/{id}", recordHandler.HandleGet)
	})

	return s
}

// Router exposes the underlying handler for httptest servers.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until SIGINT/SIGTERM, then drains in-flight
// requests before returning. Execution requests may legitimately run for
// the full sandbox timeout, so the write timeout leaves headroom above it.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
