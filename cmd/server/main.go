// Package main is the entry point for the sandboxd server.
//
// main stays thin: load configuration, build the dependency graph
// (logger, database, metrics, Docker launcher, services), hand it to the
// server package, and run until a shutdown signal. All behaviour lives
// in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/deepsense/sandboxd/internal/auth"
	"github.com/deepsense/sandboxd/internal/config"
	"github.com/deepsense/sandboxd/internal/metrics"
	sqliteRepo "github.com/deepsense/sandboxd/internal/repository/sqlite"
	"github.com/deepsense/sandboxd/internal/sandbox"
	sandboxdocker "github.com/deepsense/sandboxd/internal/sandbox/docker"
	"github.com/deepsense/sandboxd/internal/server"
	"github.com/deepsense/sandboxd/internal/service"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The metrics registry is built here and injected, never global, so
	// tests can register the same collectors without collisions.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	db, err := sqliteRepo.New(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	workspaceBase := cfg.Sandbox.WorkspaceBase
	if workspaceBase == "" {
		workspaceBase = filepath.Join(os.TempDir(), "sandboxd")
	}
	workspaces, err := sandbox.NewWorkspaces(workspaceBase, logger)
	if err != nil {
		return err
	}

	fetcher := sandbox.NewFetcher(cfg.Sandbox.FetchCapMB<<20, logger)

	pool := sandboxdocker.NewInstancePool(cfg.Sandbox.MaxInstances, m)
	launcher, err := sandboxdocker.New(sandboxdocker.Config{
		PythonImage:    cfg.Sandbox.PythonImage,
		NodeImage:      cfg.Sandbox.NodeImage,
		MemoryLimit:    cfg.Sandbox.MemoryLimitMB << 20,
		CPULimit:       cfg.Sandbox.CPULimit,
		Timeout:        cfg.Sandbox.Timeout,
		InstallTimeout: cfg.Sandbox.InstallTimeout,
		MaxInstances:   cfg.Sandbox.MaxInstances,
		OutputCap:      cfg.Sandbox.OutputCapKB << 10,
		InstallNetwork: cfg.Sandbox.InstallNetwork,
	}, pool, logger)
	if err != nil {
		return err
	}
	defer launcher.Close()

	executions := service.NewExecutionService(service.ExecutionServiceConfig{
		Launcher:    launcher,
		Workspaces:  workspaces,
		Fetcher:     fetcher,
		Executions:  db.Executions(),
		Metrics:     m,
		Logger:      logger,
		PythonImage: cfg.Sandbox.PythonImage,
		NodeImage:   cfg.Sandbox.NodeImage,
	})

	// Auth is optional: with no JWT secret the API runs open, acceptable
	// only behind a trusted network boundary.
	var (
		tokens      *auth.TokenService
		authService *service.AuthService
	)
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}
		authService = service.NewAuthService(db.APIKeys(), auth.NewSecretService(), tokens, logger)

		if cfg.Auth.BootstrapKeyID != "" && cfg.Auth.BootstrapKeySecret != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := authService.SeedKey(ctx, cfg.Auth.BootstrapKeyID, cfg.Auth.BootstrapKeyName, cfg.Auth.BootstrapKeySecret)
			cancel()
			if err != nil {
				return err
			}
		}
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Executions: executions,
		Auth:       authService,
		Tokens:     tokens,
		Backend:    launcher,
		Registry:   registry,
	}, logger)

	return srv.Start()
}
