package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/foxseedlab/kaigiroku/external/config"
	"github.com/foxseedlab/kaigiroku/external/httpserver"
	llmimpl "github.com/foxseedlab/kaigiroku/external/llm"
	repositoryimpl "github.com/foxseedlab/kaigiroku/external/repository"
	transcriberimpl "github.com/foxseedlab/kaigiroku/external/transcriber"
	webhookimpl "github.com/foxseedlab/kaigiroku/external/webhook"
	"github.com/foxseedlab/kaigiroku/internal/config"
	"github.com/foxseedlab/kaigiroku/internal/repository"
	"github.com/foxseedlab/kaigiroku/internal/session"
	"github.com/foxseedlab/kaigiroku/internal/summary"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
	"github.com/samber/do/v2"
)

const (
	orphanCleanupTimeout = 10 * time.Second
	shutdownTimeout      = 30 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching http server")
	run(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	telemetry.RegisterDI(injector)
	llmimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	summary.RegisterDI(injector)
	session.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config, injector do.Injector) {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		slog.Error("failed to resolve repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("repository close failed", "error", err)
		}
	}()
	closeOrphanSessions(repo)

	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}
	registry, err := do.Invoke[*summary.Registry](injector)
	if err != nil {
		slog.Error("failed to resolve outline registry", "error", err)
		os.Exit(1)
	}
	server, err := do.Invoke[*httpserver.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		registry.Run(ctx, cfg.SummaryInterval)
	}()

	serveErr, err := server.Start()
	if err != nil {
		slog.Error("http server start failed", "error", err)
		cancel()
		<-schedulerDone
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("session manager shutdown failed", "error", err)
	}
	cancel()
	<-schedulerDone
	slog.Info("shutdown complete")
}

func closeOrphanSessions(repo repository.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), orphanCleanupTimeout)
	defer cancel()
	n, err := repo.CloseOrphanSessions(ctx, time.Now())
	if err != nil {
		slog.Warn("failed to close orphan sessions", "error", err)
		return
	}
	if n > 0 {
		slog.Info("closed orphan sessions", "count", n)
	}
}
