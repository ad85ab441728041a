package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/evalcore/internal/app"
	"github.com/animus-labs/evalcore/internal/config"
	"github.com/animus-labs/evalcore/internal/platform/env"
	"github.com/animus-labs/evalcore/internal/platform/httpserver"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(env.String("EVALCORE_CONFIG", ""))
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	logger = logger.With("service", cfg.HTTP.Service)

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	core, err := app.Build(startupCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	if core.Sweeper != nil {
		if err := core.Sweeper.Start(); err != nil {
			logger.Error("reconcile sweeper failed to start", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			core.Sweeper.Stop(stopCtx)
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(cfg.HTTP.Service))
	mux.HandleFunc("/readyz", httpserver.Readyz(cfg.HTTP.Service, cfg.HTTP.CheckTimeout, core.ReadinessChecks()...))

	logger.Info("evaluation run core ready",
		"addr", cfg.HTTP.Addr,
		"database", cfg.Database.Driver,
		"blob_backend", cfg.BlobBackend,
		"upstream_enabled", cfg.UpstreamEnabled(),
		"reconcile_enabled", cfg.Reconcile.Enabled,
	)
	if err := httpserver.Run(ctx, logger, cfg.HTTP, httpserver.Wrap(logger, cfg.HTTP.Service, mux)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
