// Package main is the entry point for the tiregen orchestrator daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treadworks/tiregen"
	"github.com/treadworks/tiregen/internal/config"
	"github.com/treadworks/tiregen/internal/observability"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	watcher, err := config.NewWatcher(*configPath, slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := watcher.Current()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting tiregen orchestrator", "version", tiregen.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	client, store, err := buildClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}

	// Route changes apply on config save; provider or ledger changes need a
	// restart.
	watcher.OnReload(func(next *config.Config) {
		client.UpdateRoutes(buildRoutes(next))
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	h := &handler{client: client, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/generate/text", h.generateText)
	mux.HandleFunc("POST /v1/generate/json", h.generateJSON)
	mux.HandleFunc("POST /v1/generate/image", h.generateImage)
	mux.HandleFunc("GET /v1/costs", h.costs)
	mux.HandleFunc("GET /healthz", h.health)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	watcher.Close()
	client.Close()
	if store != nil {
		store.Close()
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
