// Package main is the entry point for the modelrelay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"modelrelay/config"
	"modelrelay/internal/cache"
	"modelrelay/internal/catalog"
	"modelrelay/internal/observability"
	"modelrelay/internal/relay"
	"modelrelay/internal/server"
	"modelrelay/internal/upstream"
	"modelrelay/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting modelrelay",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"backend", cfg.Backend.BaseURL,
	)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	store, err := newCatalogCache(cfg)
	if err != nil {
		slog.Error("failed to initialize catalog cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	client := upstream.NewClient(upstream.DefaultClientConfig(cfg.Backend.BaseURL), nil)
	cat := catalog.New(client, store, cfg.Cache.TTL, logger)

	handler := server.NewHandler(
		relay.New(client, logger, metrics),
		relay.NewComparator(client, cfg.Compare.MaxModels, logger, metrics),
		cat,
		logger,
	)
	srv := server.New(handler, logger, &server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
	})

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "pretty" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newCatalogCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		return cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.Cache.RedisURL,
			Key: cache.Key(cfg.Backend.BaseURL),
			TTL: cfg.Cache.TTL,
		})
	default:
		return cache.NewLocalCache(cfg.Cache.FilePath), nil
	}
}
