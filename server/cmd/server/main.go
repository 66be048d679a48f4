package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cyberpulse/cyberpulse/pkg/logging"
	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/alerts"
	"github.com/cyberpulse/cyberpulse/server/internal/api"
	"github.com/cyberpulse/cyberpulse/server/internal/archive"
	"github.com/cyberpulse/cyberpulse/server/internal/auth"
	"github.com/cyberpulse/cyberpulse/server/internal/config"
	"github.com/cyberpulse/cyberpulse/server/internal/intel"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
	"github.com/cyberpulse/cyberpulse/server/internal/receiver"
	"github.com/cyberpulse/cyberpulse/server/internal/store"
	"github.com/cyberpulse/cyberpulse/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "load environment variables from this file if it exists")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "cyberpulse-server: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cyberpulse-server: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Server.Logging)
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("cyberpulse-server starting", "config", *configPath)
	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"event_retention", cfg.Server.Events.Retention,
		"detection_interval", cfg.Server.Detection.Interval,
		"storage_backend", cfg.Server.Storage.Backend,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	// Event window with background eviction.
	st := store.New(cfg.Server.Events.Retention)
	go st.Run(ctx)

	// Optional archive; warms the window with events still inside retention.
	var arch *archive.Archive
	if cfg.Server.Storage.Backend == "sqlite" {
		arch, err = archive.Open(cfg.Server.Storage.Path)
		if err != nil {
			slog.Error("failed to open event archive", "path", cfg.Server.Storage.Path, "err", err)
			os.Exit(1)
		}
		defer arch.Close()

		recs, err := arch.Since(ctx, time.Now().Add(-cfg.Server.Events.Retention))
		if err != nil {
			slog.Error("failed to warm event window from archive", "err", err)
		}
		for _, rec := range recs {
			st.AppendAt([]types.Event{rec.Event}, rec.ReceivedAt)
		}
		slog.Info("event archive opened", "path", cfg.Server.Storage.Path, "restored", len(recs))

		if cfg.Server.Storage.Retention > 0 {
			go arch.RunPruner(ctx, cfg.Server.Storage.Retention, time.Hour)
		}
	}

	// Alerts engine: periodic detection plus a run after every ingested batch.
	engine := alerts.New(st, cfg.Server.Detection.Rules(), cfg.Server.Alerts, m)
	go engine.Run(ctx, cfg.Server.Detection.Interval)

	// Hot-reload detection thresholds and webhook targets.
	go func() {
		if err := config.Watch(ctx, *configPath, func(next *config.Config) {
			engine.SetRules(next.Server.Detection.Rules())
			engine.SetWebhooks(next.Server.Alerts.Webhooks)
		}); err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	// Reputation lookups, cached in Redis when configured.
	var cache intel.Cache
	if addr := cfg.Server.Intel.Cache.RedisAddr; addr != "" {
		rc := intel.NewRedisCache(cfg.Server.Intel.Cache)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("intel cache unreachable, lookups will not be cached until it recovers", "addr", addr, "err", err)
		}
		cache = rc
	}
	if cfg.Server.Intel.APIKey() == "" {
		slog.Info("intel: no API key configured, reputation defaults to score 0")
	}
	enricher := intel.NewEnricher(intel.NewClient(cfg.Server.Intel), cache, cfg.Server.Intel, m)

	var archiver receiver.Archiver
	if arch != nil {
		archiver = arch
	}
	rcv := receiver.New(st, archiver, engine, m)

	hub := ws.New(engine, cfg.Server.WS.Interval, m)
	go hub.Run(ctx)

	apiHandler := api.New(api.Options{
		Store:    st,
		Engine:   engine,
		Receiver: rcv,
		Enricher: enricher,
		Metrics:  m,
		Auth: auth.APIKey(
			cfg.Server.Auth.Mode,
			cfg.Server.Auth.EffectiveHeader(),
			cfg.Server.Auth.Key(),
		),
		APIKeyHeader:   cfg.Server.Auth.EffectiveHeader(),
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	httpMux := http.NewServeMux()
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/", apiHandler)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("cyberpulse-server shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
