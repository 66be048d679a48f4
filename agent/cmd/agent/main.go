package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cyberpulse/cyberpulse/agent/internal/config"
	"github.com/cyberpulse/cyberpulse/agent/internal/shipper"
	"github.com/cyberpulse/cyberpulse/agent/internal/source"
	"github.com/cyberpulse/cyberpulse/pkg/logging"
	"github.com/cyberpulse/cyberpulse/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the cyberpulse-agent command tree. Invoked without a
// subcommand it behaves like "run".
func newRootCmd() *cobra.Command {
	var configPath, envFile string

	runE := func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runAgent(ctx, configPath, envFile)
	}

	root := &cobra.Command{
		Use:          "cyberpulse-agent",
		Short:        "Collect security events and ship them to cyberpulse-server",
		SilenceUsage: true,
		RunE:         runE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "load environment variables from this file if it exists")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Poll the configured sources and ship events (default)",
			Args:  cobra.NoArgs,
			RunE:  runE,
		},
		newDetectCmd(),
		newDemoCmd(),
	)
	return root
}

// runAgent loads the config and runs sources and the shipper until ctx is
// cancelled. Source changes in the config file are applied without restart.
func runAgent(ctx context.Context, configPath, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logCloser := logging.New(cfg.Agent.Logging)
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("cyberpulse-agent starting", "config", configPath)
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"ship_interval", cfg.Agent.ShipInterval,
		"batch_size", cfg.Agent.BatchSize,
	)

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		return err
	}
	go ship.Run(ctx)

	p := &pollers{sink: ship.Add}
	p.start(ctx, cfg.Agent.Sources)
	defer p.stop()

	go func() {
		if err := config.Watch(ctx, configPath, func(updated *config.Config) {
			if updated.Agent.ServerEndpoint != cfg.Agent.ServerEndpoint {
				slog.Warn("server_endpoint changed; restart the agent to apply",
					"current", cfg.Agent.ServerEndpoint, "configured", updated.Agent.ServerEndpoint)
			}
			p.start(ctx, updated.Agent.Sources)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("cyberpulse-agent shutting down")
	return nil
}

// pollers runs one collection loop per configured source and hands the
// collected events to sink.
type pollers struct {
	sink func([]types.Event)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// start stops any running loops and starts one for each source in srcs.
// Sources that fail to build are logged and skipped.
func (p *pollers) start(ctx context.Context, srcs []config.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	var started int
	for _, cfg := range srcs {
		src, err := source.New(cfg)
		if err != nil {
			slog.Error("skipping source, could not build it", "source", cfg.ID, "err", err)
			continue
		}
		slog.Info("registered source", "id", cfg.ID, "type", cfg.Type, "poll_interval", cfg.PollInterval)
		started++
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.poll(loopCtx, src, cfg.PollInterval)
		}()
	}
	if started == 0 {
		slog.Warn("no sources configured, agent will idle")
	}
}

func (p *pollers) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *pollers) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
}

// poll collects from src immediately and then every interval until ctx is
// cancelled.
func (p *pollers) poll(ctx context.Context, src source.Source, interval time.Duration) {
	defer src.Close()
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		events, err := src.Collect(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("collect error", "source", src.ID(), "err", err)
		}
		if len(events) > 0 {
			p.sink(events)
			slog.Debug("collected events", "source", src.ID(), "count", len(events))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
