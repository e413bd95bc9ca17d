package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/charmbot/internal/api"
	"github.com/nugget/charmbot/internal/buildinfo"
	"github.com/nugget/charmbot/internal/connwatch"
	"github.com/nugget/charmbot/internal/session"
)

// runServe starts the chat API and blocks until SIGINT or SIGTERM.
// Shutdown cancels in-flight turns, drains HTTP, then closes stores.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Charmbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"orders", cfg.Orders.Driver,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions := session.NewManager(a.loop, logger, session.WithIdleTimeout(cfg.API.SessionIdle))

	g, gctx := errgroup.WithContext(ctx)

	watch := connwatch.NewManager(logger)
	watch.Watch(gctx, "ollama", a.ollama.Ping, connwatch.Backoff{})
	watch.Watch(gctx, "orders", a.store.Ping, connwatch.Backoff{})

	srv := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, sessions, logger,
		api.WithRateLimit(cfg.API.RatePerSecond, cfg.API.Burst),
		api.WithAllowedOrigins(cfg.API.AllowedOrigins),
		api.WithModel(cfg.Models.Default),
		api.WithHealth(watch),
	)

	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sessions.Janitor(gctx, time.Minute) })

	err = g.Wait()
	stop()
	watch.Wait()
	logger.Info("shutdown complete", "uptime", buildinfo.Uptime())
	return err
}
