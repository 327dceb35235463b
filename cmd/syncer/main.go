package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"postgarden/internal/app"
	"postgarden/internal/config"
	"postgarden/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	rt, err := app.Build(cfg, afero.NewOsFs(), logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		onceCtx, onceCancel := context.WithTimeout(ctx, cfg.Sync.PassTimeout)
		defer onceCancel()
		stats, err := rt.Sync.Sync(onceCtx)
		if err != nil {
			logger.Error("sync failed", "error", err)
			os.Exit(1)
		}
		if stats.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	sched := scheduler.NewScheduler(rt.Sync, cfg.Sync.Interval, cfg.Sync.PassTimeout, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				if err := sched.Trigger(); err != nil {
					logger.Info("manual sync already queued")
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			return
		}
	}()

	logger.Info("starting channel syncer",
		"origin", cfg.Origin.BaseURL,
		"cache_root", rt.Cache.Root(),
		"channels", cfg.Channels,
		"interval", cfg.Sync.Interval,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
