package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifgate/internal/app"
	"notifgate/internal/common"
	"notifgate/internal/config"
	"notifgate/internal/domain/notification"
	"notifgate/internal/infra/email"
	"notifgate/internal/infra/queue"
	"notifgate/internal/infra/template"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := common.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if !cfg.Delivery.Enabled {
		logger.Error("delivery is disabled; set delivery.enabled to run the worker")
		os.Exit(1)
	}

	logger.Info("worker configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	tmplEngine, err := template.NewEngine(cfg.Email.TemplatesDir)
	if err != nil {
		logger.Error("failed to initialize template engine", "error", err, "dir", cfg.Email.TemplatesDir)
		os.Exit(1)
	}
	logger.Info("template engine initialized", "dir", cfg.Email.TemplatesDir)

	emailProvider := email.NewResendProvider(
		cfg.Email.APIKey,
		cfg.Email.FromAddress,
		cfg.Email.FromName,
	)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	worker := notification.NewWorker(a.Store, a.Clients, tmplEngine, emailProvider, logger)

	// ==========================================
	// Asynq Server (task processing)
	// ==========================================

	asynqServer := queue.NewServer(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Concurrency,
		logger,
	)

	go func() {
		logger.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
		)
		if err := asynqServer.Run(queue.NewMux(worker)); err != nil {
			logger.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Stale Delivery Reaper
	// ==========================================

	reaper := notification.NewReaper(a.Store, a.Enqueuer, notification.ReaperConfig{
		Interval:       time.Duration(cfg.Reaper.IntervalSec) * time.Second,
		StaleThreshold: time.Duration(cfg.Reaper.StaleThresholdSec) * time.Second,
		BatchSize:      cfg.Reaper.BatchSize,
	}, logger)

	go reaper.Run(ctx)

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	<-ctx.Done()

	logger.Info("shutting down worker...")
	asynqServer.Shutdown()
	logger.Info("worker exited gracefully")
}
