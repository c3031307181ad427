package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"notifgate/internal/config"
	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
	"notifgate/internal/infra/events"
	"notifgate/internal/infra/metrics"
	"notifgate/internal/infra/queue"
	"notifgate/internal/infra/ratelimit"
	"notifgate/internal/infra/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App holds the wired services shared by the server, the worker and the CLI.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         store.Backend
	Clients       *client.Service
	Notifications *notification.Service
	Enqueuer      notification.Enqueuer
	Registry      *prometheus.Registry

	closers []func() error
}

// New connects storage and builds the services described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	backend, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}
	logger.Info("storage initialized", "driver", cfg.Storage.Driver)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    backend,
		Registry: prometheus.NewRegistry(),
	}
	a.closers = append(a.closers, backend.Close)

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	guard, err := a.buildGuard(backend)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := notification.Options{
		Mode:    notification.Mode(cfg.Dispatch.Mode),
		Guard:   guard,
		Metrics: metrics.NewPrometheus(a.Registry),
		Logger:  logger,
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		a.closers = append(a.closers, pub.Close)
		opts.Publisher = pub
		logger.Info("kafka event publisher initialized", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	if cfg.Delivery.Enabled {
		enq := queue.NewEnqueuer(queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB), cfg.Queue.MaxRetry)
		a.closers = append(a.closers, enq.Close)
		a.Enqueuer = enq
		opts.Enqueuer = enq
		logger.Info("delivery queue initialized", "redis", cfg.Redis.Address)
	}

	a.Clients = client.NewService(backend, nil, logger)
	a.Notifications = notification.NewService(backend, a.Clients, opts)

	logger.Info("dispatcher initialized", "mode", cfg.Dispatch.Mode, "guard", cfg.Dispatch.Guard)
	return a, nil
}

func (a *App) buildGuard(backend store.Backend) (notification.Guard, error) {
	d := a.Config.Dispatch

	switch d.Guard {
	case config.GuardNone:
		return notification.NewNoGuard(backend), nil
	case config.GuardLocal:
		return notification.NewKeyedGuard(backend), nil
	case config.GuardRedis:
		rc := ratelimit.NewRedisClient(a.Config.Redis.Address, a.Config.Redis.Password, a.Config.Redis.DB)
		a.closers = append(a.closers, rc.Close)
		return ratelimit.NewRedisGuard(rc, backend, ratelimit.RedisGuardConfig{
			TTL:  time.Duration(d.LockTTLMs) * time.Millisecond,
			Wait: time.Duration(d.LockWaitMs) * time.Millisecond,
		}, a.Logger), nil
	case config.GuardTransaction:
		pg, ok := backend.(*store.PostgresStore)
		if !ok {
			return nil, fmt.Errorf("guard %q needs the postgres driver, got %q", d.Guard, a.Config.Storage.Driver)
		}
		return store.NewTxGuard(pg, d.TxRetries, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown dispatch guard %q", d.Guard)
	}
}

// MetricsHandler serves the app's registry in the Prometheus exposition format.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
}

// Close releases every connection New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
