package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"storefront/backend/internal/config"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/httpapi"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
	pgstore "storefront/backend/internal/store/postgres"
	"storefront/backend/internal/store/redisstore"
	"storefront/backend/internal/telemetry"
	"storefront/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}
	if err := validateRuntimeConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid runtime configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if err := validateRuntimeConfig(cfg); err != nil {
		return err
	}

	closers := make([]func() error, 0, 4)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("close error")
			}
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg, "storefront")

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		repo = pg
		logger.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Msg("repository: in-memory")
	}

	var guestCarts store.CartRepository = repo
	if cfg.RedisAddr != "" {
		redisCarts := redisstore.NewGuestCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.GuestCartTTL)
		if err := redisCarts.Ping(startCtx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, guest carts use the repository")
			_ = redisCarts.Close()
		} else {
			guestCarts = redisCarts
			closers = append(closers, redisCarts.Close)
			logger.Info().Msg("guest carts: redis")
		}
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}

	deps := service.Deps{
		Repo:         repo,
		GuestCart:    guestCarts,
		Notifier:     notifier,
		Logger:       logger,
		Metrics:      metrics,
		PreOrderHold: cfg.PreOrderHold,
	}

	// With NATS the fan-out and the expiry sweep run in cmd/worker; without it
	// they run in-process.
	var queue *events.Queue
	var replenisher *worker.Replenisher
	if cfg.NATSURL != "" {
		conn, err := events.Connect(cfg.NATSURL, "storefront-api")
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		closers = append(closers, func() error { return conn.Drain() })
		deps.Publisher = events.NewNATSPublisher(conn, cfg.NATSSubject, metrics)
		logger.Info().Str("subject", cfg.NATSSubject).Msg("replenishment events: nats")
	} else {
		queue = events.NewQueue(func(ctx context.Context, ev domain.ReplenishmentEvent) error {
			return replenisher.Handle(ctx, ev)
		}, 256, logger, metrics)
		deps.Publisher = queue
		logger.Info().Msg("replenishment events: in-process queue")
	}

	svc := service.New(deps)

	if queue != nil {
		replenisher = worker.NewReplenisher(svc, cfg.PreOrderAutoNotify, logger)
		queue.Start(ctx, cfg.NotifyWorkers)
		closers = append(closers, func() error { queue.Close(); return nil })
		go worker.NewSweeper(svc.PreOrders, cfg.ExpirySweepInterval, logger).Run(ctx)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Metrics:       metrics,
		Gatherer:      reg,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("storefront backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown error")
	}
	return nil
}

func buildNotifier(cfg config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	if !cfg.SMTP.Enabled() {
		logger.Info().Msg("notifications: log only")
		return notify.LogNotifier{Logger: logger}, nil
	}
	email, err := notify.NewEmailNotifier(cfg.SMTP, logger)
	if err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}
	logger.Info().Str("host", cfg.SMTP.Host).Msg("notifications: email")
	return email, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Env == "prod" && (cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*") {
		return fmt.Errorf("ALLOWED_ORIGIN must name a concrete origin in prod")
	}
	return nil
}

// validateRuntimeConfig rejects NATS without a database: the worker that consumes
// the events reads from Postgres, so an in-memory API would publish into nothing.
func validateRuntimeConfig(cfg config.Config) error {
	if cfg.NATSURL != "" && cfg.DatabaseURL == "" {
		return errors.New("NATS_URL needs DATABASE_URL so cmd/worker shares the repository")
	}
	return nil
}
