// Command worker consumes replenishment events from NATS and sends the
// back-in-stock and pre-order notifications. It also runs the pre-order expiry
// sweep so the API processes do not have to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/config"
	"storefront/backend/internal/events"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/service"
	pgstore "storefront/backend/internal/store/postgres"
	"storefront/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel).With().Str("process", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
	logger.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if cfg.NATSURL == "" || cfg.DatabaseURL == "" {
		return errors.New("worker needs NATS_URL and DATABASE_URL")
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, err := pgstore.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer repo.Close()

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.SMTP.Enabled() {
		email, err := notify.NewEmailNotifier(cfg.SMTP, logger)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		notifier = email
	}

	svc := service.New(service.Deps{
		Repo:         repo,
		Notifier:     notifier,
		Logger:       logger,
		PreOrderHold: cfg.PreOrderHold,
	})

	conn, err := events.Connect(cfg.NATSURL, "storefront-worker")
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer conn.Close()

	replenisher := worker.NewReplenisher(svc, cfg.PreOrderAutoNotify, logger)
	sub := events.NewNATSSubscriber(conn, cfg.NATSSubject, logger)
	if err := sub.Subscribe(ctx, replenisher.Handle); err != nil {
		return err
	}
	logger.Info().Str("subject", cfg.NATSSubject).Msg("consuming replenishment events")

	worker.NewSweeper(svc.PreOrders, cfg.ExpirySweepInterval, logger).Run(ctx)

	if err := sub.Close(); err != nil {
		logger.Warn().Err(err).Msg("drain subscription")
	}
	return nil
}
