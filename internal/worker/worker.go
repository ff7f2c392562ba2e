// Package worker runs the background side of replenishment: notification
// fan-out for replenished stock and the periodic pre-order expiry sweep.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
)

// Replenisher reacts to replenishment events.
type Replenisher struct {
	backInStock *service.BackInStock
	preOrders   *service.PreOrders
	autoNotify  bool
	logger      zerolog.Logger
}

// NewReplenisher notifies back-in-stock subscribers for every event. With
// autoNotifyPreOrders the pending pre-order queue is notified as well;
// otherwise that is left to an operator.
func NewReplenisher(svc *service.Services, autoNotifyPreOrders bool, logger zerolog.Logger) *Replenisher {
	return &Replenisher{
		backInStock: svc.BackInStock,
		preOrders:   svc.PreOrders,
		autoNotify:  autoNotifyPreOrders,
		logger:      logger.With().Str("component", "replenisher").Logger(),
	}
}

// Handle matches events.Handler.
func (r *Replenisher) Handle(ctx context.Context, ev domain.ReplenishmentEvent) error {
	log := r.logger.With().
		Str("product_id", ev.ProductID).
		Str("variant", ev.Variant.Key()).
		Str("movement_id", ev.MovementID).
		Logger()

	var errs []error
	subs, err := r.backInStock.NotifySubscribers(ctx, ev.ProductID, ev.Variant)
	if err != nil {
		errs = append(errs, err)
	}

	var pre domain.NotifyResult
	if r.autoNotify {
		pre, err = r.preOrders.NotifyWhenInStock(ctx, ev.ProductID, ev.Variant)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("replenishment fan-out failed")
		return err
	}
	log.Info().
		Int("subscribers_sent", subs.Sent).
		Int("subscribers_failed", subs.Failed).
		Int("pre_orders_sent", pre.Sent).
		Int("pre_orders_failed", pre.Failed).
		Msg("replenishment handled")
	return nil
}

// Sweeper expires notified pre-orders whose hold window has passed.
type Sweeper struct {
	preOrders *service.PreOrders
	interval  time.Duration
	logger    zerolog.Logger
}

func NewSweeper(preOrders *service.PreOrders, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		preOrders: preOrders,
		interval:  interval,
		logger:    logger.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.preOrders.ExpireOld(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("pre-order expiry sweep failed")
	}
}
