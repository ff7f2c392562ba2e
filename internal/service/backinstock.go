package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/store"
	"storefront/backend/internal/telemetry"
)

type subscriptionRepo interface {
	store.ProductStore
	store.SubscriptionStore
}

// BackInStock keeps one subscription record per (email, product, variant).
type BackInStock struct {
	repo     subscriptionRepo
	notifier notify.Notifier
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewBackInStock(d Deps) *BackInStock {
	return &BackInStock{
		repo:     d.Repo,
		notifier: d.Notifier,
		logger:   d.Logger.With().Str("component", "back_in_stock").Logger(),
		metrics:  d.Metrics,
		now:      d.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Subscribe creates a subscription or reactivates an unsubscribed or notified one.
func (s *BackInStock) Subscribe(ctx context.Context, req domain.SubscribeRequest) (*domain.BackInStockNotification, error) {
	const op = "backinstock.subscribe"

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.ProductID == "" {
		return nil, domain.Invalid(op, "email and product_id are required")
	}
	if err := validSelector(op, req.Variant); err != nil {
		return nil, err
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, fromStore(err, op, "product", req.ProductID)
	}
	available, err := product.StockAt(req.Variant)
	if err != nil {
		return nil, domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
	}
	if available > 0 {
		return nil, domain.Errorf(domain.ESTILLINSTOCK, op, "%s is in stock", product.Name)
	}

	existing, err := s.repo.FindSubscription(ctx, req.Email, req.ProductID, req.Variant)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fromStore(err, op, "subscription", req.Email)
	default:
		return s.reactivate(ctx, op, *existing, req)
	}

	created, err := s.repo.CreateSubscription(ctx, domain.BackInStockNotification{
		UserID:    req.UserID,
		Email:     req.Email,
		ProductID: req.ProductID,
		Variant:   req.Variant,
		Status:    domain.SubscriptionActive,
		Source:    req.Source,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: s.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, domain.Errorf(domain.EALREADYSUBSCRIBED, op, "%s is already subscribed", req.Email)
	}
	if err != nil {
		return nil, fromStore(err, op, "subscription", req.Email)
	}
	return created, nil
}

func (s *BackInStock) reactivate(ctx context.Context, op string, sub domain.BackInStockNotification, req domain.SubscribeRequest) (*domain.BackInStockNotification, error) {
	previous := sub.Status
	switch previous {
	case domain.SubscriptionActive:
		return nil, domain.Errorf(domain.EALREADYSUBSCRIBED, op, "%s is already subscribed", req.Email)
	case domain.SubscriptionUnsubscribed:
		sub.NotificationCount = 0
	}
	sub.Status = domain.SubscriptionActive
	if req.UserID != "" {
		sub.UserID = req.UserID
	}
	if req.Source != "" {
		sub.Source = req.Source
	}
	updated, err := s.repo.UpdateSubscription(ctx, sub, previous)
	if errors.Is(err, store.ErrConflict) {
		return nil, domain.Errorf(domain.EALREADYSUBSCRIBED, op, "%s is already subscribed", req.Email)
	}
	if err != nil {
		return nil, fromStore(err, op, "subscription", req.Email)
	}
	return updated, nil
}

// Unsubscribe opts the subscription out. It wins over a fan-out that claimed the
// record in between, so a later replenishment does not mail the shopper again.
func (s *BackInStock) Unsubscribe(ctx context.Context, email, productID string, variant *domain.VariantSelector) (*domain.BackInStockNotification, error) {
	const op = "backinstock.unsubscribe"

	email = normalizeEmail(email)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sub, err := s.repo.FindSubscription(ctx, email, productID, variant)
		if err != nil {
			return nil, fromStore(err, op, "subscription", email)
		}
		previous := sub.Status
		sub.Status = domain.SubscriptionUnsubscribed
		updated, err := s.repo.UpdateSubscription(ctx, *sub, previous)
		if errors.Is(err, store.ErrConflict) {
			s.metrics.Retried("subscription")
			continue
		}
		if err != nil {
			return nil, fromStore(err, op, "subscription", email)
		}
		return updated, nil
	}
	return nil, domain.Errorf(domain.ECONFLICT, op, "subscription for %s is busy, please retry", email)
}

// NotifySubscribers emails every active subscription on the target. Each record
// is claimed (active to notified) before its email goes out, so concurrent
// fan-outs send at most once per subscriber. A failed send releases the claim
// and is counted, leaving the record active for a later replenishment.
func (s *BackInStock) NotifySubscribers(ctx context.Context, productID string, variant *domain.VariantSelector) (domain.NotifyResult, error) {
	const op = "backinstock.notify"

	var result domain.NotifyResult
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return result, fromStore(err, op, "product", productID)
	}
	subs, err := s.repo.ListSubscriptions(ctx, domain.SubscriptionFilter{
		ProductID:  productID,
		VariantKey: variantKeyFilter(variant),
		Status:     domain.SubscriptionActive,
	})
	if err != nil {
		return result, fromStore(err, op, "subscriptions", productID)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		notifiedAt := s.now()
		claim := sub
		claim.Status = domain.SubscriptionNotified
		claim.NotifiedAt = &notifiedAt
		claim.NotificationCount++
		claimed, err := s.repo.UpdateSubscription(ctx, claim, domain.SubscriptionActive)
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug().Str("subscription_id", sub.ID).Msg("subscription no longer active, skipped")
			continue
		}
		if err != nil {
			result.Failed++
			s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("claim subscription failed")
			continue
		}

		if err := s.notifier.SendBackInStock(ctx, *claimed, *product); err != nil {
			result.Failed++
			s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Str("email", sub.Email).Msg("back in stock notification failed")
			release := *claimed
			release.Status = domain.SubscriptionActive
			release.NotifiedAt = sub.NotifiedAt
			release.NotificationCount = sub.NotificationCount
			if _, err := s.repo.UpdateSubscription(ctx, release, domain.SubscriptionNotified); err != nil && !errors.Is(err, store.ErrConflict) {
				s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("release subscription failed")
			}
			continue
		}
		result.Sent++
	}

	s.metrics.Notified("back_in_stock", result.Sent, result.Failed)
	s.logger.Info().
		Str("product_id", productID).
		Str("variant", variant.Key()).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("back in stock subscribers notified")
	return result, nil
}

// SubscriberCount counts active subscriptions. A nil variant counts every
// variant of the product.
func (s *BackInStock) SubscriberCount(ctx context.Context, productID string, variant *domain.VariantSelector) (int, error) {
	filter := domain.SubscriptionFilter{ProductID: productID, Status: domain.SubscriptionActive}
	if variant != nil {
		filter.VariantKey = variantKeyFilter(variant)
	}
	n, err := s.repo.CountSubscriptions(ctx, filter)
	if err != nil {
		return 0, fromStore(err, "backinstock.count", "subscriptions", productID)
	}
	return n, nil
}
