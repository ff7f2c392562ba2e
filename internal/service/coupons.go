package service

import (
	"context"
	"errors"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/telemetry"
)

type Coupons struct {
	repo    store.CouponStore
	carts   *Carts
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewCoupons(d Deps, carts *Carts) *Coupons {
	return &Coupons{repo: d.Repo, carts: carts, metrics: d.Metrics, now: d.Now}
}

// Apply validates code against the cart and attaches a snapshot of it. The usage
// counter is not touched here; Redeem does that when an order is placed.
func (s *Coupons) Apply(ctx context.Context, ref domain.CartRef, code string) (*domain.Cart, error) {
	const op = "coupons.apply"

	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return nil, domain.Invalid(op, "coupon code is required")
	}

	cart, err := s.carts.mutate(ctx, ref, op, func(cart *domain.Cart) error {
		coupon, err := s.repo.GetCouponByCode(ctx, code)
		if err != nil {
			return fromStore(err, op, "coupon", code)
		}
		if err := coupon.CheckCart(op, *cart, s.now()); err != nil {
			return err
		}
		cart.Coupon = coupon.Snapshot()
		return nil
	})
	if err != nil {
		s.metrics.CouponApplied(domain.ErrorCode(err))
		return nil, err
	}
	s.metrics.CouponApplied("applied")
	return cart, nil
}

// Remove detaches the coupon. Removing from a cart without one is a no-op.
func (s *Coupons) Remove(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	return s.carts.mutate(ctx, ref, "coupons.remove", func(cart *domain.Cart) error {
		if cart.Coupon == nil {
			return errUnchanged
		}
		cart.Coupon = nil
		return nil
	})
}

// Redeem counts one use of the coupon, failing once the limit is reached.
func (s *Coupons) Redeem(ctx context.Context, code string) (*domain.Coupon, error) {
	const op = "coupons.redeem"

	code = domain.NormalizeCouponCode(code)
	coupon, err := s.repo.RedeemCoupon(ctx, code)
	if errors.Is(err, store.ErrConflict) {
		return nil, domain.Errorf(domain.EUSAGELIMIT, op, "coupon %s has reached its usage limit", code)
	}
	if err != nil {
		return nil, fromStore(err, op, "coupon", code)
	}
	return coupon, nil
}
