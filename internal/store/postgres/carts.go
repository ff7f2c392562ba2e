package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

func scanCart(row rowScanner) (*domain.Cart, error) {
	var cart domain.Cart
	var kind string
	var itemsRaw, couponRaw []byte
	if err := row.Scan(&kind, &cart.Key, &itemsRaw, &couponRaw, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cart.Kind = domain.CartKind(kind)
	cart.Items = []domain.LineItem{}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &cart.Items); err != nil {
			return nil, err
		}
	}
	if len(couponRaw) > 0 && string(couponRaw) != "null" {
		cart.Coupon = &domain.CouponSnapshot{}
		if err := json.Unmarshal(couponRaw, cart.Coupon); err != nil {
			return nil, err
		}
	}
	return &cart, nil
}

func (s *Store) LoadCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	return scanCart(s.db.QueryRowContext(ctx, `
		SELECT kind, cart_key, items, coupon, version, created_at, updated_at
		FROM carts
		WHERE kind = $1 AND cart_key = $2
	`, string(ref.Kind), ref.Key))
}

func (s *Store) SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return nil, err
	}
	var coupon []byte
	if cart.Coupon != nil {
		if coupon, err = json.Marshal(cart.Coupon); err != nil {
			return nil, err
		}
	}

	if cart.Version == 0 {
		saved, err := scanCart(s.db.QueryRowContext(ctx, `
			INSERT INTO carts (kind, cart_key, items, coupon, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, now(), now())
			ON CONFLICT (kind, cart_key) DO NOTHING
			RETURNING kind, cart_key, items, coupon, version, created_at, updated_at
		`, string(cart.Kind), cart.Key, items, coupon))
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrConflict
		}
		return saved, err
	}

	saved, err := scanCart(s.db.QueryRowContext(ctx, `
		UPDATE carts
		SET items = $3, coupon = $4, version = version + 1, updated_at = now()
		WHERE kind = $1 AND cart_key = $2 AND version = $5
		RETURNING kind, cart_key, items, coupon, version, created_at, updated_at
	`, string(cart.Kind), cart.Key, items, coupon, cart.Version))
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrConflict
	}
	return saved, err
}

func (s *Store) TakeCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	return scanCart(s.db.QueryRowContext(ctx, `
		DELETE FROM carts
		WHERE kind = $1 AND cart_key = $2
		RETURNING kind, cart_key, items, coupon, version, created_at, updated_at
	`, string(ref.Kind), ref.Key))
}

func (s *Store) DeleteCart(ctx context.Context, ref domain.CartRef) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE kind = $1 AND cart_key = $2`, string(ref.Kind), ref.Key)
	return err
}
