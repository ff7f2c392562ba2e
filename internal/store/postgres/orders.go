package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var c domain.Coupon
	var maxUses sql.NullInt64
	var start, end sql.NullTime
	if err := row.Scan(&c.Code, &c.DiscountPercent, &c.Active, &maxUses, &c.UsedCount, &c.MinAmount, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		c.MaxUses = &n
	}
	c.StartDate = timePtr(start)
	c.EndDate = timePtr(end)
	return &c, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return scanCoupon(s.db.QueryRowContext(ctx, `
		SELECT code, discount_percent, active, max_uses, used_count, min_amount, start_date, end_date
		FROM coupons
		WHERE code = $1
	`, code))
}

func (s *Store) SaveCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	var maxUses any
	if coupon.MaxUses != nil {
		maxUses = *coupon.MaxUses
	}
	return scanCoupon(s.db.QueryRowContext(ctx, `
		INSERT INTO coupons (code, discount_percent, active, max_uses, used_count, min_amount, start_date, end_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (code) DO UPDATE SET
			discount_percent = EXCLUDED.discount_percent,
			active = EXCLUDED.active,
			max_uses = EXCLUDED.max_uses,
			min_amount = EXCLUDED.min_amount,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date
		RETURNING code, discount_percent, active, max_uses, used_count, min_amount, start_date, end_date
	`, coupon.Code, coupon.DiscountPercent, coupon.Active, maxUses, coupon.UsedCount, coupon.MinAmount,
		nullTime(coupon.StartDate), nullTime(coupon.EndDate)))
}

func (s *Store) RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := scanCoupon(s.db.QueryRowContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE code = $1 AND (max_uses IS NULL OR used_count < max_uses)
		RETURNING code, discount_percent, active, max_uses, used_count, min_amount, start_date, end_date
	`, code))
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := s.GetCouponByCode(ctx, code); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrConflict
	}
	return c, err
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	return insertOrder(ctx, s.db, order)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOrder(ctx context.Context, db execer, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, lines, total, deposit, status, shipping_address, payment_method, note, pre_order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, order.UserID, lines, order.Total, order.Deposit, order.Status, order.ShippingAddress,
		order.PaymentMethod, order.Note, nullIfEmpty(order.PreOrderID), order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) ConvertPreOrder(ctx context.Context, preOrderID string, order domain.Order, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM pre_orders WHERE id = $1 FOR UPDATE`, preOrderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if domain.PreOrderStatus(status) != domain.PreOrderNotified {
		return nil, store.ErrConflict
	}

	order.PreOrderID = preOrderID
	created, err := insertOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE pre_orders
		SET status = 'converted', converted_order_id = $2, updated_at = $3
		WHERE id = $1
	`, preOrderID, created.ID, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	var lines []byte
	var preOrderID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, lines, total, deposit, status, shipping_address, payment_method, note, pre_order_id, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.UserID, &lines, &order.Total, &order.Deposit, &order.Status, &order.ShippingAddress,
		&order.PaymentMethod, &order.Note, &preOrderID, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.PreOrderID = preOrderID.String
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &order.Lines); err != nil {
			return nil, err
		}
	}
	return &order, nil
}
