package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

const subscriptionColumns = `
	id, user_id, email, product_id, variant_group, variant_value, status, notified_at,
	notification_count, source, ip_address, user_agent, created_at, updated_at`

func scanSubscription(row rowScanner) (domain.BackInStockNotification, error) {
	var sub domain.BackInStockNotification
	var group, value, status string
	var notified sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Email, &sub.ProductID, &group, &value, &status, &notified,
		&sub.NotificationCount, &sub.Source, &sub.IPAddress, &sub.UserAgent, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return domain.BackInStockNotification{}, err
	}
	sub.Variant = selectorFromColumns(group, value)
	sub.Status = domain.SubscriptionStatus(status)
	sub.NotifiedAt = timePtr(notified)
	return sub, nil
}

func (s *Store) FindSubscription(ctx context.Context, email string, productID string, variant *domain.VariantSelector) (*domain.BackInStockNotification, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM back_in_stock_subscriptions
		WHERE lower(email) = lower($1) AND product_id = $2 AND variant_key = $3
	`, email, productID, variant.Key()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub domain.BackInStockNotification) (*domain.BackInStockNotification, error) {
	if sub.ID == "" {
		sub.ID = xid.New("bis")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = sub.CreatedAt

	group, value := selectorColumns(sub.Variant)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO back_in_stock_subscriptions (`+subscriptionColumns+`, variant_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sub.ID, sub.UserID, sub.Email, sub.ProductID, group, value, string(sub.Status), nullTime(sub.NotifiedAt),
		sub.NotificationCount, sub.Source, sub.IPAddress, sub.UserAgent, sub.CreatedAt, sub.UpdatedAt, sub.Variant.Key())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub domain.BackInStockNotification, expectedStatus domain.SubscriptionStatus) (*domain.BackInStockNotification, error) {
	updated, err := scanSubscription(s.db.QueryRowContext(ctx, `
		UPDATE back_in_stock_subscriptions
		SET user_id = $3, status = $4, notified_at = $5, notification_count = $6,
			source = $7, ip_address = $8, user_agent = $9, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+subscriptionColumns,
		sub.ID, string(expectedStatus), sub.UserID, string(sub.Status), nullTime(sub.NotifiedAt), sub.NotificationCount,
		sub.Source, sub.IPAddress, sub.UserAgent))
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM back_in_stock_subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrConflict
}

func subscriptionWhere(filter domain.SubscriptionFilter) (string, []any) {
	where := []string{"1=1"}
	args := []any{}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.ProductID != "" {
		add("product_id = ?", filter.ProductID)
	}
	if filter.VariantKey != nil {
		add("variant_key = ?", *filter.VariantKey)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	return strings.Join(where, " AND "), args
}

func (s *Store) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.BackInStockNotification, error) {
	where, args := subscriptionWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM back_in_stock_subscriptions
		WHERE `+where+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.BackInStockNotification, 0, 16)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) CountSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) (int, error) {
	where, args := subscriptionWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM back_in_stock_subscriptions WHERE `+where, args...).Scan(&n)
	return n, err
}
