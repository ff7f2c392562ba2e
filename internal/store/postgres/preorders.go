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

const preOrderColumns = `
	id, user_id, product_id, variant_group, variant_value, quantity, price, deposit, status,
	estimated_date, email, phone, note, priority, notified_at, expires_at, converted_order_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreOrder(row rowScanner) (domain.PreOrder, error) {
	var p domain.PreOrder
	var group, value, status string
	var estimated, notified, expires sql.NullTime
	var converted sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &group, &value, &p.Quantity, &p.Price, &p.Deposit, &status,
		&estimated, &p.Email, &p.Phone, &p.Note, &p.Priority, &notified, &expires, &converted,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.PreOrder{}, err
	}
	p.Variant = selectorFromColumns(group, value)
	p.Status = domain.PreOrderStatus(status)
	p.EstimatedDate = timePtr(estimated)
	p.NotifiedAt = timePtr(notified)
	p.ExpiresAt = timePtr(expires)
	p.ConvertedOrderID = converted.String
	return p, nil
}

func (s *Store) CreatePreOrder(ctx context.Context, p domain.PreOrder) (*domain.PreOrder, error) {
	if p.ID == "" {
		p.ID = xid.New("po")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt

	group, value := selectorColumns(p.Variant)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pre_orders (`+preOrderColumns+`, variant_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, p.ID, p.UserID, p.ProductID, group, value, p.Quantity, p.Price, p.Deposit, string(p.Status),
		nullTime(p.EstimatedDate), p.Email, p.Phone, p.Note, p.Priority, nullTime(p.NotifiedAt), nullTime(p.ExpiresAt),
		nullIfEmpty(p.ConvertedOrderID), p.CreatedAt, p.UpdatedAt, p.Variant.Key())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPreOrder(ctx context.Context, id string) (*domain.PreOrder, error) {
	p, err := scanPreOrder(s.db.QueryRowContext(ctx, `SELECT `+preOrderColumns+` FROM pre_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPreOrders(ctx context.Context, filter domain.PreOrderFilter) ([]domain.PreOrder, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.UserID != "" {
		add("user_id = ?", filter.UserID)
	}
	if filter.ProductID != "" {
		add("product_id = ?", filter.ProductID)
	}
	if filter.VariantKey != nil {
		add("variant_key = ?", *filter.VariantKey)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY(?)", statuses)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+preOrderColumns+`
		FROM pre_orders
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY priority DESC, created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PreOrder, 0, 16)
	for rows.Next() {
		p, err := scanPreOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) UpdatePreOrder(ctx context.Context, p domain.PreOrder, expectedStatus domain.PreOrderStatus) (*domain.PreOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pre_orders
		SET status = $3, notified_at = $4, expires_at = $5, converted_order_id = $6,
			quantity = $7, note = $8, updated_at = now()
		WHERE id = $1 AND status = $2
	`, p.ID, string(expectedStatus), string(p.Status), nullTime(p.NotifiedAt), nullTime(p.ExpiresAt),
		nullIfEmpty(p.ConvertedOrderID), p.Quantity, p.Note)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetPreOrder(ctx, p.ID); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	return s.GetPreOrder(ctx, p.ID)
}

func (s *Store) ExpirePreOrders(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pre_orders
		SET status = 'expired', updated_at = $1
		WHERE status = 'notified' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
