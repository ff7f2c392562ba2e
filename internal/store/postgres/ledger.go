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

func (s *Store) CommitMovement(ctx context.Context, mv domain.StockMovement, expectedPrevious int) (*domain.StockMovement, error) {
	if mv.NewStock < 0 {
		return nil, store.ErrInsufficientStock
	}
	if mv.ID == "" {
		mv.ID = xid.New("mv")
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if mv.Variant == nil {
		res, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = $3, updated_at = $4
			WHERE id = $1 AND stock = $2
		`, mv.ProductID, expectedPrevious, mv.NewStock, mv.CreatedAt)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE product_variant_options
			SET stock = $5
			WHERE product_id = $1 AND group_name = $2 AND value = $3 AND stock = $4
		`, mv.ProductID, mv.Variant.Group, mv.Variant.Value, expectedPrevious, mv.NewStock)
	}
	if err != nil {
		if isCheckViolation(err) {
			return nil, store.ErrInsufficientStock
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.missingOrMoved(ctx, tx, mv)
	}

	var supplier []byte
	if mv.Supplier != nil {
		if supplier, err = json.Marshal(mv.Supplier); err != nil {
			return nil, err
		}
	}
	group, value := selectorColumns(mv.Variant)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, product_id, variant_group, variant_value, type, quantity,
			previous_stock, new_stock, reason, order_id, supplier, actor_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, mv.ID, mv.ProductID, group, value, string(mv.Type), mv.Quantity,
		mv.PreviousStock, mv.NewStock, mv.Reason, nullIfEmpty(mv.OrderID), supplier, mv.ActorID, mv.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &mv, nil
}

// missingOrMoved tells a vanished counter apart from one that changed under us.
func (s *Store) missingOrMoved(ctx context.Context, tx *sql.Tx, mv domain.StockMovement) error {
	var exists bool
	var err error
	if mv.Variant == nil {
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, mv.ProductID).Scan(&exists)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM product_variant_options
				WHERE product_id = $1 AND group_name = $2 AND value = $3
			)
		`, mv.ProductID, mv.Variant.Group, mv.Variant.Value).Scan(&exists)
	}
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) ListMovements(ctx context.Context, q domain.MovementQuery) ([]domain.StockMovement, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1) AND ($2 = '' OR type = $2)
	`, q.ProductID, string(q.Type)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, variant_group, variant_value, type, quantity,
			previous_stock, new_stock, reason, order_id, supplier, actor_id, created_at
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1) AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, q.ProductID, string(q.Type), q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, q.Limit)
	for rows.Next() {
		var mv domain.StockMovement
		var group, value, typ string
		var orderID sql.NullString
		var supplier []byte
		if err := rows.Scan(&mv.ID, &mv.ProductID, &group, &value, &typ, &mv.Quantity,
			&mv.PreviousStock, &mv.NewStock, &mv.Reason, &orderID, &supplier, &mv.ActorID, &mv.CreatedAt); err != nil {
			return nil, 0, err
		}
		mv.Type = domain.MovementType(typ)
		mv.Variant = selectorFromColumns(group, value)
		mv.OrderID = orderID.String
		if len(supplier) > 0 {
			mv.Supplier = &domain.SupplierInfo{}
			if err := json.Unmarshal(supplier, mv.Supplier); err != nil {
				return nil, 0, err
			}
		}
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func (s *Store) SummarizeMovements(ctx context.Context, from time.Time, to time.Time, productID string) ([]domain.MovementSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(quantity), 0), count(*)
		FROM stock_movements
		WHERE created_at >= $1 AND created_at < $2 AND ($3 = '' OR product_id = $3)
		GROUP BY type
		ORDER BY type
	`, from, to, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.MovementSummary, 0, 6)
	for rows.Next() {
		var sum domain.MovementSummary
		var typ string
		if err := rows.Scan(&typ, &sum.TotalQuantity, &sum.Count); err != nil {
			return nil, err
		}
		sum.Type = domain.MovementType(typ)
		result = append(result, sum)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return result, nil
}
