package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q queryer, id string) (*domain.Product, error) {
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price, discount_price, stock, active, allow_pre_order, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPrice, &p.Stock, &p.Active, &p.AllowPreOrder, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	groups, err := loadVariants(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	p.Variants = groups[id]
	return &p, nil
}

func loadVariants(ctx context.Context, q queryer, productIDs []string) (map[string][]domain.VariantGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, group_name, value, additional_price, stock
		FROM product_variant_options
		WHERE product_id = ANY($1)
		ORDER BY product_id, group_position, position
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.VariantGroup, len(productIDs))
	for rows.Next() {
		var productID, group string
		var opt domain.VariantOption
		if err := rows.Scan(&productID, &group, &opt.Value, &opt.AdditionalPrice, &opt.Stock); err != nil {
			return nil, err
		}
		groups := result[productID]
		if n := len(groups); n == 0 || groups[n-1].Name != group {
			groups = append(groups, domain.VariantGroup{Name: group})
		}
		last := &groups[len(groups)-1]
		last.Options = append(last.Options, opt)
		result[productID] = groups
	}
	return result, rows.Err()
}

func (s *Store) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" {
		product.ID = xid.New("prod")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price, discount_price, stock, active, allow_pre_order, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			discount_price = EXCLUDED.discount_price,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			allow_pre_order = EXCLUDED.allow_pre_order,
			updated_at = now()
		RETURNING created_at, updated_at
	`, product.ID, product.Name, product.Price, product.DiscountPrice, product.Stock, product.Active, product.AllowPreOrder,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_variant_options WHERE product_id = $1`, product.ID); err != nil {
		return nil, err
	}
	for gi, group := range product.Variants {
		for oi, opt := range group.Options {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO product_variant_options (product_id, group_name, group_position, value, position, additional_price, stock)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, product.ID, group.Name, gi, opt.Value, oi, opt.AdditionalPrice, opt.Stock)
			if err != nil {
				if isUniqueViolation(err) {
					return nil, store.ErrDuplicate
				}
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := product.Clone()
	return &saved, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, discount_price, stock, active, allow_pre_order, created_at, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPrice, &p.Stock, &p.Active, &p.AllowPreOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups, err := loadVariants(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = groups[products[i].ID]
	}
	return products, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func selectorColumns(v *domain.VariantSelector) (group, value string) {
	if v == nil {
		return "", ""
	}
	return v.Group, v.Value
}

func selectorFromColumns(group, value string) *domain.VariantSelector {
	if group == "" && value == "" {
		return nil
	}
	return &domain.VariantSelector{Group: group, Value: value}
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
