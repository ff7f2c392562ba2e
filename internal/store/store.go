package store

import (
	"context"
	"errors"
	"time"

	"storefront/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict reports a failed compare-and-swap: the stored row changed since it was read.
	ErrConflict  = errors.New("conflict")
	ErrDuplicate = errors.New("duplicate")
)

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type LedgerStore interface {
	// CommitMovement sets the counter addressed by mv to mv.NewStock and appends mv,
	// both or neither. It fails with ErrConflict when the counter no longer equals
	// expectedPrevious.
	CommitMovement(ctx context.Context, mv domain.StockMovement, expectedPrevious int) (*domain.StockMovement, error)
	ListMovements(ctx context.Context, q domain.MovementQuery) ([]domain.StockMovement, int, error)
	SummarizeMovements(ctx context.Context, from time.Time, to time.Time, productID string) ([]domain.MovementSummary, error)
}

type PreOrderStore interface {
	// CreatePreOrder fails with ErrDuplicate when an active pre-order exists for
	// the same user, product and variant.
	CreatePreOrder(ctx context.Context, p domain.PreOrder) (*domain.PreOrder, error)
	GetPreOrder(ctx context.Context, id string) (*domain.PreOrder, error)
	// ListPreOrders orders by priority descending, then creation time ascending.
	ListPreOrders(ctx context.Context, filter domain.PreOrderFilter) ([]domain.PreOrder, error)
	UpdatePreOrder(ctx context.Context, p domain.PreOrder, expectedStatus domain.PreOrderStatus) (*domain.PreOrder, error)
	ExpirePreOrders(ctx context.Context, now time.Time) (int, error)
}

type SubscriptionStore interface {
	FindSubscription(ctx context.Context, email string, productID string, variant *domain.VariantSelector) (*domain.BackInStockNotification, error)
	CreateSubscription(ctx context.Context, sub domain.BackInStockNotification) (*domain.BackInStockNotification, error)
	// UpdateSubscription writes sub if the stored status equals expectedStatus,
	// otherwise ErrConflict.
	UpdateSubscription(ctx context.Context, sub domain.BackInStockNotification, expectedStatus domain.SubscriptionStatus) (*domain.BackInStockNotification, error)
	ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.BackInStockNotification, error)
	CountSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) (int, error)
}

// CartRepository is implemented by the durable backings (keyed by user or legacy
// session id) and by the ephemeral guest backing.
type CartRepository interface {
	LoadCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error)
	// SaveCart writes cart if the stored version equals cart.Version (0 creates)
	// and returns it with the incremented version. Otherwise ErrConflict.
	SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	// TakeCart atomically loads and deletes a cart.
	TakeCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error)
	DeleteCart(ctx context.Context, ref domain.CartRef) error
}

type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	SaveCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	// RedeemCoupon increments the usage counter unless the limit is reached,
	// in which case it fails with ErrConflict.
	RedeemCoupon(ctx context.Context, code string) (*domain.Coupon, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	// ConvertPreOrder inserts order and moves the pre-order from notified to
	// converted in one unit. ErrConflict if the pre-order is no longer notified.
	ConvertPreOrder(ctx context.Context, preOrderID string, order domain.Order, at time.Time) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

// Repository is everything the durable backings provide.
type Repository interface {
	ProductStore
	LedgerStore
	PreOrderStore
	SubscriptionStore
	CartRepository
	CouponStore
	OrderStore
}
