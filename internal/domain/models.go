package domain

import "time"

type Product struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Price         int64          `json:"price"`
	DiscountPrice int64          `json:"discount_price,omitempty"`
	Stock         int            `json:"stock"`
	Active        bool           `json:"active"`
	AllowPreOrder bool           `json:"allow_pre_order"`
	Variants      []VariantGroup `json:"variants,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// VariantGroup is one named axis of a product, e.g. "Storage".
type VariantGroup struct {
	Name    string          `json:"name"`
	Options []VariantOption `json:"options"`
}

type VariantOption struct {
	Value           string `json:"value"`
	AdditionalPrice int64  `json:"additional_price"`
	Stock           int    `json:"stock"`
}

// VariantSelector targets a single variant option's counter.
type VariantSelector struct {
	Group string `json:"group" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// Key is the storage key for the selector; the empty string means "no variant".
func (v *VariantSelector) Key() string {
	if v == nil {
		return ""
	}
	return v.Group + ":" + v.Value
}

// VariantSelection maps variant group names to chosen option values on a cart line.
type VariantSelection map[string]string

type Actor struct {
	UserID string
	Role   string
}

type MovementType string

const (
	MovementImport     MovementType = "import"
	MovementExport     MovementType = "export"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementOrder      MovementType = "order"
	MovementCancel     MovementType = "cancel"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementImport, MovementExport, MovementAdjustment, MovementReturn, MovementOrder, MovementCancel:
		return true
	}
	return false
}

// Delta converts a caller-supplied quantity into the signed change applied to stock.
// Credits always add |q|, debits always subtract |q|, adjustments keep the sign.
func (t MovementType) Delta(quantity int) int {
	abs := quantity
	if abs < 0 {
		abs = -abs
	}
	switch t {
	case MovementImport, MovementReturn, MovementCancel:
		return abs
	case MovementExport, MovementOrder:
		return -abs
	default:
		return quantity
	}
}

type SupplierInfo struct {
	Name    string `json:"name,omitempty"`
	Invoice string `json:"invoice,omitempty"`
}

// StockMovement is an append-only ledger entry. NewStock == PreviousStock + Quantity.
type StockMovement struct {
	ID            string           `json:"id"`
	ProductID     string           `json:"product_id"`
	Variant       *VariantSelector `json:"variant,omitempty"`
	Type          MovementType     `json:"type"`
	Quantity      int              `json:"quantity"`
	PreviousStock int              `json:"previous_stock"`
	NewStock      int              `json:"new_stock"`
	Reason        string           `json:"reason"`
	OrderID       string           `json:"order_id,omitempty"`
	Supplier      *SupplierInfo    `json:"supplier,omitempty"`
	ActorID       string           `json:"actor_id"`
	CreatedAt     time.Time        `json:"created_at"`
}

type MovementInput struct {
	ProductID string           `json:"product_id" validate:"required"`
	Variant   *VariantSelector `json:"variant,omitempty"`
	Type      MovementType     `json:"type" validate:"required"`
	Quantity  int              `json:"quantity"`
	Reason    string           `json:"reason"`
	ActorID   string           `json:"actor_id"`
	OrderID   string           `json:"order_id,omitempty"`
	Supplier  *SupplierInfo    `json:"supplier,omitempty"`
}

type MovementQuery struct {
	ProductID string
	Type      MovementType
	Page      int
	Limit     int
}

type MovementPage struct {
	Movements []StockMovement `json:"movements"`
	Page      int             `json:"page"`
	Limit     int             `json:"limit"`
	Total     int             `json:"total"`
}

type MovementSummary struct {
	Type          MovementType `json:"type"`
	TotalQuantity int          `json:"total_quantity"`
	Count         int          `json:"count"`
}

// ReplenishmentEvent is published when a counter goes from zero to positive.
type ReplenishmentEvent struct {
	ProductID  string           `json:"product_id"`
	Variant    *VariantSelector `json:"variant,omitempty"`
	NewStock   int              `json:"new_stock"`
	MovementID string           `json:"movement_id"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type PreOrderStatus string

const (
	PreOrderPending   PreOrderStatus = "pending"
	PreOrderNotified  PreOrderStatus = "notified"
	PreOrderConverted PreOrderStatus = "converted"
	PreOrderCancelled PreOrderStatus = "cancelled"
	PreOrderExpired   PreOrderStatus = "expired"
)

// Active reports whether the status blocks a second pre-order for the same tuple.
func (s PreOrderStatus) Active() bool {
	return s == PreOrderPending || s == PreOrderNotified
}

type PreOrder struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	ProductID        string           `json:"product_id"`
	Variant          *VariantSelector `json:"variant,omitempty"`
	Quantity         int              `json:"quantity"`
	Price            int64            `json:"price"`
	Deposit          int64            `json:"deposit,omitempty"`
	Status           PreOrderStatus   `json:"status"`
	EstimatedDate    *time.Time       `json:"estimated_date,omitempty"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone,omitempty"`
	Note             string           `json:"note,omitempty"`
	Priority         int              `json:"priority"`
	NotifiedAt       *time.Time       `json:"notified_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	ConvertedOrderID string           `json:"converted_order_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsExpired is derived from ExpiresAt; it does not look at Status.
func (p PreOrder) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

type PreOrderRequest struct {
	UserID        string           `json:"user_id" validate:"required"`
	ProductID     string           `json:"product_id" validate:"required"`
	Variant       *VariantSelector `json:"variant,omitempty"`
	Quantity      int              `json:"quantity" validate:"gte=1"`
	Deposit       int64            `json:"deposit" validate:"gte=0"`
	EstimatedDate *time.Time       `json:"estimated_date,omitempty"`
	Email         string           `json:"email" validate:"required,email"`
	Phone         string           `json:"phone,omitempty"`
	Note          string           `json:"note,omitempty"`
	Priority      int              `json:"priority"`
}

type PreOrderFilter struct {
	UserID     string
	ProductID  string
	VariantKey *string
	Statuses   []PreOrderStatus
}

type NotifyResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type OrderData struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	Note            string `json:"note,omitempty"`
}

type OrderLine struct {
	ProductID string           `json:"product_id"`
	Variant   *VariantSelector `json:"variant,omitempty"`
	Quantity  int              `json:"quantity"`
	UnitPrice int64            `json:"unit_price"`
}

type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Lines           []OrderLine `json:"lines"`
	Total           int64       `json:"total"`
	Deposit         int64       `json:"deposit,omitempty"`
	Status          string      `json:"status"`
	ShippingAddress string      `json:"shipping_address"`
	PaymentMethod   string      `json:"payment_method"`
	Note            string      `json:"note,omitempty"`
	PreOrderID      string      `json:"pre_order_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "active"
	SubscriptionNotified     SubscriptionStatus = "notified"
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
)

type BackInStockNotification struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id,omitempty"`
	Email             string             `json:"email"`
	ProductID         string             `json:"product_id"`
	Variant           *VariantSelector   `json:"variant,omitempty"`
	Status            SubscriptionStatus `json:"status"`
	NotifiedAt        *time.Time         `json:"notified_at,omitempty"`
	NotificationCount int                `json:"notification_count"`
	Source            string             `json:"source,omitempty"`
	IPAddress         string             `json:"ip_address,omitempty"`
	UserAgent         string             `json:"user_agent,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type SubscribeRequest struct {
	Email     string           `json:"email" validate:"required,email"`
	ProductID string           `json:"product_id" validate:"required"`
	Variant   *VariantSelector `json:"variant,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	Source    string           `json:"source,omitempty"`
	IPAddress string           `json:"-"`
	UserAgent string           `json:"-"`
}

type SubscriptionFilter struct {
	ProductID  string
	VariantKey *string
	Status     SubscriptionStatus
}

type Coupon struct {
	Code            string     `json:"code"`
	DiscountPercent float64    `json:"discount_percent"`
	Active          bool       `json:"active"`
	MaxUses         *int       `json:"max_uses,omitempty"`
	UsedCount       int        `json:"used_count"`
	MinAmount       int64      `json:"min_amount"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
}

// CouponSnapshot is what a cart keeps of an applied coupon.
type CouponSnapshot struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
}
