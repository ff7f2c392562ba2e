package domain

import (
	"math"
	"slices"
	"time"
)

type CartKind string

const (
	CartRegistered CartKind = "registered"
	CartGuest      CartKind = "guest"
	// CartLegacy is the old session-id keyed cart. It lives in the durable store
	// but behaves like a guest cart.
	CartLegacy CartKind = "legacy"
)

func (k CartKind) Valid() bool {
	return k == CartRegistered || k == CartGuest || k == CartLegacy
}

// CartRef identifies a cart: a user id for registered carts, a session key otherwise.
type CartRef struct {
	Kind CartKind `json:"kind"`
	Key  string   `json:"key"`
}

func (r CartRef) String() string {
	return string(r.Kind) + ":" + r.Key
}

type LineItem struct {
	ID           string           `json:"id"`
	ProductID    string           `json:"product_id"`
	Quantity     int              `json:"quantity"`
	UnitPrice    int64            `json:"unit_price"`
	Variant      VariantSelection `json:"variant,omitempty"`
	PriceChanged bool             `json:"price_changed,omitempty"`
	AddedAt      time.Time        `json:"added_at"`
}

// Malformed lines are skipped by totals instead of failing them.
func (l LineItem) Malformed() bool {
	return l.ProductID == "" || l.Quantity < 1 || l.UnitPrice < 0
}

type Cart struct {
	Kind      CartKind        `json:"kind"`
	Key       string          `json:"key"`
	Items     []LineItem      `json:"items"`
	Coupon    *CouponSnapshot `json:"coupon,omitempty"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewCart(ref CartRef, now time.Time) Cart {
	return Cart{Kind: ref.Kind, Key: ref.Key, Items: []LineItem{}, CreatedAt: now, UpdatedAt: now}
}

func (c Cart) Ref() CartRef {
	return CartRef{Kind: c.Kind, Key: c.Key}
}

// RemovesOnZero reports whether setting a line to a non-positive quantity drops it.
// Registered carts reject such updates instead.
func (c Cart) RemovesOnZero() bool {
	return c.Kind != CartRegistered
}

// FindLine returns the index of the line for productID and sel, or -1.
func (c Cart) FindLine(productID string, sel VariantSelection) int {
	return slices.IndexFunc(c.Items, func(l LineItem) bool {
		return l.ProductID == productID && l.Variant.Equal(sel)
	})
}

func (c Cart) LineIndex(lineID string) int {
	return slices.IndexFunc(c.Items, func(l LineItem) bool { return l.ID == lineID })
}

func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.Items {
		if !l.Malformed() {
			n += l.Quantity
		}
	}
	return n
}

// Subtotal sums unitPrice*quantity over well-formed lines and reports the
// indexes of the lines it skipped.
func (c Cart) Subtotal() (int64, []int) {
	var (
		total   int64
		skipped []int
	)
	for i, l := range c.Items {
		if l.Malformed() {
			skipped = append(skipped, i)
			continue
		}
		total += l.UnitPrice * int64(l.Quantity)
	}
	return total, skipped
}

// TotalWithDiscount applies the coupon snapshot to the subtotal. A snapshot whose
// discount is outside (0,100] is ignored and the undiscounted total is returned;
// applied reports which case happened.
func (c Cart) TotalWithDiscount() (total int64, applied bool) {
	subtotal, _ := c.Subtotal()
	if c.Coupon == nil || !ValidDiscount(c.Coupon.Discount) {
		return subtotal, false
	}
	return subtotal - DiscountAmount(subtotal, c.Coupon.Discount), true
}

func ValidDiscount(percent float64) bool {
	return !math.IsNaN(percent) && percent > 0 && percent <= 100
}

func DiscountAmount(subtotal int64, percent float64) int64 {
	return int64(math.Round(float64(subtotal) * percent / 100))
}

func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]LineItem, len(c.Items))
	for i, l := range c.Items {
		l.Variant = l.Variant.Clone()
		out.Items[i] = l
	}
	if c.Coupon != nil {
		coupon := *c.Coupon
		out.Coupon = &coupon
	}
	return out
}

type LineProblem struct {
	LineIndex   int    `json:"line_index"`
	LineID      string `json:"line_id,omitempty"`
	Message     string `json:"message"`
	MaxQuantity *int   `json:"max_quantity,omitempty"`
}

type CartValidation struct {
	Valid    bool          `json:"valid"`
	Problems []LineProblem `json:"problems"`
	Cart     Cart          `json:"cart"`
}

type CartTotals struct {
	Subtotal int64           `json:"subtotal"`
	Discount int64           `json:"discount"`
	Total    int64           `json:"total"`
	Coupon   *CouponSnapshot `json:"coupon,omitempty"`
	Items    int             `json:"items"`
}
