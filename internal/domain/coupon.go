package domain

import (
	"strings"
	"time"
)

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// CheckWindow validates usage limit and the start/end window at now.
func (c Coupon) CheckWindow(op string, now time.Time) error {
	if c.Exhausted() {
		return Errorf(EUSAGELIMIT, op, "coupon %s has reached its usage limit", c.Code)
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return Errorf(ENOTSTARTED, op, "coupon %s is not valid yet", c.Code)
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return Errorf(EEXPIRED, op, "coupon %s has expired", c.Code)
	}
	return nil
}

// CheckCart validates the coupon against a cart. Inactive coupons are reported as
// not found, the same as unknown codes.
func (c Coupon) CheckCart(op string, cart Cart, now time.Time) error {
	if !c.Active {
		return NotFound(op, "coupon", c.Code)
	}
	if err := c.CheckWindow(op, now); err != nil {
		return err
	}
	if len(cart.Items) == 0 {
		return Errorf(ECARTEMPTY, op, "cart is empty")
	}
	subtotal, _ := cart.Subtotal()
	if subtotal < c.MinAmount {
		return Errorf(EBELOWMINIMUM, op, "order total must be at least %d to use coupon %s", c.MinAmount, c.Code)
	}
	return nil
}

func (c Coupon) Snapshot() *CouponSnapshot {
	return &CouponSnapshot{Code: c.Code, Discount: c.DiscountPercent}
}
