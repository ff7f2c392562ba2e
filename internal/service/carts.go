package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/telemetry"
	"storefront/backend/internal/xid"
)

// errUnchanged lets a cart mutation finish without writing.
var errUnchanged = errors.New("cart unchanged")

// Carts implements the cart rules once for every cart kind. Registered and
// legacy carts live in the durable repository, guest carts in the guest one.
type Carts struct {
	products store.ProductStore
	durable  store.CartRepository
	guest    store.CartRepository
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewCarts(d Deps) *Carts {
	return &Carts{
		products: d.Repo,
		durable:  d.Repo,
		guest:    d.GuestCart,
		logger:   d.Logger.With().Str("component", "carts").Logger(),
		metrics:  d.Metrics,
		now:      d.Now,
	}
}

func (c *Carts) repoFor(ref domain.CartRef) store.CartRepository {
	if ref.Kind == domain.CartGuest {
		return c.guest
	}
	return c.durable
}

func checkRef(op string, ref domain.CartRef) error {
	if !ref.Kind.Valid() {
		return domain.Errorf(domain.EINVALID, op, "unknown cart kind %q", ref.Kind)
	}
	if ref.Key == "" {
		return domain.Invalid(op, "cart key is required")
	}
	return nil
}

// mutate runs fn against a fresh copy of the cart and saves it with the version
// it was loaded at, retrying from a fresh load when another writer got there
// first. A missing cart starts empty. fn returning errUnchanged skips the save.
func (c *Carts) mutate(ctx context.Context, ref domain.CartRef, op string, fn func(cart *domain.Cart) error) (*domain.Cart, error) {
	if err := checkRef(op, ref); err != nil {
		return nil, err
	}
	repo := c.repoFor(ref)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current, err := repo.LoadCart(ctx, ref)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fresh := domain.NewCart(ref, c.now())
			current = &fresh
		case err != nil:
			return nil, fromStore(err, op, "cart", ref.String())
		}

		cart := current.Clone()
		if err := fn(&cart); err != nil {
			if errors.Is(err, errUnchanged) {
				return current, nil
			}
			return nil, err
		}
		cart.UpdatedAt = c.now()

		saved, err := repo.SaveCart(ctx, cart)
		if errors.Is(err, store.ErrConflict) {
			c.metrics.Retried("cart")
			c.logger.Debug().Str("cart", ref.String()).Int("attempt", attempt).Msg("cart changed, retrying")
			continue
		}
		if err != nil {
			return nil, fromStore(err, op, "cart", ref.String())
		}
		return saved, nil
	}
	return nil, domain.Errorf(domain.ECONFLICT, op, "cart %s is busy, please retry", ref)
}

func (c *Carts) activeProduct(ctx context.Context, op, productID string) (*domain.Product, error) {
	product, err := c.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fromStore(err, op, "product", productID)
	}
	if !product.Active {
		return nil, domain.NotFound(op, "product", productID)
	}
	return product, nil
}

// AddItem adds quantity units of a product. A line with the same product and
// variant selection is incremented instead of duplicated.
func (c *Carts) AddItem(ctx context.Context, ref domain.CartRef, productID string, quantity int, sel domain.VariantSelection) (*domain.Cart, error) {
	const op = "carts.add"

	if quantity < 1 {
		return nil, domain.Invalid(op, "quantity must be at least 1")
	}

	cart, err := c.mutate(ctx, ref, op, func(cart *domain.Cart) error {
		product, err := c.activeProduct(ctx, op, productID)
		if err != nil {
			return err
		}
		price, err := product.EffectivePrice(sel)
		if err != nil {
			return domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
		}
		available, err := product.Availability(sel)
		if err != nil {
			return domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
		}

		idx := cart.FindLine(productID, sel)
		want := quantity
		if idx >= 0 {
			want += cart.Items[idx].Quantity
		}
		if want > available {
			return domain.Errorf(domain.EINSUFFICIENTSTOCK, op, "only %d of %s available", available, product.Name)
		}

		if idx >= 0 {
			cart.Items[idx].Quantity = want
			return nil
		}
		cart.Items = append(cart.Items, domain.LineItem{
			ID:        xid.New("li"),
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: price,
			Variant:   sel.Clone(),
			AddedAt:   c.now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.CartMutated("add", string(ref.Kind))
	return cart, nil
}

// UpdateItem sets a line's quantity. Guest and legacy carts drop the line for a
// quantity below one; registered carts reject it.
func (c *Carts) UpdateItem(ctx context.Context, ref domain.CartRef, lineID string, quantity int) (*domain.Cart, error) {
	const op = "carts.update"

	cart, err := c.mutate(ctx, ref, op, func(cart *domain.Cart) error {
		idx := cart.LineIndex(lineID)
		if idx < 0 {
			return domain.NotFound(op, "cart item", lineID)
		}
		if quantity < 1 {
			if !cart.RemovesOnZero() {
				return domain.Invalid(op, "quantity must be at least 1")
			}
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return nil
		}

		line := cart.Items[idx]
		product, err := c.activeProduct(ctx, op, line.ProductID)
		if err != nil {
			return err
		}
		available, err := product.Availability(line.Variant)
		if err != nil {
			return domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
		}
		if quantity > available {
			return domain.Errorf(domain.EINSUFFICIENTSTOCK, op, "only %d of %s available", available, product.Name)
		}
		cart.Items[idx].Quantity = quantity
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.CartMutated("update", string(ref.Kind))
	return cart, nil
}

func (c *Carts) RemoveItem(ctx context.Context, ref domain.CartRef, lineID string) (*domain.Cart, error) {
	const op = "carts.remove"

	cart, err := c.mutate(ctx, ref, op, func(cart *domain.Cart) error {
		idx := cart.LineIndex(lineID)
		if idx < 0 {
			return domain.NotFound(op, "cart item", lineID)
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.CartMutated("remove", string(ref.Kind))
	return cart, nil
}

// Get returns the cart, or an unsaved empty cart when none exists yet.
func (c *Carts) Get(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	const op = "carts.get"

	if err := checkRef(op, ref); err != nil {
		return nil, err
	}
	cart, err := c.repoFor(ref).LoadCart(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		empty := domain.NewCart(ref, c.now())
		return &empty, nil
	}
	if err != nil {
		return nil, fromStore(err, op, "cart", ref.String())
	}
	return cart, nil
}

func (c *Carts) Clear(ctx context.Context, ref domain.CartRef) error {
	const op = "carts.clear"

	if err := checkRef(op, ref); err != nil {
		return err
	}
	if err := c.repoFor(ref).DeleteCart(ctx, ref); err != nil {
		return fromStore(err, op, "cart", ref.String())
	}
	c.metrics.CartMutated("clear", string(ref.Kind))
	return nil
}

func (c *Carts) ItemCount(ctx context.Context, ref domain.CartRef) (int, error) {
	cart, err := c.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	return cart.ItemCount(), nil
}

func (c *Carts) CalculateTotal(ctx context.Context, ref domain.CartRef) (int64, error) {
	cart, err := c.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	return c.subtotal(*cart), nil
}

func (c *Carts) CalculateTotalWithDiscount(ctx context.Context, ref domain.CartRef) (int64, error) {
	cart, err := c.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	return c.Totals(*cart).Total, nil
}

// Totals computes the cart's price breakdown. Malformed lines and a coupon
// snapshot with an unusable discount are logged and left out.
func (c *Carts) Totals(cart domain.Cart) domain.CartTotals {
	subtotal := c.subtotal(cart)
	total, applied := cart.TotalWithDiscount()
	out := domain.CartTotals{
		Subtotal: subtotal,
		Discount: subtotal - total,
		Total:    total,
		Items:    cart.ItemCount(),
	}
	switch {
	case applied:
		out.Coupon = cart.Coupon
	case cart.Coupon != nil:
		c.logger.Warn().
			Str("cart", cart.Ref().String()).
			Str("coupon", cart.Coupon.Code).
			Float64("discount", cart.Coupon.Discount).
			Msg("ignoring coupon snapshot with invalid discount")
	}
	return out
}

func (c *Carts) subtotal(cart domain.Cart) int64 {
	total, skipped := cart.Subtotal()
	for _, i := range skipped {
		line := cart.Items[i]
		c.logger.Warn().
			Str("cart", cart.Ref().String()).
			Int("line_index", i).
			Str("product_id", line.ProductID).
			Int("quantity", line.Quantity).
			Int64("unit_price", line.UnitPrice).
			Msg("skipping malformed cart line")
	}
	return total
}

// Validate checks every line against the catalog and reports all problems at
// once. Stale prices are refreshed and flagged on the way.
func (c *Carts) Validate(ctx context.Context, ref domain.CartRef) (*domain.CartValidation, error) {
	const op = "carts.validate"

	var problems []domain.LineProblem
	cart, err := c.mutate(ctx, ref, op, func(cart *domain.Cart) error {
		problems = []domain.LineProblem{}
		changed := false

		for i := range cart.Items {
			line := &cart.Items[i]
			report := func(msg string, maxQty *int) {
				problems = append(problems, domain.LineProblem{LineIndex: i, LineID: line.ID, Message: msg, MaxQuantity: maxQty})
			}
			if line.Malformed() {
				report("line is malformed", nil)
				continue
			}

			product, err := c.products.GetProduct(ctx, line.ProductID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && !product.Active) {
				report("product is no longer available", nil)
				continue
			}
			if err != nil {
				return fromStore(err, op, "product", line.ProductID)
			}

			available, err := product.Availability(line.Variant)
			if err != nil {
				report("selected variant is no longer available", nil)
				continue
			}
			if line.Quantity > available {
				maxQty := available
				if available == 0 {
					report(product.Name+" is out of stock", &maxQty)
				} else {
					report(fmt.Sprintf("only %d of %s left in stock", available, product.Name), &maxQty)
				}
			}

			price, err := product.EffectivePrice(line.Variant)
			if err != nil {
				continue
			}
			moved := price != line.UnitPrice
			if moved || line.PriceChanged {
				changed = true
			}
			if moved {
				line.UnitPrice = price
			}
			line.PriceChanged = moved
		}

		if !changed {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.CartValidation{Valid: len(problems) == 0, Problems: problems, Cart: *cart}, nil
}

// Merge folds a guest or legacy cart into the user's cart when the guest signs
// in. The guest cart is claimed up front so two concurrent logins cannot both
// fold it; if folding fails the claimed cart is put back.
func (c *Carts) Merge(ctx context.Context, userID string, from domain.CartRef) (*domain.Cart, error) {
	const op = "carts.merge"

	if userID == "" {
		return nil, domain.Invalid(op, "user id is required")
	}
	if from.Kind == domain.CartRegistered {
		return nil, domain.Invalid(op, "only guest carts can be merged")
	}
	if err := checkRef(op, from); err != nil {
		return nil, err
	}
	userRef := domain.CartRef{Kind: domain.CartRegistered, Key: userID}

	guestRepo := c.repoFor(from)
	taken, err := guestRepo.TakeCart(ctx, from)
	if errors.Is(err, store.ErrNotFound) {
		return c.Get(ctx, userRef)
	}
	if err != nil {
		return nil, fromStore(err, op, "cart", from.String())
	}
	if len(taken.Items) == 0 {
		return c.Get(ctx, userRef)
	}

	merged, err := c.mutate(ctx, userRef, op, func(cart *domain.Cart) error {
		for _, line := range taken.Items {
			if line.Malformed() {
				c.logger.Warn().Str("cart", from.String()).Str("line_id", line.ID).Msg("dropping malformed guest line on merge")
				continue
			}
			if idx := cart.FindLine(line.ProductID, line.Variant); idx >= 0 {
				cart.Items[idx].Quantity += line.Quantity
				continue
			}
			line.ID = xid.New("li")
			line.Variant = line.Variant.Clone()
			line.AddedAt = c.now()
			line.PriceChanged = false
			cart.Items = append(cart.Items, line)
		}
		return nil
	})
	if err != nil {
		restore := taken.Clone()
		restore.Version = 0
		if _, rerr := guestRepo.SaveCart(ctx, restore); rerr != nil {
			c.logger.Error().Err(rerr).Str("cart", from.String()).Msg("failed to restore guest cart after merge failure")
		}
		return nil, err
	}

	c.metrics.CartMerged()
	c.logger.Info().
		Str("user_id", userID).
		Str("from", from.String()).
		Int("lines", len(taken.Items)).
		Msg("guest cart merged")
	return merged, nil
}
