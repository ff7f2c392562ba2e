package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/store"
	"storefront/backend/internal/telemetry"
)

type preOrderRepo interface {
	store.ProductStore
	store.PreOrderStore
	store.OrderStore
}

// PreOrders keeps customer intent to buy items that are out of stock.
type PreOrders struct {
	repo     preOrderRepo
	notifier notify.Notifier
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	hold     time.Duration
	now      func() time.Time
}

func NewPreOrders(d Deps) *PreOrders {
	return &PreOrders{
		repo:     d.Repo,
		notifier: d.Notifier,
		logger:   d.Logger.With().Str("component", "preorders").Logger(),
		metrics:  d.Metrics,
		hold:     d.PreOrderHold,
		now:      d.Now,
	}
}

func (s *PreOrders) Create(ctx context.Context, req domain.PreOrderRequest) (*domain.PreOrder, error) {
	const op = "preorders.create"

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.UserID == "" || req.ProductID == "" || req.Email == "" {
		return nil, domain.Invalid(op, "user_id, product_id and email are required")
	}
	if req.Quantity < 1 {
		return nil, domain.Invalid(op, "quantity must be at least 1")
	}
	if req.Deposit < 0 {
		return nil, domain.Invalid(op, "deposit must not be negative")
	}
	if err := validSelector(op, req.Variant); err != nil {
		return nil, err
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, fromStore(err, op, "product", req.ProductID)
	}
	if !product.Active || !product.AllowPreOrder {
		return nil, domain.Errorf(domain.EINVALID, op, "%s does not accept pre-orders", product.Name)
	}
	available, err := product.StockAt(req.Variant)
	if err != nil {
		return nil, domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
	}
	if available > 0 {
		return nil, domain.Errorf(domain.ESTILLINSTOCK, op, "%s is still in stock", product.Name)
	}
	price, err := product.PriceAt(req.Variant)
	if err != nil {
		return nil, domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
	}

	created, err := s.repo.CreatePreOrder(ctx, domain.PreOrder{
		UserID:        req.UserID,
		ProductID:     req.ProductID,
		Variant:       req.Variant,
		Quantity:      req.Quantity,
		Price:         price,
		Deposit:       req.Deposit,
		Status:        domain.PreOrderPending,
		EstimatedDate: req.EstimatedDate,
		Email:         req.Email,
		Phone:         req.Phone,
		Note:          req.Note,
		Priority:      req.Priority,
		CreatedAt:     s.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, domain.Errorf(domain.EDUPLICATEPREORDER, op, "you already have an active pre-order for %s", product.Name)
	}
	if err != nil {
		return nil, fromStore(err, op, "pre-order", req.ProductID)
	}
	return created, nil
}

// NotifyWhenInStock notifies pending pre-orders for the target, highest priority
// and oldest first. Each pre-order is claimed (pending to notified) before the
// email goes out; one whose claim is lost to another worker is skipped. A failed
// send returns the pre-order to pending, is counted, and the queue keeps going.
func (s *PreOrders) NotifyWhenInStock(ctx context.Context, productID string, variant *domain.VariantSelector) (domain.NotifyResult, error) {
	const op = "preorders.notify"

	var result domain.NotifyResult
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return result, fromStore(err, op, "product", productID)
	}
	queue, err := s.repo.ListPreOrders(ctx, domain.PreOrderFilter{
		ProductID:  productID,
		VariantKey: variantKeyFilter(variant),
		Statuses:   []domain.PreOrderStatus{domain.PreOrderPending},
	})
	if err != nil {
		return result, fromStore(err, op, "pre-orders", productID)
	}

	for _, p := range queue {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		notifiedAt := s.now()
		expiresAt := notifiedAt.Add(s.hold)
		claim := p
		claim.Status = domain.PreOrderNotified
		claim.NotifiedAt = &notifiedAt
		claim.ExpiresAt = &expiresAt

		claimed, err := s.repo.UpdatePreOrder(ctx, claim, domain.PreOrderPending)
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug().Str("pre_order_id", p.ID).Msg("pre-order no longer pending, skipped")
			continue
		}
		if err != nil {
			result.Failed++
			s.logger.Warn().Err(err).Str("pre_order_id", p.ID).Msg("claim pre-order failed")
			continue
		}

		if err := s.notifier.SendPreOrderReady(ctx, *claimed, *product); err != nil {
			result.Failed++
			s.logger.Warn().Err(err).Str("pre_order_id", p.ID).Str("email", p.Email).Msg("pre-order notification failed")
			release := *claimed
			release.Status = domain.PreOrderPending
			release.NotifiedAt = p.NotifiedAt
			release.ExpiresAt = p.ExpiresAt
			if _, err := s.repo.UpdatePreOrder(ctx, release, domain.PreOrderNotified); err != nil && !errors.Is(err, store.ErrConflict) {
				s.logger.Error().Err(err).Str("pre_order_id", p.ID).Msg("release pre-order failed")
			}
			continue
		}
		result.Sent++
	}

	s.metrics.Notified("pre_order", result.Sent, result.Failed)
	s.logger.Info().
		Str("product_id", productID).
		Str("variant", variant.Key()).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("pre-order queue notified")
	return result, nil
}

// ConvertToOrder turns a notified pre-order into an order. A pre-order past its
// hold window is marked expired and the call fails.
func (s *PreOrders) ConvertToOrder(ctx context.Context, id string, data domain.OrderData) (*domain.Order, error) {
	const op = "preorders.convert"

	p, err := s.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PreOrderNotified {
		return nil, domain.Errorf(domain.EINVALID, op, "pre-order is %s, only notified pre-orders can be converted", p.Status)
	}

	now := s.now()
	if p.IsExpired(now) {
		expired := *p
		expired.Status = domain.PreOrderExpired
		if _, err := s.repo.UpdatePreOrder(ctx, expired, domain.PreOrderNotified); err != nil && !errors.Is(err, store.ErrConflict) {
			s.logger.Warn().Err(err).Str("pre_order_id", id).Msg("failed to mark pre-order expired")
		}
		return nil, domain.Errorf(domain.EEXPIRED, op, "pre-order %s has expired", id)
	}

	order, err := s.repo.ConvertPreOrder(ctx, id, domain.Order{
		UserID: p.UserID,
		Lines: []domain.OrderLine{{
			ProductID: p.ProductID,
			Variant:   p.Variant,
			Quantity:  p.Quantity,
			UnitPrice: p.Price,
		}},
		Total:           p.Price * int64(p.Quantity),
		Deposit:         p.Deposit,
		Status:          "pending",
		ShippingAddress: data.ShippingAddress,
		PaymentMethod:   data.PaymentMethod,
		Note:            data.Note,
		CreatedAt:       now,
	}, now)
	if errors.Is(err, store.ErrConflict) {
		return nil, domain.Errorf(domain.ECONFLICT, op, "pre-order %s changed while converting", id)
	}
	if err != nil {
		return nil, fromStore(err, op, "pre-order", id)
	}
	return order, nil
}

// ExpireOld moves notified pre-orders past their hold window to expired.
func (s *PreOrders) ExpireOld(ctx context.Context) (int, error) {
	n, err := s.repo.ExpirePreOrders(ctx, s.now())
	if err != nil {
		return 0, fromStore(err, "preorders.expire", "pre-orders", "")
	}
	if n > 0 {
		s.metrics.Expired(n)
		s.logger.Info().Int("expired", n).Msg("expired pre-orders")
	}
	return n, nil
}

func (s *PreOrders) Cancel(ctx context.Context, id string) (*domain.PreOrder, error) {
	const op = "preorders.cancel"

	p, err := s.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.Active() {
		return nil, domain.Errorf(domain.EINVALID, op, "pre-order is already %s", p.Status)
	}
	previous := p.Status
	p.Status = domain.PreOrderCancelled
	updated, err := s.repo.UpdatePreOrder(ctx, *p, previous)
	if err != nil {
		return nil, fromStore(err, op, "pre-order", id)
	}
	return updated, nil
}

func (s *PreOrders) Get(ctx context.Context, id string) (*domain.PreOrder, error) {
	return s.get(ctx, "preorders.get", id)
}

func (s *PreOrders) ListForUser(ctx context.Context, userID string) ([]domain.PreOrder, error) {
	const op = "preorders.list"

	if userID == "" {
		return nil, domain.Invalid(op, "user_id is required")
	}
	if !ownedBy(ctx, userID) {
		return nil, domain.Errorf(domain.EFORBIDDEN, op, "cannot list another user's pre-orders")
	}
	list, err := s.repo.ListPreOrders(ctx, domain.PreOrderFilter{UserID: userID})
	if err != nil {
		return nil, fromStore(err, op, "pre-orders", userID)
	}
	return list, nil
}

// get hides pre-orders owned by someone else behind not found.
func (s *PreOrders) get(ctx context.Context, op, id string) (*domain.PreOrder, error) {
	p, err := s.repo.GetPreOrder(ctx, id)
	if err != nil {
		return nil, fromStore(err, op, "pre-order", id)
	}
	if !ownedBy(ctx, p.UserID) {
		return nil, domain.NotFound(op, "pre-order", id)
	}
	return p, nil
}
