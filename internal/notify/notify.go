package notify

import (
	"context"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
)

// Notifier delivers customer-facing notifications. Implementations report
// success or failure per recipient and do not retry.
type Notifier interface {
	SendBackInStock(ctx context.Context, sub domain.BackInStockNotification, product domain.Product) error
	SendPreOrderReady(ctx context.Context, preOrder domain.PreOrder, product domain.Product) error
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) SendBackInStock(_ context.Context, sub domain.BackInStockNotification, product domain.Product) error {
	n.Logger.Info().
		Str("email", sub.Email).
		Str("product_id", product.ID).
		Str("variant", sub.Variant.Key()).
		Msg("back in stock notification")
	return nil
}

func (n LogNotifier) SendPreOrderReady(_ context.Context, p domain.PreOrder, product domain.Product) error {
	ev := n.Logger.Info().
		Str("email", p.Email).
		Str("pre_order_id", p.ID).
		Str("product_id", product.ID)
	if p.ExpiresAt != nil {
		ev = ev.Time("expires_at", *p.ExpiresAt)
	}
	ev.Msg("pre-order ready notification")
	return nil
}
