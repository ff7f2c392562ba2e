package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/store"
	"storefront/backend/internal/telemetry"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type ledgerRepo interface {
	store.ProductStore
	store.LedgerStore
}

// Ledger owns stock counters. Every change goes through ApplyMovement.
type Ledger struct {
	repo      ledgerRepo
	publisher events.Publisher
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

func NewLedger(d Deps) *Ledger {
	return &Ledger{
		repo:      d.Repo,
		publisher: d.Publisher,
		logger:    d.Logger.With().Str("component", "ledger").Logger(),
		metrics:   d.Metrics,
		now:       d.Now,
	}
}

// ApplyMovement records one stock movement and updates the addressed counter.
// The counter is swapped only if it still holds the value the movement was
// computed from; on a lost race the movement is recomputed from fresh stock.
func (l *Ledger) ApplyMovement(ctx context.Context, in domain.MovementInput) (*domain.StockMovement, error) {
	const op = "ledger.apply"

	if in.ProductID == "" {
		return nil, domain.Invalid(op, "product_id is required")
	}
	if !in.Type.Valid() {
		return nil, domain.Errorf(domain.EINVALID, op, "unknown movement type %q", in.Type)
	}
	if in.Quantity == 0 {
		return nil, domain.Invalid(op, "quantity must not be zero")
	}
	if err := validSelector(op, in.Variant); err != nil {
		return nil, err
	}

	actorID := in.ActorID
	if actorID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			actorID = actor.UserID
		}
	}
	delta := in.Type.Delta(in.Quantity)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		product, err := l.repo.GetProduct(ctx, in.ProductID)
		if err != nil {
			l.metrics.MovementRejected("not_found")
			return nil, fromStore(err, op, "product", in.ProductID)
		}
		previous, err := product.StockAt(in.Variant)
		if err != nil {
			l.metrics.MovementRejected("not_found")
			return nil, domain.WrapError(err, domain.ENOTFOUND, op, "variant not found")
		}

		next := previous + delta
		if next < 0 {
			l.metrics.MovementRejected("insufficient_stock")
			return nil, domain.Errorf(domain.EINSUFFICIENTSTOCK, op,
				"insufficient stock for %s: have %d, need %d", product.Name, previous, -delta)
		}

		committed, err := l.repo.CommitMovement(ctx, domain.StockMovement{
			ProductID:     in.ProductID,
			Variant:       in.Variant,
			Type:          in.Type,
			Quantity:      delta,
			PreviousStock: previous,
			NewStock:      next,
			Reason:        in.Reason,
			OrderID:       in.OrderID,
			Supplier:      in.Supplier,
			ActorID:       actorID,
			CreatedAt:     l.now(),
		}, previous)
		if errors.Is(err, store.ErrConflict) {
			l.metrics.Retried("ledger")
			l.logger.Debug().Str("product_id", in.ProductID).Int("attempt", attempt).Msg("stock counter moved, retrying")
			continue
		}
		if err != nil {
			l.metrics.MovementRejected("store")
			return nil, fromStore(err, op, "product", in.ProductID)
		}

		l.metrics.MovementApplied(string(in.Type))
		if previous == 0 && next > 0 {
			l.replenished(ctx, *committed)
		}
		return committed, nil
	}

	l.metrics.MovementRejected("conflict")
	return nil, domain.Errorf(domain.ECONFLICT, op, "stock for %s is changing too fast, please retry", in.ProductID)
}

// replenished hands the zero-to-positive transition to the publisher. Delivery
// problems are logged; the movement itself is already committed.
func (l *Ledger) replenished(ctx context.Context, mv domain.StockMovement) {
	l.metrics.Replenished()
	ev := domain.ReplenishmentEvent{
		ProductID:  mv.ProductID,
		Variant:    mv.Variant,
		NewStock:   mv.NewStock,
		MovementID: mv.ID,
		OccurredAt: mv.CreatedAt,
	}
	if err := l.publisher.PublishReplenished(ctx, ev); err != nil {
		l.logger.Warn().Err(err).
			Str("product_id", mv.ProductID).
			Str("variant", mv.Variant.Key()).
			Msg("failed to publish replenishment event")
	}
}

// History returns movements newest first.
func (l *Ledger) History(ctx context.Context, productID string, typ domain.MovementType, page, limit int) (*domain.MovementPage, error) {
	const op = "ledger.history"

	if typ != "" && !typ.Valid() {
		return nil, domain.Errorf(domain.EINVALID, op, "unknown movement type %q", typ)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	movements, total, err := l.repo.ListMovements(ctx, domain.MovementQuery{
		ProductID: productID,
		Type:      typ,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return nil, fromStore(err, op, "movements", productID)
	}
	if movements == nil {
		movements = []domain.StockMovement{}
	}
	return &domain.MovementPage{Movements: movements, Page: page, Limit: limit, Total: total}, nil
}

func (l *Ledger) Summary(ctx context.Context, from, to time.Time, productID string) ([]domain.MovementSummary, error) {
	const op = "ledger.summary"

	if to.IsZero() {
		to = l.now()
	}
	if from.After(to) {
		return nil, domain.Invalid(op, "from must not be after to")
	}
	summary, err := l.repo.SummarizeMovements(ctx, from, to, productID)
	if err != nil {
		return nil, fromStore(err, op, "movements", productID)
	}
	return summary, nil
}
