package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/notify"
	"storefront/backend/internal/store"
	"storefront/backend/internal/telemetry"
)

// maxAttempts bounds optimistic-concurrency retries for a single operation.
const maxAttempts = 5

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Deps carries the collaborators shared by the services.
type Deps struct {
	Repo      store.Repository
	GuestCart store.CartRepository
	Publisher events.Publisher
	Notifier  notify.Notifier
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
	// PreOrderHold is how long a notified pre-order stays convertible.
	PreOrderHold time.Duration
	Now          func() time.Time
}

// Services bundles every core service built from one Deps.
type Services struct {
	Ledger      *Ledger
	PreOrders   *PreOrders
	BackInStock *BackInStock
	Carts       *Carts
	Coupons     *Coupons
}

func New(d Deps) *Services {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.PreOrderHold <= 0 {
		d.PreOrderHold = 48 * time.Hour
	}
	if d.Publisher == nil {
		d.Publisher = events.Discard{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{Logger: d.Logger}
	}
	if d.GuestCart == nil {
		d.GuestCart = d.Repo
	}

	carts := NewCarts(d)
	return &Services{
		Ledger:      NewLedger(d),
		PreOrders:   NewPreOrders(d),
		BackInStock: NewBackInStock(d),
		Carts:       carts,
		Coupons:     NewCoupons(d, carts),
	}
}

// fromStore converts a persistence sentinel into a domain error.
func fromStore(err error, op, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domain.NotFound(op, resource, id)
	case errors.Is(err, store.ErrInsufficientStock):
		return domain.Errorf(domain.EINSUFFICIENTSTOCK, op, "insufficient stock for %s", id)
	case errors.Is(err, store.ErrConflict):
		return domain.WrapError(err, domain.ECONFLICT, op, resource+" was modified concurrently, please retry")
	case errors.Is(err, store.ErrDuplicate):
		return domain.WrapError(err, domain.ECONFLICT, op, resource+" already exists")
	default:
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		return domain.Internal(err, op, "storage failure")
	}
}

func isAdmin(ctx context.Context) bool {
	actor, ok := ActorFromContext(ctx)
	return ok && actor.Role == "admin"
}

// ownedBy reports whether the caller may act on a record belonging to userID.
// Calls without an actor come from trusted in-process callers.
func ownedBy(ctx context.Context, userID string) bool {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == "admin" {
		return true
	}
	return actor.UserID == userID
}

func variantKeyFilter(v *domain.VariantSelector) *string {
	key := v.Key()
	return &key
}

func validSelector(op string, v *domain.VariantSelector) error {
	if v != nil && (v.Group == "" || v.Value == "") {
		return domain.Invalid(op, "variant requires both group and value")
	}
	return nil
}
