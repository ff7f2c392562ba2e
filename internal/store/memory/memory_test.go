package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

func TestCommitMovementCAS(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	mv, err := s.CommitMovement(ctx, domain.StockMovement{
		ProductID: "prod-tote", Type: domain.MovementExport, Quantity: -5, PreviousStock: 25, NewStock: 20,
	}, 25)
	require.NoError(t, err)
	assert.NotEmpty(t, mv.ID)

	_, err = s.CommitMovement(ctx, domain.StockMovement{
		ProductID: "prod-tote", Type: domain.MovementExport, Quantity: -1, PreviousStock: 25, NewStock: 24,
	}, 25)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CommitMovement(ctx, domain.StockMovement{ProductID: "nope", NewStock: 1}, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CommitMovement(ctx, domain.StockMovement{ProductID: "prod-tote", NewStock: -1}, 20)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	p, err := s.GetProduct(ctx, "prod-tote")
	require.NoError(t, err)
	assert.Equal(t, 20, p.Stock)

	_, total, err := s.ListMovements(ctx, domain.MovementQuery{ProductID: "prod-tote", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCommitMovementVariantCounter(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	sel := &domain.VariantSelector{Group: "Storage", Value: "512GB"}

	_, err := s.CommitMovement(ctx, domain.StockMovement{
		ProductID: "prod-phone", Variant: sel, Type: domain.MovementImport, Quantity: 3, NewStock: 3,
	}, 0)
	require.NoError(t, err)

	p, _ := s.GetProduct(ctx, "prod-phone")
	stock, _ := p.StockAt(sel)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 5, p.Stock)
}

func TestListMovementsNewestFirstWithPaging(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	base := time.Now().UTC()

	stock := 25
	for i := 0; i < 5; i++ {
		_, err := s.CommitMovement(ctx, domain.StockMovement{
			ProductID: "prod-tote", Type: domain.MovementImport, Quantity: 1,
			PreviousStock: stock, NewStock: stock + 1, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, stock)
		require.NoError(t, err)
		stock++
	}

	page, total, err := s.ListMovements(ctx, domain.MovementQuery{ProductID: "prod-tote", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 28, page[0].NewStock)
	assert.Equal(t, 27, page[1].NewStock)

	page, _, err = s.ListMovements(ctx, domain.MovementQuery{ProductID: "prod-tote", Type: domain.MovementExport})
	require.NoError(t, err)
	assert.Empty(t, page)

	summary, err := s.SummarizeMovements(ctx, base.Add(-time.Hour), base.Add(time.Hour), "")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, domain.MovementSummary{Type: domain.MovementImport, TotalQuantity: 5, Count: 5}, summary[0])
}

func TestPreOrderUniquenessAndQueueOrder(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := s.CreatePreOrder(ctx, domain.PreOrder{UserID: "u1", ProductID: "prod-mug", Status: domain.PreOrderPending, CreatedAt: now})
	require.NoError(t, err)
	_, err = s.CreatePreOrder(ctx, domain.PreOrder{UserID: "u1", ProductID: "prod-mug", Status: domain.PreOrderPending})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.CreatePreOrder(ctx, domain.PreOrder{UserID: "u2", ProductID: "prod-mug", Status: domain.PreOrderPending, CreatedAt: now.Add(time.Second)})
	require.NoError(t, err)
	vip, err := s.CreatePreOrder(ctx, domain.PreOrder{UserID: "u3", ProductID: "prod-mug", Status: domain.PreOrderPending, Priority: 5, CreatedAt: now.Add(2 * time.Second)})
	require.NoError(t, err)

	queue, err := s.ListPreOrders(ctx, domain.PreOrderFilter{ProductID: "prod-mug", Statuses: []domain.PreOrderStatus{domain.PreOrderPending}})
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, vip.ID, queue[0].ID)
	assert.Equal(t, a.ID, queue[1].ID)

	a.Status = domain.PreOrderCancelled
	_, err = s.UpdatePreOrder(ctx, *a, domain.PreOrderNotified)
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = s.UpdatePreOrder(ctx, *a, domain.PreOrderPending)
	require.NoError(t, err)
	_, err = s.CreatePreOrder(ctx, domain.PreOrder{UserID: "u1", ProductID: "prod-mug", Status: domain.PreOrderPending})
	assert.NoError(t, err)
}

func TestExpirePreOrdersIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	_, _ = s.CreatePreOrder(ctx, domain.PreOrder{UserID: "a", ProductID: "p", Status: domain.PreOrderNotified, ExpiresAt: &past})
	_, _ = s.CreatePreOrder(ctx, domain.PreOrder{UserID: "b", ProductID: "p", Status: domain.PreOrderNotified, ExpiresAt: &future})
	_, _ = s.CreatePreOrder(ctx, domain.PreOrder{UserID: "c", ProductID: "p", Status: domain.PreOrderPending, ExpiresAt: &past})

	n, err := s.ExpirePreOrders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.ExpirePreOrders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCartStoreVersioning(t *testing.T) {
	s := NewCartStore()
	ctx := context.Background()
	ref := domain.CartRef{Kind: domain.CartGuest, Key: "sess-1"}

	saved, err := s.SaveCart(ctx, domain.NewCart(ref, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	_, err = s.SaveCart(ctx, domain.NewCart(ref, time.Now()))
	assert.ErrorIs(t, err, store.ErrConflict)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SaveCart(ctx, *saved); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	taken, err := s.TakeCart(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2), taken.Version)
	_, err = s.TakeCart(ctx, ref)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscriptionUniqueOnTarget(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	sel := &domain.VariantSelector{Group: "Size", Value: "M"}

	_, err := s.CreateSubscription(ctx, domain.BackInStockNotification{Email: "a@example.com", ProductID: "prod-tee", Status: domain.SubscriptionActive})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, domain.BackInStockNotification{Email: "A@example.com", ProductID: "prod-tee", Status: domain.SubscriptionActive})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	_, err = s.CreateSubscription(ctx, domain.BackInStockNotification{Email: "a@example.com", ProductID: "prod-tee", Variant: sel, Status: domain.SubscriptionActive})
	require.NoError(t, err)

	noVariant := ""
	n, err := s.CountSubscriptions(ctx, domain.SubscriptionFilter{ProductID: "prod-tee", VariantKey: &noVariant})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := s.FindSubscription(ctx, "a@example.com", "prod-tee", sel)
	require.NoError(t, err)
	assert.Equal(t, "M", found.Variant.Value)
}

func TestUpdateSubscriptionChecksStatus(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sub, err := s.CreateSubscription(ctx, domain.BackInStockNotification{Email: "a@example.com", ProductID: "prod-mug", Status: domain.SubscriptionActive})
	require.NoError(t, err)

	claimed := *sub
	claimed.Status = domain.SubscriptionNotified
	_, err = s.UpdateSubscription(ctx, claimed, domain.SubscriptionActive)
	require.NoError(t, err)

	_, err = s.UpdateSubscription(ctx, claimed, domain.SubscriptionActive)
	assert.ErrorIs(t, err, store.ErrConflict, "second claim loses")

	claimed.ID = "bis-missing"
	_, err = s.UpdateSubscription(ctx, claimed, domain.SubscriptionNotified)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedeemCoupon(t *testing.T) {
	s := New()
	ctx := context.Background()
	limit := 3
	_, err := s.SaveCoupon(ctx, domain.Coupon{Code: "few", Active: true, DiscountPercent: 5, MaxUses: &limit})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RedeemCoupon(ctx, "FEW"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	c, err := s.GetCouponByCode(ctx, "FEW")
	require.NoError(t, err)
	assert.Equal(t, 3, c.UsedCount)
}

func TestConvertPreOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	p, err := s.CreatePreOrder(ctx, domain.PreOrder{UserID: "u", ProductID: "p", Status: domain.PreOrderPending})
	require.NoError(t, err)
	_, err = s.ConvertPreOrder(ctx, p.ID, domain.Order{UserID: "u"}, time.Now())
	assert.ErrorIs(t, err, store.ErrConflict)

	p.Status = domain.PreOrderNotified
	_, err = s.UpdatePreOrder(ctx, *p, domain.PreOrderPending)
	require.NoError(t, err)

	order, err := s.ConvertPreOrder(ctx, p.ID, domain.Order{UserID: "u"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, p.ID, order.PreOrderID)

	got, _ := s.GetPreOrder(ctx, p.ID)
	assert.Equal(t, domain.PreOrderConverted, got.Status)
	assert.Equal(t, order.ID, got.ConvertedOrderID)
}
