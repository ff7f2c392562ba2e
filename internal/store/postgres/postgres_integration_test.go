package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("STOREFRONT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOREFRONT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

func seedProduct(t *testing.T, s *Store, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()
	id := fmt.Sprintf("prod-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE pre_order_id IN (SELECT id FROM pre_orders WHERE product_id = $1)`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pre_orders WHERE product_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM back_in_stock_subscriptions WHERE product_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	})

	p, err := s.SaveProduct(ctx, domain.Product{
		ID: id, Name: "Integration Tee", Price: 1000, Stock: stock, Active: true,
		Variants: []domain.VariantGroup{{Name: "Size", Options: []domain.VariantOption{{Value: "M", Stock: 2}}}},
	})
	require.NoError(t, err)
	return *p
}

func TestCommitMovementCompareAndSwap(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, 5)

	_, err := s.CommitMovement(ctx, domain.StockMovement{
		ProductID: p.ID, Type: domain.MovementExport, Quantity: -3, PreviousStock: 5, NewStock: 2,
	}, 5)
	require.NoError(t, err)

	_, err = s.CommitMovement(ctx, domain.StockMovement{
		ProductID: p.ID, Type: domain.MovementExport, Quantity: -1, PreviousStock: 5, NewStock: 4,
	}, 5)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CommitMovement(ctx, domain.StockMovement{
		ProductID: p.ID, Variant: &domain.VariantSelector{Group: "Size", Value: "XL"}, Type: domain.MovementImport,
		Quantity: 1, PreviousStock: 0, NewStock: 1,
	}, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CommitMovement(ctx, domain.StockMovement{
		ProductID: p.ID, Variant: &domain.VariantSelector{Group: "Size", Value: "M"}, Type: domain.MovementImport,
		Quantity: 3, PreviousStock: 2, NewStock: 5,
	}, 2)
	require.NoError(t, err)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
	assert.Equal(t, 5, got.Variants[0].Options[0].Stock)

	movements, total, err := s.ListMovements(ctx, domain.MovementQuery{ProductID: p.ID, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, domain.MovementImport, movements[0].Type)
}

func TestPreOrderActiveUniqueness(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, 0)

	po := domain.PreOrder{UserID: "u-it", ProductID: p.ID, Quantity: 1, Price: 1000, Status: domain.PreOrderPending, Email: "it@example.com"}
	first, err := s.CreatePreOrder(ctx, po)
	require.NoError(t, err)

	_, err = s.CreatePreOrder(ctx, po)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	first.Status = domain.PreOrderCancelled
	_, err = s.UpdatePreOrder(ctx, *first, domain.PreOrderPending)
	require.NoError(t, err)

	_, err = s.CreatePreOrder(ctx, po)
	assert.NoError(t, err)
}

func TestUpdateSubscriptionChecksStatus(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, 0)

	sub, err := s.CreateSubscription(ctx, domain.BackInStockNotification{Email: "it@example.com", ProductID: p.ID, Status: domain.SubscriptionActive})
	require.NoError(t, err)

	claimed := *sub
	claimed.Status = domain.SubscriptionNotified
	claimed.NotificationCount = 1
	updated, err := s.UpdateSubscription(ctx, claimed, domain.SubscriptionActive)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionNotified, updated.Status)

	_, err = s.UpdateSubscription(ctx, claimed, domain.SubscriptionActive)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestSaveCartOptimisticVersion(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	ref := domain.CartRef{Kind: domain.CartRegistered, Key: fmt.Sprintf("user-it-%d", time.Now().UnixNano())}
	t.Cleanup(func() { _ = s.DeleteCart(ctx, ref) })

	cart := domain.NewCart(ref, time.Now())
	cart.Items = append(cart.Items, domain.LineItem{ID: "l1", ProductID: "x", Quantity: 1, UnitPrice: 10})
	saved, err := s.SaveCart(ctx, cart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	_, err = s.SaveCart(ctx, cart)
	assert.ErrorIs(t, err, store.ErrConflict)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.SaveCart(ctx, *saved)
		}(i)
	}
	wg.Wait()
	conflicts := 0
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, store.ErrConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)

	taken, err := s.TakeCart(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, taken.Items, 1)
	_, err = s.LoadCart(ctx, ref)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedeemCouponRespectsLimit(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	code := fmt.Sprintf("IT%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = s.db.ExecContext(ctx, `DELETE FROM coupons WHERE code = $1`, code) })

	one := 1
	_, err := s.SaveCoupon(ctx, domain.Coupon{Code: code, DiscountPercent: 5, Active: true, MaxUses: &one})
	require.NoError(t, err)

	c, err := s.RedeemCoupon(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	_, err = s.RedeemCoupon(ctx, code)
	assert.ErrorIs(t, err, store.ErrConflict)
}
