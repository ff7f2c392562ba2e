package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store/memory"
)

func mugPreOrder(userID string) domain.PreOrderRequest {
	return domain.PreOrderRequest{
		UserID:    userID,
		ProductID: "prod-mug",
		Quantity:  1,
		Email:     userID + "@example.com",
	}
}

func TestCreatePreOrderCapturesPrice(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.PreOrders.Create(context.Background(), domain.PreOrderRequest{
		UserID:    "u1",
		ProductID: "prod-phone",
		Variant:   &domain.VariantSelector{Group: "Storage", Value: "512GB"},
		Quantity:  2,
		Deposit:   500000,
		Email:     " Buyer@Example.com ",
		Priority:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderPending, p.Status)
	assert.Equal(t, int64(7500000+2000000), p.Price)
	assert.Equal(t, "buyer@example.com", p.Email)
	assert.Equal(t, f.clock.Now(), p.CreatedAt)
}

func TestCreatePreOrderRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.PreOrders.Create(ctx, domain.PreOrderRequest{
		UserID: "u1", ProductID: "prod-phone", Quantity: 1, Email: "u1@example.com",
		Variant: &domain.VariantSelector{Group: "Storage", Value: "128GB"},
	})
	assertCode(t, err, domain.ESTILLINSTOCK)

	_, err = f.svc.PreOrders.Create(ctx, domain.PreOrderRequest{UserID: "u1", ProductID: "prod-tote", Quantity: 1, Email: "u1@example.com"})
	assertCode(t, err, domain.EINVALID)

	req := mugPreOrder("u1")
	req.Quantity = 0
	_, err = f.svc.PreOrders.Create(ctx, req)
	assertCode(t, err, domain.EINVALID)

	_, err = f.svc.PreOrders.Create(ctx, domain.PreOrderRequest{UserID: "u1", ProductID: "nope", Quantity: 1, Email: "u1@example.com"})
	assertCode(t, err, domain.ENOTFOUND)

	f.product(t, domain.Product{ID: "prod-retired", Name: "Retired Mug", Price: 50000, Stock: 0, Active: false, AllowPreOrder: true})
	_, err = f.svc.PreOrders.Create(ctx, domain.PreOrderRequest{UserID: "u1", ProductID: "prod-retired", Quantity: 1, Email: "u1@example.com"})
	assertCode(t, err, domain.EINVALID)
}

func TestPreOrderUniquenessAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.PreOrders.Create(ctx, mugPreOrder("u1"))
	require.NoError(t, err)

	_, err = f.svc.PreOrders.Create(ctx, mugPreOrder("u1"))
	assertCode(t, err, domain.EDUPLICATEPREORDER)

	cancelled, err := f.svc.PreOrders.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderCancelled, cancelled.Status)

	third, err := f.svc.PreOrders.Create(ctx, mugPreOrder("u1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	_, err = f.svc.PreOrders.Cancel(ctx, first.ID)
	assertCode(t, err, domain.EINVALID)
}

func TestNotifyWhenInStockServesQueueInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.fail["bad@example.com"] = true

	requests := []domain.PreOrderRequest{
		{UserID: "old", ProductID: "prod-mug", Quantity: 1, Email: "old@example.com"},
		{UserID: "bad", ProductID: "prod-mug", Quantity: 1, Email: "bad@example.com"},
		{UserID: "vip", ProductID: "prod-mug", Quantity: 1, Email: "vip@example.com", Priority: 5},
		{UserID: "new", ProductID: "prod-mug", Quantity: 1, Email: "new@example.com"},
	}
	ids := map[string]string{}
	for _, req := range requests {
		p, err := f.svc.PreOrders.Create(ctx, req)
		require.NoError(t, err)
		ids[req.UserID] = p.ID
		f.clock.Advance(time.Second)
	}

	result, err := f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-mug", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NotifyResult{Sent: 3, Failed: 1}, result)
	assert.Equal(t, []string{"vip@example.com", "old@example.com", "new@example.com"}, f.notifier.preOrder)

	vip, err := f.svc.PreOrders.Get(ctx, ids["vip"])
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderNotified, vip.Status)
	require.NotNil(t, vip.NotifiedAt)
	require.NotNil(t, vip.ExpiresAt)
	assert.Equal(t, 48*time.Hour, vip.ExpiresAt.Sub(*vip.NotifiedAt))

	bad, err := f.svc.PreOrders.Get(ctx, ids["bad"])
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderPending, bad.Status)

	result, err = f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-mug", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NotifyResult{Sent: 0, Failed: 1}, result, "notified pre-orders are not sent twice")
}

func TestNotifyWhenInStockMatchesVariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	storage := &domain.VariantSelector{Group: "Storage", Value: "512GB"}

	_, err := f.svc.PreOrders.Create(ctx, domain.PreOrderRequest{UserID: "u1", ProductID: "prod-phone", Variant: storage, Quantity: 1, Email: "u1@example.com"})
	require.NoError(t, err)

	result, err := f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-phone", nil)
	require.NoError(t, err)
	assert.Zero(t, result.Sent)

	result, err = f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-phone", storage)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestConvertToOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := mugPreOrder("u1")
	req.Quantity = 3
	req.Deposit = 20000
	p, err := f.svc.PreOrders.Create(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.PreOrders.ConvertToOrder(ctx, p.ID, domain.OrderData{})
	assertCode(t, err, domain.EINVALID)

	_, err = f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-mug", nil)
	require.NoError(t, err)

	order, err := f.svc.PreOrders.ConvertToOrder(ctx, p.ID, domain.OrderData{ShippingAddress: "Jl. Merdeka 1", PaymentMethod: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, int64(3*65000), order.Total)
	assert.Equal(t, int64(20000), order.Deposit)
	assert.Equal(t, p.ID, order.PreOrderID)
	assert.Equal(t, "Jl. Merdeka 1", order.ShippingAddress)

	converted, err := f.svc.PreOrders.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderConverted, converted.Status)
	assert.Equal(t, order.ID, converted.ConvertedOrderID)

	_, err = f.svc.PreOrders.ConvertToOrder(ctx, p.ID, domain.OrderData{})
	assertCode(t, err, domain.EINVALID)
}

func TestConvertExpiredPreOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.svc.PreOrders.Create(ctx, mugPreOrder("u1"))
	require.NoError(t, err)
	_, err = f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-mug", nil)
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	_, err = f.svc.PreOrders.ConvertToOrder(ctx, p.ID, domain.OrderData{})
	assertCode(t, err, domain.EEXPIRED)

	expired, err := f.svc.PreOrders.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderExpired, expired.Status)
}

func TestExpireOldIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, user := range []string{"u1", "u2"} {
		_, err := f.svc.PreOrders.Create(ctx, mugPreOrder(user))
		require.NoError(t, err)
	}
	_, err := f.svc.PreOrders.NotifyWhenInStock(ctx, "prod-mug", nil)
	require.NoError(t, err)
	_, err = f.svc.PreOrders.Create(ctx, mugPreOrder("u3"))
	require.NoError(t, err)

	n, err := f.svc.PreOrders.ExpireOld(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(72 * time.Hour)
	n, err = f.svc.PreOrders.ExpireOld(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.PreOrders.ExpireOld(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := f.svc.PreOrders.ListForUser(ctx, "u3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.PreOrderPending, list[0].Status, "pending pre-orders never expire")
}

func TestPreOrderOwnership(t *testing.T) {
	f := newFixture(t)
	owner := WithActor(context.Background(), domain.Actor{UserID: "u1", Role: "customer"})
	other := WithActor(context.Background(), domain.Actor{UserID: "u2", Role: "customer"})
	admin := WithActor(context.Background(), domain.Actor{UserID: "ops", Role: "admin"})

	p, err := f.svc.PreOrders.Create(owner, mugPreOrder("u1"))
	require.NoError(t, err)

	_, err = f.svc.PreOrders.Get(other, p.ID)
	assertCode(t, err, domain.ENOTFOUND)
	_, err = f.svc.PreOrders.Cancel(other, p.ID)
	assertCode(t, err, domain.ENOTFOUND)
	_, err = f.svc.PreOrders.ListForUser(other, "u1")
	assertCode(t, err, domain.EFORBIDDEN)

	_, err = f.svc.PreOrders.Get(admin, p.ID)
	require.NoError(t, err)

	list, err := f.svc.PreOrders.ListForUser(owner, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConcurrentNotifyWhenInStockSendsOnce(t *testing.T) {
	ctx := context.Background()
	inner := &fakeNotifier{}
	svc := New(Deps{Repo: memory.NewSeeded(), Notifier: slowNotifier{fakeNotifier: inner, delay: 50 * time.Millisecond}, Logger: zerolog.Nop()})

	created, err := svc.PreOrders.Create(ctx, mugPreOrder("u1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]domain.NotifyResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.PreOrders.NotifyWhenInStock(ctx, "prod-mug", nil)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"u1@example.com"}, inner.preOrder)
	assert.Equal(t, 1, results[0].Sent+results[1].Sent)
	assert.Zero(t, results[0].Failed+results[1].Failed, "a lost claim is not a failure")

	p, err := svc.PreOrders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PreOrderNotified, p.Status)
}
