package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

func TestGuestCartStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("STOREFRONT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set STOREFRONT_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	s := NewGuestCartStore(addr, "", 0, time.Minute)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(ctx))

	ref := domain.CartRef{Kind: domain.CartGuest, Key: fmt.Sprintf("sess-it-%d", time.Now().UnixNano())}
	t.Cleanup(func() { _ = s.DeleteCart(ctx, ref) })

	_, err := s.LoadCart(ctx, ref)
	assert.ErrorIs(t, err, store.ErrNotFound)

	cart := domain.NewCart(ref, time.Now())
	cart.Items = append(cart.Items, domain.LineItem{ID: "l1", ProductID: "p", Quantity: 2, UnitPrice: 10,
		Variant: domain.VariantSelection{"Size": "M"}})
	saved, err := s.SaveCart(ctx, cart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	_, err = s.SaveCart(ctx, cart)
	assert.ErrorIs(t, err, store.ErrConflict)

	loaded, err := s.LoadCart(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "M", loaded.Items[0].Variant["Size"])

	ttl, err := s.client.TTL(ctx, cartKey(ref)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	taken, err := s.TakeCart(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), taken.Version)

	_, err = s.TakeCart(ctx, ref)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
