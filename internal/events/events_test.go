package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
)

func TestQueueDeliversAndDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []string
	q := NewQueue(func(_ context.Context, ev domain.ReplenishmentEvent) error {
		mu.Lock()
		got = append(got, ev.ProductID)
		mu.Unlock()
		return nil
	}, 8, zerolog.Nop(), nil)
	q.Start(context.Background(), 2)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.PublishReplenished(context.Background(), domain.ReplenishmentEvent{ProductID: id}))
	}
	q.Close()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
	assert.ErrorIs(t, q.PublishReplenished(context.Background(), domain.ReplenishmentEvent{ProductID: "d"}), ErrQueueFull)
}

func TestQueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(func(context.Context, domain.ReplenishmentEvent) error {
		<-block
		return nil
	}, 1, zerolog.Nop(), nil)

	require.NoError(t, q.PublishReplenished(context.Background(), domain.ReplenishmentEvent{ProductID: "a"}))
	assert.ErrorIs(t, q.PublishReplenished(context.Background(), domain.ReplenishmentEvent{ProductID: "b"}), ErrQueueFull)

	q.Start(context.Background(), 1)
	close(block)
	q.Close()
}

func TestInlineCallsHandler(t *testing.T) {
	calls := 0
	p := Inline{Handler: func(context.Context, domain.ReplenishmentEvent) error {
		calls++
		return nil
	}}
	require.NoError(t, p.PublishReplenished(context.Background(), domain.ReplenishmentEvent{ProductID: "a"}))
	assert.Equal(t, 1, calls)
	assert.NoError(t, Inline{}.PublishReplenished(context.Background(), domain.ReplenishmentEvent{}))
}

func TestDecodeReplenished(t *testing.T) {
	ev, err := DecodeReplenished([]byte(`{"product_id":"p1","variant":{"group":"Size","value":"M"},"new_stock":4,"occurred_at":"2026-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", ev.ProductID)
	assert.Equal(t, "Size:M", ev.Variant.Key())
	assert.Equal(t, 4, ev.NewStock)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ev.OccurredAt)

	_, err = DecodeReplenished([]byte(`{"new_stock":1}`))
	assert.Error(t, err)
	_, err = DecodeReplenished([]byte(`not json`))
	assert.Error(t, err)
}
