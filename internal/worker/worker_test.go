package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store/memory"
)

type countingNotifier struct {
	mu       sync.Mutex
	backIn   []string
	preOrder []string
}

func (n *countingNotifier) SendBackInStock(_ context.Context, sub domain.BackInStockNotification, _ domain.Product) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.backIn = append(n.backIn, sub.Email)
	return nil
}

func (n *countingNotifier) SendPreOrderReady(_ context.Context, p domain.PreOrder, _ domain.Product) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.preOrder = append(n.preOrder, p.Email)
	return nil
}

func setup(t *testing.T, autoNotify bool) (*service.Services, *memory.Store, *countingNotifier, *events.Queue) {
	t.Helper()
	repo := memory.NewSeeded()
	notifier := &countingNotifier{}

	var replenisher *Replenisher
	queue := events.NewQueue(func(ctx context.Context, ev domain.ReplenishmentEvent) error {
		return replenisher.Handle(ctx, ev)
	}, 16, zerolog.Nop(), nil)

	svc := service.New(service.Deps{
		Repo:      repo,
		Publisher: queue,
		Notifier:  notifier,
		Logger:    zerolog.Nop(),
	})
	replenisher = NewReplenisher(svc, autoNotify, zerolog.Nop())
	queue.Start(context.Background(), 2)
	return svc, repo, notifier, queue
}

func TestReplenishmentFanOutThroughQueue(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier, queue := setup(t, true)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := svc.BackInStock.Subscribe(ctx, domain.SubscribeRequest{Email: email, ProductID: "prod-mug"})
		require.NoError(t, err)
	}
	_, err := svc.PreOrders.Create(ctx, domain.PreOrderRequest{UserID: "u1", ProductID: "prod-mug", Quantity: 1, Email: "u1@example.com"})
	require.NoError(t, err)

	_, err = svc.Ledger.ApplyMovement(ctx, domain.MovementInput{ProductID: "prod-mug", Type: domain.MovementImport, Quantity: 5})
	require.NoError(t, err)
	queue.Close()

	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com", "c@example.com"}, notifier.backIn)
	assert.Equal(t, []string{"u1@example.com"}, notifier.preOrder)

	active, err := svc.BackInStock.SubscriberCount(ctx, "prod-mug", nil)
	require.NoError(t, err)
	assert.Zero(t, active)

	notified, err := repo.ListPreOrders(ctx, domain.PreOrderFilter{ProductID: "prod-mug", Statuses: []domain.PreOrderStatus{domain.PreOrderNotified}})
	require.NoError(t, err)
	assert.Len(t, notified, 1)
}

func TestReplenisherLeavesPreOrdersAloneByDefault(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier, queue := setup(t, false)

	_, err := svc.PreOrders.Create(ctx, domain.PreOrderRequest{UserID: "u1", ProductID: "prod-mug", Quantity: 1, Email: "u1@example.com"})
	require.NoError(t, err)
	_, err = svc.Ledger.ApplyMovement(ctx, domain.MovementInput{ProductID: "prod-mug", Type: domain.MovementImport, Quantity: 1})
	require.NoError(t, err)
	queue.Close()

	assert.Empty(t, notifier.preOrder)
}

func TestReplenisherReportsUnknownProduct(t *testing.T) {
	svc, _, _, queue := setup(t, false)
	defer queue.Close()

	err := NewReplenisher(svc, true, zerolog.Nop()).Handle(context.Background(), domain.ReplenishmentEvent{ProductID: "missing"})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
}

func TestSweeperExpiresOverduePreOrders(t *testing.T) {
	svc, repo, _, queue := setup(t, false)
	defer queue.Close()

	past := time.Now().UTC().Add(-time.Hour)
	p, err := repo.CreatePreOrder(context.Background(), domain.PreOrder{
		UserID: "u1", ProductID: "prod-mug", Quantity: 1, Status: domain.PreOrderNotified,
		Email: "u1@example.com", NotifiedAt: &past, ExpiresAt: &past,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(svc.PreOrders, 10*time.Millisecond, zerolog.Nop()).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := repo.GetPreOrder(context.Background(), p.ID)
		return err == nil && got.Status == domain.PreOrderExpired
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
