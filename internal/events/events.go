package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/telemetry"
)

// Publisher hands replenishment events to whatever runs the notification fan-out.
type Publisher interface {
	PublishReplenished(ctx context.Context, ev domain.ReplenishmentEvent) error
}

type Handler func(ctx context.Context, ev domain.ReplenishmentEvent) error

var ErrQueueFull = errors.New("replenishment queue full")

// Inline runs the handler inside the publishing call.
type Inline struct {
	Handler Handler
}

func (p Inline) PublishReplenished(ctx context.Context, ev domain.ReplenishmentEvent) error {
	if p.Handler == nil {
		return nil
	}
	return p.Handler(ctx, ev)
}

// Discard drops every event.
type Discard struct{}

func (Discard) PublishReplenished(context.Context, domain.ReplenishmentEvent) error { return nil }

// Queue is a bounded in-process work queue. Publish never blocks; when the buffer
// is full the event is dropped and ErrQueueFull returned.
type Queue struct {
	handler Handler
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	ch      chan domain.ReplenishmentEvent
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewQueue(handler Handler, size int, logger zerolog.Logger, metrics *telemetry.Metrics) *Queue {
	if size < 1 {
		size = 64
	}
	return &Queue{
		handler: handler,
		logger:  logger.With().Str("component", "replenishment_queue").Logger(),
		metrics: metrics,
		ch:      make(chan domain.ReplenishmentEvent, size),
	}
}

// Start launches workers that drain the queue until Close.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for ev := range q.ch {
				if err := q.handler(context.WithoutCancel(ctx), ev); err != nil {
					q.logger.Error().Err(err).Str("product_id", ev.ProductID).Msg("replenishment handler failed")
				}
			}
		}()
	}
}

func (q *Queue) PublishReplenished(_ context.Context, ev domain.ReplenishmentEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueFull
	}

	select {
	case q.ch <- ev:
		q.metrics.EventPublished("queue")
		return nil
	default:
		q.metrics.EventDropped()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
