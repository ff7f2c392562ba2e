package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/telemetry"
)

const workerQueueGroup = "storefront-notify"

func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	metrics *telemetry.Metrics
}

func NewNATSPublisher(conn *nats.Conn, subject string, metrics *telemetry.Metrics) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, metrics: metrics}
}

func (p *NATSPublisher) PublishReplenished(_ context.Context, ev domain.ReplenishmentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish replenishment: %w", err)
	}
	p.metrics.EventPublished("nats")
	return nil
}

// NATSSubscriber feeds replenishment events from NATS into a Handler. Workers share
// a queue group so each event is handled once across replicas.
type NATSSubscriber struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	sub     *nats.Subscription
}

func NewNATSSubscriber(conn *nats.Conn, subject string, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{conn: conn, subject: subject, logger: logger.With().Str("subject", subject).Logger()}
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := s.conn.QueueSubscribe(s.subject, workerQueueGroup, func(msg *nats.Msg) {
		ev, err := DecodeReplenished(msg.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("discarding malformed replenishment event")
			return
		}
		if err := handler(ctx, ev); err != nil {
			s.logger.Error().Err(err).Str("product_id", ev.ProductID).Msg("replenishment handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	return nil
}

func (s *NATSSubscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func DecodeReplenished(data []byte) (domain.ReplenishmentEvent, error) {
	var ev domain.ReplenishmentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.ProductID == "" {
		return ev, fmt.Errorf("replenishment event without product id")
	}
	return ev, nil
}
