package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

const keyPrefix = "storefront:cart:"

// GuestCartStore keeps session-keyed carts in Redis. Every save refreshes the TTL,
// so abandoned guest carts disappear on their own.
type GuestCartStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ store.CartRepository = (*GuestCartStore)(nil)

func NewGuestCartStore(addr string, password string, db int, ttl time.Duration) *GuestCartStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &GuestCartStore{client: client, ttl: ttl}
}

func (s *GuestCartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *GuestCartStore) Close() error {
	return s.client.Close()
}

func cartKey(ref domain.CartRef) string {
	return keyPrefix + ref.String()
}

func decodeCart(val string) (*domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal([]byte(val), &cart); err != nil {
		return nil, err
	}
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	return &cart, nil
}

func (s *GuestCartStore) LoadCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	val, err := s.client.Get(ctx, cartKey(ref)).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCart(val)
}

func (s *GuestCartStore) SaveCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	key := cartKey(cart.Ref())
	var saved domain.Cart

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		val, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			existing, err := decodeCart(val)
			if err != nil {
				return err
			}
			current = existing.Version
		}
		if current != cart.Version {
			return store.ErrConflict
		}

		saved = cart.Clone()
		saved.Version++
		saved.UpdatedAt = time.Now().UTC()
		if saved.CreatedAt.IsZero() {
			saved.CreatedAt = saved.UpdatedAt
		}
		payload, err := json.Marshal(saved)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *GuestCartStore) TakeCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	val, err := s.client.GetDel(ctx, cartKey(ref)).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCart(val)
}

func (s *GuestCartStore) DeleteCart(ctx context.Context, ref domain.CartRef) error {
	return s.client.Del(ctx, cartKey(ref)).Err()
}
