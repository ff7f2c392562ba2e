package memory

import (
	"context"
	"sync"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

// CartStore keeps carts in a map. It backs durable carts inside Store and, on its
// own, stands in for the Redis guest cart store in development.
type CartStore struct {
	mu    sync.Mutex
	carts map[domain.CartRef]domain.Cart
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[domain.CartRef]domain.Cart)}
}

func (s *CartStore) LoadCart(_ context.Context, ref domain.CartRef) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cart.Clone()
	return &out, nil
}

func (s *CartStore) SaveCart(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	if !cart.Kind.Valid() || cart.Key == "" {
		return nil, store.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref := cart.Ref()
	current, exists := s.carts[ref]
	switch {
	case !exists && cart.Version != 0:
		return nil, store.ErrConflict
	case exists && current.Version != cart.Version:
		return nil, store.ErrConflict
	}

	saved := cart.Clone()
	saved.Version++
	saved.UpdatedAt = time.Now().UTC()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = saved.UpdatedAt
	}
	s.carts[ref] = saved
	out := saved.Clone()
	return &out, nil
}

func (s *CartStore) TakeCart(_ context.Context, ref domain.CartRef) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.carts, ref)
	return &cart, nil
}

func (s *CartStore) DeleteCart(_ context.Context, ref domain.CartRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, ref)
	return nil
}
