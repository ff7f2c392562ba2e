package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

type Store struct {
	*CartStore

	mu            sync.RWMutex
	products      map[string]domain.Product
	movements     []domain.StockMovement
	preOrders     map[string]domain.PreOrder
	subscriptions map[string]domain.BackInStockNotification
	coupons       map[string]domain.Coupon
	orders        map[string]domain.Order
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		CartStore:     NewCartStore(),
		products:      make(map[string]domain.Product),
		movements:     make([]domain.StockMovement, 0, 128),
		preOrders:     make(map[string]domain.PreOrder),
		subscriptions: make(map[string]domain.BackInStockNotification),
		coupons:       make(map[string]domain.Coupon),
		orders:        make(map[string]domain.Order),
	}
}

// NewSeeded returns a store with a small demo catalog and a couple of coupons.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-tee", Name: "Cotton Tee", Price: 150000, Stock: 40, Active: true, Variants: []domain.VariantGroup{
			{Name: "Size", Options: []domain.VariantOption{
				{Value: "S", Stock: 10}, {Value: "M", Stock: 20}, {Value: "L", AdditionalPrice: 10000, Stock: 10},
			}},
		}},
		{ID: "prod-phone", Name: "Phone X", Price: 8000000, DiscountPrice: 7500000, Stock: 5, Active: true, AllowPreOrder: true, Variants: []domain.VariantGroup{
			{Name: "Storage", Options: []domain.VariantOption{
				{Value: "128GB", Stock: 5}, {Value: "512GB", AdditionalPrice: 2000000, Stock: 0},
			}},
		}},
		{ID: "prod-mug", Name: "Enamel Mug", Price: 65000, Stock: 0, Active: true, AllowPreOrder: true},
		{ID: "prod-tote", Name: "Canvas Tote", Price: 90000, Stock: 25, Active: true},
	}
	for _, p := range products {
		p.CreatedAt, p.UpdatedAt = now, now
		s.products[p.ID] = p
	}

	hundred := 100
	s.coupons["WELCOME10"] = domain.Coupon{Code: "WELCOME10", DiscountPercent: 10, Active: true, MaxUses: &hundred}
	s.coupons["BIG25"] = domain.Coupon{Code: "BIG25", DiscountPercent: 25, Active: true, MinAmount: 1000000}
	return s
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := product.Clone()
	return &out, nil
}

func (s *Store) SaveProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" {
		product.ID = xid.New("prod")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.products[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
	} else if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product.Clone()
	out := product.Clone()
	return &out, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p.Clone())
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CommitMovement(_ context.Context, mv domain.StockMovement, expectedPrevious int) (*domain.StockMovement, error) {
	if mv.NewStock < 0 {
		return nil, store.ErrInsufficientStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[mv.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current, err := product.StockAt(mv.Variant)
	if err != nil {
		return nil, store.ErrNotFound
	}
	if current != expectedPrevious {
		return nil, store.ErrConflict
	}
	updated, err := product.WithStockAt(mv.Variant, mv.NewStock)
	if err != nil {
		return nil, store.ErrNotFound
	}

	if mv.ID == "" {
		mv.ID = xid.New("mv")
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	updated.UpdatedAt = mv.CreatedAt
	s.products[mv.ProductID] = updated
	s.movements = append(s.movements, cloneMovement(mv))

	out := cloneMovement(mv)
	return &out, nil
}

func (s *Store) ListMovements(_ context.Context, q domain.MovementQuery) ([]domain.StockMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.StockMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		mv := s.movements[i]
		if q.ProductID != "" && mv.ProductID != q.ProductID {
			continue
		}
		if q.Type != "" && mv.Type != q.Type {
			continue
		}
		matched = append(matched, cloneMovement(mv))
	}
	slices.SortStableFunc(matched, func(a, b domain.StockMovement) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(matched)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = max(total, 1)
	}
	start := (q.Page - 1) * q.Limit
	if start >= total {
		return []domain.StockMovement{}, total, nil
	}
	end := min(start+q.Limit, total)
	return matched[start:end], total, nil
}

func (s *Store) SummarizeMovements(_ context.Context, from time.Time, to time.Time, productID string) ([]domain.MovementSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := map[domain.MovementType]*domain.MovementSummary{}
	for _, mv := range s.movements {
		if productID != "" && mv.ProductID != productID {
			continue
		}
		if mv.CreatedAt.Before(from) || !mv.CreatedAt.Before(to) {
			continue
		}
		sum, ok := byType[mv.Type]
		if !ok {
			sum = &domain.MovementSummary{Type: mv.Type}
			byType[mv.Type] = sum
		}
		sum.TotalQuantity += mv.Quantity
		sum.Count++
	}

	result := make([]domain.MovementSummary, 0, len(byType))
	for _, sum := range byType {
		result = append(result, *sum)
	}
	slices.SortFunc(result, func(a, b domain.MovementSummary) int {
		return strings.Compare(string(a.Type), string(b.Type))
	})
	return result, nil
}

func (s *Store) CreatePreOrder(_ context.Context, p domain.PreOrder) (*domain.PreOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.preOrders {
		if existing.UserID == p.UserID && existing.ProductID == p.ProductID &&
			existing.Variant.Key() == p.Variant.Key() && existing.Status.Active() {
			return nil, store.ErrDuplicate
		}
	}
	if p.ID == "" {
		p.ID = xid.New("po")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	s.preOrders[p.ID] = clonePreOrder(p)
	out := clonePreOrder(p)
	return &out, nil
}

func (s *Store) GetPreOrder(_ context.Context, id string) (*domain.PreOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePreOrder(p)
	return &out, nil
}

func (s *Store) ListPreOrders(_ context.Context, filter domain.PreOrderFilter) ([]domain.PreOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PreOrder, 0, 16)
	for _, p := range s.preOrders {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.ProductID != "" && p.ProductID != filter.ProductID {
			continue
		}
		if filter.VariantKey != nil && p.Variant.Key() != *filter.VariantKey {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, p.Status) {
			continue
		}
		result = append(result, clonePreOrder(p))
	}
	slices.SortFunc(result, comparePreOrderQueue)
	return result, nil
}

func (s *Store) UpdatePreOrder(_ context.Context, p domain.PreOrder, expectedStatus domain.PreOrderStatus) (*domain.PreOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.preOrders[p.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status != expectedStatus {
		return nil, store.ErrConflict
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.preOrders[p.ID] = clonePreOrder(p)
	out := clonePreOrder(p)
	return &out, nil
}

func (s *Store) ExpirePreOrders(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, p := range s.preOrders {
		if p.Status != domain.PreOrderNotified || !p.IsExpired(now) {
			continue
		}
		p.Status = domain.PreOrderExpired
		p.UpdatedAt = now
		s.preOrders[id] = p
		expired++
	}
	return expired, nil
}

func subscriptionKey(email, productID string, variant *domain.VariantSelector) string {
	return strings.ToLower(email) + "|" + productID + "|" + variant.Key()
}

func (s *Store) FindSubscription(_ context.Context, email string, productID string, variant *domain.VariantSelector) (*domain.BackInStockNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionKey(email, productID, variant)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSubscription(sub)
	return &out, nil
}

func (s *Store) CreateSubscription(_ context.Context, sub domain.BackInStockNotification) (*domain.BackInStockNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey(sub.Email, sub.ProductID, sub.Variant)
	if _, exists := s.subscriptions[key]; exists {
		return nil, store.ErrDuplicate
	}
	if sub.ID == "" {
		sub.ID = xid.New("bis")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = sub.CreatedAt
	s.subscriptions[key] = cloneSubscription(sub)
	out := cloneSubscription(sub)
	return &out, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub domain.BackInStockNotification, expectedStatus domain.SubscriptionStatus) (*domain.BackInStockNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey(sub.Email, sub.ProductID, sub.Variant)
	current, ok := s.subscriptions[key]
	if !ok || current.ID != sub.ID {
		return nil, store.ErrNotFound
	}
	if current.Status != expectedStatus {
		return nil, store.ErrConflict
	}
	sub.CreatedAt = current.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[key] = cloneSubscription(sub)
	out := cloneSubscription(sub)
	return &out, nil
}

func (s *Store) ListSubscriptions(_ context.Context, filter domain.SubscriptionFilter) ([]domain.BackInStockNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.BackInStockNotification, 0, 16)
	for _, sub := range s.subscriptions {
		if matchSubscription(sub, filter) {
			result = append(result, cloneSubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b domain.BackInStockNotification) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) CountSubscriptions(_ context.Context, filter domain.SubscriptionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sub := range s.subscriptions {
		if matchSubscription(sub, filter) {
			n++
		}
	}
	return n, nil
}

func matchSubscription(sub domain.BackInStockNotification, filter domain.SubscriptionFilter) bool {
	if filter.ProductID != "" && sub.ProductID != filter.ProductID {
		return false
	}
	if filter.VariantKey != nil && sub.Variant.Key() != *filter.VariantKey {
		return false
	}
	if filter.Status != "" && sub.Status != filter.Status {
		return false
	}
	return true
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coupon, ok := s.coupons[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneCoupon(coupon)
	return &out, nil
}

func (s *Store) SaveCoupon(_ context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if coupon.Code == "" {
		return nil, store.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.coupons[coupon.Code] = cloneCoupon(coupon)
	out := cloneCoupon(coupon)
	return &out, nil
}

func (s *Store) RedeemCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, ok := s.coupons[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	if coupon.Exhausted() {
		return nil, store.ErrConflict
	}
	coupon.UsedCount++
	s.coupons[code] = coupon
	out := cloneCoupon(coupon)
	return &out, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertOrder(order), nil
}

func (s *Store) insertOrder(order domain.Order) *domain.Order {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Lines = slices.Clone(order.Lines)
	s.orders[order.ID] = order
	out := order
	out.Lines = slices.Clone(order.Lines)
	return &out
}

func (s *Store) ConvertPreOrder(_ context.Context, preOrderID string, order domain.Order, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.preOrders[preOrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != domain.PreOrderNotified {
		return nil, store.ErrConflict
	}

	order.PreOrderID = preOrderID
	created := s.insertOrder(order)
	p.Status = domain.PreOrderConverted
	p.ConvertedOrderID = created.ID
	p.UpdatedAt = at
	s.preOrders[preOrderID] = p
	return created, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Lines = slices.Clone(order.Lines)
	return &order, nil
}

func comparePreOrderQueue(a, b domain.PreOrder) int {
	if a.Priority != b.Priority {
		return b.Priority - a.Priority
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneSelector(v *domain.VariantSelector) *domain.VariantSelector {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	dup := *t
	return &dup
}

func cloneMovement(src domain.StockMovement) domain.StockMovement {
	dup := src
	dup.Variant = cloneSelector(src.Variant)
	if src.Supplier != nil {
		supplier := *src.Supplier
		dup.Supplier = &supplier
	}
	return dup
}

func clonePreOrder(src domain.PreOrder) domain.PreOrder {
	dup := src
	dup.Variant = cloneSelector(src.Variant)
	dup.EstimatedDate = cloneTime(src.EstimatedDate)
	dup.NotifiedAt = cloneTime(src.NotifiedAt)
	dup.ExpiresAt = cloneTime(src.ExpiresAt)
	return dup
}

func cloneSubscription(src domain.BackInStockNotification) domain.BackInStockNotification {
	dup := src
	dup.Variant = cloneSelector(src.Variant)
	dup.NotifiedAt = cloneTime(src.NotifiedAt)
	return dup
}

func cloneCoupon(src domain.Coupon) domain.Coupon {
	dup := src
	if src.MaxUses != nil {
		maxUses := *src.MaxUses
		dup.MaxUses = &maxUses
	}
	dup.StartDate = cloneTime(src.StartDate)
	dup.EndDate = cloneTime(src.EndDate)
	return dup
}
