package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/franchise/internal/domain"
)

// OrderStore keeps orders in a map guarded by a RWMutex. Stored orders are
// cloned on the way in and out so callers never share memory with the store.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*domain.Order)}
}

func (s *OrderStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return domain.Conflict("order.create", "order already exists: "+o.ID)
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound("order.get", "order", id)
	}
	return o.Clone(), nil
}

func (s *OrderStore) UpdateOrder(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.ID]
	if !ok {
		return domain.NotFound("order.update", "order", o.ID)
	}
	if stored.Version != expectedVersion {
		return domain.ErrVersionMismatch
	}

	// History is append-only: keep what is stored and add the new entries.
	next := o.Clone()
	next.History = append(slices.Clone(stored.History), o.HistorySince(expectedVersion)...)
	s.orders[o.ID] = next
	return nil
}

func (s *OrderStore) ListPendingApproval(ctx context.Context, submittedBefore time.Time, limit int) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if o.Status != domain.OrderStatusPendingApproval {
			continue
		}
		if o.StatusTimes[domain.OrderStatusPendingApproval].Before(submittedBefore) {
			out = append(out, o.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Order) int {
		return a.StatusTimes[domain.OrderStatusPendingApproval].Compare(b.StatusTimes[domain.OrderStatusPendingApproval])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
