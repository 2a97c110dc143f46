package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/memory"
)

// recordingStockStore records the product of every conditional write and
// can be told to fail writes with a lock conflict or a hard error.
type recordingStockStore struct {
	*memory.StockStore

	mu       sync.Mutex
	writes   []string
	conflict atomic.Bool
	broken   atomic.Bool
}

func (s *recordingStockStore) UpdateStock(ctx context.Context, rec domain.StockRecord, expectedVersion int64) error {
	if s.broken.Load() {
		return errors.New("disk full")
	}
	if s.conflict.Load() {
		return domain.WrapError(errors.New("deadlock detected"), domain.ECONFLICT, "stock.update", "Concurrent update, please retry")
	}
	s.mu.Lock()
	s.writes = append(s.writes, rec.ProductID)
	s.mu.Unlock()
	return s.StockStore.UpdateStock(ctx, rec, expectedVersion)
}

func (s *recordingStockStore) reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.writes
	s.writes = nil
	return out
}

func newSettlementService(t *testing.T) (LifecycleService, *recordingStockStore) {
	t.Helper()
	svc, stock, _ := newCachedSettlementService(t)
	return svc, stock
}

func newCachedSettlementService(t *testing.T) (LifecycleService, *recordingStockStore, *fakeCache) {
	t.Helper()
	base := memory.NewStockStore()
	for _, p := range []string{"P1", "P2", "P3"} {
		base.Seed(domain.StockRecord{ProductID: p, LocationID: "store-1", Available: 50})
	}
	stock := &recordingStockStore{StockStore: base}
	cache := &fakeCache{}

	svc, err := NewLifecycleService(LifecycleDeps{
		Catalog: memory.NewCatalog(
			domain.Product{ID: "P1", Name: "Coffee beans", Active: true, MinOrderQty: 1, UnitPriceCents: 1500},
			domain.Product{ID: "P2", Name: "Paper cups", Active: true, MinOrderQty: 1, UnitPriceCents: 800},
			domain.Product{ID: "P3", Name: "Syrup", Active: true, MinOrderQty: 1, UnitPriceCents: 600},
		),
		Orders: memory.NewOrderStore(),
		Stock:  stock,
		Outbox: memory.NewOutbox(),
		Tx:     memory.Tx{},
		Cache:  cache,
		Retry:  fastRetry(5),
		Clock:  func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc, stock, cache
}

func TestSettlement_TouchesStockInProductOrder(t *testing.T) {
	ctx := context.Background()
	svc, stock := newSettlementService(t)

	cart := domain.Cart{LocationID: "store-1", Lines: []domain.CartLine{
		{ProductID: "P3", Quantity: 1},
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 3},
	}}
	o, err := svc.Checkout(ctx, requester, cart)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2", "P3"}, stock.reset(), "checkout")

	_, err = svc.Decide(ctx, o.ID, approverA, domain.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2", "P3"}, stock.reset(), "approve")

	_, err = svc.Cancel(ctx, o.ID, requester, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2", "P3"}, stock.reset(), "restock")

	o, err = svc.Checkout(ctx, requester, cart)
	require.NoError(t, err)
	stock.reset()
	_, err = svc.Decide(ctx, o.ID, approverA, domain.DecisionReject, "over budget")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2", "P3"}, stock.reset(), "release")
}

func TestSettlement_LockConflictSurfacesAsConflict(t *testing.T) {
	ctx := context.Background()
	svc, stock := newSettlementService(t)

	o, err := svc.Checkout(ctx, requester, domain.Cart{LocationID: "store-1", Lines: []domain.CartLine{
		{ProductID: "P2", Quantity: 1},
		{ProductID: "P1", Quantity: 1},
	}})
	require.NoError(t, err)

	stock.conflict.Store(true)
	_, err = svc.Decide(ctx, o.ID, approverA, domain.DecisionApprove, "")

	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestSortMoves(t *testing.T) {
	moves := []stockMove{
		{kind: moveCommit, res: domain.Reservation{ProductID: "P2", LocationID: "store-1"}},
		{kind: moveCommit, res: domain.Reservation{ProductID: "P1", LocationID: "store-2"}},
		{kind: moveRelease, res: domain.Reservation{ProductID: "P1", LocationID: "store-1"}},
	}
	sortMoves(moves)

	var got []string
	for _, m := range moves {
		got = append(got, m.res.ProductID+"@"+m.res.LocationID)
	}
	assert.Equal(t, []string{"P1@store-1", "P1@store-2", "P2@store-1"}, got)
}

func TestSettlement_InternalFailureDropsCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, stock, cache := newCachedSettlementService(t)

	o, err := svc.Checkout(ctx, requester, domain.Cart{LocationID: "store-1", Lines: []domain.CartLine{
		{ProductID: "P1", Quantity: 1},
	}})
	require.NoError(t, err)
	cached, _ := cache.Get(ctx, o.ID)
	require.NotNil(t, cached)

	stock.broken.Store(true)
	_, err = svc.Decide(ctx, o.ID, approverA, domain.DecisionApprove, "")
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	cached, _ = cache.Get(ctx, o.ID)
	assert.Nil(t, cached)

	_, err = svc.Cancel(ctx, o.ID, requester, "")
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	cached, _ = cache.Get(ctx, o.ID)
	assert.Nil(t, cached)
}
