package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/memory"
	"github.com/dukerupert/franchise/internal/service"
)

var quietLogger = slog.New(slog.DiscardHandler)

type reaperFixture struct {
	orders *memory.OrderStore
	stock  *memory.StockStore
	svc    service.LifecycleService
	now    time.Time
}

func newReaperFixture(t *testing.T) *reaperFixture {
	t.Helper()
	f := &reaperFixture{
		orders: memory.NewOrderStore(),
		stock:  memory.NewStockStore(),
		now:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	f.stock.Seed(domain.StockRecord{ProductID: "P1", LocationID: "store-1", Available: 10})

	svc, err := service.NewLifecycleService(service.LifecycleDeps{
		Catalog: memory.NewCatalog(domain.Product{ID: "P1", Active: true, MinOrderQty: 1, UnitPriceCents: 100}),
		Orders:  f.orders,
		Stock:   f.stock,
		Outbox:  memory.NewOutbox(),
		Tx:      memory.Tx{},
		Logger:  quietLogger,
		Clock:   func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *reaperFixture) checkout(t *testing.T, qty int64) *domain.Order {
	t.Helper()
	actor := domain.Actor{ID: "franchisee-1", Roles: []domain.Role{domain.RoleRequester}}
	o, err := f.svc.Checkout(context.Background(), actor, domain.Cart{
		LocationID: "store-1",
		Lines:      []domain.CartLine{{ProductID: "P1", Quantity: qty}},
	})
	require.NoError(t, err)
	return o
}

func TestReaper_CancelsOverdueOrders(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	overdue := f.checkout(t, 3)
	f.now = f.now.Add(48 * time.Hour)
	fresh := f.checkout(t, 2)

	r := NewReaper(f.orders, f.svc, ReaperConfig{SLA: 72 * time.Hour}, quietLogger)
	r.now = func() time.Time { return f.now.Add(25 * time.Hour) }

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Examined: 1, Cancelled: 1}, res)

	got, err := f.svc.GetOrder(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	last := got.History[len(got.History)-1]
	assert.Equal(t, r.config.WorkerID, last.ActorID)
	assert.Contains(t, last.Reason, "72h0m0s")

	got, err = f.svc.GetOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingApproval, got.Status)

	rec, err := f.stock.GetStock(ctx, "P1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Reserved)
}

func TestReaper_LeavesDecidedOrders(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	o := f.checkout(t, 3)
	approver := domain.Actor{ID: "approver-1", Roles: []domain.Role{domain.RoleApprover}}
	_, err := f.svc.Decide(ctx, o.ID, approver, domain.DecisionApprove, "")
	require.NoError(t, err)

	r := NewReaper(f.orders, f.svc, ReaperConfig{SLA: time.Hour}, quietLogger)
	r.now = func() time.Time { return f.now.Add(100 * time.Hour) }

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Examined)

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusApproved, got.Status)
}

// stubExpirer answers ExpirePending per order id.
type stubExpirer struct {
	mu      sync.Mutex
	results map[string]error
	calls   []string
}

func (s *stubExpirer) ExpirePending(ctx context.Context, orderID string, actor domain.Actor, reason string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, orderID)
	return nil, s.results[orderID]
}

type stubLister []*domain.Order

func (l stubLister) ListPendingApproval(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return l, nil
}

func TestReaper_ClassifiesOutcomes(t *testing.T) {
	lister := stubLister{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	exp := &stubExpirer{results: map[string]error{
		"b": &domain.InvalidTransitionError{Op: "test", Status: domain.OrderStatusApproved, Event: domain.EventCancel},
		"c": domain.NotFound("test", "order", "c"),
		"d": errors.New("store down"),
	}}

	r := NewReaper(lister, exp, ReaperConfig{Config: Config{MaxConcurrency: 2}}, quietLogger)
	res, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReapResult{Examined: 4, Cancelled: 1, Skipped: 2, Failed: 1}, res)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, exp.calls)
}

func TestReaper_StartStopsOnCancel(t *testing.T) {
	exp := &stubExpirer{}
	r := NewReaper(stubLister{{ID: "a"}}, exp, ReaperConfig{Config: Config{PollInterval: 5 * time.Millisecond}}, quietLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool {
		exp.mu.Lock()
		defer exp.mu.Unlock()
		return len(exp.calls) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaperConfigDefaults(t *testing.T) {
	r := NewReaper(stubLister{}, &stubExpirer{}, ReaperConfig{}, nil)
	assert.Equal(t, time.Minute, r.config.PollInterval)
	assert.Equal(t, 72*time.Hour, r.config.SLA)
	assert.Equal(t, 100, r.config.BatchSize)
	assert.Equal(t, 5, r.config.MaxConcurrency)
	assert.Contains(t, r.config.WorkerID, "reaper-")
}
