package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/memory"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, BaseDelay: 50 * time.Microsecond, MaxDelay: time.Millisecond, JitterPercent: 50}
}

// contendedStockStore simulates another writer winning the first n
// conditional writes.
type contendedStockStore struct {
	*memory.StockStore
	lose    atomic.Int32
	updates atomic.Int32
}

func (s *contendedStockStore) UpdateStock(ctx context.Context, rec domain.StockRecord, expectedVersion int64) error {
	s.updates.Add(1)
	if s.lose.Add(-1) >= 0 {
		return domain.ErrVersionMismatch
	}
	return s.StockStore.UpdateStock(ctx, rec, expectedVersion)
}

func seededLedger(t *testing.T, available, reserved int64) (*StockLedger, *memory.StockStore) {
	t.Helper()
	store := memory.NewStockStore()
	store.Seed(domain.StockRecord{ProductID: "flour", LocationID: "store-1", Available: available, Reserved: reserved})
	return NewStockLedger(store, fastRetry(5)), store
}

func TestStockLedger_Operations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		available     int64
		reserved      int64
		run           func(l *StockLedger) (domain.StockRecord, error)
		wantCode      string
		wantAvailable int64
		wantReserved  int64
	}{
		{
			name:      "reserve within free stock",
			available: 10,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Reserve(ctx, "flour", "store-1", 6, 0)
			},
			wantAvailable: 10,
			wantReserved:  6,
		},
		{
			name:      "reserve beyond free stock",
			available: 10,
			reserved:  6,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Reserve(ctx, "flour", "store-1", 6, 0)
			},
			wantCode:      domain.EINSUFFICIENTSTOCK,
			wantAvailable: 10,
			wantReserved:  6,
		},
		{
			name:      "commit deducts both quantities",
			available: 10,
			reserved:  6,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Commit(ctx, "flour", "store-1", 6)
			},
			wantAvailable: 4,
			wantReserved:  0,
		},
		{
			name:      "commit more than reserved is internal",
			available: 10,
			reserved:  2,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Commit(ctx, "flour", "store-1", 6)
			},
			wantCode:      domain.EINTERNAL,
			wantAvailable: 10,
			wantReserved:  2,
		},
		{
			name:      "release keeps available",
			available: 10,
			reserved:  6,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Release(ctx, "flour", "store-1", 6)
			},
			wantAvailable: 10,
			wantReserved:  0,
		},
		{
			name:      "restock adds to available",
			available: 4,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Restock(ctx, "flour", "store-1", 6)
			},
			wantAvailable: 10,
		},
		{
			name:      "sale cannot touch reserved stock",
			available: 10,
			reserved:  8,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Deduct(ctx, "flour", "store-1", 3)
			},
			wantCode:      domain.EINSUFFICIENTSTOCK,
			wantAvailable: 10,
			wantReserved:  8,
		},
		{
			name:      "sale from free stock",
			available: 10,
			reserved:  4,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Deduct(ctx, "flour", "store-1", 3)
			},
			wantAvailable: 7,
			wantReserved:  4,
		},
		{
			name:      "receive into existing record",
			available: 10,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Receive(ctx, "flour", "store-1", 5)
			},
			wantAvailable: 15,
		},
		{
			name:      "non-positive quantity",
			available: 10,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Reserve(ctx, "flour", "store-1", 0, 0)
			},
			wantCode:      domain.EINVALID,
			wantAvailable: 10,
		},
		{
			name:      "missing record",
			available: 10,
			run: func(l *StockLedger) (domain.StockRecord, error) {
				return l.Reserve(ctx, "sugar", "store-1", 1, 0)
			},
			wantCode:      domain.ENOTFOUND,
			wantAvailable: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, store := seededLedger(t, tt.available, tt.reserved)

			_, err := tt.run(l)
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			}

			rec, err := store.GetStock(ctx, "flour", "store-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAvailable, rec.Available)
			assert.Equal(t, tt.wantReserved, rec.Reserved)
			if tt.wantCode == "" {
				assert.Equal(t, int64(2), rec.Version)
			} else {
				assert.Equal(t, int64(1), rec.Version, "failed operations must not write")
			}
		})
	}
}

func TestStockLedger_ReceiveCreatesRecord(t *testing.T) {
	ctx := context.Background()
	l := NewStockLedger(memory.NewStockStore(), fastRetry(5))

	rec, err := l.Receive(ctx, "sugar", "store-2", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.Available)
	assert.Equal(t, int64(1), rec.Version)

	rec, err = l.Receive(ctx, "sugar", "store-2", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(15), rec.Available)
	assert.Equal(t, int64(2), rec.Version)
}

func TestStockLedger_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStockStore()
	base.Seed(domain.StockRecord{ProductID: "flour", LocationID: "store-1", Available: 10})
	store := &contendedStockStore{StockStore: base}
	store.lose.Store(3)

	l := NewStockLedger(store, fastRetry(5))
	rec, err := l.Reserve(ctx, "flour", "store-1", 2, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Reserved)
	assert.Equal(t, int32(4), store.updates.Load())
}

func TestStockLedger_SurfacesConflictAfterRetries(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStockStore()
	base.Seed(domain.StockRecord{ProductID: "flour", LocationID: "store-1", Available: 10})
	store := &contendedStockStore{StockStore: base}
	store.lose.Store(100)

	l := NewStockLedger(store, fastRetry(5))
	_, err := l.Reserve(ctx, "flour", "store-1", 2, 0)

	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.ErrorIs(t, err, domain.ErrVersionMismatch)
	assert.Equal(t, int32(5), store.updates.Load())

	rec, _ := base.GetStock(ctx, "flour", "store-1")
	assert.Equal(t, int64(0), rec.Reserved)
}

func TestStockLedger_ExpectedVersion(t *testing.T) {
	ctx := context.Background()
	l, store := seededLedger(t, 10, 0)

	_, err := l.Reserve(ctx, "flour", "store-1", 2, 999)
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.ErrorIs(t, err, domain.ErrVersionMismatch)

	rec, err := store.GetStock(ctx, "flour", "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Reserved)
	assert.Equal(t, int64(1), rec.Version)

	rec, err = l.Reserve(ctx, "flour", "store-1", 2, rec.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Reserved)
	assert.Equal(t, int64(2), rec.Version)

	// The token from before the write is now stale.
	_, err = l.Reserve(ctx, "flour", "store-1", 2, 1)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestStockLedger_ExpectedVersionNotRetriedOnWriteConflict(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStockStore()
	base.Seed(domain.StockRecord{ProductID: "flour", LocationID: "store-1", Available: 10})
	store := &contendedStockStore{StockStore: base}
	store.lose.Store(1)

	l := NewStockLedger(store, fastRetry(5))
	_, err := l.Reserve(ctx, "flour", "store-1", 2, 1)

	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, int32(1), store.updates.Load())
}

func TestStockLedger_NoOversellUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	const initial = 25

	store := memory.NewStockStore()
	store.Seed(domain.StockRecord{ProductID: "flour", LocationID: "store-1", Available: initial})
	l := NewStockLedger(store, fastRetry(50))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "flour", "store-1", 2, 0)
			if err == nil {
				succeeded.Add(2)
				return
			}
			code := domain.ErrorCode(err)
			assert.Contains(t, []string{domain.EINSUFFICIENTSTOCK, domain.ECONFLICT}, code)
		}()
	}
	wg.Wait()

	rec, err := store.GetStock(ctx, "flour", "store-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, rec.Reserved, int64(initial))
	assert.Equal(t, succeeded.Load(), rec.Reserved)
	assert.Equal(t, int64(initial), rec.Available)
}
