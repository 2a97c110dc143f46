package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/telemetry"
)

// StockLedger owns per-product available and reserved quantities at a
// location. Every mutation is a read-modify-write conditioned on the
// record's version and retried on mismatch under the ledger's RetryPolicy.
type StockLedger struct {
	store  domain.StockStore
	policy RetryPolicy
	now    func() time.Time
}

// NewStockLedger creates a ledger over store.
func NewStockLedger(store domain.StockStore, policy RetryPolicy) *StockLedger {
	return &StockLedger{
		store:  store,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const opReceive = "stock.receive"

// stockChange computes the next record from the current one. Returning an
// error aborts the loop without writing.
type stockChange func(op string, rec *domain.StockRecord) error

// Reserve holds qty for a pending order. It succeeds only if the free
// quantity covers qty. A non-zero expectedVersion must match the stored
// version or the call fails with a conflict; 0 reads the latest version.
func (l *StockLedger) Reserve(ctx context.Context, productID, locationID string, qty, expectedVersion int64) (domain.StockRecord, error) {
	return l.mutate(ctx, "stock.reserve", productID, locationID, qty, expectedVersion, func(op string, rec *domain.StockRecord) error {
		if rec.Free() < qty {
			return &domain.InsufficientStockError{
				Op:         op,
				ProductID:  productID,
				LocationID: locationID,
				Requested:  qty,
				Free:       max(rec.Free(), 0),
			}
		}
		rec.Reserved += qty
		return nil
	})
}

// Commit converts a reservation into a permanent deduction.
func (l *StockLedger) Commit(ctx context.Context, productID, locationID string, qty int64) (domain.StockRecord, error) {
	return l.mutate(ctx, "stock.commit", productID, locationID, qty, 0, func(op string, rec *domain.StockRecord) error {
		if rec.Reserved < qty || rec.Available < qty {
			return domain.Internal(
				fmt.Errorf("commit %d with available=%d reserved=%d", qty, rec.Available, rec.Reserved),
				op, "Stock reservation is out of sync")
		}
		rec.Available -= qty
		rec.Reserved -= qty
		return nil
	})
}

// Release reverses a reservation without touching the available quantity.
func (l *StockLedger) Release(ctx context.Context, productID, locationID string, qty int64) (domain.StockRecord, error) {
	return l.mutate(ctx, "stock.release", productID, locationID, qty, 0, func(op string, rec *domain.StockRecord) error {
		if rec.Reserved < qty {
			return domain.Internal(
				fmt.Errorf("release %d with reserved=%d", qty, rec.Reserved),
				op, "Stock reservation is out of sync")
		}
		rec.Reserved -= qty
		return nil
	})
}

// Restock returns committed quantity to the shelf, used when an approved
// order is cancelled before it ships.
func (l *StockLedger) Restock(ctx context.Context, productID, locationID string, qty int64) (domain.StockRecord, error) {
	return l.mutate(ctx, "stock.restock", productID, locationID, qty, 0, func(_ string, rec *domain.StockRecord) error {
		rec.Available += qty
		return nil
	})
}

// Deduct removes qty sold at the point of sale. Reserved stock is not
// available for sale.
func (l *StockLedger) Deduct(ctx context.Context, productID, locationID string, qty int64) (domain.StockRecord, error) {
	return l.mutate(ctx, "stock.deduct", productID, locationID, qty, 0, func(op string, rec *domain.StockRecord) error {
		if rec.Free() < qty {
			return &domain.InsufficientStockError{
				Op:         op,
				ProductID:  productID,
				LocationID: locationID,
				Requested:  qty,
				Free:       max(rec.Free(), 0),
			}
		}
		rec.Available -= qty
		return nil
	})
}

// Receive adds qty of goods-in, creating the record on first receipt.
func (l *StockLedger) Receive(ctx context.Context, productID, locationID string, qty int64) (domain.StockRecord, error) {
	return l.mutate(ctx, opReceive, productID, locationID, qty, 0, func(_ string, rec *domain.StockRecord) error {
		rec.Available += qty
		return nil
	})
}

// Get returns a read-only snapshot.
func (l *StockLedger) Get(ctx context.Context, productID, locationID string) (domain.StockRecord, error) {
	return l.store.GetStock(ctx, productID, locationID)
}

func (l *StockLedger) mutate(ctx context.Context, op, productID, locationID string, qty, expectedVersion int64, change stockChange) (domain.StockRecord, error) {
	if err := checkQty(op, productID, locationID, qty); err != nil {
		return domain.StockRecord{}, err
	}

	// A caller-supplied version pins the write to that snapshot. Only
	// "read latest" (0) callers go through the retry loop.
	pinned := expectedVersion > 0

	var out domain.StockRecord
	err := retry.Do(ctx, l.policy.backoff(), func(ctx context.Context) error {
		rec, err := l.store.GetStock(ctx, productID, locationID)
		switch {
		case domain.IsCode(err, domain.ENOTFOUND) && op == opReceive:
			// First receipt at this location; version 0 means "create".
			rec = domain.StockRecord{ProductID: productID, LocationID: locationID}
		case err != nil:
			return err
		}
		if pinned && rec.Version != expectedVersion {
			recordStockConflict(op)
			return domain.ErrVersionMismatch
		}

		next := rec
		if err := change(op, &next); err != nil {
			return err
		}
		next.Version = rec.Version + 1
		next.UpdatedAt = l.now()

		if rec.Version == 0 {
			err = l.store.CreateStock(ctx, next)
		} else {
			err = l.store.UpdateStock(ctx, next, rec.Version)
		}
		if err != nil {
			if errors.Is(err, domain.ErrVersionMismatch) {
				recordStockConflict(op)
			}
			if pinned {
				return err
			}
			return retryOnMismatch(err)
		}
		out = next
		return nil
	})
	return out, l.finish(op, err)
}

// finish maps an exhausted retry loop to a conflict and records the outcome.
func (l *StockLedger) finish(op string, err error) error {
	if errors.Is(err, domain.ErrVersionMismatch) {
		if telemetry.Business != nil {
			telemetry.Business.StockExhausted.WithLabelValues(op).Inc()
		}
		err = domain.WrapError(err, domain.ECONFLICT, op, "Stock record changed concurrently, please retry")
	}
	if telemetry.Business != nil {
		result := "ok"
		if err != nil {
			result = domain.ErrorCode(err)
		}
		telemetry.Business.StockOperations.WithLabelValues(op, result).Inc()
	}
	return err
}

func checkQty(op, productID, locationID string, qty int64) error {
	if productID == "" || locationID == "" {
		return domain.Invalid(op, "Product and location are required")
	}
	if qty <= 0 {
		return domain.Invalid(op, "Quantity must be greater than 0")
	}
	return nil
}

func recordStockConflict(op string) {
	if telemetry.Business != nil {
		telemetry.Business.StockConflicts.WithLabelValues(op).Inc()
	}
}
