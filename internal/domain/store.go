package domain

import (
	"context"
	"errors"
	"time"
)

// ErrVersionMismatch is returned by conditional writes when the stored
// version differs from the expected one. Nothing is written.
var ErrVersionMismatch = errors.New("version mismatch")

// OrderStore persists orders with a version guard and append-only history.
type OrderStore interface {
	// CreateOrder inserts a new order with its items, reservations and history.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrder returns the order or a not_found error.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// UpdateOrder writes o if the stored version equals expectedVersion and
	// appends the history entries newer than expectedVersion. Returns
	// ErrVersionMismatch otherwise.
	UpdateOrder(ctx context.Context, o *Order, expectedVersion int64) error

	// ListPendingApproval returns orders still pending approval that were
	// submitted before the cutoff, oldest first.
	ListPendingApproval(ctx context.Context, submittedBefore time.Time, limit int) ([]*Order, error)
}

// StockStore persists stock records with a version guard.
type StockStore interface {
	GetStock(ctx context.Context, productID, locationID string) (StockRecord, error)

	// UpdateStock writes rec if the stored version equals expectedVersion.
	UpdateStock(ctx context.Context, rec StockRecord, expectedVersion int64) error

	// CreateStock inserts a new record. Returns ErrVersionMismatch if one exists.
	CreateStock(ctx context.Context, rec StockRecord) error
}

// ProductCatalog resolves product master data. Unknown IDs are absent from
// the returned map.
type ProductCatalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

// Outbox records lifecycle events in the same transaction as the state
// change that produced them.
type Outbox interface {
	Append(ctx context.Context, events ...LifecycleEvent) error
}

// OutboxMessage is an outbox row awaiting dispatch.
type OutboxMessage struct {
	ID        int64
	Event     LifecycleEvent
	Attempts  int
	CreatedAt time.Time
}

// OutboxSource is the relay's side of the outbox.
type OutboxSource interface {
	// ClaimPending leases up to limit undispatched messages, oldest first.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)
	MarkDispatched(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// Transactor runs fn in a single store transaction. Stores without
// transactions run fn directly.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
