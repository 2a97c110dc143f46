// Package postgres implements the domain store contracts on PostgreSQL via
// pgx. Conditional writes use the version column as an optimistic lock and
// report domain.ErrVersionMismatch when zero rows match. Deadlocks and
// serialization failures abort the whole transaction, so they surface as
// conflicts and WithinTx reruns the unit of work.
package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/franchise/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"

	// txAttempts bounds reruns of a transaction aborted by a lock conflict.
	txAttempts = 3
)

// DB wraps the pool and carries the current transaction in the context so
// every store joins it.
type DB struct {
	pool *pgxpool.Pool
}

// Compile-time check that DB implements domain.Transactor.
var _ domain.Transactor = (*DB)(nil)

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// WithinTx runs fn in a transaction. A nested call joins the outer
// transaction. When Postgres aborts the transaction with a deadlock or
// serialization failure fn is run again from the start in a fresh one.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	backoff := retry.WithMaxRetries(txAttempts-1, retry.WithJitterPercent(50, retry.NewExponential(5*time.Millisecond)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := db.runTx(ctx, fn)
		if isLockConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Internal(err, "postgres.begin", "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr(err, "postgres.commit", "failed to commit transaction")
	}
	return nil
}

// isLockConflict reports whether err carries a Postgres deadlock or
// serialization failure.
func isLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlstateDeadlockDetected || pgErr.Code == sqlstateSerializationFailure
}

// storeErr classifies a driver error: lock conflicts become ECONFLICT,
// everything else EINTERNAL.
func storeErr(err error, op, message string) error {
	if isLockConflict(err) {
		return domain.WrapError(err, domain.ECONFLICT, op, "Concurrent update, please retry")
	}
	return domain.Internal(err, op, message)
}

func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}

// internal wraps a driver error unless it is already a domain error.
func internal(err error, op, format string, args ...any) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return storeErr(err, op, fmt.Sprintf(format, args...))
}

func sortMessages(msgs []domain.OutboxMessage) {
	slices.SortFunc(msgs, func(a, b domain.OutboxMessage) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
