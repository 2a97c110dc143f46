package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/franchise/internal/domain"
)

// Outbox implements domain.Outbox and domain.OutboxSource on the outbox
// table. Append joins the caller's transaction so an event is stored if and
// only if the state change that produced it commits.
type Outbox struct {
	db *DB
}

var (
	_ domain.Outbox       = (*Outbox)(nil)
	_ domain.OutboxSource = (*Outbox)(nil)
)

func NewOutbox(db *DB) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) Append(ctx context.Context, events ...domain.LifecycleEvent) error {
	const op = "outbox.append"

	batch := &pgx.Batch{}
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return domain.Internal(err, op, "failed to encode event")
		}
		eventID, err := uuid.Parse(e.ID)
		if err != nil {
			return domain.Internal(err, op, "event id must be a UUID")
		}
		aggregateID, err := uuid.Parse(e.OrderID)
		if err != nil {
			return domain.Internal(err, op, "order id must be a UUID")
		}
		batch.Queue(`
			INSERT INTO outbox (event_id, event_type, aggregate_id, payload)
			VALUES ($1, $2, $3, $4)`,
			eventID, e.Type, aggregateID, string(payload))
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := o.db.conn(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return storeErr(err, op, "failed to append events")
	}
	return nil
}

// ClaimPending leases a batch with FOR UPDATE SKIP LOCKED so concurrent
// relays never claim the same rows.
func (o *Outbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	const op = "outbox.claim"

	var msgs []domain.OutboxMessage
	err := o.db.WithinTx(ctx, func(ctx context.Context) error {
		rows, err := o.db.conn(ctx).Query(ctx, `
			UPDATE outbox
			SET lease_until = now() + make_interval(secs => $2), attempts = attempts + 1
			WHERE id IN (
				SELECT id FROM outbox
				WHERE dispatched_at IS NULL
				  AND (lease_until IS NULL OR lease_until < now())
				ORDER BY id
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			RETURNING id, payload, attempts, created_at`,
			limit, lease.Seconds(),
		)
		if err != nil {
			return storeErr(err, op, "failed to claim outbox batch")
		}

		msgs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxMessage, error) {
			var (
				m       domain.OutboxMessage
				payload []byte
			)
			if err := row.Scan(&m.ID, &payload, &m.Attempts, &m.CreatedAt); err != nil {
				return m, err
			}
			return m, json.Unmarshal(payload, &m.Event)
		})
		if err != nil {
			return storeErr(err, op, "failed to read outbox batch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	sortMessages(msgs)
	return msgs, nil
}

func (o *Outbox) MarkDispatched(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := o.db.conn(ctx).Exec(ctx, `
		UPDATE outbox SET dispatched_at = now(), lease_until = NULL, last_error = NULL
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return storeErr(err, "outbox.mark_dispatched", "failed to mark events dispatched")
	}
	return nil
}

// MarkFailed records the error. The lease is left to expire, which spaces
// out redelivery attempts.
func (o *Outbox) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := o.db.conn(ctx).Exec(ctx, `
		UPDATE outbox SET last_error = $2
		WHERE id = $1`, id, reason)
	if err != nil {
		return storeErr(err, "outbox.mark_failed", "failed to record dispatch failure")
	}
	return nil
}
