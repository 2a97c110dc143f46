package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/franchise/internal/domain"
)

// OrderStore implements domain.OrderStore. An order spans the orders,
// order_items, order_reservations and order_history tables; every write
// touches them in one transaction.
type OrderStore struct {
	db *DB
}

var _ domain.OrderStore = (*OrderStore)(nil)

func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	const op = "order.create"

	id, err := uuid.Parse(o.ID)
	if err != nil {
		return domain.Invalid(op, "order id must be a UUID")
	}
	approval, shipment, statusTimes, err := marshalOrderJSON(o)
	if err != nil {
		return domain.Internal(err, op, "failed to encode order")
	}

	return s.db.WithinTx(ctx, func(ctx context.Context) error {
		q := s.db.conn(ctx)

		_, err := q.Exec(ctx, `
			INSERT INTO orders (id, number, actor_id, location_id, subtotal_cents, status, version,
			                    approval, shipment, status_times, submitted_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			id, o.Number, o.ActorID, o.LocationID, o.SubtotalCents, o.Status, o.Version,
			approval, shipment, statusTimes, submittedAt(o), o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return storeErr(err, op, "failed to insert order")
		}

		batch := &pgx.Batch{}
		for i, item := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price_cents, line_total_cents)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				id, i, item.ProductID, item.Quantity, item.UnitPriceCents, item.LineTotalCents)
		}
		for _, r := range o.Reservations {
			batch.Queue(`
				INSERT INTO order_reservations (order_id, product_id, location_id, quantity, status)
				VALUES ($1, $2, $3, $4, $5)`,
				id, r.ProductID, r.LocationID, r.Quantity, r.Status)
		}
		queueHistory(batch, id, o.History)

		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return storeErr(err, op, "failed to insert order lines")
		}
		return nil
	})
}

func (s *OrderStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	const op = "order.get"
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.NotFound(op, "order", id)
	}
	q := s.db.conn(ctx)

	var (
		o                            domain.Order
		approval, shipment, statuses []byte
	)
	err = q.QueryRow(ctx, `
		SELECT id::text, number, actor_id, location_id, subtotal_cents, status, version,
		       approval, shipment, status_times, created_at, updated_at
		FROM orders
		WHERE id = $1`, orderID,
	).Scan(&o.ID, &o.Number, &o.ActorID, &o.LocationID, &o.SubtotalCents, &o.Status, &o.Version,
		&approval, &shipment, &statuses, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "order", id)
	}
	if err != nil {
		return nil, storeErr(err, op, "failed to load order")
	}
	if err := unmarshalOrderJSON(&o, approval, shipment, statuses); err != nil {
		return nil, domain.Internal(err, op, "failed to decode order")
	}

	if err := s.loadLines(ctx, q, orderID, &o); err != nil {
		return nil, internal(err, op, "failed to load order lines")
	}
	return &o, nil
}

func (s *OrderStore) loadLines(ctx context.Context, q querier, id uuid.UUID, o *domain.Order) error {
	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, unit_price_cents, line_total_cents
		FROM order_items WHERE order_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return err
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var it domain.OrderItem
		err := row.Scan(&it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents)
		return it, err
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT r.product_id, r.location_id, r.quantity, r.status
		FROM order_reservations r
		JOIN order_items i ON i.order_id = r.order_id AND i.product_id = r.product_id
		WHERE r.order_id = $1 ORDER BY i.line_no`, id)
	if err != nil {
		return err
	}
	o.Reservations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reservation, error) {
		var r domain.Reservation
		err := row.Scan(&r.ProductID, &r.LocationID, &r.Quantity, &r.Status)
		return r, err
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT version, from_status, to_status, event, actor_id, reason, occurred_at
		FROM order_history WHERE order_id = $1 ORDER BY version`, id)
	if err != nil {
		return err
	}
	o.History, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HistoryEntry, error) {
		var h domain.HistoryEntry
		err := row.Scan(&h.Version, &h.From, &h.To, &h.Event, &h.ActorID, &h.Reason, &h.OccurredAt)
		return h, err
	})
	return err
}

func (s *OrderStore) UpdateOrder(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	const op = "order.update"

	id, err := uuid.Parse(o.ID)
	if err != nil {
		return domain.NotFound(op, "order", o.ID)
	}
	approval, shipment, statusTimes, err := marshalOrderJSON(o)
	if err != nil {
		return domain.Internal(err, op, "failed to encode order")
	}

	return s.db.WithinTx(ctx, func(ctx context.Context) error {
		q := s.db.conn(ctx)

		tag, err := q.Exec(ctx, `
			UPDATE orders
			SET status = $2, version = $3, approval = $4, shipment = $5, status_times = $6,
			    submitted_at = $7, updated_at = $8
			WHERE id = $1 AND version = $9`,
			id, o.Status, o.Version, approval, shipment, statusTimes, submittedAt(o), o.UpdatedAt, expectedVersion,
		)
		if err != nil {
			return storeErr(err, op, "failed to update order")
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return storeErr(err, op, "failed to update order")
			}
			if !exists {
				return domain.NotFound(op, "order", o.ID)
			}
			return domain.ErrVersionMismatch
		}

		batch := &pgx.Batch{}
		for _, r := range o.Reservations {
			batch.Queue(`
				UPDATE order_reservations SET status = $3
				WHERE order_id = $1 AND product_id = $2`,
				id, r.ProductID, r.Status)
		}
		queueHistory(batch, id, o.HistorySince(expectedVersion))

		if batch.Len() == 0 {
			return nil
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return storeErr(err, op, "failed to update order lines")
		}
		return nil
	})
}

func (s *OrderStore) ListPendingApproval(ctx context.Context, submittedBefore time.Time, limit int) ([]*domain.Order, error) {
	const op = "order.list_pending"

	rows, err := s.db.conn(ctx).Query(ctx, `
		SELECT id::text FROM orders
		WHERE status = 'pending_approval' AND submitted_at < $1
		ORDER BY submitted_at
		LIMIT $2`, submittedBefore, limit)
	if err != nil {
		return nil, storeErr(err, op, "failed to list pending orders")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr(err, op, "failed to list pending orders")
	}

	orders := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOrder(ctx, id)
		if domain.IsCode(err, domain.ENOTFOUND) {
			continue
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func queueHistory(batch *pgx.Batch, orderID uuid.UUID, entries []domain.HistoryEntry) {
	for _, h := range entries {
		batch.Queue(`
			INSERT INTO order_history (order_id, version, from_status, to_status, event, actor_id, reason, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			orderID, h.Version, h.From, h.To, h.Event, h.ActorID, h.Reason, h.OccurredAt)
	}
}

func submittedAt(o *domain.Order) any {
	if t, ok := o.StatusTimes[domain.OrderStatusPendingApproval]; ok {
		return t
	}
	return nil
}

func marshalOrderJSON(o *domain.Order) (approval, shipment any, statusTimes []byte, err error) {
	if o.Approval != nil {
		b, err := json.Marshal(o.Approval)
		if err != nil {
			return nil, nil, nil, err
		}
		approval = string(b)
	}
	if o.Shipment != nil {
		b, err := json.Marshal(o.Shipment)
		if err != nil {
			return nil, nil, nil, err
		}
		shipment = string(b)
	}
	statusTimes, err = json.Marshal(o.StatusTimes)
	return approval, shipment, statusTimes, err
}

func unmarshalOrderJSON(o *domain.Order, approval, shipment, statusTimes []byte) error {
	if len(approval) > 0 {
		o.Approval = &domain.Approval{}
		if err := json.Unmarshal(approval, o.Approval); err != nil {
			return err
		}
	}
	if len(shipment) > 0 {
		o.Shipment = &domain.Shipment{}
		if err := json.Unmarshal(shipment, o.Shipment); err != nil {
			return err
		}
	}
	o.StatusTimes = make(map[domain.OrderStatus]time.Time)
	if len(statusTimes) > 0 {
		return json.Unmarshal(statusTimes, &o.StatusTimes)
	}
	return nil
}
