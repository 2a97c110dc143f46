package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukerupert/franchise/internal/domain"
)

type outboxRow struct {
	msg         domain.OutboxMessage
	dispatched  bool
	leasedUntil time.Time
	lastError   string
}

// Outbox is an in-memory transactional outbox. It implements both
// domain.Outbox and domain.OutboxSource.
type Outbox struct {
	mu     sync.Mutex
	rows   []*outboxRow
	nextID int64
	now    func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

func (o *Outbox) Append(ctx context.Context, events ...domain.LifecycleEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range events {
		o.nextID++
		o.rows = append(o.rows, &outboxRow{msg: domain.OutboxMessage{
			ID:        o.nextID,
			Event:     e,
			CreatedAt: o.now(),
		}})
	}
	return nil
}

func (o *Outbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	var out []domain.OutboxMessage
	for _, row := range o.rows {
		if limit > 0 && len(out) >= limit {
			break
		}
		if row.dispatched || now.Before(row.leasedUntil) {
			continue
		}
		row.leasedUntil = now.Add(lease)
		row.msg.Attempts++
		out = append(out, row.msg)
	}
	return out, nil
}

func (o *Outbox) MarkDispatched(ctx context.Context, ids []int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, row := range o.rows {
		for _, id := range ids {
			if row.msg.ID == id {
				row.dispatched = true
			}
		}
	}
	return nil
}

// MarkFailed records the error; the message is claimable again once its
// lease expires.
func (o *Outbox) MarkFailed(ctx context.Context, id int64, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, row := range o.rows {
		if row.msg.ID == id {
			row.lastError = reason
		}
	}
	return nil
}

// Events returns every appended event in order, dispatched or not.
func (o *Outbox) Events() []domain.LifecycleEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.LifecycleEvent, len(o.rows))
	for i, row := range o.rows {
		out[i] = row.msg.Event
	}
	return out
}

// Pending counts undispatched messages.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, row := range o.rows {
		if !row.dispatched {
			n++
		}
	}
	return n
}
