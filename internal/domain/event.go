package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event published to external consumers.
type EventType string

const (
	EventOrderCreated    EventType = "order.created"
	EventOrderApproved   EventType = "order.approved"
	EventOrderRejected   EventType = "order.rejected"
	EventOrderCancelled  EventType = "order.cancelled"
	EventOrderProcessing EventType = "order.processing"
	EventOrderShipped    EventType = "order.shipped"
	EventOrderDelivered  EventType = "order.delivered"
)

var eventTypeByStatus = map[OrderStatus]EventType{
	OrderStatusPendingApproval: EventOrderCreated,
	OrderStatusApproved:        EventOrderApproved,
	OrderStatusRejected:        EventOrderRejected,
	OrderStatusCancelled:       EventOrderCancelled,
	OrderStatusProcessing:      EventOrderProcessing,
	OrderStatusShipped:         EventOrderShipped,
	OrderStatusDelivered:       EventOrderDelivered,
}

// LifecycleEvent is emitted for every accepted transition. Delivery is
// at-least-once; consumers dedupe on ID.
type LifecycleEvent struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	OrderID    string      `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorID    string      `json:"actor_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Order      *Order      `json:"order"`
}

// NewLifecycleEvent builds the event for a history entry, snapshotting o.
func NewLifecycleEvent(o *Order, entry HistoryEntry) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.NewString(),
		Type:       eventTypeByStatus[entry.To],
		OrderID:    o.ID,
		FromStatus: entry.From,
		ToStatus:   entry.To,
		ActorID:    entry.ActorID,
		OccurredAt: entry.OccurredAt,
		Order:      o.Clone(),
	}
}
