package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// OrderStatus is the lifecycle status of a franchise purchase order.
type OrderStatus string

const (
	OrderStatusDraft           OrderStatus = "draft"
	OrderStatusPendingApproval OrderStatus = "pending_approval"
	OrderStatusApproved        OrderStatus = "approved"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// OrderStatuses lists every defined status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusPendingApproval,
	OrderStatusApproved,
	OrderStatusRejected,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid reports whether s is a defined status.
func (s OrderStatus) Valid() bool {
	return slices.Contains(OrderStatuses, s)
}

// Terminal reports whether no further transition is legal from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusRejected || s == OrderStatusCancelled
}

// OrderEvent triggers a status transition.
type OrderEvent string

const (
	EventSubmit          OrderEvent = "submit"
	EventApprove         OrderEvent = "approve"
	EventReject          OrderEvent = "reject"
	EventBeginProcessing OrderEvent = "begin_processing"
	EventShip            OrderEvent = "ship"
	EventDeliver         OrderEvent = "deliver"
	EventCancel          OrderEvent = "cancel"
)

// Verb renders the event for user-facing messages.
func (e OrderEvent) Verb() string {
	return strings.ReplaceAll(string(e), "_", " ")
}

// FulfillmentEvents are the events accepted by the fulfillment endpoint.
var FulfillmentEvents = []OrderEvent{EventBeginProcessing, EventShip, EventDeliver}

// Decision is an approver's verdict on a pending order.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Event maps the decision to its state machine event.
func (d Decision) Event() OrderEvent {
	if d == DecisionReject {
		return EventReject
	}
	return EventApprove
}

// Valid reports whether d is approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ReservationStatus tracks what has happened to the stock held for one order line.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationRestocked ReservationStatus = "restocked"
	ReservationFulfilled ReservationStatus = "fulfilled"
)

// OrderItem is a priced order line.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// Reservation is the stock an order holds for one product at its location.
type Reservation struct {
	ProductID  string            `json:"product_id"`
	LocationID string            `json:"location_id"`
	Quantity   int64             `json:"quantity"`
	Status     ReservationStatus `json:"status"`
}

// HoldsStock reports whether the reservation still occupies ledger quantity.
func (r Reservation) HoldsStock() bool {
	return r.Status == ReservationHeld || r.Status == ReservationCommitted
}

// Approval records the winning approval decision.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Shipment records carrier hand-off.
type Shipment struct {
	Carrier    string    `json:"carrier"`
	TrackingID string    `json:"tracking_id"`
	ShippedAt  time.Time `json:"shipped_at"`
}

// HistoryEntry is one accepted transition. Entries are append-only.
type HistoryEntry struct {
	Version    int64       `json:"version"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Event      OrderEvent  `json:"event"`
	ActorID    string      `json:"actor_id"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Order is a franchise purchase order. It is mutated only through Apply and
// persisted with a version guard.
type Order struct {
	ID            string                    `json:"id"`
	Number        string                    `json:"number"`
	ActorID       string                    `json:"actor_id"`
	LocationID    string                    `json:"location_id"`
	Items         []OrderItem               `json:"items"`
	SubtotalCents int64                     `json:"subtotal_cents"`
	Status        OrderStatus               `json:"status"`
	Version       int64                     `json:"version"`
	Approval      *Approval                 `json:"approval,omitempty"`
	Shipment      *Shipment                 `json:"shipment,omitempty"`
	Reservations  []Reservation             `json:"reservations"`
	StatusTimes   map[OrderStatus]time.Time `json:"status_times"`
	History       []HistoryEntry            `json:"history"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// NewOrder builds a draft order and computes line and order totals.
func NewOrder(id, number, actorID, locationID string, items []OrderItem, now time.Time) *Order {
	o := &Order{
		ID:          id,
		Number:      number,
		ActorID:     actorID,
		LocationID:  locationID,
		Items:       make([]OrderItem, len(items)),
		Status:      OrderStatusDraft,
		StatusTimes: map[OrderStatus]time.Time{OrderStatusDraft: now},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, item := range items {
		item.LineTotalCents = item.UnitPriceCents * item.Quantity
		o.Items[i] = item
		o.SubtotalCents += item.LineTotalCents
	}
	return o
}

// Clone returns a deep copy so a failed write never leaks partial mutations.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	c.Reservations = slices.Clone(o.Reservations)
	c.History = slices.Clone(o.History)
	c.StatusTimes = make(map[OrderStatus]time.Time, len(o.StatusTimes))
	for k, v := range o.StatusTimes {
		c.StatusTimes[k] = v
	}
	if o.Approval != nil {
		a := *o.Approval
		c.Approval = &a
	}
	if o.Shipment != nil {
		s := *o.Shipment
		c.Shipment = &s
	}
	return &c
}

// SettleReservations moves every reservation in status from to status to and
// returns the moved entries.
func (o *Order) SettleReservations(from, to ReservationStatus) []Reservation {
	var moved []Reservation
	for i := range o.Reservations {
		if o.Reservations[i].Status == from {
			o.Reservations[i].Status = to
			moved = append(moved, o.Reservations[i])
		}
	}
	return moved
}

// HistorySince returns the history entries written after version.
func (o *Order) HistorySince(version int64) []HistoryEntry {
	var out []HistoryEntry
	for _, h := range o.History {
		if h.Version > version {
			out = append(out, h)
		}
	}
	return out
}

// TransitionInput carries who triggered an event and its payload.
type TransitionInput struct {
	Actor      Actor
	Reason     string
	Carrier    string
	TrackingID string
	At         time.Time
}

type transition struct {
	to         OrderStatus
	roles      []Role
	allowOwner bool
	guard      func(op string, o *Order, in TransitionInput) error
}

// transitions is the complete table; any (status, event) pair missing here
// is rejected with InvalidTransitionError.
var transitions = map[OrderStatus]map[OrderEvent]transition{
	OrderStatusDraft: {
		EventSubmit: {to: OrderStatusPendingApproval, roles: []Role{RoleRequester, RoleSystem}, allowOwner: true, guard: guardHasItems},
		EventCancel: {to: OrderStatusCancelled, roles: []Role{RoleApprover, RoleSystem}, allowOwner: true},
	},
	OrderStatusPendingApproval: {
		EventApprove: {to: OrderStatusApproved, roles: []Role{RoleApprover}},
		EventReject:  {to: OrderStatusRejected, roles: []Role{RoleApprover}, guard: guardReason},
		EventCancel:  {to: OrderStatusCancelled, roles: []Role{RoleApprover, RoleSystem}, allowOwner: true},
	},
	OrderStatusApproved: {
		EventBeginProcessing: {to: OrderStatusProcessing, roles: []Role{RoleFulfillment, RoleApprover}, guard: guardStockCommitted},
		EventCancel:          {to: OrderStatusCancelled, roles: []Role{RoleApprover, RoleSystem}, allowOwner: true},
	},
	OrderStatusProcessing: {
		EventShip: {to: OrderStatusShipped, roles: []Role{RoleFulfillment, RoleApprover}, guard: guardTracking},
	},
	OrderStatusShipped: {
		EventDeliver: {to: OrderStatusDelivered, roles: []Role{RoleFulfillment, RoleApprover, RoleSystem}},
	},
}

// NextStatus returns the status reached by applying event in status from.
func NextStatus(from OrderStatus, event OrderEvent) (OrderStatus, bool) {
	t, ok := transitions[from][event]
	return t.to, ok
}

// Apply runs event through the state machine. On success the order's status,
// version, timestamps and history are updated and the new history entry is
// returned. On failure the order is not modified.
func (o *Order) Apply(op string, event OrderEvent, in TransitionInput) (HistoryEntry, error) {
	t, ok := transitions[o.Status][event]
	if !ok {
		return HistoryEntry{}, &InvalidTransitionError{Op: op, OrderID: o.ID, Status: o.Status, Event: event}
	}
	if !t.permits(o, in.Actor) {
		return HistoryEntry{}, Forbidden(op, fmt.Sprintf("Actor is not allowed to %s this order", event.Verb()))
	}
	if t.guard != nil {
		if err := t.guard(op, o, in); err != nil {
			return HistoryEntry{}, err
		}
	}

	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	from := o.Status
	o.Status = t.to
	o.Version++
	o.UpdatedAt = at
	if o.StatusTimes == nil {
		o.StatusTimes = make(map[OrderStatus]time.Time)
	}
	o.StatusTimes[t.to] = at

	switch event {
	case EventApprove, EventReject:
		o.Approval = &Approval{
			ApproverID: in.Actor.ID,
			Decision:   Decision(event),
			Reason:     strings.TrimSpace(in.Reason),
			DecidedAt:  at,
		}
	case EventShip:
		o.Shipment = &Shipment{
			Carrier:    strings.TrimSpace(in.Carrier),
			TrackingID: strings.TrimSpace(in.TrackingID),
			ShippedAt:  at,
		}
	}

	entry := HistoryEntry{
		Version:    o.Version,
		From:       from,
		To:         t.to,
		Event:      event,
		ActorID:    in.Actor.ID,
		Reason:     strings.TrimSpace(in.Reason),
		OccurredAt: at,
	}
	o.History = append(o.History, entry)
	return entry, nil
}

func (t transition) permits(o *Order, actor Actor) bool {
	if t.allowOwner && actor.ID != "" && actor.ID == o.ActorID {
		return true
	}
	for _, r := range t.roles {
		if actor.HasRole(r) {
			return true
		}
	}
	return false
}

func guardHasItems(op string, o *Order, _ TransitionInput) error {
	if len(o.Items) == 0 {
		return Invalid(op, "Order has no items")
	}
	return nil
}

func guardReason(op string, _ *Order, in TransitionInput) error {
	if strings.TrimSpace(in.Reason) == "" {
		return NewValidationError(op, "reason", "A reason is required to reject an order")
	}
	return nil
}

func guardStockCommitted(op string, o *Order, _ TransitionInput) error {
	for _, r := range o.Reservations {
		if r.Status != ReservationCommitted {
			return Invalid(op, "Stock for this order has not been committed")
		}
	}
	return nil
}

func guardTracking(op string, _ *Order, in TransitionInput) error {
	var err error
	if strings.TrimSpace(in.Carrier) == "" {
		err = AddFieldError(err, "carrier", "Carrier is required to ship an order")
	}
	if strings.TrimSpace(in.TrackingID) == "" {
		err = AddFieldError(err, "tracking_id", "Tracking ID is required to ship an order")
	}
	if ve, ok := err.(*ValidationError); ok {
		ve.Op = op
		return ve
	}
	return nil
}
