// Package events delivers lifecycle events from the outbox to a broker.
// Delivery is at-least-once; consumers dedupe on the event_id header.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/dukerupert/franchise/internal/domain"
)

const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
	HeaderOrderID   = "order_id"
)

// Envelope is a broker-neutral encoded event.
type Envelope struct {
	Key     string
	Payload []byte
	Headers map[string]string
}

// Dispatcher hands one event to a broker.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.LifecycleEvent) error
	Close() error
}

// Encode serializes ev and carries the caller's trace context in the headers.
func Encode(ctx context.Context, ev domain.LifecycleEvent) (Envelope, error) {
	if ev.ID == "" || ev.Type == "" {
		return Envelope{}, fmt.Errorf("encode event: id and type are required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	carrier[HeaderEventType] = string(ev.Type)
	carrier[HeaderEventID] = ev.ID
	carrier[HeaderOrderID] = ev.OrderID

	return Envelope{Key: ev.OrderID, Payload: payload, Headers: carrier}, nil
}

// Decode is the consumer side of Encode. The returned context carries the
// producer's trace context.
func Decode(ctx context.Context, payload []byte, headers map[string]string) (context.Context, domain.LifecycleEvent, error) {
	var ev domain.LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ctx, ev, fmt.Errorf("decode event: %w", err)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	return ctx, ev, nil
}
