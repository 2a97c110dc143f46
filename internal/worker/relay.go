package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/events"
	"github.com/dukerupert/franchise/internal/telemetry"
)

// RelayConfig configures the outbox relay.
type RelayConfig struct {
	Config

	// BatchSize caps the messages claimed per poll.
	BatchSize int

	// Lease is how long a claimed message is hidden from other relays.
	// A failed message becomes claimable again once it lapses.
	Lease time.Duration
}

// Relay moves outbox rows to the broker. Delivery is at-least-once: a
// crash between Dispatch and MarkDispatched re-sends the batch.
type Relay struct {
	config     RelayConfig
	source     domain.OutboxSource
	dispatcher events.Dispatcher
	logger     *slog.Logger
}

func NewRelay(source domain.OutboxSource, dispatcher events.Dispatcher, config RelayConfig, logger *slog.Logger) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	config.Config = config.Config.withDefaults("relay")
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Lease == 0 {
		config.Lease = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		config:     config,
		source:     source,
		dispatcher: dispatcher,
		logger:     logger.With("worker_id", config.WorkerID),
	}
}

// Start flushes on every poll until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	return poll(ctx, "relay", r.config.Config, r.logger, func(ctx context.Context) {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("relay flush failed", "error", err)
		}
	})
}

// Flush claims one batch and dispatches it in order. After a failure the
// rest of that order's events in the batch are held back so consumers
// never see them out of order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.source.ClaimPending(ctx, r.config.BatchSize, r.config.Lease)
	if err != nil {
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	if m := telemetry.Business; m != nil {
		m.OutboxBacklog.Set(float64(len(msgs)))
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	blocked := make(map[string]bool)
	sent := make([]int64, 0, len(msgs))

	for _, msg := range msgs {
		ev := msg.Event
		if blocked[ev.OrderID] {
			continue
		}

		if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
			blocked[ev.OrderID] = true
			recordDispatch(ev.Type, "error")
			r.logger.Warn("outbox dispatch failed",
				"outbox_id", msg.ID,
				"event_id", ev.ID,
				"type", ev.Type,
				"attempts", msg.Attempts,
				"error", err,
			)
			if err := r.source.MarkFailed(ctx, msg.ID, err.Error()); err != nil {
				r.logger.Error("mark outbox failed", "outbox_id", msg.ID, "error", err)
			}
			continue
		}

		recordDispatch(ev.Type, "sent")
		sent = append(sent, msg.ID)
	}

	if len(sent) > 0 {
		if err := r.source.MarkDispatched(ctx, sent); err != nil {
			return 0, fmt.Errorf("mark outbox dispatched: %w", err)
		}
	}
	return len(sent), nil
}

func recordDispatch(t domain.EventType, result string) {
	if m := telemetry.Business; m != nil {
		m.OutboxDispatched.WithLabelValues(string(t), result).Inc()
	}
}
