package events

import (
	"context"
	"log/slog"

	"github.com/dukerupert/franchise/internal/domain"
)

// LogDispatcher writes events to the log. Used when no broker is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, ev domain.LifecycleEvent) error {
	env, err := Encode(ctx, ev)
	if err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "lifecycle event",
		"event_id", ev.ID,
		"type", ev.Type,
		"order_id", ev.OrderID,
		"from", ev.FromStatus,
		"to", ev.ToStatus,
		"actor_id", ev.ActorID,
		"bytes", len(env.Payload),
	)
	return nil
}

func (d *LogDispatcher) Close() error { return nil }
