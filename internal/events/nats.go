package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dukerupert/franchise/internal/domain"
)

// NATSDispatcher publishes each event on <prefix>.<event type>, for
// example orders.order.approved.
type NATSDispatcher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSDispatcher connects to url.
func NewNATSDispatcher(url, prefix string, logger *slog.Logger) (*NATSDispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("franchise-orders"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSDispatcher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, ev domain.LifecycleEvent) error {
	env, err := Encode(ctx, ev)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject(d.prefix, ev.Type))
	msg.Data = env.Payload
	for k, v := range env.Headers {
		msg.Header.Set(k, v)
	}

	if err := d.conn.PublishMsg(msg); err != nil {
		d.logger.Error("nats publish failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}
	// Flush so a nil error means the server has the message buffered.
	if err := d.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", ev.ID, err)
	}
	return nil
}

func (d *NATSDispatcher) Close() error {
	return d.conn.Drain()
}

func subject(prefix string, t domain.EventType) string {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}
