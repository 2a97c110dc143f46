package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/telemetry"
)

// PendingLister finds orders that have waited too long for a decision.
type PendingLister interface {
	ListPendingApproval(ctx context.Context, submittedBefore time.Time, limit int) ([]*domain.Order, error)
}

// Expirer cancels an order only if it is still pending approval.
type Expirer interface {
	ExpirePending(ctx context.Context, orderID string, actor domain.Actor, reason string) (*domain.Order, error)
}

// ReaperConfig configures the approval-SLA reaper.
type ReaperConfig struct {
	Config

	// SLA is how long an order may wait in pending_approval.
	SLA time.Duration

	// BatchSize caps the orders examined per sweep.
	BatchSize int
}

// Reaper auto-cancels orders whose approval SLA has passed. It goes
// through the same cancel path as a user, so stock is released and an
// order.cancelled event is written.
type Reaper struct {
	config ReaperConfig
	orders PendingLister
	svc    Expirer
	logger *slog.Logger
	now    func() time.Time
}

// ReapResult summarizes one sweep.
type ReapResult struct {
	Examined  int
	Cancelled int
	Skipped   int
	Failed    int
}

func NewReaper(orders PendingLister, svc Expirer, config ReaperConfig, logger *slog.Logger) *Reaper {
	if config.PollInterval == 0 {
		config.PollInterval = time.Minute
	}
	config.Config = config.Config.withDefaults("reaper")
	if config.SLA == 0 {
		config.SLA = 72 * time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		config: config,
		orders: orders,
		svc:    svc,
		logger: logger.With("worker_id", config.WorkerID),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start sweeps on every poll until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	return poll(ctx, "reaper", r.config.Config, r.logger, func(ctx context.Context) {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper sweep failed", "error", err)
		}
	})
}

// Sweep cancels one batch of overdue orders.
func (r *Reaper) Sweep(ctx context.Context) (ReapResult, error) {
	if m := telemetry.Business; m != nil {
		m.ReaperRuns.Inc()
	}

	cutoff := r.now().Add(-r.config.SLA)
	overdue, err := r.orders.ListPendingApproval(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		return ReapResult{}, fmt.Errorf("list overdue orders: %w", err)
	}

	var cancelled, skipped, failed atomic.Int32
	actor := domain.SystemActor(r.config.WorkerID)
	reason := fmt.Sprintf("Approval not received within %s", r.config.SLA)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)
	for _, o := range overdue {
		g.Go(func() error {
			result := r.expire(gctx, o.ID, actor, reason)
			switch result {
			case "cancelled":
				cancelled.Add(1)
			case "skipped":
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			if m := telemetry.Business; m != nil {
				m.ReaperCancellations.WithLabelValues(result).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := ReapResult{
		Examined:  len(overdue),
		Cancelled: int(cancelled.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	if res.Examined > 0 {
		r.logger.Info("reaper sweep finished",
			"examined", res.Examined,
			"cancelled", res.Cancelled,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (r *Reaper) expire(ctx context.Context, orderID string, actor domain.Actor, reason string) string {
	_, err := r.svc.ExpirePending(ctx, orderID, actor, reason)
	if err == nil {
		r.logger.Info("order expired", "order_id", orderID)
		return "cancelled"
	}

	// Decided or cancelled since it was listed.
	var invalid *domain.InvalidTransitionError
	var decided *domain.AlreadyDecidedError
	if errors.As(err, &invalid) || errors.As(err, &decided) || domain.IsCode(err, domain.ENOTFOUND) {
		r.logger.Debug("order no longer pending", "order_id", orderID, "reason", err)
		return "skipped"
	}

	r.logger.Error("expire order failed", "order_id", orderID, "error", err)
	return "error"
}
