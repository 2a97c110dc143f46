package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/telemetry"
)

// DecisionResult is the outcome of a winning approval attempt.
type DecisionResult struct {
	Order *domain.Order
	Entry domain.HistoryEntry

	// Settled lists the reservations whose status changed in the same
	// write; the caller applies the matching ledger operation to each.
	Settled []domain.Reservation
}

// ApprovalCoordinator makes sure at most one approve or reject attempt
// changes a pending order. It is a compare-and-swap on the order version;
// no lock is held between the read and the conditional write.
type ApprovalCoordinator struct {
	orders domain.OrderStore
	policy RetryPolicy
	now    func() time.Time
}

// NewApprovalCoordinator creates a coordinator over orders.
func NewApprovalCoordinator(orders domain.OrderStore, policy RetryPolicy) *ApprovalCoordinator {
	return &ApprovalCoordinator{
		orders: orders,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Decide records decision on the order. Losers of a concurrent race re-read
// the order, find it decided and get an AlreadyDecidedError carrying the
// winner's snapshot. An order that left pending_approval without a
// decision (for example it was cancelled) yields InvalidTransitionError.
func (c *ApprovalCoordinator) Decide(ctx context.Context, orderID string, actor domain.Actor, decision domain.Decision, reason string) (*DecisionResult, error) {
	const op = "order.decide"

	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}

	var result *DecisionResult
	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		current, err := c.orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}

		if current.Status != domain.OrderStatusPendingApproval {
			if current.Approval != nil {
				return &domain.AlreadyDecidedError{Op: op, Order: current}
			}
			return &domain.InvalidTransitionError{
				Op:      op,
				OrderID: current.ID,
				Status:  current.Status,
				Event:   decision.Event(),
			}
		}

		next := current.Clone()
		entry, err := next.Apply(op, decision.Event(), domain.TransitionInput{
			Actor:  actor,
			Reason: reason,
			At:     c.now(),
		})
		if err != nil {
			return err
		}

		var settled []domain.Reservation
		if decision == domain.DecisionApprove {
			settled = next.SettleReservations(domain.ReservationHeld, domain.ReservationCommitted)
		} else {
			settled = next.SettleReservations(domain.ReservationHeld, domain.ReservationReleased)
		}

		if err := c.orders.UpdateOrder(ctx, next, current.Version); err != nil {
			if errors.Is(err, domain.ErrVersionMismatch) && telemetry.Business != nil {
				telemetry.Business.DecisionConflicts.Inc()
			}
			return retryOnMismatch(err)
		}

		result = &DecisionResult{Order: next, Entry: entry, Settled: settled}
		return nil
	})
	if errors.Is(err, domain.ErrVersionMismatch) {
		return nil, domain.WrapError(err, domain.ECONFLICT, op, "Order changed concurrently, please retry")
	}
	return result, err
}
