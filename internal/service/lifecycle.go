package service

import (
	"cmp"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/telemetry"
)

// LifecycleService is the facade over the order lifecycle. It is the only
// writer of order status and the only caller of stock ledger mutations.
type LifecycleService interface {
	// ValidateCart checks a cart against the catalog without touching stock.
	ValidateCart(ctx context.Context, cart domain.Cart) (*CartValidation, error)

	// Checkout validates the cart, reserves every line and creates the order
	// in pending_approval. Either every line is reserved or none is.
	Checkout(ctx context.Context, actor domain.Actor, cart domain.Cart) (*domain.Order, error)

	// Decide approves or rejects a pending order. Approval commits its
	// reservations; rejection releases them. A repeated or losing decision
	// returns the current order together with an AlreadyDecidedError.
	Decide(ctx context.Context, orderID string, actor domain.Actor, decision domain.Decision, reason string) (*domain.Order, error)

	// Cancel cancels an order that has not shipped. Held stock is released
	// and committed stock is restocked.
	Cancel(ctx context.Context, orderID string, actor domain.Actor, reason string) (*domain.Order, error)

	// ExpirePending cancels an order only if it is still pending approval.
	ExpirePending(ctx context.Context, orderID string, actor domain.Actor, reason string) (*domain.Order, error)

	// AdvanceFulfillment drives processing, shipped and delivered.
	AdvanceFulfillment(ctx context.Context, orderID string, actor domain.Actor, event domain.OrderEvent, in FulfillmentInput) (*domain.Order, error)

	// GetOrder returns the order, served from the snapshot cache when warm.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// Reorder checks out a new order with the items of a previous one.
	Reorder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)

	// GetStock returns the ledger record for a product at a location.
	GetStock(ctx context.Context, locationID, productID string) (domain.StockRecord, error)

	// AdjustStock applies a goods-in receipt or a point-of-sale deduction.
	AdjustStock(ctx context.Context, actor domain.Actor, adj StockAdjustment) (domain.StockRecord, error)
}

// FulfillmentInput is the payload of a fulfillment event.
type FulfillmentInput struct {
	Carrier    string
	TrackingID string
}

// StockAdjustment is a non-order stock movement.
type StockAdjustment struct {
	LocationID string
	ProductID  string
	Kind       domain.StockAdjustmentKind
	Quantity   int64
}

// OrderCache holds order snapshots. Get returns nil, nil on a miss.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	Put(ctx context.Context, o *domain.Order) error
	Invalidate(ctx context.Context, orderID string) error
}

// LifecycleDeps wires the lifecycle service. Cache and Logger are optional.
type LifecycleDeps struct {
	Catalog domain.ProductCatalog
	Orders  domain.OrderStore
	Stock   domain.StockStore
	Outbox  domain.Outbox
	Tx      domain.Transactor
	Cache   OrderCache
	Retry   RetryPolicy
	Logger  *slog.Logger
	Clock   func() time.Time
}

type lifecycleService struct {
	catalog   domain.ProductCatalog
	orders    domain.OrderStore
	outbox    domain.Outbox
	tx        domain.Transactor
	cache     OrderCache
	ledger    *StockLedger
	approvals *ApprovalCoordinator
	validator CartValidator
	policy    RetryPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// NewLifecycleService creates the lifecycle service.
func NewLifecycleService(deps LifecycleDeps) (LifecycleService, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("lifecycle: catalog is required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("lifecycle: order store is required")
	case deps.Stock == nil:
		return nil, fmt.Errorf("lifecycle: stock store is required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("lifecycle: outbox is required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("lifecycle: transactor is required")
	}

	if deps.Retry.Attempts == 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}

	ledger := NewStockLedger(deps.Stock, deps.Retry)
	ledger.now = deps.Clock
	approvals := NewApprovalCoordinator(deps.Orders, deps.Retry)
	approvals.now = deps.Clock

	return &lifecycleService{
		catalog:   deps.Catalog,
		orders:    deps.Orders,
		outbox:    deps.Outbox,
		tx:        deps.Tx,
		cache:     deps.Cache,
		ledger:    ledger,
		approvals: approvals,
		validator: NewCartValidator(),
		policy:    deps.Retry,
		logger:    deps.Logger,
		now:       deps.Clock,
	}, nil
}

func (s *lifecycleService) ValidateCart(ctx context.Context, cart domain.Cart) (result *CartValidation, err error) {
	ctx, span := startSpan(ctx, "lifecycle.ValidateCart", attribute.String("location.id", cart.LocationID))
	defer func() { endSpan(span, err) }()

	products, err := s.catalog.GetProducts(ctx, cartProductIDs(cart.Lines))
	if err != nil {
		return nil, err
	}

	var snapshot map[string]domain.StockRecord
	if cart.LocationID != "" {
		snapshot = make(map[string]domain.StockRecord, len(cart.Lines))
		for _, line := range cart.Lines {
			if _, seen := snapshot[line.ProductID]; seen || line.ProductID == "" {
				continue
			}
			rec, err := s.ledger.Get(ctx, line.ProductID, cart.LocationID)
			switch {
			case err == nil:
				snapshot[line.ProductID] = rec
			case domain.IsCode(err, domain.ENOTFOUND):
				snapshot[line.ProductID] = domain.StockRecord{ProductID: line.ProductID, LocationID: cart.LocationID}
			default:
				return nil, err
			}
		}
	}

	result = s.validator.Validate(cart.Lines, products, snapshot)
	recordValidation(result)
	return result, nil
}

func (s *lifecycleService) Checkout(ctx context.Context, actor domain.Actor, cart domain.Cart) (order *domain.Order, err error) {
	const op = "order.checkout"

	ctx, span := startSpan(ctx, "lifecycle.Checkout",
		attribute.String("location.id", cart.LocationID),
		attribute.Int("cart.lines", len(cart.Lines)))
	defer func() {
		recordCheckout(order, err)
		endSpan(span, err)
	}()

	if actor.ID == "" {
		return nil, ErrMissingActor
	}
	if strings.TrimSpace(cart.LocationID) == "" {
		return nil, ErrMissingLocation
	}
	if len(cart.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	products, err := s.catalog.GetProducts(ctx, cartProductIDs(cart.Lines))
	if err != nil {
		return nil, err
	}
	validation := s.validator.Validate(cart.Lines, products, nil)
	recordValidation(validation)
	if !validation.Valid {
		return nil, validation.Err(op)
	}

	now := s.now()
	items := make([]domain.OrderItem, len(validation.Lines))
	for i, line := range validation.Lines {
		items[i] = domain.OrderItem{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		}
	}
	order = domain.NewOrder(uuid.NewString(), generateOrderNumber(now), actor.ID, cart.LocationID, items, now)
	entry, err := order.Apply(op, domain.EventSubmit, domain.TransitionInput{Actor: actor, At: now})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		held, err := s.reserveAll(ctx, op, cart.LocationID, validation.Lines)
		if err != nil {
			return err
		}
		order.Reservations = held

		if err := s.orders.CreateOrder(ctx, order); err != nil {
			s.releaseAll(ctx, op, held)
			return err
		}
		if err := s.outbox.Append(ctx, domain.NewLifecycleEvent(order, entry)); err != nil {
			s.releaseAll(ctx, op, held)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(entry)
	s.cachePut(ctx, order)
	return order, nil
}

// reserveAll reserves every line in product order so concurrent checkouts
// touch shared records in the same sequence. On failure every reservation
// already taken is released and the failing line's cart index is reported.
func (s *lifecycleService) reserveAll(ctx context.Context, op, locationID string, lines []domain.CartLine) ([]domain.Reservation, error) {
	sequence := make([]int, len(lines))
	for i := range sequence {
		sequence[i] = i
	}
	slices.SortStableFunc(sequence, func(a, b int) int {
		return strings.Compare(lines[a].ProductID, lines[b].ProductID)
	})

	held := make([]domain.Reservation, 0, len(lines))
	for _, idx := range sequence {
		line := lines[idx]
		if _, err := s.ledger.Reserve(ctx, line.ProductID, locationID, line.Quantity, 0); err != nil {
			s.releaseAll(ctx, op, held)

			var short *domain.InsufficientStockError
			switch {
			case errors.As(err, &short):
				short.Op = op
				short.Line = idx
				return nil, short
			case domain.IsCode(err, domain.ENOTFOUND):
				return nil, &domain.InsufficientStockError{
					Op:         op,
					Line:       idx,
					ProductID:  line.ProductID,
					LocationID: locationID,
					Requested:  line.Quantity,
				}
			}
			return nil, err
		}
		held = append(held, domain.Reservation{
			ProductID:  line.ProductID,
			LocationID: locationID,
			Quantity:   line.Quantity,
			Status:     domain.ReservationHeld,
		})
	}

	// Present reservations in cart order.
	byProduct := make(map[string]domain.Reservation, len(held))
	for _, r := range held {
		byProduct[r.ProductID] = r
	}
	out := make([]domain.Reservation, len(lines))
	for i, line := range lines {
		out[i] = byProduct[line.ProductID]
	}
	return out, nil
}

// releaseAll is compensation: it runs even if the request was cancelled
// and logs rather than returns failures.
func (s *lifecycleService) releaseAll(ctx context.Context, op string, held []domain.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range held {
		if _, err := s.ledger.Release(ctx, r.ProductID, r.LocationID, r.Quantity); err != nil {
			s.logger.ErrorContext(ctx, "failed to release reservation",
				"op", op,
				"product_id", r.ProductID,
				"location_id", r.LocationID,
				"quantity", r.Quantity,
				"error", err,
			)
		}
	}
}

func (s *lifecycleService) Decide(ctx context.Context, orderID string, actor domain.Actor, decision domain.Decision, reason string) (order *domain.Order, err error) {
	const op = "order.decide"

	ctx, span := startSpan(ctx, "lifecycle.Decide",
		attribute.String("order.id", orderID),
		attribute.String("decision", string(decision)))
	defer func() {
		recordDecision(decision, order, err)
		endSpan(span, err)
	}()

	if actor.ID == "" {
		return nil, ErrMissingActor
	}

	var result *DecisionResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.approvals.Decide(ctx, orderID, actor, decision, reason)
		if err != nil {
			return err
		}

		kind := moveCommit
		if decision == domain.DecisionReject {
			kind = moveRelease
		}
		moves := movesFor(kind, res.Settled)
		sortMoves(moves)
		if err := s.applyMoves(ctx, op, res.Order, moves); err != nil {
			return err
		}
		if err := s.outbox.Append(ctx, domain.NewLifecycleEvent(res.Order, res.Entry)); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if current, ok := domain.AsAlreadyDecided(err); ok {
			s.cachePut(ctx, current)
			return current, err
		}
		s.cacheInvalidate(ctx, orderID, err)
		return nil, err
	}

	recordTransition(result.Entry)
	s.cachePut(ctx, result.Order)
	return result.Order, nil
}

func (s *lifecycleService) Cancel(ctx context.Context, orderID string, actor domain.Actor, reason string) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "lifecycle.Cancel", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	return s.cancel(ctx, "order.cancel", orderID, actor, reason, "")
}

func (s *lifecycleService) ExpirePending(ctx context.Context, orderID string, actor domain.Actor, reason string) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "lifecycle.ExpirePending", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	return s.cancel(ctx, "order.expire", orderID, actor, reason, domain.OrderStatusPendingApproval)
}

// cancel is the single cancellation path. When onlyFrom is set the order
// must still be in that status when the write is attempted.
func (s *lifecycleService) cancel(ctx context.Context, op, orderID string, actor domain.Actor, reason string, onlyFrom domain.OrderStatus) (*domain.Order, error) {
	if actor.ID == "" {
		return nil, ErrMissingActor
	}

	return s.transition(ctx, op, orderID, domain.EventCancel, transitionInput{
		actor:    actor,
		reason:   reason,
		onlyFrom: onlyFrom,
		effects: func(o *domain.Order) []stockMove {
			moves := movesFor(moveRelease, o.SettleReservations(domain.ReservationHeld, domain.ReservationReleased))
			return append(moves, movesFor(moveRestock, o.SettleReservations(domain.ReservationCommitted, domain.ReservationRestocked))...)
		},
	})
}

func (s *lifecycleService) AdvanceFulfillment(ctx context.Context, orderID string, actor domain.Actor, event domain.OrderEvent, in FulfillmentInput) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "lifecycle.AdvanceFulfillment",
		attribute.String("order.id", orderID),
		attribute.String("event", string(event)))
	defer func() { endSpan(span, err) }()

	if actor.ID == "" {
		return nil, ErrMissingActor
	}
	if !slices.Contains(domain.FulfillmentEvents, event) {
		return nil, ErrInvalidEvent
	}

	input := transitionInput{
		actor:      actor,
		carrier:    in.Carrier,
		trackingID: in.TrackingID,
	}
	if event == domain.EventShip {
		input.effects = func(o *domain.Order) []stockMove {
			o.SettleReservations(domain.ReservationCommitted, domain.ReservationFulfilled)
			return nil
		}
	}
	return s.transition(ctx, "order."+string(event), orderID, event, input)
}

func (s *lifecycleService) GetOrder(ctx context.Context, orderID string) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "lifecycle.GetOrder", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, orderID)
		if err != nil {
			s.logger.WarnContext(ctx, "order cache read failed", "order_id", orderID, "error", err)
		}
		if cached != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	order, err = s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, order)
	return order, nil
}

func (s *lifecycleService) Reorder(ctx context.Context, actor domain.Actor, orderID string) (order *domain.Order, err error) {
	const op = "order.reorder"

	ctx, span := startSpan(ctx, "lifecycle.Reorder", attribute.String("source_order.id", orderID))
	defer func() { endSpan(span, err) }()

	if actor.ID == "" {
		return nil, ErrMissingActor
	}

	source, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if source.ActorID != actor.ID && !actor.HasRole(domain.RoleApprover) {
		return nil, domain.Forbidden(op, "Only the original requester can reorder this order")
	}

	cart := domain.Cart{LocationID: source.LocationID, Lines: make([]domain.CartLine, len(source.Items))}
	for i, item := range source.Items {
		cart.Lines[i] = domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return s.Checkout(ctx, actor, cart)
}

func (s *lifecycleService) GetStock(ctx context.Context, locationID, productID string) (domain.StockRecord, error) {
	return s.ledger.Get(ctx, productID, locationID)
}

func (s *lifecycleService) AdjustStock(ctx context.Context, actor domain.Actor, adj StockAdjustment) (rec domain.StockRecord, err error) {
	ctx, span := startSpan(ctx, "lifecycle.AdjustStock",
		attribute.String("location.id", adj.LocationID),
		attribute.String("product.id", adj.ProductID),
		attribute.String("kind", string(adj.Kind)))
	defer func() { endSpan(span, err) }()

	if actor.ID == "" {
		return domain.StockRecord{}, ErrMissingActor
	}

	switch adj.Kind {
	case domain.StockReceive:
		if !actor.HasRole(domain.RoleFulfillment) && !actor.HasRole(domain.RoleApprover) {
			return domain.StockRecord{}, ErrStockForbidden
		}
		return s.ledger.Receive(ctx, adj.ProductID, adj.LocationID, adj.Quantity)
	case domain.StockSale:
		if !actor.HasRole(domain.RoleRequester) && !actor.HasRole(domain.RoleFulfillment) && !actor.HasRole(domain.RoleApprover) {
			return domain.StockRecord{}, ErrStockForbidden
		}
		return s.ledger.Deduct(ctx, adj.ProductID, adj.LocationID, adj.Quantity)
	default:
		return domain.StockRecord{}, ErrInvalidAdjustment
	}
}

// =============================================================================
// Transitions
// =============================================================================

type moveKind int

const (
	moveCommit moveKind = iota
	moveRelease
	moveRestock
)

type stockMove struct {
	kind moveKind
	res  domain.Reservation
}

// sortMoves orders settlement by (product, location), the same order
// reserveAll takes stock records in, so transactions holding row locks on
// several records always acquire them in one sequence.
func sortMoves(moves []stockMove) {
	slices.SortStableFunc(moves, func(a, b stockMove) int {
		return cmp.Or(
			strings.Compare(a.res.ProductID, b.res.ProductID),
			strings.Compare(a.res.LocationID, b.res.LocationID),
		)
	})
}

func movesFor(kind moveKind, reservations []domain.Reservation) []stockMove {
	moves := make([]stockMove, len(reservations))
	for i, r := range reservations {
		moves[i] = stockMove{kind: kind, res: r}
	}
	return moves
}

type transitionInput struct {
	actor      domain.Actor
	reason     string
	carrier    string
	trackingID string

	// onlyFrom, when set, rejects the transition unless the order is
	// still in this status at write time.
	onlyFrom domain.OrderStatus

	// effects adjusts reservation marks in the same write as the status
	// change and returns the ledger operations to run afterwards.
	effects func(o *domain.Order) []stockMove
}

// transition applies event with a CAS write on the order version, retrying
// on mismatch, then runs the ledger moves and appends the lifecycle event,
// all inside one store transaction.
func (s *lifecycleService) transition(ctx context.Context, op, orderID string, event domain.OrderEvent, in transitionInput) (*domain.Order, error) {
	var (
		next  *domain.Order
		entry domain.HistoryEntry
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var moves []stockMove

		err := retry.Do(ctx, s.policy.backoff(), func(ctx context.Context) error {
			current, err := s.orders.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if in.onlyFrom != "" && current.Status != in.onlyFrom {
				return &domain.InvalidTransitionError{Op: op, OrderID: orderID, Status: current.Status, Event: event}
			}

			candidate := current.Clone()
			e, err := candidate.Apply(op, event, domain.TransitionInput{
				Actor:      in.actor,
				Reason:     in.reason,
				Carrier:    in.carrier,
				TrackingID: in.trackingID,
				At:         s.now(),
			})
			if err != nil {
				return err
			}

			var planned []stockMove
			if in.effects != nil {
				planned = in.effects(candidate)
			}

			if err := s.orders.UpdateOrder(ctx, candidate, current.Version); err != nil {
				return retryOnMismatch(err)
			}
			next, entry, moves = candidate, e, planned
			return nil
		})
		if errors.Is(err, domain.ErrVersionMismatch) {
			return domain.WrapError(err, domain.ECONFLICT, op, "Order changed concurrently, please retry")
		}
		if err != nil {
			return err
		}

		sortMoves(moves)
		if err := s.applyMoves(ctx, op, next, moves); err != nil {
			return err
		}
		return s.outbox.Append(ctx, domain.NewLifecycleEvent(next, entry))
	})
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) && telemetry.Business != nil {
			telemetry.Business.TransitionErrors.WithLabelValues(string(event), domain.EINVALIDTRANSITION).Inc()
		}
		s.cacheInvalidate(ctx, orderID, err)
		return nil, err
	}

	recordTransition(entry)
	s.cachePut(ctx, next)
	return next, nil
}

// applyMoves runs the ledger side of reservations already re-marked on the
// order. Inside a database transaction a failure rolls everything back; on
// stores without transactions it is logged for reconciliation.
func (s *lifecycleService) applyMoves(ctx context.Context, op string, o *domain.Order, moves []stockMove) error {
	for _, m := range moves {
		r := m.res
		var err error
		switch m.kind {
		case moveCommit:
			_, err = s.ledger.Commit(ctx, r.ProductID, r.LocationID, r.Quantity)
		case moveRelease:
			_, err = s.ledger.Release(ctx, r.ProductID, r.LocationID, r.Quantity)
		case moveRestock:
			_, err = s.ledger.Restock(ctx, r.ProductID, r.LocationID, r.Quantity)
		}
		if domain.IsCode(err, domain.ECONFLICT) {
			// The transaction lost a lock race and is rolled back whole.
			return err
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to settle reservation",
				"op", op,
				"order_id", o.ID,
				"order_status", o.Status,
				"product_id", r.ProductID,
				"location_id", r.LocationID,
				"quantity", r.Quantity,
				"error", err,
			)
			return domain.Internal(err, op, "Failed to settle stock for this order")
		}
	}
	return nil
}

func (s *lifecycleService) cachePut(ctx context.Context, o *domain.Order) {
	if s.cache == nil || o == nil {
		return
	}
	if err := s.cache.Put(ctx, o); err != nil {
		s.logger.WarnContext(ctx, "order cache write failed", "order_id", o.ID, "error", err)
	}
}

// cacheInvalidate drops the snapshot after an internal failure, when the
// stored order may have moved without the cache seeing the result.
func (s *lifecycleService) cacheInvalidate(ctx context.Context, orderID string, cause error) {
	if s.cache == nil || !domain.IsCode(cause, domain.EINTERNAL) {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), orderID); err != nil {
		s.logger.WarnContext(ctx, "order cache invalidate failed", "order_id", orderID, "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func cartProductIDs(lines []domain.CartLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID != "" && !slices.Contains(ids, line.ProductID) {
			ids = append(ids, line.ProductID)
		}
	}
	return ids
}

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateOrderNumber returns a human-readable order number such as
// FO-20260314-K7Q2XM.
func generateOrderNumber(now time.Time) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = orderNumberAlphabet[int(b[i])%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("FO-%s-%s", now.Format("20060102"), b)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span. AlreadyDecided is a success outcome.
func endSpan(span trace.Span, err error) {
	if err != nil {
		if _, ok := domain.AsAlreadyDecided(err); !ok {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.ErrorCode(err))
		}
	}
	span.End()
}

func recordValidation(v *CartValidation) {
	if telemetry.Business == nil {
		return
	}
	telemetry.Business.CartValidations.WithLabelValues(fmt.Sprint(v.Valid)).Inc()
	for _, w := range v.Warnings {
		telemetry.Business.CartWarnings.WithLabelValues(w.Code).Inc()
	}
}

func recordCheckout(o *domain.Order, err error) {
	if telemetry.Business == nil {
		return
	}
	if err != nil {
		telemetry.Business.CheckoutsTotal.WithLabelValues(domain.ErrorCode(err)).Inc()
		return
	}
	telemetry.Business.CheckoutsTotal.WithLabelValues("created").Inc()
	telemetry.Business.CheckoutLines.Observe(float64(len(o.Items)))
	telemetry.Business.CheckoutValue.Observe(float64(o.SubtotalCents))
}

func recordDecision(d domain.Decision, o *domain.Order, err error) {
	if telemetry.Business == nil {
		return
	}
	switch {
	case err == nil:
		telemetry.Business.DecisionsTotal.WithLabelValues(string(d), "won").Inc()
		if submitted, ok := o.StatusTimes[domain.OrderStatusPendingApproval]; ok && o.Approval != nil {
			telemetry.Business.DecisionLatency.Observe(o.Approval.DecidedAt.Sub(submitted).Seconds())
		}
	default:
		telemetry.Business.DecisionsTotal.WithLabelValues(string(d), domain.ErrorCode(err)).Inc()
	}
}

func recordTransition(entry domain.HistoryEntry) {
	if telemetry.Business != nil {
		telemetry.Business.TransitionsTotal.WithLabelValues(string(entry.From), string(entry.To)).Inc()
	}
}
