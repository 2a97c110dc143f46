package api

import (
	"net/http"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/handler"
	"github.com/dukerupert/franchise/internal/service"
)

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Reason   string `json:"reason" validate:"max=1000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type fulfillmentRequest struct {
	Event      string `json:"event" validate:"required,oneof=begin_processing ship deliver"`
	Carrier    string `json:"carrier" validate:"required_if=Event ship,max=100"`
	TrackingID string `json:"tracking_id" validate:"required_if=Event ship,max=100"`
}

// decisionResponse reports the order after a decision. AlreadyDecided is
// set when another decision had already won; Order is then the winner's.
type decisionResponse struct {
	Order          *domain.Order `json:"order"`
	AlreadyDecided bool          `json:"already_decided"`
}

// OrderHandler serves the order lifecycle endpoints
type OrderHandler struct {
	svc service.LifecycleService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(svc service.LifecycleService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// Checkout handles POST /orders
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, "order.checkout", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.svc.Checkout(r.Context(), actorFrom(r), req.cart())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Location", "/orders/"+order.ID)
	handler.JSON(w, http.StatusCreated, order)
}

// Get handles GET /orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, order)
}

// Decide handles POST /orders/{id}/decision
func (h *OrderHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, "order.decide", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.svc.Decide(r.Context(), r.PathValue("id"), actorFrom(r), domain.Decision(req.Decision), req.Reason)
	if current, ok := domain.AsAlreadyDecided(err); ok {
		handler.JSON(w, http.StatusOK, decisionResponse{Order: current, AlreadyDecided: true})
		return
	}
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, decisionResponse{Order: order})
}

// Cancel handles POST /orders/{id}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, "order.cancel", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.svc.Cancel(r.Context(), r.PathValue("id"), actorFrom(r), req.Reason)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, order)
}

// FulfillmentEvent handles POST /orders/{id}/fulfillment-event
func (h *OrderHandler) FulfillmentEvent(w http.ResponseWriter, r *http.Request) {
	var req fulfillmentRequest
	if err := decodeJSON(r, "order.fulfillment", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.svc.AdvanceFulfillment(r.Context(), r.PathValue("id"), actorFrom(r),
		domain.OrderEvent(req.Event),
		service.FulfillmentInput{Carrier: req.Carrier, TrackingID: req.TrackingID},
	)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, order)
}

// Reorder handles POST /orders/{id}/reorder
func (h *OrderHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Reorder(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Location", "/orders/"+order.ID)
	handler.JSON(w, http.StatusCreated, order)
}
