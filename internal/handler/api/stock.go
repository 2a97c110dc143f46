package api

import (
	"net/http"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/handler"
	"github.com/dukerupert/franchise/internal/service"
)

type adjustmentRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=receive sale"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// StockHandler serves the stock ledger endpoints
type StockHandler struct {
	svc service.LifecycleService
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc service.LifecycleService) *StockHandler {
	return &StockHandler{svc: svc}
}

// Get handles GET /locations/{locationId}/stock/{productId}
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetStock(r.Context(), r.PathValue("locationId"), r.PathValue("productId"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, rec)
}

// Adjust handles POST /locations/{locationId}/stock/{productId}/adjustments
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := decodeJSON(r, "stock.adjust", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	rec, err := h.svc.AdjustStock(r.Context(), actorFrom(r), service.StockAdjustment{
		LocationID: r.PathValue("locationId"),
		ProductID:  r.PathValue("productId"),
		Kind:       domain.StockAdjustmentKind(req.Kind),
		Quantity:   req.Quantity,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, rec)
}
