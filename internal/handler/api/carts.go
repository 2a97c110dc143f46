package api

import (
	"net/http"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/handler"
	"github.com/dukerupert/franchise/internal/service"
)

type cartLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity"`
}

type cartRequest struct {
	LocationID string            `json:"location_id" validate:"required"`
	Lines      []cartLineRequest `json:"lines" validate:"dive"`
}

func (c cartRequest) cart() domain.Cart {
	cart := domain.Cart{LocationID: c.LocationID, Lines: make([]domain.CartLine, len(c.Lines))}
	for i, l := range c.Lines {
		cart.Lines[i] = domain.CartLine{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return cart
}

// CartHandler serves cart validation
type CartHandler struct {
	svc service.LifecycleService
}

// NewCartHandler creates a new cart handler
func NewCartHandler(svc service.LifecycleService) *CartHandler {
	return &CartHandler{svc: svc}
}

// Validate handles POST /carts/validate. The verdict is returned with 200
// whether or not the cart is valid; stock is not touched.
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, "cart.validate", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	result, err := h.svc.ValidateCart(r.Context(), req.cart())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, result)
}
