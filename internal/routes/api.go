package routes

import (
	"net/http"

	"github.com/dukerupert/franchise/internal/handler"
	"github.com/dukerupert/franchise/internal/middleware"
	"github.com/dukerupert/franchise/internal/router"
)

// RegisterAPIRoutes registers the order lifecycle API.
//
// Every business route requires a gateway-asserted actor. Writes are rate
// limited per actor and deduplicated by Idempotency-Key.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	// Probes stay outside the actor requirement
	r.Handle(http.MethodGet, "/health", deps.HealthHandler)
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	read := r.Group(middleware.RequireActor)

	writeChain := []router.Middleware{middleware.RequireActor}
	if deps.RateLimiter != nil {
		writeChain = append(writeChain, deps.RateLimiter.Middleware)
	}
	writeChain = append(writeChain, middleware.MaxBodySize(deps.MaxBodySize))
	if deps.Idempotency != nil {
		writeChain = append(writeChain, middleware.Idempotency(deps.Idempotency))
	}
	write := r.Group(writeChain...)

	// Carts
	write.Post("/carts/validate", deps.CartHandler.Validate)

	// Orders
	write.Post("/orders", deps.OrderHandler.Checkout)
	read.Get("/orders/{id}", deps.OrderHandler.Get)
	write.Post("/orders/{id}/decision", deps.OrderHandler.Decide)
	write.Post("/orders/{id}/cancel", deps.OrderHandler.Cancel)
	write.Post("/orders/{id}/fulfillment-event", deps.OrderHandler.FulfillmentEvent)
	write.Post("/orders/{id}/reorder", deps.OrderHandler.Reorder)

	// Stock ledger
	read.Get("/locations/{locationId}/stock/{productId}", deps.StockHandler.Get)
	write.Post("/locations/{locationId}/stock/{productId}/adjustments", deps.StockHandler.Adjust)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r)
	})
}
