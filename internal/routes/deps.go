package routes

import (
	"net/http"

	"github.com/dukerupert/franchise/internal/handler/api"
	"github.com/dukerupert/franchise/internal/idempotency"
	"github.com/dukerupert/franchise/internal/middleware"
)

// APIDeps contains dependencies for the order lifecycle API
type APIDeps struct {
	// Handlers
	CartHandler   *api.CartHandler
	OrderHandler  *api.OrderHandler
	StockHandler  *api.StockHandler
	HealthHandler http.Handler

	// Write protection
	Idempotency idempotency.Store
	RateLimiter *middleware.RateLimiter
	MaxBodySize int64

	// Metrics is optional; nil disables /metrics
	Metrics *middleware.Metrics
}
