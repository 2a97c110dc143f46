// Package handler holds the HTTP response helpers shared by the API
// handlers: JSON encoding and the mapping of domain errors to responses.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/middleware"
)

// ErrorBody is the "error" object of every error response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	// Insufficient stock
	Line       *int   `json:"line,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	LocationID string `json:"location_id,omitempty"`
	Requested  *int64 `json:"requested,omitempty"`
	Free       *int64 `json:"free,omitempty"`

	// Invalid transition
	OrderID       string `json:"order_id,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
	Event         string `json:"event,omitempty"`
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT, domain.EINSUFFICIENTSTOCK, domain.EINVALIDTRANSITION:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.EKEYREUSED:
		return http.StatusUnprocessableEntity // 422
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EALREADYDECIDED:
		return http.StatusOK // 200 - losing decision is reported with the winner
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorResponse logs err and writes it as a JSON error response.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"op", domain.ErrorOp(err),
		"status", status,
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	JSON(w, status, map[string]ErrorBody{"error": errorBody(err)})
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{
		Code:    domain.ErrorCode(err),
		Message: domain.ErrorMessage(err),
		Fields:  domain.GetValidationFields(err),
	}

	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		line := stock.Line
		body.Line = &line
		body.ProductID = stock.ProductID
		body.LocationID = stock.LocationID
		body.Requested = &stock.Requested
		body.Free = &stock.Free
	}

	var transition *domain.InvalidTransitionError
	if errors.As(err, &transition) {
		body.OrderID = transition.OrderID
		body.CurrentStatus = string(transition.Status)
		body.Event = string(transition.Event)
	}

	return body
}

// NotFoundResponse writes a 404 for unmatched routes.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse writes a 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Actor identity is required"))
}

// ForbiddenResponse writes a 403.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EFORBIDDEN, "", "You don't have permission to access this resource"))
}

// InternalErrorResponse writes a 500 without exposing err.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
