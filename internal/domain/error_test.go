package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const internalMessage = "An internal error occurred. Please try again later."

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", &Error{Code: EINVALID, Message: "reason is required"}, "reason is required"},
		{"with op", &Error{Code: EINVALID, Op: "order.reject", Message: "reason is required"}, "order.reject: reason is required"},
		{"with cause", &Error{Code: EINTERNAL, Message: "failed to save", Err: errors.New("connection reset")}, "failed to save: connection reset"},
		{
			name: "with op and cause",
			err:  &Error{Code: EINTERNAL, Op: "postgres.order.update", Message: "failed to save", Err: errors.New("connection reset")},
			want: "postgres.order.update: failed to save: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("deadlock detected")

	err := WrapError(cause, EINTERNAL, "stock.reserve", "failed to reserve stock")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, EINTERNAL, ErrorCode(err))
	assert.Equal(t, "stock.reserve", ErrorOp(err))

	assert.NoError(t, WrapError(nil, EINTERNAL, "stock.reserve", "unused"))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"domain error", NotFound("order.get", "order", "o-1"), ENOTFOUND},
		{"wrapped domain error", fmt.Errorf("handler: %w", Conflict("stock.reserve", "version changed")), ECONFLICT},
		{"validation error", NewValidationError("cart.validate", "lines", "empty"), EINVALID},
		{"insufficient stock", &InsufficientStockError{ProductID: "P1"}, EINSUFFICIENTSTOCK},
		{"plain error", errors.New("boom"), EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}

	assert.True(t, IsCode(Forbidden("order.approve", "approver role required"), EFORBIDDEN))
	assert.True(t, IsCode(Unauthorized("", "Actor identity is required"), EUNAUTHORIZED))
	assert.False(t, IsCode(errors.New("boom"), EFORBIDDEN))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"domain error", Invalid("order.reject", "reason is required"), "reason is required"},
		{"internal hides cause", Internal(errors.New("pq: password authentication failed"), "order.get", "failed to load"), internalMessage},
		{"validation error", NewValidationError("cart.validate", "lines", "empty"), "Validation failed"},
		{"plain error hides text", errors.New("secret dsn"), internalMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.err))
		})
	}
}

func TestErrorOp(t *testing.T) {
	assert.Equal(t, "order.get", ErrorOp(NotFound("order.get", "order", "o-1")))
	assert.Equal(t, "cart.validate", ErrorOp(NewValidationError("cart.validate", "lines", "empty")))
	assert.Equal(t, "order.ship", ErrorOp(&InvalidTransitionError{Op: "order.ship"}))
	assert.Empty(t, ErrorOp(errors.New("boom")))
	assert.Empty(t, ErrorOp(nil))
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("order.get", "order", "o-1")
	assert.Equal(t, "order not found: o-1", ErrorMessage(err))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("order.checkout", "location_id", "is required")
	assert.Equal(t, "order.checkout: location_id: is required", err.Error())

	err = AddFieldError(err, "lines[1].quantity", "must be greater than 0")
	assert.Equal(t, "order.checkout: validation failed for 2 fields", err.Error())
	assert.Equal(t, map[string]string{
		"location_id":       "is required",
		"lines[1].quantity": "must be greater than 0",
	}, GetValidationFields(err))

	assert.True(t, IsValidationError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsValidationError(Invalid("x", "y")))
	assert.Nil(t, GetValidationFields(errors.New("boom")))

	fresh := AddFieldError(errors.New("not a validation error"), "reason", "is required")
	assert.Equal(t, map[string]string{"reason": "is required"}, GetValidationFields(fresh))
}

func TestLifecycleErrors(t *testing.T) {
	order := &Order{ID: "o-1", Number: "FO-20260101-AAAAAA", Status: OrderStatusApproved}

	tests := []struct {
		name            string
		err             error
		expectedCode    string
		expectedMessage string
	}{
		{
			name:            "insufficient stock",
			err:             &InsufficientStockError{Op: "order.checkout", Line: 1, ProductID: "p-2", Requested: 6, Free: 4},
			expectedCode:    EINSUFFICIENTSTOCK,
			expectedMessage: "Insufficient stock for product p-2 on line 2: requested 6, 4 available",
		},
		{
			name:            "invalid transition",
			err:             &InvalidTransitionError{Op: "order.ship", OrderID: "o-1", Status: OrderStatusApproved, Event: EventShip},
			expectedCode:    EINVALIDTRANSITION,
			expectedMessage: "Cannot ship an order that is approved",
		},
		{
			name:            "already decided",
			err:             &AlreadyDecidedError{Op: "order.decide", Order: order},
			expectedCode:    EALREADYDECIDED,
			expectedMessage: "Order FO-20260101-AAAAAA has already been approved",
		},
		{
			name:            "wrapped invalid transition",
			err:             fmt.Errorf("cancel: %w", &InvalidTransitionError{Status: OrderStatusShipped, Event: EventBeginProcessing}),
			expectedCode:    EINVALIDTRANSITION,
			expectedMessage: "Cannot begin processing an order that is shipped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedCode, ErrorCode(tt.err))
			assert.Equal(t, tt.expectedMessage, ErrorMessage(tt.err))
		})
	}
}

func TestAsAlreadyDecided(t *testing.T) {
	order := &Order{ID: "o-1", Status: OrderStatusRejected}

	got, ok := AsAlreadyDecided(fmt.Errorf("decide: %w", &AlreadyDecidedError{Order: order}))
	require.True(t, ok)
	assert.Same(t, order, got)

	_, ok = AsAlreadyDecided(errors.New("other"))
	assert.False(t, ok)
}
