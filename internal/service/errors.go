package service

import (
	"github.com/dukerupert/franchise/internal/domain"
)

// Request errors - use domain.EINVALID
var (
	ErrEmptyCart         = domain.Errorf(domain.EINVALID, "", "Cart has no lines")
	ErrMissingLocation   = domain.Errorf(domain.EINVALID, "", "Location is required")
	ErrInvalidDecision   = domain.Errorf(domain.EINVALID, "", "Decision must be approve or reject")
	ErrInvalidEvent      = domain.Errorf(domain.EINVALID, "", "Event must be begin_processing, ship or deliver")
	ErrInvalidAdjustment = domain.Errorf(domain.EINVALID, "", "Adjustment kind must be receive or sale")
)

// Identity errors
var (
	ErrMissingActor   = domain.Unauthorized("", "Actor identity is required")
	ErrStockForbidden = domain.Errorf(domain.EFORBIDDEN, "", "Actor is not allowed to adjust stock")
)
