package service

import (
	"fmt"

	"github.com/dukerupert/franchise/internal/domain"
)

// DefaultWarnRatio is the share of a product's maximum order quantity above
// which a line draws a warning.
const DefaultWarnRatio = 0.8

// Cart issue codes.
const (
	IssueEmptyCart        = "empty_cart"
	IssueUnknownProduct   = "unknown_product"
	IssueInactiveProduct  = "inactive_product"
	IssueNotPositive      = "not_positive"
	IssueBelowMinimum     = "below_minimum"
	IssueAboveMaximum     = "above_maximum"
	IssueDuplicateProduct = "duplicate_product"
	IssueNearMaximum      = "near_maximum"
	IssueExceedsAvailable = "exceeds_available"
)

// CartIssue is one blocking error or non-blocking warning on a cart line.
// Line is the zero-based line index, or -1 for cart-level issues.
type CartIssue struct {
	Line      int    `json:"line"`
	ProductID string `json:"product_id,omitempty"`
	Field     string `json:"field"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// CartValidation is the validator's verdict. Lines carries the priced lines
// when the cart is valid.
type CartValidation struct {
	Valid         bool              `json:"valid"`
	Errors        []CartIssue       `json:"errors"`
	Warnings      []CartIssue       `json:"warnings"`
	Lines         []domain.CartLine `json:"lines,omitempty"`
	SubtotalCents int64             `json:"subtotal_cents"`
}

// Err converts a failed validation into a field-level ValidationError.
func (v *CartValidation) Err(op string) error {
	if v.Valid {
		return nil
	}
	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(v.Errors))}
	for _, issue := range v.Errors {
		key := issue.Field
		if issue.Line >= 0 {
			key = fmt.Sprintf("lines[%d].%s", issue.Line, issue.Field)
		}
		ve.Fields[key] = issue.Message
	}
	return ve
}

// CartValidator checks cart lines against product master data. It never
// reads or writes the stock ledger; the optional stock snapshot only
// produces warnings because availability is re-checked at reservation.
type CartValidator struct {
	WarnRatio float64
}

// NewCartValidator returns a validator with the default warning ratio.
func NewCartValidator() CartValidator {
	return CartValidator{WarnRatio: DefaultWarnRatio}
}

// Validate checks every line and prices the valid ones.
func (v CartValidator) Validate(lines []domain.CartLine, products map[string]domain.Product, stock map[string]domain.StockRecord) *CartValidation {
	result := &CartValidation{Errors: []CartIssue{}, Warnings: []CartIssue{}}

	if len(lines) == 0 {
		result.Errors = append(result.Errors, CartIssue{
			Line:    -1,
			Field:   "lines",
			Code:    IssueEmptyCart,
			Message: "Cart has no lines",
		})
		return result
	}

	ratio := v.WarnRatio
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultWarnRatio
	}

	seen := make(map[string]int, len(lines))
	priced := make([]domain.CartLine, 0, len(lines))

	for i, line := range lines {
		fail := func(field, code, format string, args ...any) {
			result.Errors = append(result.Errors, CartIssue{
				Line:      i,
				ProductID: line.ProductID,
				Field:     field,
				Code:      code,
				Message:   fmt.Sprintf(format, args...),
			})
		}

		if first, dup := seen[line.ProductID]; dup {
			fail("product_id", IssueDuplicateProduct, "Product %s already appears on line %d", line.ProductID, first+1)
			continue
		}
		seen[line.ProductID] = i

		product, ok := products[line.ProductID]
		if !ok {
			fail("product_id", IssueUnknownProduct, "Product %s does not exist", line.ProductID)
			continue
		}
		if !product.Active {
			fail("product_id", IssueInactiveProduct, "%s is no longer available to order", product.Name)
			continue
		}

		switch {
		case line.Quantity <= 0:
			fail("quantity", IssueNotPositive, "Quantity must be greater than 0")
			continue
		case product.MinOrderQty > 0 && line.Quantity < product.MinOrderQty:
			fail("quantity", IssueBelowMinimum, "Minimum order quantity for %s is %d", product.Name, product.MinOrderQty)
			continue
		case product.MaxOrderQty > 0 && line.Quantity > product.MaxOrderQty:
			fail("quantity", IssueAboveMaximum, "Maximum order quantity for %s is %d", product.Name, product.MaxOrderQty)
			continue
		}

		if product.MaxOrderQty > 0 && float64(line.Quantity) > ratio*float64(product.MaxOrderQty) {
			result.Warnings = append(result.Warnings, CartIssue{
				Line:      i,
				ProductID: line.ProductID,
				Field:     "quantity",
				Code:      IssueNearMaximum,
				Message:   fmt.Sprintf("Quantity %d is close to the maximum of %d for %s", line.Quantity, product.MaxOrderQty, product.Name),
			})
		}
		if rec, ok := stock[line.ProductID]; ok && line.Quantity > rec.Free() {
			result.Warnings = append(result.Warnings, CartIssue{
				Line:      i,
				ProductID: line.ProductID,
				Field:     "quantity",
				Code:      IssueExceedsAvailable,
				Message:   fmt.Sprintf("Only %d of %s currently available; stock is confirmed at checkout", max(rec.Free(), 0), product.Name),
			})
		}

		line.UnitPriceCents = product.UnitPriceCents
		priced = append(priced, line)
		result.SubtotalCents += line.UnitPriceCents * line.Quantity
	}

	result.Valid = len(result.Errors) == 0
	if result.Valid {
		result.Lines = priced
	} else {
		result.SubtotalCents = 0
	}
	return result
}
