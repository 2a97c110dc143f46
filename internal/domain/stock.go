package domain

import "time"

// StockRecord is the ledger row for one product at one location.
// Available is what is physically on hand; Reserved is the part of it held
// by pending orders. Reserved never exceeds Available.
type StockRecord struct {
	ProductID  string    `json:"product_id"`
	LocationID string    `json:"location_id"`
	Available  int64     `json:"available_quantity"`
	Reserved   int64     `json:"reserved_quantity"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Free is the quantity that can still be reserved.
func (s StockRecord) Free() int64 {
	return s.Available - s.Reserved
}

// Product is the master data the cart validator checks lines against.
type Product struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Active         bool   `json:"active"`
	MinOrderQty    int64  `json:"min_order_qty"`
	MaxOrderQty    int64  `json:"max_order_qty"` // 0 means no maximum
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// CartLine is one requested (product, quantity) pair. UnitPriceCents is
// filled in by the validator from the catalog.
type CartLine struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Cart is the ephemeral checkout request of one actor at one location.
type Cart struct {
	LocationID string     `json:"location_id"`
	Lines      []CartLine `json:"lines"`
}

// StockAdjustmentKind is a non-order stock movement.
type StockAdjustmentKind string

const (
	StockReceive StockAdjustmentKind = "receive" // goods-in
	StockSale    StockAdjustmentKind = "sale"    // point-of-sale deduction
)
