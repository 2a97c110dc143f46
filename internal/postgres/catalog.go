package postgres

import (
	"context"

	"github.com/dukerupert/franchise/internal/domain"
)

// Catalog implements domain.ProductCatalog.
type Catalog struct {
	db *DB
}

var _ domain.ProductCatalog = (*Catalog)(nil)

func NewCatalog(db *DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := c.db.conn(ctx).Query(ctx, `
		SELECT id, name, active, min_order_qty, max_order_qty, unit_price_cents
		FROM products
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, domain.Internal(err, "catalog.get", "failed to load products")
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Active, &p.MinOrderQty, &p.MaxOrderQty, &p.UnitPriceCents); err != nil {
			return nil, domain.Internal(err, "catalog.get", "failed to scan product")
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "catalog.get", "failed to load products")
	}
	return out, nil
}

// UpsertProduct inserts or replaces a product.
func (c *Catalog) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := c.db.conn(ctx).Exec(ctx, `
		INSERT INTO products (id, name, active, min_order_qty, max_order_qty, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, active = $3, min_order_qty = $4, max_order_qty = $5,
		    unit_price_cents = $6, updated_at = now()`,
		p.ID, p.Name, p.Active, p.MinOrderQty, p.MaxOrderQty, p.UnitPriceCents,
	)
	if err != nil {
		return domain.Internal(err, "catalog.upsert", "failed to save product")
	}
	return nil
}
