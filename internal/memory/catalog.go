package memory

import (
	"context"
	"sync"

	"github.com/dukerupert/franchise/internal/domain"
)

// Catalog is a static product catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Put adds or replaces a product.
func (c *Catalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
