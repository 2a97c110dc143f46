package memory

import (
	"context"
	"sync"

	"github.com/dukerupert/franchise/internal/domain"
)

type stockKey struct {
	productID  string
	locationID string
}

// StockStore keeps stock records keyed by (product, location).
type StockStore struct {
	mu      sync.RWMutex
	records map[stockKey]domain.StockRecord
}

func NewStockStore() *StockStore {
	return &StockStore{records: make(map[stockKey]domain.StockRecord)}
}

// Seed sets a record unconditionally. Version defaults to 1.
func (s *StockStore) Seed(rec domain.StockRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Version == 0 {
		rec.Version = 1
	}
	s.records[stockKey{rec.ProductID, rec.LocationID}] = rec
}

func (s *StockStore) GetStock(ctx context.Context, productID, locationID string) (domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[stockKey{productID, locationID}]
	if !ok {
		return domain.StockRecord{}, domain.NotFound("stock.get", "stock record", productID+"@"+locationID)
	}
	return rec, nil
}

func (s *StockStore) UpdateStock(ctx context.Context, rec domain.StockRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{rec.ProductID, rec.LocationID}
	stored, ok := s.records[key]
	if !ok {
		return domain.NotFound("stock.update", "stock record", rec.ProductID+"@"+rec.LocationID)
	}
	if stored.Version != expectedVersion {
		return domain.ErrVersionMismatch
	}
	s.records[key] = rec
	return nil
}

func (s *StockStore) CreateStock(ctx context.Context, rec domain.StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{rec.ProductID, rec.LocationID}
	if _, exists := s.records[key]; exists {
		return domain.ErrVersionMismatch
	}
	s.records[key] = rec
	return nil
}
