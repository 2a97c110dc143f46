package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/franchise/internal/domain"
)

// StockStore implements domain.StockStore.
type StockStore struct {
	db *DB
}

var _ domain.StockStore = (*StockStore)(nil)

func NewStockStore(db *DB) *StockStore {
	return &StockStore{db: db}
}

func (s *StockStore) GetStock(ctx context.Context, productID, locationID string) (domain.StockRecord, error) {
	rec := domain.StockRecord{ProductID: productID, LocationID: locationID}
	err := s.db.conn(ctx).QueryRow(ctx, `
		SELECT available_quantity, reserved_quantity, version, updated_at
		FROM stock_records
		WHERE product_id = $1 AND location_id = $2`,
		productID, locationID,
	).Scan(&rec.Available, &rec.Reserved, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockRecord{}, domain.NotFound("stock.get", "stock record", productID+"@"+locationID)
	}
	if err != nil {
		return domain.StockRecord{}, storeErr(err, "stock.get", "failed to load stock record")
	}
	return rec, nil
}

func (s *StockStore) UpdateStock(ctx context.Context, rec domain.StockRecord, expectedVersion int64) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `
		UPDATE stock_records
		SET available_quantity = $3, reserved_quantity = $4, version = $5, updated_at = $6
		WHERE product_id = $1 AND location_id = $2 AND version = $7`,
		rec.ProductID, rec.LocationID, rec.Available, rec.Reserved, rec.Version, rec.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return storeErr(err, "stock.update", "failed to update stock record")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionMismatch
	}
	return nil
}

func (s *StockStore) CreateStock(ctx context.Context, rec domain.StockRecord) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `
		INSERT INTO stock_records (product_id, location_id, available_quantity, reserved_quantity, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id, location_id) DO NOTHING`,
		rec.ProductID, rec.LocationID, rec.Available, rec.Reserved, rec.Version, rec.UpdatedAt,
	)
	if err != nil {
		return storeErr(err, "stock.create", "failed to create stock record")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionMismatch
	}
	return nil
}
