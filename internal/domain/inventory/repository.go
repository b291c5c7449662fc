package inventory

import (
	"context"
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemRepository reads item master data
type ItemRepository interface {
	// FindByID finds an item with its conversion table
	FindByID(ctx context.Context, id uuid.UUID) (*Item, error)

	// FindByIDs finds multiple items; missing ids are simply absent from the result
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Item, error)
}

// StockBatchRepository defines the interface for stock batch persistence
type StockBatchRepository interface {
	// FindByID finds a stock batch by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*StockBatch, error)

	// FindEligible finds batches with available stock received on or before asOf, in FIFO order
	FindEligible(ctx context.Context, locationID, itemID uuid.UUID, asOf time.Time) ([]StockBatch, error)

	// LockEligible locks (SELECT ... FOR UPDATE) the eligible batches of several items,
	// ordered by item, receipt date and sequence
	LockEligible(ctx context.Context, locationID uuid.UUID, itemIDs []uuid.UUID, asOf time.Time) ([]StockBatch, error)

	// LockByIDs locks specific batches, ordered by id
	LockByIDs(ctx context.Context, ids []uuid.UUID) ([]StockBatch, error)

	// EarliestReceipt returns the receipt date of the oldest batch that ever held stock,
	// or nil when the item was never received at the location
	EarliestReceipt(ctx context.Context, locationID, itemID uuid.UUID) (*time.Time, error)

	// RecalculateUsed recomputes quantity_used from live allocation details
	RecalculateUsed(ctx context.Context, batchID uuid.UUID) (*StockBatch, error)

	// SumAvailable sums available quantity over all batches of a key
	SumAvailable(ctx context.Context, locationID, itemID uuid.UUID) (decimal.Decimal, error)

	// Create inserts a new batch and assigns its sequence
	Create(ctx context.Context, batch *StockBatch) error
}

// CurrentStockRepository defines the interface for ledger persistence
type CurrentStockRepository interface {
	// FindByKey finds the ledger row for a location and item
	FindByKey(ctx context.Context, locationID, itemID uuid.UUID) (*CurrentStock, error)

	// FindByKeys finds ledger rows without locking
	FindByKeys(ctx context.Context, keys []StockKey) ([]CurrentStock, error)

	// LockByKeys locks ledger rows (SELECT ... FOR UPDATE) in (location, item) order.
	// Keys without a row are absent from the result.
	LockByKeys(ctx context.Context, keys []StockKey) ([]CurrentStock, error)

	// Save creates or updates a ledger row
	Save(ctx context.Context, stock *CurrentStock) error
}

// UsageRecordRepository defines the interface for usage record persistence
type UsageRecordRepository interface {
	// FindByID finds a usage record with its live lines and their allocation details
	FindByID(ctx context.Context, id uuid.UUID) (*UsageRecord, error)

	// FindByIDForUpdate is FindByID with the header row locked
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*UsageRecord, error)

	// FindByLocation lists non-deleted records of a location; lines are loaded, details are not
	FindByLocation(ctx context.Context, locationID uuid.UUID, filter shared.Filter) ([]UsageRecord, int64, error)

	// Save creates or updates the record header
	Save(ctx context.Context, record *UsageRecord) error

	// SaveLine creates or updates a line item
	SaveLine(ctx context.Context, line *UsageLineItem) error

	// DeleteLine soft-deletes a line item
	DeleteLine(ctx context.Context, lineID uuid.UUID) error
}

// AllocationDetailRepository defines the interface for allocation detail persistence
type AllocationDetailRepository interface {
	// FindByLineItem finds the live details of a line
	FindByLineItem(ctx context.Context, lineItemID uuid.UUID) ([]AllocationDetail, error)

	// CreateBatch inserts details
	CreateBatch(ctx context.Context, details []AllocationDetail) error

	// DeleteByLineItem hard-deletes every detail of a line
	DeleteByLineItem(ctx context.Context, lineItemID uuid.UUID) error
}
