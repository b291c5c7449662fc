package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// availableExpr is the batch availability in SQL
const availableExpr = "quantity_in - quantity_used - quantity_mutated"

// GormStockBatchRepository implements StockBatchRepository using GORM
type GormStockBatchRepository struct {
	db *gorm.DB
}

// NewGormStockBatchRepository creates a new GormStockBatchRepository
func NewGormStockBatchRepository(db *gorm.DB) *GormStockBatchRepository {
	return &GormStockBatchRepository{db: db}
}

// FindByID finds a stock batch by its ID
func (r *GormStockBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.StockBatch, error) {
	var m models.StockBatchModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindEligible finds batches with available stock received on or before asOf,
// oldest first (FIFO), same-day receipts in insertion order
func (r *GormStockBatchRepository) FindEligible(ctx context.Context, locationID, itemID uuid.UUID, asOf time.Time) ([]inventory.StockBatch, error) {
	var rows []models.StockBatchModel
	if err := r.db.WithContext(ctx).
		Where("location_id = ? AND item_id = ?", locationID, itemID).
		Where("received_date <= ?", inventory.DateOf(asOf)).
		Where(availableExpr + " > 0").
		Order("received_date ASC, seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toStockBatches(rows), nil
}

// LockEligible locks the eligible batches of several items with SELECT ... FOR UPDATE
func (r *GormStockBatchRepository) LockEligible(ctx context.Context, locationID uuid.UUID, itemIDs []uuid.UUID, asOf time.Time) ([]inventory.StockBatch, error) {
	if len(itemIDs) == 0 {
		return []inventory.StockBatch{}, nil
	}
	var rows []models.StockBatchModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("location_id = ? AND item_id IN ?", locationID, itemIDs).
		Where("received_date <= ?", inventory.DateOf(asOf)).
		Where(availableExpr + " > 0").
		Order("item_id ASC, received_date ASC, seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toStockBatches(rows), nil
}

// LockByIDs locks specific batches in id order
func (r *GormStockBatchRepository) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]inventory.StockBatch, error) {
	if len(ids) == 0 {
		return []inventory.StockBatch{}, nil
	}
	var rows []models.StockBatchModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toStockBatches(rows), nil
}

// EarliestReceipt returns the receipt date of the oldest batch that ever held
// stock at the location, fully consumed batches included
func (r *GormStockBatchRepository) EarliestReceipt(ctx context.Context, locationID, itemID uuid.UUID) (*time.Time, error) {
	var rows []models.StockBatchModel
	if err := r.db.WithContext(ctx).
		Select("received_date").
		Where("location_id = ? AND item_id = ? AND quantity_in > 0", locationID, itemID).
		Order("received_date ASC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	d := inventory.DateOf(rows[0].ReceivedDate)
	return &d, nil
}

// RecalculateUsed recomputes quantity_used as the sum of the batch's live
// allocation details and writes it back
func (r *GormStockBatchRepository) RecalculateUsed(ctx context.Context, batchID uuid.UUID) (*inventory.StockBatch, error) {
	db := r.db.WithContext(ctx)

	var used decimal.Decimal
	if err := db.Model(&models.AllocationDetailModel{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("batch_id = ?", batchID).
		Row().Scan(&used); err != nil {
		return nil, fmt.Errorf("sum allocation details: %w", err)
	}

	batch, err := r.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := batch.SetUsed(used); err != nil {
		return nil, err
	}

	if err := db.Model(&models.StockBatchModel{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"quantity_used": batch.QuantityUsed,
			"updated_at":    batch.UpdatedAt,
		}).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// SumAvailable sums available quantity over every batch of the key
func (r *GormStockBatchRepository) SumAvailable(ctx context.Context, locationID, itemID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.db.WithContext(ctx).Model(&models.StockBatchModel{}).
		Select("COALESCE(SUM("+availableExpr+"), 0)").
		Where("location_id = ? AND item_id = ?", locationID, itemID).
		Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// Create inserts a batch. A zero Seq is assigned the next insertion sequence.
func (r *GormStockBatchRepository) Create(ctx context.Context, batch *inventory.StockBatch) error {
	db := r.db.WithContext(ctx)
	if batch.Seq == 0 {
		var last int64
		if err := db.Model(&models.StockBatchModel{}).
			Select("COALESCE(MAX(seq), 0)").
			Row().Scan(&last); err != nil {
			return fmt.Errorf("next batch sequence: %w", err)
		}
		batch.Seq = last + 1
	}
	return db.Create(models.StockBatchModelFromDomain(batch)).Error
}

func toStockBatches(rows []models.StockBatchModel) []inventory.StockBatch {
	batches := make([]inventory.StockBatch, 0, len(rows))
	for i := range rows {
		batches = append(batches, *rows[i].ToDomain())
	}
	return batches
}

// Ensure GormStockBatchRepository implements StockBatchRepository
var _ inventory.StockBatchRepository = (*GormStockBatchRepository)(nil)
