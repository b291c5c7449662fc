package persistence

import (
	"context"
	"errors"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCurrentStockRepository implements CurrentStockRepository using GORM
type GormCurrentStockRepository struct {
	db *gorm.DB
}

// NewGormCurrentStockRepository creates a new GormCurrentStockRepository
func NewGormCurrentStockRepository(db *gorm.DB) *GormCurrentStockRepository {
	return &GormCurrentStockRepository{db: db}
}

// FindByKey finds the ledger row for a location and item
func (r *GormCurrentStockRepository) FindByKey(ctx context.Context, locationID, itemID uuid.UUID) (*inventory.CurrentStock, error) {
	var m models.CurrentStockModel
	if err := r.db.WithContext(ctx).
		Where("location_id = ? AND item_id = ?", locationID, itemID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByKeys finds ledger rows without locking
func (r *GormCurrentStockRepository) FindByKeys(ctx context.Context, keys []inventory.StockKey) ([]inventory.CurrentStock, error) {
	return r.findByKeys(r.db.WithContext(ctx), keys)
}

// LockByKeys locks ledger rows in (location, item) order
func (r *GormCurrentStockRepository) LockByKeys(ctx context.Context, keys []inventory.StockKey) ([]inventory.CurrentStock, error) {
	return r.findByKeys(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), keys)
}

func (r *GormCurrentStockRepository) findByKeys(query *gorm.DB, keys []inventory.StockKey) ([]inventory.CurrentStock, error) {
	keys = inventory.SortedStockKeys(keys)
	if len(keys) == 0 {
		return []inventory.CurrentStock{}, nil
	}
	pairs := make([][]interface{}, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []interface{}{k.LocationID, k.ItemID})
	}

	var rows []models.CurrentStockModel
	if err := query.
		Where("(location_id, item_id) IN ?", pairs).
		Order("location_id ASC, item_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	stocks := make([]inventory.CurrentStock, 0, len(rows))
	for i := range rows {
		stocks = append(stocks, *rows[i].ToDomain())
	}
	return stocks, nil
}

// Save creates or updates a ledger row keyed by (location, item)
func (r *GormCurrentStockRepository) Save(ctx context.Context, stock *inventory.CurrentStock) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "location_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "version", "updated_at"}),
		}).
		Create(models.CurrentStockModelFromDomain(stock)).Error
}

// Ensure GormCurrentStockRepository implements CurrentStockRepository
var _ inventory.CurrentStockRepository = (*GormCurrentStockRepository)(nil)
