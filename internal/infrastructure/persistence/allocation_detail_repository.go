package persistence

import (
	"context"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAllocationDetailRepository implements AllocationDetailRepository using GORM
type GormAllocationDetailRepository struct {
	db *gorm.DB
}

// NewGormAllocationDetailRepository creates a new GormAllocationDetailRepository
func NewGormAllocationDetailRepository(db *gorm.DB) *GormAllocationDetailRepository {
	return &GormAllocationDetailRepository{db: db}
}

// FindByLineItem finds the details of a line in creation order
func (r *GormAllocationDetailRepository) FindByLineItem(ctx context.Context, lineItemID uuid.UUID) ([]inventory.AllocationDetail, error) {
	var rows []models.AllocationDetailModel
	if err := r.db.WithContext(ctx).
		Where("line_item_id = ?", lineItemID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	details := make([]inventory.AllocationDetail, 0, len(rows))
	for i := range rows {
		details = append(details, *rows[i].ToDomain())
	}
	return details, nil
}

// CreateBatch inserts details in a single statement
func (r *GormAllocationDetailRepository) CreateBatch(ctx context.Context, details []inventory.AllocationDetail) error {
	if len(details) == 0 {
		return nil
	}
	rows := make([]*models.AllocationDetailModel, 0, len(details))
	for i := range details {
		rows = append(rows, models.AllocationDetailModelFromDomain(&details[i]))
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// DeleteByLineItem hard-deletes every detail of a line
func (r *GormAllocationDetailRepository) DeleteByLineItem(ctx context.Context, lineItemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("line_item_id = ?", lineItemID).
		Delete(&models.AllocationDetailModel{}).Error
}

// Ensure GormAllocationDetailRepository implements AllocationDetailRepository
var _ inventory.AllocationDetailRepository = (*GormAllocationDetailRepository)(nil)
