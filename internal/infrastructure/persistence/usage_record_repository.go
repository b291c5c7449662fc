package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormUsageRecordRepository implements UsageRecordRepository using GORM
type GormUsageRecordRepository struct {
	db *gorm.DB
}

// NewGormUsageRecordRepository creates a new GormUsageRecordRepository
func NewGormUsageRecordRepository(db *gorm.DB) *GormUsageRecordRepository {
	return &GormUsageRecordRepository{db: db}
}

func orderedLines(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

// FindByID finds a usage record with its live lines and their allocation details
func (r *GormUsageRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.UsageRecord, error) {
	var m models.UsageRecordModel
	if err := r.db.WithContext(ctx).
		Preload("Lines", orderedLines).
		Preload("Lines.Allocations").
		First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByIDForUpdate locks the header row, then loads lines and details.
// Preload cannot carry the locking clause, so children are read separately.
func (r *GormUsageRecordRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*inventory.UsageRecord, error) {
	db := r.db.WithContext(ctx)

	var m models.UsageRecordModel
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	if err := orderedLines(db).
		Preload("Allocations").
		Where("record_id = ?", id).
		Find(&m.Lines).Error; err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByLocation lists non-deleted records of a location.
// Supported filter keys: kind, status, from, to.
func (r *GormUsageRecordRepository) FindByLocation(ctx context.Context, locationID uuid.UUID, filter shared.Filter) ([]inventory.UsageRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.UsageRecordModel{}).
		Where("location_id = ? AND status <> ?", locationID, string(inventory.UsageStatusDeleted))
	query = r.applyFilter(query, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortField := ValidateSortField(filter.OrderBy, UsageRecordSortFields, "usage_date")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(sortField + " " + sortOrder).Order("created_at " + sortOrder)

	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var rows []models.UsageRecordModel
	if err := query.Preload("Lines", orderedLines).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	records := make([]inventory.UsageRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *rows[i].ToDomain())
	}
	return records, total, nil
}

func (r *GormUsageRecordRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if kind, ok := filter.Filters["kind"].(string); ok && kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if status, ok := filter.Filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if from, ok := filter.Filters["from"].(time.Time); ok {
		query = query.Where("usage_date >= ?", inventory.DateOf(from))
	}
	if to, ok := filter.Filters["to"].(time.Time); ok {
		query = query.Where("usage_date <= ?", inventory.DateOf(to))
	}
	return query
}

// Save creates or updates the record header. created_at and created_by are
// written once.
func (r *GormUsageRecordRepository) Save(ctx context.Context, record *inventory.UsageRecord) error {
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"kind", "location_id", "sub_location_id", "usage_date", "notes",
				"status", "revision", "version", "updated_by", "updated_at",
				"deleted_by", "deleted_at",
			}),
		}).
		Create(models.UsageRecordModelFromDomain(record)).Error
}

// SaveLine creates or updates a line item. Item and unit are the line's
// identity and are never rewritten.
func (r *GormUsageRecordRepository) SaveLine(ctx context.Context, line *inventory.UsageLineItem) error {
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "notes", "updated_at"}),
		}).
		Create(models.UsageLineItemModelFromDomain(line)).Error
}

// DeleteLine soft-deletes a line item
func (r *GormUsageRecordRepository) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.UsageLineItemModel{}, "id = ?", lineID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormUsageRecordRepository implements UsageRecordRepository
var _ inventory.UsageRecordRepository = (*GormUsageRecordRepository)(nil)
