package models

import (
	"sort"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ItemModel is the persistence model for item master data.
type ItemModel struct {
	BaseModel
	Name  string          `gorm:"type:varchar(200);not null"`
	Units []ItemUnitModel `gorm:"foreignKey:ItemID;references:ID"`
}

// TableName returns the table name for GORM
func (ItemModel) TableName() string {
	return "items"
}

// ToDomain converts the model to a domain Item. The unit rows are parsed
// into a ConversionTable; a malformed table is a unit conversion error.
func (m *ItemModel) ToDomain() (*inventory.Item, error) {
	rows := make([]ItemUnitModel, len(m.Units))
	copy(rows, m.Units)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SortOrder < rows[j].SortOrder })

	units := make([]valueobject.ConversionUnit, 0, len(rows))
	for _, r := range rows {
		u, err := valueobject.NewConversionUnit(r.UnitID, r.Value, r.IsSmallest, r.IsDefaultPurchase)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	table, err := valueobject.NewConversionTable(units)
	if err != nil {
		return nil, err
	}
	return &inventory.Item{ID: m.ID, Name: m.Name, Units: table}, nil
}

// ItemModelFromDomain creates a persistence model from a domain Item
func ItemModelFromDomain(item *inventory.Item) *ItemModel {
	now := time.Now().UTC()
	m := &ItemModel{
		BaseModel: BaseModel{ID: item.ID, CreatedAt: now, UpdatedAt: now},
		Name:      item.Name,
	}
	for i, u := range item.Units.Units() {
		m.Units = append(m.Units, ItemUnitModel{
			ID:                uuid.New(),
			ItemID:            item.ID,
			UnitID:            u.UnitID(),
			Value:             u.Value(),
			IsSmallest:        u.IsSmallest(),
			IsDefaultPurchase: u.IsDefaultPurchase(),
			SortOrder:         i,
		})
	}
	return m
}

// ItemUnitModel is one row of an item's conversion table.
type ItemUnitModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primary_key"`
	ItemID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_item_units_item_unit,priority:1"`
	UnitID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_item_units_item_unit,priority:2"`
	Value             decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	IsSmallest        bool            `gorm:"not null;default:false"`
	IsDefaultPurchase bool            `gorm:"not null;default:false"`
	SortOrder         int             `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (ItemUnitModel) TableName() string {
	return "item_units"
}

// StockBatchModel is the persistence model for the StockBatch entity.
type StockBatchModel struct {
	BaseModel
	LocationID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_stock_batches_fifo,priority:1"`
	ItemID          uuid.UUID       `gorm:"type:uuid;not null;index:idx_stock_batches_fifo,priority:2"`
	ReceivedDate    time.Time       `gorm:"type:date;not null;index:idx_stock_batches_fifo,priority:3"`
	Seq             int64           `gorm:"not null;index:idx_stock_batches_fifo,priority:4"`
	QuantityIn      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	QuantityUsed    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	QuantityMutated decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (StockBatchModel) TableName() string {
	return "stock_batches"
}

// ToDomain converts the persistence model to a domain StockBatch entity.
func (m *StockBatchModel) ToDomain() *inventory.StockBatch {
	return &inventory.StockBatch{
		BaseEntity:      m.BaseModel.ToDomain(),
		LocationID:      m.LocationID,
		ItemID:          m.ItemID,
		ReceivedDate:    inventory.DateOf(m.ReceivedDate),
		Seq:             m.Seq,
		QuantityIn:      m.QuantityIn,
		QuantityUsed:    m.QuantityUsed,
		QuantityMutated: m.QuantityMutated,
		UnitCost:        m.UnitCost,
	}
}

// FromDomain populates the persistence model from a domain StockBatch entity.
func (m *StockBatchModel) FromDomain(b *inventory.StockBatch) {
	m.FromDomainBaseEntity(b.BaseEntity)
	m.LocationID = b.LocationID
	m.ItemID = b.ItemID
	m.ReceivedDate = inventory.DateOf(b.ReceivedDate)
	m.Seq = b.Seq
	m.QuantityIn = b.QuantityIn
	m.QuantityUsed = b.QuantityUsed
	m.QuantityMutated = b.QuantityMutated
	m.UnitCost = b.UnitCost
}

// StockBatchModelFromDomain creates a new persistence model from a domain StockBatch entity.
func StockBatchModelFromDomain(b *inventory.StockBatch) *StockBatchModel {
	m := &StockBatchModel{}
	m.FromDomain(b)
	return m
}

// CurrentStockModel is the ledger row of one item at one location.
type CurrentStockModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primary_key"`
	LocationID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_current_stocks_key,priority:1"`
	ItemID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_current_stocks_key,priority:2"`
	Quantity   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Version    int             `gorm:"not null;default:1"`
	UpdatedAt  time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CurrentStockModel) TableName() string {
	return "current_stocks"
}

// ToDomain converts the persistence model to a domain CurrentStock.
func (m *CurrentStockModel) ToDomain() *inventory.CurrentStock {
	return &inventory.CurrentStock{
		ID:         m.ID,
		LocationID: m.LocationID,
		ItemID:     m.ItemID,
		Quantity:   m.Quantity,
		Version:    m.Version,
		UpdatedAt:  m.UpdatedAt,
	}
}

// CurrentStockModelFromDomain creates a persistence model from a domain CurrentStock.
func CurrentStockModelFromDomain(c *inventory.CurrentStock) *CurrentStockModel {
	return &CurrentStockModel{
		ID:         c.ID,
		LocationID: c.LocationID,
		ItemID:     c.ItemID,
		Quantity:   c.Quantity,
		Version:    c.Version,
		UpdatedAt:  c.UpdatedAt,
	}
}

// UsageRecordModel is the persistence model for the UsageRecord aggregate root.
type UsageRecordModel struct {
	AuditedAggregateModel
	Kind          string     `gorm:"type:varchar(20);not null"`
	LocationID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_usage_records_location_date,priority:1"`
	SubLocationID *uuid.UUID `gorm:"type:uuid"`
	UsageDate     time.Time  `gorm:"type:date;not null;index:idx_usage_records_location_date,priority:2"`
	Notes         string     `gorm:"type:text"`
	Status        string     `gorm:"type:varchar(20);not null;index"`
	Revision      int        `gorm:"not null;default:0"`
	DeletedBy     *uuid.UUID `gorm:"type:uuid"`
	DeletedAt     *time.Time
	// Associations
	Lines []UsageLineItemModel `gorm:"foreignKey:RecordID;references:ID"`
}

// TableName returns the table name for GORM
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// ToDomain converts the persistence model to a domain UsageRecord.
func (m *UsageRecordModel) ToDomain() *inventory.UsageRecord {
	r := &inventory.UsageRecord{
		Kind:          inventory.UsageKind(m.Kind),
		LocationID:    m.LocationID,
		SubLocationID: m.SubLocationID,
		UsageDate:     inventory.DateOf(m.UsageDate),
		Notes:         m.Notes,
		Status:        inventory.UsageStatus(m.Status),
		Revision:      m.Revision,
		DeletedBy:     m.DeletedBy,
		DeletedAt:     m.DeletedAt,
		Lines:         make([]inventory.UsageLineItem, 0, len(m.Lines)),
	}
	m.PopulateAuditedAggregateRoot(&r.AuditedAggregateRoot)
	for i := range m.Lines {
		r.Lines = append(r.Lines, *m.Lines[i].ToDomain())
	}
	return r
}

// UsageRecordModelFromDomain creates a header model from a domain UsageRecord.
// Lines are persisted separately.
func UsageRecordModelFromDomain(r *inventory.UsageRecord) *UsageRecordModel {
	m := &UsageRecordModel{
		Kind:          string(r.Kind),
		LocationID:    r.LocationID,
		SubLocationID: r.SubLocationID,
		UsageDate:     inventory.DateOf(r.UsageDate),
		Notes:         r.Notes,
		Status:        string(r.Status),
		Revision:      r.Revision,
		DeletedBy:     r.DeletedBy,
		DeletedAt:     r.DeletedAt,
	}
	m.FromDomainAuditedAggregateRoot(r.AuditedAggregateRoot)
	return m
}

// UsageLineItemModel is the persistence model for a usage line item.
// Removed lines are soft-deleted.
type UsageLineItemModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key"`
	RecordID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	ItemID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	UnitID    uuid.UUID       `gorm:"type:uuid;not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Notes     string          `gorm:"type:text"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
	DeletedAt gorm.DeletedAt  `gorm:"index"`
	// Associations
	Allocations []AllocationDetailModel `gorm:"foreignKey:LineItemID;references:ID"`
}

// TableName returns the table name for GORM
func (UsageLineItemModel) TableName() string {
	return "usage_line_items"
}

// ToDomain converts the persistence model to a domain UsageLineItem.
func (m *UsageLineItemModel) ToDomain() *inventory.UsageLineItem {
	l := &inventory.UsageLineItem{
		ID:       m.ID,
		RecordID: m.RecordID,
		ItemID:   m.ItemID,
		UnitID:   m.UnitID,
		Quantity: m.Quantity,
		Notes:    m.Notes,
	}
	if len(m.Allocations) > 0 {
		l.Allocations = make([]inventory.AllocationDetail, 0, len(m.Allocations))
		for i := range m.Allocations {
			l.Allocations = append(l.Allocations, *m.Allocations[i].ToDomain())
		}
	}
	return l
}

// UsageLineItemModelFromDomain creates a persistence model from a domain line.
func UsageLineItemModelFromDomain(l *inventory.UsageLineItem) *UsageLineItemModel {
	now := time.Now().UTC()
	return &UsageLineItemModel{
		ID:        l.ID,
		RecordID:  l.RecordID,
		ItemID:    l.ItemID,
		UnitID:    l.UnitID,
		Quantity:  l.Quantity,
		Notes:     l.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AllocationDetailModel records one batch draw of a line. Rows are
// hard-deleted when the line is reversed.
type AllocationDetailModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primary_key"`
	LineItemID uuid.UUID       `gorm:"type:uuid;not null;index"`
	BatchID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Quantity   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Notes      string          `gorm:"type:text"`
	CreatedBy  uuid.UUID       `gorm:"type:uuid;not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AllocationDetailModel) TableName() string {
	return "allocation_details"
}

// ToDomain converts the persistence model to a domain AllocationDetail.
func (m *AllocationDetailModel) ToDomain() *inventory.AllocationDetail {
	return &inventory.AllocationDetail{
		ID:         m.ID,
		LineItemID: m.LineItemID,
		BatchID:    m.BatchID,
		Quantity:   m.Quantity,
		Notes:      m.Notes,
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
	}
}

// AllocationDetailModelFromDomain creates a persistence model from a domain AllocationDetail.
func AllocationDetailModelFromDomain(d *inventory.AllocationDetail) *AllocationDetailModel {
	return &AllocationDetailModel{
		ID:         d.ID,
		LineItemID: d.LineItemID,
		BatchID:    d.BatchID,
		Quantity:   d.Quantity,
		Notes:      d.Notes,
		CreatedBy:  d.CreatedBy,
		CreatedAt:  d.CreatedAt,
	}
}

// AllModels returns every model of the engine schema, parents first
func AllModels() []any {
	return []any{
		&ItemModel{},
		&ItemUnitModel{},
		&StockBatchModel{},
		&CurrentStockModel{},
		&UsageRecordModel{},
		&UsageLineItemModel{},
		&AllocationDetailModel{},
	}
}
