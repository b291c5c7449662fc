package inventory

import (
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeUsageRecordAllocated       = "UsageRecordAllocated"
	EventTypeUsageRecordReversed        = "UsageRecordReversed"
	EventTypeCostRecalculationRequested = "CostRecalculationRequested"
)

// UsageRecordAllocatedEvent is raised when a record's lines are allocated or re-allocated
type UsageRecordAllocatedEvent struct {
	shared.BaseDomainEvent
	UsageRecordID uuid.UUID   `json:"usage_record_id"`
	Kind          UsageKind   `json:"kind"`
	LocationID    uuid.UUID   `json:"location_id"`
	UsageDate     time.Time   `json:"usage_date"`
	Revision      int         `json:"revision"`
	ItemIDs       []uuid.UUID `json:"item_ids"`
}

// NewUsageRecordAllocatedEvent creates a new UsageRecordAllocatedEvent
func NewUsageRecordAllocatedEvent(r *UsageRecord) *UsageRecordAllocatedEvent {
	return &UsageRecordAllocatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUsageRecordAllocated, AggregateTypeUsageRecord, r.ID),
		UsageRecordID:   r.ID,
		Kind:            r.Kind,
		LocationID:      r.LocationID,
		UsageDate:       r.UsageDate,
		Revision:        r.Revision,
		ItemIDs:         r.ItemIDs(),
	}
}

// UsageRecordReversedEvent is raised when an active record is deleted and its stock returned
type UsageRecordReversedEvent struct {
	shared.BaseDomainEvent
	UsageRecordID uuid.UUID   `json:"usage_record_id"`
	LocationID    uuid.UUID   `json:"location_id"`
	UsageDate     time.Time   `json:"usage_date"`
	ItemIDs       []uuid.UUID `json:"item_ids"`
}

// NewUsageRecordReversedEvent creates a new UsageRecordReversedEvent
func NewUsageRecordReversedEvent(r *UsageRecord) *UsageRecordReversedEvent {
	return &UsageRecordReversedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUsageRecordReversed, AggregateTypeUsageRecord, r.ID),
		UsageRecordID:   r.ID,
		LocationID:      r.LocationID,
		UsageDate:       r.UsageDate,
		ItemIDs:         r.ItemIDs(),
	}
}

// CostRecalculationRequestedEvent asks cost aggregation to recompute one
// (location, item, date) after a committed stock movement.
type CostRecalculationRequestedEvent struct {
	shared.BaseDomainEvent
	LocationID    uuid.UUID `json:"location_id"`
	ItemID        uuid.UUID `json:"item_id"`
	UsageDate     time.Time `json:"usage_date"`
	UsageRecordID uuid.UUID `json:"usage_record_id"`
}

// NewCostRecalculationRequestedEvent creates a new CostRecalculationRequestedEvent
func NewCostRecalculationRequestedEvent(recordID, locationID, itemID uuid.UUID, usageDate time.Time) *CostRecalculationRequestedEvent {
	return &CostRecalculationRequestedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCostRecalculationRequested, AggregateTypeUsageRecord, recordID),
		LocationID:      locationID,
		ItemID:          itemID,
		UsageDate:       DateOf(usageDate),
		UsageRecordID:   recordID,
	}
}
