package inventory

import (
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeUsageRecord is the aggregate type name used on events
const AggregateTypeUsageRecord = "UsageRecord"

// UsageKind distinguishes the operational flows that consume stock
type UsageKind string

const (
	UsageKindOVK    UsageKind = "OVK"    // medicine, vaccine, chemicals
	UsageKindFeed   UsageKind = "FEED"   // feed
	UsageKindSupply UsageKind = "SUPPLY" // general supplies
)

// IsValid checks if the kind is valid
func (k UsageKind) IsValid() bool {
	switch k {
	case UsageKindOVK, UsageKindFeed, UsageKindSupply:
		return true
	}
	return false
}

// UsageStatus is the lifecycle state of a usage record
type UsageStatus string

const (
	UsageStatusDraft   UsageStatus = "DRAFT"
	UsageStatusActive  UsageStatus = "ACTIVE"
	UsageStatusDeleted UsageStatus = "DELETED"
)

// UsageRecord is one consumption event at a location on a date.
// Draft records hold lines without allocations. Active records have every
// line fully allocated. Deleted is terminal.
type UsageRecord struct {
	shared.AuditedAggregateRoot
	Kind          UsageKind
	LocationID    uuid.UUID
	SubLocationID *uuid.UUID
	UsageDate     time.Time
	Notes         string
	Status        UsageStatus
	Revision      int
	DeletedBy     *uuid.UUID
	DeletedAt     *time.Time
	Lines         []UsageLineItem
}

// UsageLineItem is one item consumed on a usage record, in the unit the user entered
type UsageLineItem struct {
	ID          uuid.UUID
	RecordID    uuid.UUID
	ItemID      uuid.UUID
	UnitID      uuid.UUID
	Quantity    decimal.Decimal
	Notes       string
	Allocations []AllocationDetail
}

// Key returns the identity used when diffing line sets
func (l *UsageLineItem) Key() LineKey {
	return LineKey{ItemID: l.ItemID, UnitID: l.UnitID}
}

// AllocatedQuantity returns Σ allocation detail quantities (smallest unit)
func (l *UsageLineItem) AllocatedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, d := range l.Allocations {
		total = total.Add(d.Quantity)
	}
	return total
}

// AllocationDetail records how much of one line was drawn from one batch.
// Details are created by allocation and deleted by reversal; they are never
// updated in place.
type AllocationDetail struct {
	ID         uuid.UUID
	LineItemID uuid.UUID
	BatchID    uuid.UUID
	Quantity   decimal.Decimal // smallest unit
	Notes      string
	CreatedBy  uuid.UUID
	CreatedAt  time.Time
}

// NewAllocationDetail creates a detail for a single batch draw
func NewAllocationDetail(lineItemID, batchID uuid.UUID, quantity decimal.Decimal, actorID uuid.UUID) AllocationDetail {
	return AllocationDetail{
		ID:         uuid.New(),
		LineItemID: lineItemID,
		BatchID:    batchID,
		Quantity:   quantity,
		CreatedBy:  actorID,
		CreatedAt:  time.Now().UTC(),
	}
}

// LineInput is a requested line before it is attached to a record
type LineInput struct {
	ItemID   uuid.UUID
	UnitID   uuid.UUID
	Quantity decimal.Decimal
	Notes    string
}

// Key returns the identity used when diffing line sets
func (l LineInput) Key() LineKey {
	return LineKey{ItemID: l.ItemID, UnitID: l.UnitID}
}

// LineKey identifies a line within a record
type LineKey struct {
	ItemID uuid.UUID
	UnitID uuid.UUID
}

// NewUsageRecord creates a new draft usage record
func NewUsageRecord(
	kind UsageKind,
	locationID uuid.UUID,
	subLocationID *uuid.UUID,
	usageDate time.Time,
	notes string,
	actorID uuid.UUID,
) (*UsageRecord, error) {
	if !kind.IsValid() {
		return nil, shared.NewDomainError(CodeInvalidUsageKind, "Usage kind is not supported")
	}
	if locationID == uuid.Nil {
		return nil, shared.NewDomainError(CodeMissingLocation, "Location is required")
	}
	if usageDate.IsZero() {
		return nil, shared.NewDomainError(CodeMissingUsageDate, "Usage date is required")
	}

	return &UsageRecord{
		AuditedAggregateRoot: shared.NewAuditedAggregateRoot(actorID),
		Kind:                 kind,
		LocationID:           locationID,
		SubLocationID:        subLocationID,
		UsageDate:            DateOf(usageDate),
		Notes:                notes,
		Status:               UsageStatusDraft,
		Revision:             0,
		Lines:                make([]UsageLineItem, 0),
	}, nil
}

// AddLine attaches a new line and returns it
func (r *UsageRecord) AddLine(in LineInput) *UsageLineItem {
	r.Lines = append(r.Lines, UsageLineItem{
		ID:       uuid.New(),
		RecordID: r.ID,
		ItemID:   in.ItemID,
		UnitID:   in.UnitID,
		Quantity: in.Quantity,
		Notes:    in.Notes,
	})
	return &r.Lines[len(r.Lines)-1]
}

// RemoveLine drops a line from the in-memory aggregate
func (r *UsageRecord) RemoveLine(lineID uuid.UUID) {
	kept := r.Lines[:0]
	for _, l := range r.Lines {
		if l.ID != lineID {
			kept = append(kept, l)
		}
	}
	r.Lines = kept
}

// Line returns a pointer to the line with lineID
func (r *UsageRecord) Line(lineID uuid.UUID) *UsageLineItem {
	for i := range r.Lines {
		if r.Lines[i].ID == lineID {
			return &r.Lines[i]
		}
	}
	return nil
}

// IsDeleted reports whether the record reached its terminal state
func (r *UsageRecord) IsDeleted() bool {
	return r.Status == UsageStatusDeleted
}

// IsDraft reports whether the record holds unallocated lines
func (r *UsageRecord) IsDraft() bool {
	return r.Status == UsageStatusDraft
}

// HeaderChanged reports whether a new location or date invalidates every allocation
func (r *UsageRecord) HeaderChanged(locationID uuid.UUID, usageDate time.Time) bool {
	return r.LocationID != locationID || !r.UsageDate.Equal(DateOf(usageDate))
}

// UpdateHeader replaces header fields
func (r *UsageRecord) UpdateHeader(locationID uuid.UUID, subLocationID *uuid.UUID, usageDate time.Time, notes string) error {
	if r.IsDeleted() {
		return shared.ErrInvalidState
	}
	if locationID == uuid.Nil {
		return shared.NewDomainError(CodeMissingLocation, "Location is required")
	}
	if usageDate.IsZero() {
		return shared.NewDomainError(CodeMissingUsageDate, "Usage date is required")
	}
	r.LocationID = locationID
	r.SubLocationID = subLocationID
	r.UsageDate = DateOf(usageDate)
	r.Notes = notes
	return nil
}

// Activate moves a draft to active after its first allocation
func (r *UsageRecord) Activate(actorID uuid.UUID) error {
	if r.Status != UsageStatusDraft {
		return shared.NewDomainError(shared.ErrInvalidState.Code, "Only draft usage records can be activated")
	}
	r.Status = UsageStatusActive
	r.Revision = 1
	r.Touch(actorID)
	r.IncrementVersion()
	r.AddDomainEvent(NewUsageRecordAllocatedEvent(r))
	return nil
}

// Revise records a committed edit of an active record
func (r *UsageRecord) Revise(actorID uuid.UUID) error {
	if r.Status != UsageStatusActive {
		return shared.NewDomainError(shared.ErrInvalidState.Code, "Only active usage records can be revised")
	}
	r.Revision++
	r.Touch(actorID)
	r.IncrementVersion()
	r.AddDomainEvent(NewUsageRecordAllocatedEvent(r))
	return nil
}

// TouchDraft records an edit of a draft record
func (r *UsageRecord) TouchDraft(actorID uuid.UUID) error {
	if r.Status != UsageStatusDraft {
		return shared.NewDomainError(shared.ErrInvalidState.Code, "Usage record is not a draft")
	}
	r.Touch(actorID)
	r.IncrementVersion()
	return nil
}

// MarkDeleted moves the record to its terminal state
func (r *UsageRecord) MarkDeleted(actorID uuid.UUID) error {
	if r.IsDeleted() {
		return shared.NewDomainError(shared.ErrInvalidState.Code, "Usage record is already deleted")
	}
	now := time.Now().UTC()
	wasActive := r.Status == UsageStatusActive
	r.Status = UsageStatusDeleted
	r.DeletedBy = &actorID
	r.DeletedAt = &now
	r.Touch(actorID)
	r.IncrementVersion()
	if wasActive {
		r.AddDomainEvent(NewUsageRecordReversedEvent(r))
	}
	return nil
}

// ItemIDs returns the distinct items referenced by the record's lines
func (r *UsageRecord) ItemIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0, len(r.Lines))
	for _, l := range r.Lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		ids = append(ids, l.ItemID)
	}
	return ids
}

// StockKeys returns the ledger keys this record's lines touch
func (r *UsageRecord) StockKeys() []StockKey {
	keys := make([]StockKey, 0, len(r.Lines))
	for _, l := range r.Lines {
		keys = append(keys, StockKey{LocationID: r.LocationID, ItemID: l.ItemID})
	}
	return keys
}

// AllocatedByItem sums the live allocations of the record per item
func (r *UsageRecord) AllocatedByItem() map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal)
	for i := range r.Lines {
		out[r.Lines[i].ItemID] = out[r.Lines[i].ItemID].Add(r.Lines[i].AllocatedQuantity())
	}
	return out
}
