package inventory

import (
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageCommand is a create or update submission: a header plus its lines
type UsageCommand struct {
	Kind          inventory.UsageKind
	LocationID    uuid.UUID
	SubLocationID *uuid.UUID
	UsageDate     time.Time
	Notes         string
	Draft         bool // persist without allocating
	ActorID       uuid.UUID
	Lines         []UsageLineCommand
}

// UsageLineCommand is one requested line, quantity in the entered unit
type UsageLineCommand struct {
	ItemID   uuid.UUID
	UnitID   uuid.UUID
	Quantity decimal.Decimal
	Notes    string
}

func (c UsageCommand) lineInputs() []inventory.LineInput {
	out := make([]inventory.LineInput, 0, len(c.Lines))
	for _, l := range c.Lines {
		out = append(out, inventory.LineInput{
			ItemID:   l.ItemID,
			UnitID:   l.UnitID,
			Quantity: l.Quantity,
			Notes:    l.Notes,
		})
	}
	return out
}

func (c UsageCommand) itemIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(c.Lines))
	ids := make([]uuid.UUID, 0, len(c.Lines))
	for _, l := range c.Lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		ids = append(ids, l.ItemID)
	}
	return ids
}

// UsageResult is the outcome of a create, update or delete.
// A rejected submission has Success false and the line errors; it is not a Go error.
type UsageResult struct {
	Success  bool                  `json:"success"`
	RecordID uuid.UUID             `json:"record_id,omitempty"`
	Status   inventory.UsageStatus `json:"status,omitempty"`
	Revision int                   `json:"revision"`
	Errors   []inventory.LineError `json:"errors,omitempty"`
}

func rejected(recordID uuid.UUID, errs []inventory.LineError) *UsageResult {
	return &UsageResult{Success: false, RecordID: recordID, Errors: errs}
}

func accepted(r *inventory.UsageRecord) *UsageResult {
	return &UsageResult{Success: true, RecordID: r.ID, Status: r.Status, Revision: r.Revision}
}

// UsageRecordResponse represents a usage record in API responses
type UsageRecordResponse struct {
	ID            uuid.UUID             `json:"id"`
	Kind          inventory.UsageKind   `json:"kind"`
	LocationID    uuid.UUID             `json:"location_id"`
	SubLocationID *uuid.UUID            `json:"sub_location_id,omitempty"`
	UsageDate     time.Time             `json:"usage_date"`
	Notes         string                `json:"notes,omitempty"`
	Status        inventory.UsageStatus `json:"status"`
	Revision      int                   `json:"revision"`
	Lines         []UsageLineResponse   `json:"lines"`
	CreatedBy     uuid.UUID             `json:"created_by"`
	UpdatedBy     uuid.UUID             `json:"updated_by"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// UsageLineResponse represents a line item in API responses
type UsageLineResponse struct {
	ID                uuid.UUID                  `json:"id"`
	ItemID            uuid.UUID                  `json:"item_id"`
	UnitID            uuid.UUID                  `json:"unit_id"`
	Quantity          decimal.Decimal            `json:"quantity"`
	AllocatedQuantity decimal.Decimal            `json:"allocated_quantity"` // smallest unit
	Notes             string                     `json:"notes,omitempty"`
	Allocations       []AllocationDetailResponse `json:"allocations,omitempty"`
}

// AllocationDetailResponse represents one batch draw in API responses
type AllocationDetailResponse struct {
	ID        uuid.UUID       `json:"id"`
	BatchID   uuid.UUID       `json:"batch_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToUsageRecordResponse converts a domain record to a response
func ToUsageRecordResponse(r *inventory.UsageRecord) UsageRecordResponse {
	lines := make([]UsageLineResponse, 0, len(r.Lines))
	for i := range r.Lines {
		l := &r.Lines[i]
		allocs := make([]AllocationDetailResponse, 0, len(l.Allocations))
		for _, d := range l.Allocations {
			allocs = append(allocs, AllocationDetailResponse{
				ID:        d.ID,
				BatchID:   d.BatchID,
				Quantity:  d.Quantity,
				CreatedAt: d.CreatedAt,
			})
		}
		lines = append(lines, UsageLineResponse{
			ID:                l.ID,
			ItemID:            l.ItemID,
			UnitID:            l.UnitID,
			Quantity:          l.Quantity,
			AllocatedQuantity: l.AllocatedQuantity(),
			Notes:             l.Notes,
			Allocations:       allocs,
		})
	}
	return UsageRecordResponse{
		ID:            r.ID,
		Kind:          r.Kind,
		LocationID:    r.LocationID,
		SubLocationID: r.SubLocationID,
		UsageDate:     r.UsageDate,
		Notes:         r.Notes,
		Status:        r.Status,
		Revision:      r.Revision,
		Lines:         lines,
		CreatedBy:     r.CreatedBy,
		UpdatedBy:     r.UpdatedBy,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// UsageListFilter represents filter options for listing usage records
type UsageListFilter struct {
	Kind     string     `form:"kind" binding:"omitempty,oneof=OVK FEED SUPPLY"`
	Status   string     `form:"status" binding:"omitempty,oneof=DRAFT ACTIVE"`
	From     *time.Time `form:"from" time_format:"2006-01-02"`
	To       *time.Time `form:"to" time_format:"2006-01-02"`
	Page     int        `form:"page" binding:"omitempty,min=1"`
	PageSize int        `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy  string     `form:"order_by"`
	OrderDir string     `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// LedgerReconciliation reports a ledger row against the sum of its batches
type LedgerReconciliation struct {
	LocationID     uuid.UUID       `json:"location_id"`
	ItemID         uuid.UUID       `json:"item_id"`
	LedgerQuantity decimal.Decimal `json:"ledger_quantity"`
	BatchQuantity  decimal.Decimal `json:"batch_quantity"`
	Difference     decimal.Decimal `json:"difference"`
	Consistent     bool            `json:"consistent"`
}

func toReconciliation(d inventory.LedgerDrift) *LedgerReconciliation {
	return &LedgerReconciliation{
		LocationID:     d.Key.LocationID,
		ItemID:         d.Key.ItemID,
		LedgerQuantity: d.LedgerQuantity,
		BatchQuantity:  d.BatchQuantity,
		Difference:     d.Difference(),
		Consistent:     d.Consistent(),
	}
}
