package inventory

import (
	"fmt"
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockBatch is a dated receipt of stock at a location, counted in the item's
// smallest unit. Batches are created by purchasing and are never deleted;
// consumption only moves QuantityUsed.
type StockBatch struct {
	shared.BaseEntity
	LocationID      uuid.UUID
	ItemID          uuid.UUID
	ReceivedDate    time.Time       // calendar date of receipt
	Seq             int64           // insertion order, breaks ties between same-day receipts
	QuantityIn      decimal.Decimal // quantity received
	QuantityUsed    decimal.Decimal // Σ live allocation details
	QuantityMutated decimal.Decimal // transfers out, write-offs
	UnitCost        decimal.Decimal // cost per smallest unit
}

// NewStockBatch creates a new stock batch
func NewStockBatch(
	locationID, itemID uuid.UUID,
	receivedDate time.Time,
	quantityIn decimal.Decimal,
	unitCost decimal.Decimal,
) *StockBatch {
	return &StockBatch{
		BaseEntity:      shared.NewBaseEntity(),
		LocationID:      locationID,
		ItemID:          itemID,
		ReceivedDate:    DateOf(receivedDate),
		QuantityIn:      quantityIn,
		QuantityUsed:    decimal.Zero,
		QuantityMutated: decimal.Zero,
		UnitCost:        unitCost,
	}
}

// Available returns the quantity that can still be drawn
func (b *StockBatch) Available() decimal.Decimal {
	return b.QuantityIn.Sub(b.QuantityUsed).Sub(b.QuantityMutated)
}

// HasStock returns true if the batch has available quantity
func (b *StockBatch) HasStock() bool {
	return b.Available().GreaterThan(decimal.Zero)
}

// IsEligible reports whether the batch may serve usage dated asOf.
func (b *StockBatch) IsEligible(asOf time.Time) bool {
	return b.HasStock() && !DateOf(b.ReceivedDate).After(DateOf(asOf))
}

// SetUsed replaces QuantityUsed with the recomputed fold over live details.
func (b *StockBatch) SetUsed(used decimal.Decimal) error {
	if used.IsNegative() {
		return shared.NewDomainError("INVALID_QUANTITY", "Used quantity cannot be negative")
	}
	if b.QuantityIn.Sub(used).Sub(b.QuantityMutated).IsNegative() {
		return shared.NewDomainError(shared.ErrPersistence.Code,
			fmt.Sprintf("batch %s would be over-drawn: in=%s used=%s mutated=%s",
				b.ID, b.QuantityIn, used, b.QuantityMutated))
	}
	b.QuantityUsed = used
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Precedes orders batches for FIFO consumption: receipt date, then sequence.
func (b *StockBatch) Precedes(other *StockBatch) bool {
	if !b.ReceivedDate.Equal(other.ReceivedDate) {
		return b.ReceivedDate.Before(other.ReceivedDate)
	}
	return b.Seq < other.Seq
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
