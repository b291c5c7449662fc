package inventory

import (
	"bytes"
	"sort"
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockKey identifies a ledger row
type StockKey struct {
	LocationID uuid.UUID
	ItemID     uuid.UUID
}

// Less orders keys by location, then item id. Every lock acquisition walks
// keys in this order.
func (k StockKey) Less(other StockKey) bool {
	if c := bytes.Compare(k.LocationID[:], other.LocationID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.ItemID[:], other.ItemID[:]) < 0
}

// SortedStockKeys returns the distinct keys in lock order
func SortedStockKeys(keys []StockKey) []StockKey {
	seen := make(map[StockKey]struct{}, len(keys))
	out := make([]StockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// CurrentStock is the running balance of one item at one location in the
// item's smallest unit. After every commit it equals the sum of Available()
// over that key's batches.
type CurrentStock struct {
	ID         uuid.UUID
	LocationID uuid.UUID
	ItemID     uuid.UUID
	Quantity   decimal.Decimal
	Version    int
	UpdatedAt  time.Time
}

// NewCurrentStock creates an empty ledger row
func NewCurrentStock(locationID, itemID uuid.UUID) *CurrentStock {
	return &CurrentStock{
		ID:         uuid.New(),
		LocationID: locationID,
		ItemID:     itemID,
		Quantity:   decimal.Zero,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Key returns the ledger key
func (c *CurrentStock) Key() StockKey {
	return StockKey{LocationID: c.LocationID, ItemID: c.ItemID}
}

// Increase credits quantity back to the balance
func (c *CurrentStock) Increase(quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return shared.NewDomainError("INVALID_QUANTITY", "Quantity cannot be negative")
	}
	c.Quantity = c.Quantity.Add(quantity)
	c.touch()
	return nil
}

// Decrease debits quantity from the balance.
// Returns InsufficientStockError if the balance would go negative.
func (c *CurrentStock) Decrease(quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return shared.NewDomainError("INVALID_QUANTITY", "Quantity cannot be negative")
	}
	if quantity.GreaterThan(c.Quantity) {
		return &InsufficientStockError{
			LocationID: c.LocationID,
			ItemID:     c.ItemID,
			Required:   quantity,
			Available:  c.Quantity,
			Shortfall:  quantity.Sub(c.Quantity),
		}
	}
	c.Quantity = c.Quantity.Sub(quantity)
	c.touch()
	return nil
}

func (c *CurrentStock) touch() {
	c.Version++
	c.UpdatedAt = time.Now().UTC()
}

// LedgerDrift is the outcome of comparing a ledger row with its batches
type LedgerDrift struct {
	Key            StockKey
	LedgerQuantity decimal.Decimal
	BatchQuantity  decimal.Decimal
}

// Difference returns ledger minus batches; zero when consistent
func (d LedgerDrift) Difference() decimal.Decimal {
	return d.LedgerQuantity.Sub(d.BatchQuantity)
}

// Consistent reports whether the ledger matches its batches
func (d LedgerDrift) Consistent() bool {
	return d.Difference().IsZero()
}
