package inventory

import (
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// Item is read-only master data for a stockable good (feed, medicine, supply).
// Its conversion table is validated when loaded, so an Item value always
// carries a usable table.
type Item struct {
	ID    uuid.UUID
	Name  string
	Units valueobject.ConversionTable
}

// SupportsUnit reports whether quantities of this item may be entered in unitID
func (i *Item) SupportsUnit(unitID uuid.UUID) bool {
	return i.Units.Contains(unitID)
}
