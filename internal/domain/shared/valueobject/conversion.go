package valueobject

import (
	"encoding/json"
	"fmt"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConversionUnit is one row of an item's unit conversion table.
// Value is the size of one of this unit measured against the other units of
// the same table; only ratios between values are meaningful.
type ConversionUnit struct {
	unitID            uuid.UUID
	value             decimal.Decimal
	isSmallest        bool
	isDefaultPurchase bool
}

// NewConversionUnit creates a conversion unit.
// Returns an error if the unit id is nil or the value is not positive.
func NewConversionUnit(unitID uuid.UUID, value decimal.Decimal, isSmallest, isDefaultPurchase bool) (ConversionUnit, error) {
	if unitID == uuid.Nil {
		return ConversionUnit{}, conversionError("unit id is required")
	}
	if !value.IsPositive() {
		return ConversionUnit{}, conversionError(fmt.Sprintf("unit %s has non-positive value %s", unitID, value.String()))
	}
	return ConversionUnit{
		unitID:            unitID,
		value:             value,
		isSmallest:        isSmallest,
		isDefaultPurchase: isDefaultPurchase,
	}, nil
}

// MustNewConversionUnit creates a ConversionUnit and panics on error.
// Use only when you're certain the inputs are valid.
func MustNewConversionUnit(unitID uuid.UUID, value decimal.Decimal, isSmallest, isDefaultPurchase bool) ConversionUnit {
	u, err := NewConversionUnit(unitID, value, isSmallest, isDefaultPurchase)
	if err != nil {
		panic(err)
	}
	return u
}

// UnitID returns the unit identifier
func (u ConversionUnit) UnitID() uuid.UUID {
	return u.unitID
}

// Value returns the unit's relative size
func (u ConversionUnit) Value() decimal.Decimal {
	return u.value
}

// IsSmallest reports whether this is the canonical unit of the table
func (u ConversionUnit) IsSmallest() bool {
	return u.isSmallest
}

// IsDefaultPurchase reports whether this unit is the default for purchasing
func (u ConversionUnit) IsDefaultPurchase() bool {
	return u.isDefaultPurchase
}

// ConversionTable is the validated, ordered list of units an item can be
// counted in. A table always has exactly one smallest unit and every unit
// has a positive value, so conversions against it cannot divide by zero.
type ConversionTable struct {
	units    []ConversionUnit
	smallest int
}

// NewConversionTable validates units and builds a table.
// Declared order is preserved; DefaultUnit falls back to the first unit.
func NewConversionTable(units []ConversionUnit) (ConversionTable, error) {
	if len(units) == 0 {
		return ConversionTable{}, conversionError("conversion table has no units")
	}

	seen := make(map[uuid.UUID]struct{}, len(units))
	smallest := -1
	for i, u := range units {
		if u.unitID == uuid.Nil || !u.value.IsPositive() {
			return ConversionTable{}, conversionError(fmt.Sprintf("unit at position %d is not initialized", i))
		}
		if _, dup := seen[u.unitID]; dup {
			return ConversionTable{}, conversionError(fmt.Sprintf("unit %s appears more than once", u.unitID))
		}
		seen[u.unitID] = struct{}{}
		if u.isSmallest {
			if smallest >= 0 {
				return ConversionTable{}, conversionError("conversion table has more than one smallest unit")
			}
			smallest = i
		}
	}
	if smallest < 0 {
		return ConversionTable{}, conversionError("conversion table has no smallest unit")
	}

	cp := make([]ConversionUnit, len(units))
	copy(cp, units)
	return ConversionTable{units: cp, smallest: smallest}, nil
}

// Units returns a copy of the table's units in declared order
func (t ConversionTable) Units() []ConversionUnit {
	cp := make([]ConversionUnit, len(t.units))
	copy(cp, t.units)
	return cp
}

// Len returns the number of units
func (t ConversionTable) Len() int {
	return len(t.units)
}

// IsZero returns true for an uninitialized table
func (t ConversionTable) IsZero() bool {
	return len(t.units) == 0
}

// Smallest returns the canonical unit
func (t ConversionTable) Smallest() ConversionUnit {
	if t.IsZero() {
		return ConversionUnit{}
	}
	return t.units[t.smallest]
}

// Lookup finds a unit by id
func (t ConversionTable) Lookup(unitID uuid.UUID) (ConversionUnit, bool) {
	for _, u := range t.units {
		if u.unitID == unitID {
			return u, true
		}
	}
	return ConversionUnit{}, false
}

// Contains reports whether the table declares unitID
func (t ConversionTable) Contains(unitID uuid.UUID) bool {
	_, ok := t.Lookup(unitID)
	return ok
}

// DefaultUnit returns the default purchase unit, or the first declared unit
// when none is flagged.
func (t ConversionTable) DefaultUnit() ConversionUnit {
	for _, u := range t.units {
		if u.isDefaultPurchase {
			return u
		}
	}
	if t.IsZero() {
		return ConversionUnit{}
	}
	return t.units[0]
}

type conversionUnitJSON struct {
	UnitID            uuid.UUID `json:"unit_id"`
	Value             string    `json:"value"`
	IsSmallest        bool      `json:"is_smallest"`
	IsDefaultPurchase bool      `json:"is_default_purchase"`
}

// MarshalJSON implements json.Marshaler.
func (t ConversionTable) MarshalJSON() ([]byte, error) {
	out := make([]conversionUnitJSON, 0, len(t.units))
	for _, u := range t.units {
		out = append(out, conversionUnitJSON{
			UnitID:            u.unitID,
			Value:             u.value.String(),
			IsSmallest:        u.isSmallest,
			IsDefaultPurchase: u.isDefaultPurchase,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded table goes through
// the same validation as NewConversionTable.
func (t *ConversionTable) UnmarshalJSON(data []byte) error {
	var raw []conversionUnitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	units := make([]ConversionUnit, 0, len(raw))
	for _, r := range raw {
		v, err := decimal.NewFromString(r.Value)
		if err != nil {
			return conversionError(fmt.Sprintf("invalid value for unit %s: %v", r.UnitID, err))
		}
		u, err := NewConversionUnit(r.UnitID, v, r.IsSmallest, r.IsDefaultPurchase)
		if err != nil {
			return err
		}
		units = append(units, u)
	}
	parsed, err := NewConversionTable(units)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func conversionError(msg string) error {
	return shared.NewDomainError(shared.ErrUnitConversion.Code, msg)
}
