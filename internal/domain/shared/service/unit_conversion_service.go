package service

import (
	"fmt"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuantityScale is the number of decimal places kept for quantities; it
// matches the decimal(18,4) quantity columns.
const QuantityScale = 4

// FitsQuantityScale reports whether q can be stored without rounding
func FitsQuantityScale(q decimal.Decimal) bool {
	return q.Equal(q.Round(QuantityScale))
}

// UnitConversionResult represents the result of a unit conversion
type UnitConversionResult struct {
	// The quantity in the source unit (what was input)
	SourceQuantity decimal.Decimal
	// The unit the source quantity was expressed in
	SourceUnitID uuid.UUID
	// The quantity in the table's smallest unit
	SmallestQuantity decimal.Decimal
	// The smallest unit of the table
	SmallestUnitID uuid.UUID
}

// UnitConversionService resolves quantities against an item's conversion table.
// This is a domain service as it is shared by allocation, reversal and validation.
type UnitConversionService struct{}

// NewUnitConversionService creates a new unit conversion service
func NewUnitConversionService() *UnitConversionService {
	return &UnitConversionService{}
}

// Convert converts quantity expressed in unitID to the smallest unit.
// Formula: smallest = quantity * unit.value / smallest.value
func (s *UnitConversionService) Convert(
	table valueobject.ConversionTable,
	quantity decimal.Decimal,
	unitID uuid.UUID,
) (*UnitConversionResult, error) {
	unit, smallest, err := s.resolve(table, unitID)
	if err != nil {
		return nil, err
	}

	smallestQty := quantity.Mul(unit.Value()).Div(smallest.Value()).Round(QuantityScale)

	return &UnitConversionResult{
		SourceQuantity:   quantity,
		SourceUnitID:     unitID,
		SmallestQuantity: smallestQty,
		SmallestUnitID:   smallest.UnitID(),
	}, nil
}

// ToSmallest returns quantity converted to the table's smallest unit
func (s *UnitConversionService) ToSmallest(
	table valueobject.ConversionTable,
	quantity decimal.Decimal,
	unitID uuid.UUID,
) (decimal.Decimal, error) {
	res, err := s.Convert(table, quantity, unitID)
	if err != nil {
		return decimal.Zero, err
	}
	return res.SmallestQuantity, nil
}

// ToDisplayUnit converts a smallest-unit quantity into unitID.
// Formula: display = smallest * smallest.value / unit.value
func (s *UnitConversionService) ToDisplayUnit(
	table valueobject.ConversionTable,
	smallestQty decimal.Decimal,
	unitID uuid.UUID,
) (decimal.Decimal, error) {
	unit, smallest, err := s.resolve(table, unitID)
	if err != nil {
		return decimal.Zero, err
	}
	return smallestQty.Mul(smallest.Value()).Div(unit.Value()).Round(QuantityScale), nil
}

// DefaultUnit returns the unit quantities are presented in when no unit is given
func (s *UnitConversionService) DefaultUnit(table valueobject.ConversionTable) (valueobject.ConversionUnit, error) {
	if table.IsZero() {
		return valueobject.ConversionUnit{}, shared.NewDomainError(shared.ErrUnitConversion.Code, "Conversion table is empty")
	}
	return table.DefaultUnit(), nil
}

func (s *UnitConversionService) resolve(
	table valueobject.ConversionTable,
	unitID uuid.UUID,
) (valueobject.ConversionUnit, valueobject.ConversionUnit, error) {
	if table.IsZero() {
		return valueobject.ConversionUnit{}, valueobject.ConversionUnit{},
			shared.NewDomainError(shared.ErrUnitConversion.Code, "Conversion table is empty")
	}
	unit, ok := table.Lookup(unitID)
	if !ok {
		return valueobject.ConversionUnit{}, valueobject.ConversionUnit{},
			shared.NewDomainError(shared.ErrUnitConversion.Code, fmt.Sprintf("Unit %s is not in the conversion table", unitID))
	}
	smallest := table.Smallest()
	if !smallest.Value().IsPositive() {
		return valueobject.ConversionUnit{}, valueobject.ConversionUnit{},
			shared.NewDomainError(shared.ErrUnitConversion.Code, "Smallest unit has no value")
	}
	return unit, smallest, nil
}
