package inventory

import (
	"fmt"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationRequest is the part of a usage command the validator inspects
type ValidationRequest struct {
	LocationID uuid.UUID
	UsageDate  time.Time
	Lines      []inventory.LineInput
	Draft      bool
}

// ValidationSnapshot is the stock state a validation pass is evaluated against.
// Built from unlocked reads for the pre-check and from locked rows for the
// authoritative pass.
type ValidationSnapshot struct {
	Items            map[uuid.UUID]*inventory.Item
	EarliestReceipts map[uuid.UUID]*time.Time      // per item at the request location; nil = never received
	Balances         map[uuid.UUID]decimal.Decimal // ledger per item at the request location
	AlreadyAllocated map[uuid.UUID]decimal.Decimal // this record's live allocations per item at the request location
}

// UsageValidator runs the structural, duplicate, date and sufficiency checks
type UsageValidator struct {
	converter *service.UnitConversionService
}

// NewUsageValidator creates a validator
func NewUsageValidator(converter *service.UnitConversionService) *UsageValidator {
	return &UsageValidator{converter: converter}
}

type checkedLine struct {
	index    int
	input    inventory.LineInput
	item     *inventory.Item
	smallest decimal.Decimal
}

// Validate returns every line error found; an empty result means the request may proceed.
// Drafts only get the structural and duplicate checks.
func (v *UsageValidator) Validate(req ValidationRequest, snap *ValidationSnapshot) ([]inventory.LineError, error) {
	errs := make([]inventory.LineError, 0)

	if req.LocationID == uuid.Nil {
		errs = append(errs, inventory.LineError{LineIndex: inventory.HeaderLine, Code: inventory.CodeMissingLocation, Message: "Location is required"})
	}
	if req.UsageDate.IsZero() {
		errs = append(errs, inventory.LineError{LineIndex: inventory.HeaderLine, Code: inventory.CodeMissingUsageDate, Message: "Usage date is required"})
	}
	if len(req.Lines) == 0 {
		errs = append(errs, inventory.LineError{LineIndex: inventory.HeaderLine, Code: inventory.CodeNoLines, Message: "At least one line is required"})
	}

	valid, lineErrs, err := v.checkStructure(req.Lines, snap)
	if err != nil {
		return nil, err
	}
	errs = append(errs, lineErrs...)

	if req.Draft || len(errs) > 0 {
		return errs, nil
	}

	dateFailed := make(map[uuid.UUID]bool)
	errs = append(errs, v.checkDates(req.UsageDate, valid, snap, dateFailed)...)

	sufficiencyErrs, err := v.checkSufficiency(valid, snap, dateFailed)
	if err != nil {
		return nil, err
	}
	return append(errs, sufficiencyErrs...), nil
}

func (v *UsageValidator) checkStructure(lines []inventory.LineInput, snap *ValidationSnapshot) ([]checkedLine, []inventory.LineError, error) {
	var errs []inventory.LineError
	valid := make([]checkedLine, 0, len(lines))
	seen := make(map[inventory.LineKey]int, len(lines))

	for i, in := range lines {
		lineErr := func(code, msg string) inventory.LineError {
			return inventory.LineError{LineIndex: i, ItemID: in.ItemID, UnitID: in.UnitID, Code: code, Message: msg}
		}

		if first, dup := seen[in.Key()]; dup {
			errs = append(errs, lineErr(inventory.CodeDuplicateLine, fmt.Sprintf("Duplicates line %d (same item and unit)", first)))
			continue
		}
		seen[in.Key()] = i

		if !in.Quantity.IsPositive() {
			errs = append(errs, lineErr(inventory.CodeInvalidQuantity, "Quantity must be greater than zero"))
			continue
		}
		if !service.FitsQuantityScale(in.Quantity) {
			errs = append(errs, lineErr(inventory.CodeInvalidQuantity,
				fmt.Sprintf("Quantity allows at most %d decimal places", service.QuantityScale)))
			continue
		}
		item, ok := snap.Items[in.ItemID]
		if !ok || item == nil {
			errs = append(errs, lineErr(inventory.CodeItemNotFound, "Item not found"))
			continue
		}
		if !item.SupportsUnit(in.UnitID) {
			errs = append(errs, lineErr(inventory.CodeUnitNotFound, fmt.Sprintf("Unit is not defined for item %s", item.Name)))
			continue
		}

		smallest, err := v.converter.ToSmallest(item.Units, in.Quantity, in.UnitID)
		if err != nil {
			return nil, nil, err
		}
		if !smallest.IsPositive() {
			errs = append(errs, lineErr(inventory.CodeInvalidQuantity, "Quantity is below the smallest unit's precision"))
			continue
		}
		valid = append(valid, checkedLine{index: i, input: in, item: item, smallest: smallest})
	}
	return valid, errs, nil
}

func (v *UsageValidator) checkDates(usageDate time.Time, lines []checkedLine, snap *ValidationSnapshot, failed map[uuid.UUID]bool) []inventory.LineError {
	var errs []inventory.LineError
	day := inventory.DateOf(usageDate)
	for _, l := range lines {
		earliest := snap.EarliestReceipts[l.input.ItemID]
		if earliest == nil {
			// never received here; sufficiency reports it
			continue
		}
		if day.Before(inventory.DateOf(*earliest)) {
			failed[l.input.ItemID] = true
			errs = append(errs, inventory.LineError{
				LineIndex: l.index,
				ItemID:    l.input.ItemID,
				UnitID:    l.input.UnitID,
				Code:      inventory.CodeDateBeforeEarliestStock,
				Message: fmt.Sprintf("Usage date %s is before the earliest stock of %s (%s)",
					day.Format(time.DateOnly), l.item.Name, earliest.Format(time.DateOnly)),
			})
		}
	}
	return errs
}

func (v *UsageValidator) checkSufficiency(lines []checkedLine, snap *ValidationSnapshot, skip map[uuid.UUID]bool) ([]inventory.LineError, error) {
	required := make(map[uuid.UUID]decimal.Decimal)
	order := make([]uuid.UUID, 0)
	for _, l := range lines {
		if _, ok := required[l.input.ItemID]; !ok {
			order = append(order, l.input.ItemID)
		}
		required[l.input.ItemID] = required[l.input.ItemID].Add(l.smallest)
	}

	var errs []inventory.LineError
	for _, itemID := range order {
		if skip[itemID] {
			continue
		}
		net := required[itemID].Sub(snap.AlreadyAllocated[itemID])
		balance := snap.Balances[itemID]
		if net.LessThanOrEqual(balance) {
			continue
		}
		shortfall := net.Sub(balance)

		for _, l := range lines {
			if l.input.ItemID != itemID {
				continue
			}
			inUnit, err := v.converter.ToDisplayUnit(l.item.Units, shortfall, l.input.UnitID)
			if err != nil {
				return nil, err
			}
			errs = append(errs, inventory.LineError{
				LineIndex: l.index,
				ItemID:    l.input.ItemID,
				UnitID:    l.input.UnitID,
				Code:      inventory.CodeInsufficientStock,
				Message:   fmt.Sprintf("Insufficient stock of %s: short by %s", l.item.Name, inUnit.String()),
				Shortfall: &inUnit,
			})
		}
	}
	return errs, nil
}

// ShortfallLineError converts an allocation-time shortage into a line error
// expressed in the line's unit.
func (v *UsageValidator) ShortfallLineError(index int, line *inventory.UsageLineItem, item *inventory.Item, ise *inventory.InsufficientStockError) (inventory.LineError, error) {
	inUnit, err := v.converter.ToDisplayUnit(item.Units, ise.Shortfall, line.UnitID)
	if err != nil {
		return inventory.LineError{}, err
	}
	return inventory.LineError{
		LineIndex: index,
		ItemID:    line.ItemID,
		UnitID:    line.UnitID,
		Code:      inventory.CodeInsufficientStock,
		Message:   fmt.Sprintf("Insufficient stock of %s on or before the usage date: short by %s", item.Name, inUnit.String()),
		Shortfall: &inUnit,
	}, nil
}
