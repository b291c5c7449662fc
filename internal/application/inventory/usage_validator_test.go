package inventory

import (
	"testing"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared/service"
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorFixture struct {
	validator *UsageValidator
	location  uuid.UUID
	item      *inventory.Item
	kg        uuid.UUID
	sack      uuid.UUID // 25 kg
}

func newValidatorFixture(t *testing.T) *validatorFixture {
	t.Helper()
	kg, sack := uuid.New(), uuid.New()
	table, err := valueobject.NewConversionTable([]valueobject.ConversionUnit{
		valueobject.MustNewConversionUnit(kg, decimal.NewFromInt(1), true, false),
		valueobject.MustNewConversionUnit(sack, decimal.NewFromInt(25), false, true),
	})
	require.NoError(t, err)
	return &validatorFixture{
		validator: NewUsageValidator(service.NewUnitConversionService()),
		location:  uuid.New(),
		item:      &inventory.Item{ID: uuid.New(), Name: "Grower pellets", Units: table},
		kg:        kg,
		sack:      sack,
	}
}

func (f *validatorFixture) snapshot(balance int64, earliest *time.Time) *ValidationSnapshot {
	return &ValidationSnapshot{
		Items:            map[uuid.UUID]*inventory.Item{f.item.ID: f.item},
		EarliestReceipts: map[uuid.UUID]*time.Time{f.item.ID: earliest},
		Balances:         map[uuid.UUID]decimal.Decimal{f.item.ID: decimal.NewFromInt(balance)},
		AlreadyAllocated: map[uuid.UUID]decimal.Decimal{},
	}
}

func (f *validatorFixture) request(usageDate time.Time, lines ...inventory.LineInput) ValidationRequest {
	return ValidationRequest{LocationID: f.location, UsageDate: usageDate, Lines: lines}
}

func (f *validatorFixture) line(unit uuid.UUID, qty int64) inventory.LineInput {
	return inventory.LineInput{ItemID: f.item.ID, UnitID: unit, Quantity: decimal.NewFromInt(qty)}
}

func codesOf(errs []inventory.LineError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestUsageValidator_Validate(t *testing.T) {
	f := newValidatorFixture(t)
	jan1 := testDate(2024, 1, 1)

	t.Run("sufficient stock passes", func(t *testing.T) {
		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6), f.line(f.sack, 2), f.line(f.kg, 10)), f.snapshot(60, &jan1))
		require.NoError(t, err)
		assert.Empty(t, errs)
	})

	t.Run("header problems are reported on the header line", func(t *testing.T) {
		errs, err := f.validator.Validate(ValidationRequest{}, f.snapshot(0, nil))
		require.NoError(t, err)
		assert.Equal(t, []string{inventory.CodeMissingLocation, inventory.CodeMissingUsageDate, inventory.CodeNoLines}, codesOf(errs))
		for _, e := range errs {
			assert.Equal(t, inventory.HeaderLine, e.LineIndex)
		}
	})

	t.Run("every structural error is collected", func(t *testing.T) {
		unknown := inventory.LineInput{ItemID: uuid.New(), UnitID: f.kg, Quantity: decimal.NewFromInt(1)}
		badUnit := f.line(uuid.New(), 1)
		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6),
			f.line(f.kg, 1),
			f.line(f.kg, 2),
			f.line(f.sack, -1),
			unknown,
			badUnit,
		), f.snapshot(100, &jan1))
		require.NoError(t, err)
		assert.Equal(t, []string{
			inventory.CodeDuplicateLine,
			inventory.CodeInvalidQuantity,
			inventory.CodeItemNotFound,
			inventory.CodeUnitNotFound,
		}, codesOf(errs))
		assert.Equal(t, []int{1, 2, 3, 4}, []int{errs[0].LineIndex, errs[1].LineIndex, errs[2].LineIndex, errs[3].LineIndex})
	})

	t.Run("quantities finer than four decimals are line errors", func(t *testing.T) {
		tiny := f.line(f.kg, 0)
		tiny.Quantity = decimal.RequireFromString("0.00001")
		fine := f.line(f.sack, 0)
		fine.Quantity = decimal.RequireFromString("1.23456")
		padded := inventory.LineInput{ItemID: f.item.ID, UnitID: f.kg, Quantity: decimal.RequireFromString("1.50000")}

		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6), tiny, fine), f.snapshot(100, &jan1))
		require.NoError(t, err)
		assert.Equal(t, []string{inventory.CodeInvalidQuantity, inventory.CodeInvalidQuantity}, codesOf(errs))
		assert.Equal(t, 0, errs[0].LineIndex)
		assert.Equal(t, 1, errs[1].LineIndex)

		errs, err = f.validator.Validate(f.request(testDate(2024, 1, 6), padded), f.snapshot(100, &jan1))
		require.NoError(t, err)
		assert.Empty(t, errs, "trailing zeros do not add precision")
	})

	t.Run("quantity that converts to zero smallest units", func(t *testing.T) {
		pinch, smallest := uuid.New(), uuid.New()
		table, err := valueobject.NewConversionTable([]valueobject.ConversionUnit{
			valueobject.MustNewConversionUnit(smallest, decimal.NewFromInt(5), true, false),
			valueobject.MustNewConversionUnit(pinch, decimal.NewFromInt(1), false, false),
		})
		require.NoError(t, err)
		salt := &inventory.Item{ID: uuid.New(), Name: "Salt", Units: table}
		snap := f.snapshot(100, &jan1)
		snap.Items[salt.ID] = salt

		line := inventory.LineInput{ItemID: salt.ID, UnitID: pinch, Quantity: decimal.RequireFromString("0.0001")}
		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6), line), snap)
		require.NoError(t, err)
		assert.Equal(t, []string{inventory.CodeInvalidQuantity}, codesOf(errs))
	})

	t.Run("usage before the earliest receipt", func(t *testing.T) {
		errs, err := f.validator.Validate(f.request(testDate(2023, 12, 31), f.line(f.kg, 1)), f.snapshot(100, &jan1))
		require.NoError(t, err)
		assert.Equal(t, []string{inventory.CodeDateBeforeEarliestStock}, codesOf(errs))
	})

	t.Run("usage on the earliest receipt day is allowed", func(t *testing.T) {
		errs, err := f.validator.Validate(f.request(jan1.Add(17*time.Hour), f.line(f.kg, 1)), f.snapshot(100, &jan1))
		require.NoError(t, err)
		assert.Empty(t, errs)
	})

	t.Run("never received reports insufficient stock only", func(t *testing.T) {
		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6), f.line(f.kg, 5)), f.snapshot(0, nil))
		require.NoError(t, err)
		require.Equal(t, []string{inventory.CodeInsufficientStock}, codesOf(errs))
		assert.True(t, decimal.NewFromInt(5).Equal(*errs[0].Shortfall))
	})

	t.Run("shortfall is summed per item and shown in each line's unit", func(t *testing.T) {
		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6), f.line(f.sack, 2), f.line(f.kg, 20)), f.snapshot(45, &jan1))
		require.NoError(t, err)
		require.Len(t, errs, 2)
		assert.True(t, decimal.NewFromInt(1).Equal(*errs[0].Shortfall), "25 kg is one sack")
		assert.True(t, decimal.NewFromInt(25).Equal(*errs[1].Shortfall))
	})

	t.Run("quantity already drawn by the record counts as available", func(t *testing.T) {
		snap := f.snapshot(10, &jan1)
		snap.AlreadyAllocated[f.item.ID] = decimal.NewFromInt(50)
		errs, err := f.validator.Validate(f.request(testDate(2024, 1, 6), f.line(f.sack, 2)), snap)
		require.NoError(t, err)
		assert.Empty(t, errs)
	})

	t.Run("drafts skip date and stock checks", func(t *testing.T) {
		req := f.request(testDate(2023, 1, 1), f.line(f.kg, 500))
		req.Draft = true
		errs, err := f.validator.Validate(req, f.snapshot(0, &jan1))
		require.NoError(t, err)
		assert.Empty(t, errs)
	})
}

func TestUsageValidator_ShortfallLineError(t *testing.T) {
	f := newValidatorFixture(t)
	line := &inventory.UsageLineItem{ID: uuid.New(), ItemID: f.item.ID, UnitID: f.sack, Quantity: decimal.NewFromInt(4)}

	le, err := f.validator.ShortfallLineError(3, line, f.item, &inventory.InsufficientStockError{
		ItemID:    f.item.ID,
		Required:  decimal.NewFromInt(100),
		Available: decimal.NewFromInt(50),
		Shortfall: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, le.LineIndex)
	assert.Equal(t, inventory.CodeInsufficientStock, le.Code)
	assert.True(t, decimal.NewFromInt(2).Equal(*le.Shortfall))
}
