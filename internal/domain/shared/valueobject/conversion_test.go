package valueobject

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversionUnit(t *testing.T) {
	tests := []struct {
		name    string
		unitID  uuid.UUID
		value   decimal.Decimal
		wantErr bool
	}{
		{name: "valid", unitID: uuid.New(), value: decimal.NewFromInt(1000)},
		{name: "fractional value", unitID: uuid.New(), value: decimal.NewFromFloat(0.5)},
		{name: "nil id", unitID: uuid.Nil, value: decimal.NewFromInt(1), wantErr: true},
		{name: "zero value", unitID: uuid.New(), value: decimal.Zero, wantErr: true},
		{name: "negative value", unitID: uuid.New(), value: decimal.NewFromInt(-2), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewConversionUnit(tt.unitID, tt.value, false, false)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, shared.ErrUnitConversion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.unitID, u.UnitID())
			assert.True(t, tt.value.Equal(u.Value()))
		})
	}
}

func TestNewConversionTable(t *testing.T) {
	gram := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1), true, false)
	kilo := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1000), false, true)
	sack := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(50000), false, false)

	t.Run("valid table keeps declared order", func(t *testing.T) {
		table, err := NewConversionTable([]ConversionUnit{kilo, gram, sack})
		require.NoError(t, err)
		assert.Equal(t, 3, table.Len())
		assert.Equal(t, gram.UnitID(), table.Smallest().UnitID())
		assert.Equal(t, kilo.UnitID(), table.Units()[0].UnitID())
		assert.True(t, table.Contains(sack.UnitID()))
		assert.False(t, table.Contains(uuid.New()))
	})

	t.Run("empty table", func(t *testing.T) {
		_, err := NewConversionTable(nil)
		assert.ErrorIs(t, err, shared.ErrUnitConversion)
	})

	t.Run("no smallest unit", func(t *testing.T) {
		_, err := NewConversionTable([]ConversionUnit{kilo, sack})
		assert.ErrorIs(t, err, shared.ErrUnitConversion)
	})

	t.Run("two smallest units", func(t *testing.T) {
		other := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1), true, false)
		_, err := NewConversionTable([]ConversionUnit{gram, other})
		assert.ErrorIs(t, err, shared.ErrUnitConversion)
	})

	t.Run("duplicate unit", func(t *testing.T) {
		_, err := NewConversionTable([]ConversionUnit{gram, kilo, kilo})
		assert.ErrorIs(t, err, shared.ErrUnitConversion)
	})

	t.Run("zero value unit rejected", func(t *testing.T) {
		_, err := NewConversionTable([]ConversionUnit{gram, {}})
		assert.ErrorIs(t, err, shared.ErrUnitConversion)
	})
}

func TestConversionTable_DefaultUnit(t *testing.T) {
	gram := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1), true, false)
	kilo := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1000), false, true)
	sack := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(50000), false, false)

	withDefault, err := NewConversionTable([]ConversionUnit{gram, kilo, sack})
	require.NoError(t, err)
	assert.Equal(t, kilo.UnitID(), withDefault.DefaultUnit().UnitID())

	noDefault, err := NewConversionTable([]ConversionUnit{sack, gram})
	require.NoError(t, err)
	assert.Equal(t, sack.UnitID(), noDefault.DefaultUnit().UnitID())
}

func TestConversionTable_JSON(t *testing.T) {
	gram := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1), true, false)
	kilo := MustNewConversionUnit(uuid.New(), decimal.NewFromInt(1000), false, true)
	table, err := NewConversionTable([]ConversionUnit{gram, kilo})
	require.NoError(t, err)

	data, err := json.Marshal(table)
	require.NoError(t, err)

	var decoded ConversionTable
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, gram.UnitID(), decoded.Smallest().UnitID())
	assert.Equal(t, kilo.UnitID(), decoded.DefaultUnit().UnitID())

	t.Run("decoding an invalid table fails", func(t *testing.T) {
		bad := `[{"unit_id":"` + uuid.NewString() + `","value":"10","is_smallest":false}]`
		var out ConversionTable
		err := json.Unmarshal([]byte(bad), &out)
		assert.ErrorIs(t, err, shared.ErrUnitConversion)
	})
}
