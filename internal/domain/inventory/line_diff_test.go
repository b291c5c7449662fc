package inventory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffLines(t *testing.T) {
	feed, vaccine, litter := uuid.New(), uuid.New(), uuid.New()
	kg, ml, bag := uuid.New(), uuid.New(), uuid.New()

	existing := []UsageLineItem{
		{ID: uuid.New(), ItemID: feed, UnitID: kg, Quantity: decimal.NewFromInt(120)},
		{ID: uuid.New(), ItemID: vaccine, UnitID: ml, Quantity: decimal.NewFromInt(50)},
		{ID: uuid.New(), ItemID: litter, UnitID: bag, Quantity: decimal.NewFromInt(3)},
	}

	t.Run("classifies lines by item and unit", func(t *testing.T) {
		incoming := []LineInput{
			{ItemID: feed, UnitID: kg, Quantity: decimal.NewFromInt(90)},
			{ItemID: vaccine, UnitID: ml, Quantity: decimal.NewFromInt(50), Notes: "booster"},
			{ItemID: litter, UnitID: kg, Quantity: decimal.NewFromInt(40)},
		}

		diff := DiffLines(existing, incoming, false)

		require.Len(t, diff.Changed, 1)
		assert.Equal(t, existing[0].ID, diff.Changed[0].Existing.ID)
		assert.True(t, decimal.NewFromInt(90).Equal(diff.Changed[0].Incoming.Quantity))

		require.Len(t, diff.Unchanged, 1)
		assert.Equal(t, existing[1].ID, diff.Unchanged[0].Existing.ID)

		require.Len(t, diff.Removed, 1)
		assert.Equal(t, existing[2].ID, diff.Removed[0].ID)

		require.Len(t, diff.Added, 1)
		assert.Equal(t, kg, diff.Added[0].UnitID)
		assert.True(t, diff.HasStockChanges())
	})

	t.Run("identical lines are a no-op", func(t *testing.T) {
		incoming := []LineInput{
			{ItemID: feed, UnitID: kg, Quantity: decimal.NewFromInt(120)},
			{ItemID: vaccine, UnitID: ml, Quantity: decimal.RequireFromString("50.0000")},
			{ItemID: litter, UnitID: bag, Quantity: decimal.NewFromInt(3)},
		}
		diff := DiffLines(existing, incoming, false)
		assert.Len(t, diff.Unchanged, 3)
		assert.False(t, diff.HasStockChanges())
	})

	t.Run("header change reallocates every surviving line", func(t *testing.T) {
		incoming := []LineInput{
			{ItemID: feed, UnitID: kg, Quantity: decimal.NewFromInt(120)},
			{ItemID: vaccine, UnitID: ml, Quantity: decimal.NewFromInt(50)},
		}
		diff := DiffLines(existing, incoming, true)
		assert.Len(t, diff.Changed, 2)
		assert.Empty(t, diff.Unchanged)
		assert.Len(t, diff.Removed, 1)
	})
}
