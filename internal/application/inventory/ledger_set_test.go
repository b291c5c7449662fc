package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedgerRepo struct {
	mock.Mock
}

func (m *mockLedgerRepo) FindByKey(ctx context.Context, locationID, itemID uuid.UUID) (*inventory.CurrentStock, error) {
	args := m.Called(ctx, locationID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.CurrentStock), args.Error(1)
}

func (m *mockLedgerRepo) FindByKeys(ctx context.Context, keys []inventory.StockKey) ([]inventory.CurrentStock, error) {
	args := m.Called(ctx, keys)
	return args.Get(0).([]inventory.CurrentStock), args.Error(1)
}

func (m *mockLedgerRepo) LockByKeys(ctx context.Context, keys []inventory.StockKey) ([]inventory.CurrentStock, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.CurrentStock), args.Error(1)
}

func (m *mockLedgerRepo) Save(ctx context.Context, stock *inventory.CurrentStock) error {
	args := m.Called(ctx, stock)
	return args.Error(0)
}

var _ inventory.CurrentStockRepository = (*mockLedgerRepo)(nil)

func testDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func stockRow(key inventory.StockKey, qty int64) inventory.CurrentStock {
	row := inventory.NewCurrentStock(key.LocationID, key.ItemID)
	row.Quantity = decimal.NewFromInt(qty)
	return *row
}

func TestLockLedger(t *testing.T) {
	ctx := context.Background()
	loc := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	keyA := inventory.StockKey{LocationID: loc, ItemID: uuid.MustParse("00000000-0000-0000-0000-0000000000aa")}
	keyB := inventory.StockKey{LocationID: loc, ItemID: uuid.MustParse("00000000-0000-0000-0000-0000000000bb")}

	t.Run("locks sorted distinct keys", func(t *testing.T) {
		repo := new(mockLedgerRepo)
		repo.On("LockByKeys", ctx, []inventory.StockKey{keyA, keyB}).
			Return([]inventory.CurrentStock{stockRow(keyA, 10)}, nil).Once()

		ledger, err := LockLedger(ctx, repo, []inventory.StockKey{keyB, keyA, keyB})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10).Equal(ledger.Row(keyA).Quantity))
		assert.True(t, ledger.Row(keyB).Quantity.IsZero(), "missing row reads as zero")
		repo.AssertExpectations(t)
	})

	t.Run("lock errors pass through", func(t *testing.T) {
		repo := new(mockLedgerRepo)
		repo.On("LockByKeys", ctx, mock.Anything).Return(nil, shared.ErrConcurrencyConflict)

		_, err := LockLedger(ctx, repo, []inventory.StockKey{keyA})
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})

	t.Run("flush writes only mutated rows in key order", func(t *testing.T) {
		repo := new(mockLedgerRepo)
		repo.On("LockByKeys", ctx, mock.Anything).
			Return([]inventory.CurrentStock{stockRow(keyA, 10), stockRow(keyB, 5)}, nil)

		var saved []inventory.StockKey
		repo.On("Save", ctx, mock.Anything).Run(func(args mock.Arguments) {
			saved = append(saved, args.Get(1).(*inventory.CurrentStock).Key())
		}).Return(nil)

		ledger, err := LockLedger(ctx, repo, []inventory.StockKey{keyA, keyB})
		require.NoError(t, err)
		require.NoError(t, ledger.Decrease(keyB, decimal.NewFromInt(5)))
		require.NoError(t, ledger.Increase(keyA, decimal.NewFromInt(1)))
		require.NoError(t, ledger.Flush(ctx, repo))
		assert.Equal(t, []inventory.StockKey{keyA, keyB}, saved)

		// nothing dirty after a flush
		require.NoError(t, ledger.Flush(ctx, repo))
		repo.AssertNumberOfCalls(t, "Save", 2)
	})

	t.Run("decrease below zero is refused", func(t *testing.T) {
		repo := new(mockLedgerRepo)
		repo.On("LockByKeys", ctx, mock.Anything).Return([]inventory.CurrentStock{stockRow(keyA, 3)}, nil)

		ledger, err := LockLedger(ctx, repo, []inventory.StockKey{keyA})
		require.NoError(t, err)
		assert.Error(t, ledger.Decrease(keyA, decimal.NewFromInt(4)))
		assert.True(t, decimal.NewFromInt(3).Equal(ledger.Row(keyA).Quantity))
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("save errors are wrapped", func(t *testing.T) {
		repo := new(mockLedgerRepo)
		repo.On("LockByKeys", ctx, mock.Anything).Return([]inventory.CurrentStock{}, nil)
		boom := errors.New("disk full")
		repo.On("Save", ctx, mock.Anything).Return(boom)

		ledger, err := LockLedger(ctx, repo, []inventory.StockKey{keyA})
		require.NoError(t, err)
		require.NoError(t, ledger.Increase(keyA, decimal.NewFromInt(2)))
		assert.ErrorIs(t, ledger.Flush(ctx, repo), boom)
	})
}
