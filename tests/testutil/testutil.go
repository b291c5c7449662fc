// Package testutil provides helpers shared by the integration tests: stock
// seeding against a real database, an authenticated API client and an
// event recorder.
package testutil

import (
	"context"
	"testing"
	"time"

	appinventory "github.com/farmerp/backend/internal/application/inventory"
	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/farmerp/backend/internal/infrastructure/persistence"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// NewTestUUID generates a deterministic UUID from seed.
func NewTestUUID(seed string) uuid.UUID {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return uuid.NewSHA1(namespace, []byte(seed))
}

// ActorID returns the standard actor for tests.
func ActorID() uuid.UUID {
	return NewTestUUID("test-actor")
}

// Date returns midnight UTC of the given day.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Qty is decimal.NewFromInt.
func Qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// ContextWithTimeout creates a context with a timeout for tests.
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// RequireEventually polls condition until it holds or timeout passes.
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	require.Fail(t, "Condition not met within timeout", msgAndArgs...)
}

// SeededItem is an item with a smallest unit and a 50x sack unit.
type SeededItem struct {
	Item     *inventory.Item
	Smallest uuid.UUID
	Sack     uuid.UUID
}

// ID returns the item id.
func (s SeededItem) ID() uuid.UUID {
	return s.Item.ID
}

// StockSeeder writes master data and receipts straight through the
// persistence layer. Receipts keep the ledger equal to the batch sum.
type StockSeeder struct {
	db    *gorm.DB
	scope *persistence.GormTransactionScope
}

// NewStockSeeder creates a seeder on db.
func NewStockSeeder(db *gorm.DB) *StockSeeder {
	return &StockSeeder{db: db, scope: persistence.NewGormTransactionScope(db)}
}

// Item stores an item named name.
func (s *StockSeeder) Item(t *testing.T, name string) SeededItem {
	t.Helper()
	smallest, sack := uuid.New(), uuid.New()
	table, err := valueobject.NewConversionTable([]valueobject.ConversionUnit{
		valueobject.MustNewConversionUnit(smallest, decimal.NewFromInt(1), true, false),
		valueobject.MustNewConversionUnit(sack, decimal.NewFromInt(50), false, true),
	})
	require.NoError(t, err)

	item := &inventory.Item{ID: uuid.New(), Name: name, Units: table}
	require.NoError(t, persistence.NewGormItemRepository(s.db).Create(context.Background(), item))
	return SeededItem{Item: item, Smallest: smallest, Sack: sack}
}

// Receive books qty smallest units of itemID at locationID on date.
func (s *StockSeeder) Receive(t *testing.T, locationID, itemID uuid.UUID, date time.Time, qty int64) *inventory.StockBatch {
	t.Helper()
	batch := inventory.NewStockBatch(locationID, itemID, date, decimal.NewFromInt(qty), decimal.NewFromInt(2))

	err := s.scope.Execute(context.Background(), func(repos appinventory.TransactionalRepositories) error {
		key := inventory.StockKey{LocationID: locationID, ItemID: itemID}
		rows, err := repos.Ledger().LockByKeys(context.Background(), []inventory.StockKey{key})
		if err != nil {
			return err
		}
		ledger := inventory.NewCurrentStock(locationID, itemID)
		if len(rows) == 1 {
			ledger = &rows[0]
		}
		if err := repos.Batches().Create(context.Background(), batch); err != nil {
			return err
		}
		if err := ledger.Increase(batch.QuantityIn); err != nil {
			return err
		}
		return repos.Ledger().Save(context.Background(), ledger)
	})
	require.NoError(t, err)
	return batch
}

// Available returns the current available quantity of a batch.
func (s *StockSeeder) Available(t *testing.T, batchID uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := persistence.NewGormStockBatchRepository(s.db).FindByID(context.Background(), batchID)
	require.NoError(t, err)
	return b.Available()
}

// Ledger returns the ledger balance of a key; zero when no row exists.
func (s *StockSeeder) Ledger(t *testing.T, locationID, itemID uuid.UUID) decimal.Decimal {
	t.Helper()
	rows, err := persistence.NewGormCurrentStockRepository(s.db).FindByKeys(context.Background(),
		[]inventory.StockKey{{LocationID: locationID, ItemID: itemID}})
	require.NoError(t, err)
	if len(rows) == 0 {
		return decimal.Zero
	}
	return rows[0].Quantity
}
