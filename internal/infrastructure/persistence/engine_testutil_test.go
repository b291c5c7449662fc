package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/farmerp/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockGormDB opens GORM on a sqlmock connection with the PostgreSQL dialect
func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock, mockDB
}

// setupEngineDB opens an in-memory SQLite database with the engine schema.
// A single connection keeps every statement on the same in-memory database.
func setupEngineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seedItem stores an item with a smallest unit and a 50x sack unit
func seedItem(t *testing.T, db *gorm.DB, name string) (item *inventory.Item, smallest, sack uuid.UUID) {
	t.Helper()
	smallest, sack = uuid.New(), uuid.New()
	table, err := valueobject.NewConversionTable([]valueobject.ConversionUnit{
		valueobject.MustNewConversionUnit(smallest, decimal.NewFromInt(1), true, false),
		valueobject.MustNewConversionUnit(sack, decimal.NewFromInt(50), false, true),
	})
	require.NoError(t, err)
	item = &inventory.Item{ID: uuid.New(), Name: name, Units: table}
	require.NoError(t, db.Create(models.ItemModelFromDomain(item)).Error)
	return item, smallest, sack
}

func seedBatch(t *testing.T, db *gorm.DB, locationID, itemID uuid.UUID, received time.Time, qty int64) *inventory.StockBatch {
	t.Helper()
	b := inventory.NewStockBatch(locationID, itemID, received, decimal.NewFromInt(qty), decimal.NewFromInt(2))
	require.NoError(t, NewGormStockBatchRepository(db).Create(context.Background(), b))
	return b
}
