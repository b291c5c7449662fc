package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appinv "github.com/farmerp/backend/internal/application/inventory"
	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/domain/shared/valueobject"
	"github.com/farmerp/backend/internal/infrastructure/config"
	"github.com/farmerp/backend/internal/infrastructure/persistence"
	"github.com/farmerp/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// mockEventPublisher is a testify mock for shared.EventPublisher
type mockEventPublisher struct {
	mock.Mock
}

func (m *mockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *mockEventPublisher) eventTypes() []string {
	var types []string
	for _, c := range m.Calls {
		for _, e := range c.Arguments.Get(1).([]shared.DomainEvent) {
			types = append(types, e.EventType())
		}
	}
	return types
}

// mockCostTrigger is a testify mock for appinv.CostTrigger
type mockCostTrigger struct {
	mock.Mock
}

func (m *mockCostTrigger) Trigger(ctx context.Context, requests []appinv.CostRecalcRequest) error {
	args := m.Called(ctx, requests)
	return args.Error(0)
}

func (m *mockCostTrigger) requests() []appinv.CostRecalcRequest {
	var out []appinv.CostRecalcRequest
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).([]appinv.CostRecalcRequest)...)
	}
	return out
}

type usageFixture struct {
	db        *gorm.DB
	svc       *appinv.UsageService
	publisher *mockEventPublisher
	trigger   *mockCostTrigger
	actor     uuid.UUID
	location  uuid.UUID

	item     *inventory.Item
	unit     uuid.UUID // smallest
	bottle   uuid.UUID // 50 of the smallest
	batches  map[string]*inventory.StockBatch
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()
	database, err := persistence.Open(sqlite.Open(":memory:"), nil, &config.DatabaseConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.AutoMigrate())

	f := &usageFixture{
		db:        database.DB,
		publisher: new(mockEventPublisher),
		trigger:   new(mockCostTrigger),
		actor:     uuid.New(),
		location:  uuid.New(),
		batches:   make(map[string]*inventory.StockBatch),
	}
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.trigger.On("Trigger", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.svc = appinv.NewUsageService(
		persistence.NewGormTransactionScope(f.db),
		persistence.NewGormRepositories(f.db),
		nil,
		zap.NewNop(),
	)
	f.svc.SetEventPublisher(f.publisher)
	f.svc.SetCostTrigger(f.trigger)

	f.item, f.unit, f.bottle = f.seedItem(t, "Vitamin A")
	return f
}

func (f *usageFixture) seedItem(t *testing.T, name string) (*inventory.Item, uuid.UUID, uuid.UUID) {
	t.Helper()
	unit, bottle := uuid.New(), uuid.New()
	table, err := valueobject.NewConversionTable([]valueobject.ConversionUnit{
		valueobject.MustNewConversionUnit(unit, decimal.NewFromInt(1), true, false),
		valueobject.MustNewConversionUnit(bottle, decimal.NewFromInt(50), false, true),
	})
	require.NoError(t, err)
	item := &inventory.Item{ID: uuid.New(), Name: name, Units: table}
	require.NoError(t, persistence.NewGormItemRepository(f.db).Create(context.Background(), item))
	return item, unit, bottle
}

// receive stores a batch and credits the ledger the way a receipt would
func (f *usageFixture) receive(t *testing.T, name string, locationID, itemID uuid.UUID, day time.Time, qty int64) *inventory.StockBatch {
	t.Helper()
	ctx := context.Background()
	b := inventory.NewStockBatch(locationID, itemID, day, decimal.NewFromInt(qty), decimal.NewFromInt(3))
	require.NoError(t, persistence.NewGormStockBatchRepository(f.db).Create(ctx, b))

	ledger := persistence.NewGormCurrentStockRepository(f.db)
	row, err := ledger.FindByKey(ctx, locationID, itemID)
	if errors.Is(err, shared.ErrNotFound) {
		row, err = inventory.NewCurrentStock(locationID, itemID), nil
	}
	require.NoError(t, err)
	require.NoError(t, row.Increase(decimal.NewFromInt(qty)))
	require.NoError(t, ledger.Save(ctx, row))

	f.batches[name] = b
	return b
}

// scenario seeds Batch1 (2024-01-01, 100) and Batch2 (2024-01-05, 50)
func (f *usageFixture) scenario(t *testing.T) {
	t.Helper()
	f.receive(t, "b1", f.location, f.item.ID, day(2024, 1, 1), 100)
	f.receive(t, "b2", f.location, f.item.ID, day(2024, 1, 5), 50)
}

func (f *usageFixture) command(usageDate time.Time, qty int64) appinv.UsageCommand {
	return appinv.UsageCommand{
		Kind:       inventory.UsageKindOVK,
		LocationID: f.location,
		UsageDate:  usageDate,
		ActorID:    f.actor,
		Lines: []appinv.UsageLineCommand{
			{ItemID: f.item.ID, UnitID: f.unit, Quantity: decimal.NewFromInt(qty)},
		},
	}
}

func (f *usageFixture) available(t *testing.T, name string) decimal.Decimal {
	t.Helper()
	b, err := persistence.NewGormStockBatchRepository(f.db).FindByID(context.Background(), f.batches[name].ID)
	require.NoError(t, err)
	return b.Available()
}

func (f *usageFixture) balance(t *testing.T, locationID, itemID uuid.UUID) decimal.Decimal {
	t.Helper()
	row, err := persistence.NewGormCurrentStockRepository(f.db).FindByKey(context.Background(), locationID, itemID)
	require.NoError(t, err)
	return row.Quantity
}

func (f *usageFixture) assertStock(t *testing.T, b1, b2, ledger int64) {
	t.Helper()
	assertQty(t, b1, f.available(t, "b1"), "batch1 available")
	assertQty(t, b2, f.available(t, "b2"), "batch2 available")
	assertQty(t, ledger, f.balance(t, f.location, f.item.ID), "ledger")
}

func (f *usageFixture) drawsByBatch(t *testing.T, recordID uuid.UUID) map[uuid.UUID]decimal.Decimal {
	t.Helper()
	resp, err := f.svc.Get(context.Background(), recordID)
	require.NoError(t, err)
	draws := make(map[uuid.UUID]decimal.Decimal)
	for _, l := range resp.Lines {
		for _, a := range l.Allocations {
			draws[a.BatchID] = draws[a.BatchID].Add(a.Quantity)
		}
	}
	return draws
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertQty(t *testing.T, want int64, got decimal.Decimal, what string) {
	t.Helper()
	assert.Truef(t, decimal.NewFromInt(want).Equal(got), "%s: want %d, got %s", what, want, got)
}

func lineCodes(result *appinv.UsageResult) []string {
	codes := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestUsageService_Create_FIFOAcrossBatches(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, inventory.UsageStatusActive, result.Status)
	assert.Equal(t, 1, result.Revision)

	f.assertStock(t, 0, 30, 30)

	draws := f.drawsByBatch(t, result.RecordID)
	require.Len(t, draws, 2)
	assertQty(t, 100, draws[f.batches["b1"].ID], "draw from batch1")
	assertQty(t, 20, draws[f.batches["b2"].ID], "draw from batch2")

	resp, err := f.svc.Get(ctx, result.RecordID)
	require.NoError(t, err)
	require.Len(t, resp.Lines, 1)
	assertQty(t, 120, resp.Lines[0].AllocatedQuantity, "line allocated")

	assert.Equal(t, []string{inventory.EventTypeUsageRecordAllocated}, f.publisher.eventTypes())
	reqs := f.trigger.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, result.RecordID, reqs[0].RecordID)
	assert.Equal(t, f.location, reqs[0].LocationID)
	assert.Equal(t, f.item.ID, reqs[0].ItemID)
	assert.True(t, day(2024, 1, 6).Equal(reqs[0].UsageDate))
}

func TestUsageService_Update_ReversesBeforeReallocating(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	require.True(t, created.Success)

	updated, err := f.svc.Update(ctx, created.RecordID, f.command(day(2024, 1, 6), 90))
	require.NoError(t, err)
	require.True(t, updated.Success, "errors: %v", updated.Errors)
	assert.Equal(t, 2, updated.Revision)

	f.assertStock(t, 10, 50, 60)

	draws := f.drawsByBatch(t, created.RecordID)
	require.Len(t, draws, 1)
	assertQty(t, 90, draws[f.batches["b1"].ID], "draw from batch1")
}

func TestUsageService_Create_DateBeforeEarliestStock(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, f.command(day(2023, 12, 31), 10))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{inventory.CodeDateBeforeEarliestStock}, lineCodes(result))
	assert.Equal(t, 0, result.Errors[0].LineIndex)

	f.assertStock(t, 100, 50, 150)

	page, err := f.svc.ListByLocation(ctx, f.location, appinv.UsageListFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	f.trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

func TestUsageService_CreateThenDeleteRestoresStock(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	require.True(t, created.Success)

	deleted, err := f.svc.Delete(ctx, created.RecordID, f.actor)
	require.NoError(t, err)
	require.True(t, deleted.Success)
	assert.Equal(t, inventory.UsageStatusDeleted, deleted.Status)

	f.assertStock(t, 100, 50, 150)

	resp, err := f.svc.Get(ctx, created.RecordID)
	require.NoError(t, err)
	assert.Equal(t, inventory.UsageStatusDeleted, resp.Status)
	assert.Empty(t, resp.Lines)

	assert.Equal(t, []string{
		inventory.EventTypeUsageRecordAllocated,
		inventory.EventTypeUsageRecordReversed,
	}, f.publisher.eventTypes())

	t.Run("deleting again is an invalid state", func(t *testing.T) {
		_, err := f.svc.Delete(ctx, created.RecordID, f.actor)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("a deleted record cannot be edited", func(t *testing.T) {
		_, err := f.svc.Update(ctx, created.RecordID, f.command(day(2024, 1, 6), 10))
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})
}

func TestUsageService_Update_NoOpKeepsAllocations(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	require.True(t, created.Success)

	before, err := f.svc.Get(ctx, created.RecordID)
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.RecordID, f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	require.True(t, updated.Success)
	assert.Equal(t, 2, updated.Revision)

	after, err := f.svc.Get(ctx, created.RecordID)
	require.NoError(t, err)
	require.Len(t, after.Lines, 1)
	assert.Equal(t, before.Lines[0].ID, after.Lines[0].ID)
	assert.ElementsMatch(t, before.Lines[0].Allocations, after.Lines[0].Allocations)

	f.assertStock(t, 0, 30, 30)
	// only the create moved stock
	assert.Len(t, f.trigger.Calls, 1)
}

func TestUsageService_OverAllocationLeavesStateUnchanged(t *testing.T) {
	t.Run("create exceeding the ledger", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)

		result, err := f.svc.Create(context.Background(), f.command(day(2024, 1, 6), 160))
		require.NoError(t, err)
		assert.False(t, result.Success)
		require.Equal(t, []string{inventory.CodeInsufficientStock}, lineCodes(result))
		require.NotNil(t, result.Errors[0].Shortfall)
		assertQty(t, 10, *result.Errors[0].Shortfall, "shortfall")

		f.assertStock(t, 100, 50, 150)
	})

	t.Run("shortfall is reported in the line's unit", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)

		cmd := f.command(day(2024, 1, 6), 0)
		cmd.Lines[0] = appinv.UsageLineCommand{ItemID: f.item.ID, UnitID: f.bottle, Quantity: decimal.NewFromInt(4)}

		result, err := f.svc.Create(context.Background(), cmd)
		require.NoError(t, err)
		assert.False(t, result.Success)
		require.Len(t, result.Errors, 1)
		assertQty(t, 1, *result.Errors[0].Shortfall, "shortfall in bottles")
	})

	t.Run("batches after the usage date are not eligible", func(t *testing.T) {
		f := newUsageFixture(t)
		f.receive(t, "b1", f.location, f.item.ID, day(2024, 1, 1), 100)
		f.receive(t, "b2", f.location, f.item.ID, day(2024, 2, 1), 100)

		result, err := f.svc.Create(context.Background(), f.command(day(2024, 1, 10), 150))
		require.NoError(t, err)
		assert.False(t, result.Success)
		require.Equal(t, []string{inventory.CodeInsufficientStock}, lineCodes(result))
		assertQty(t, 50, *result.Errors[0].Shortfall, "shortfall")

		f.assertStock(t, 100, 100, 200)
		page, err := f.svc.ListByLocation(context.Background(), f.location, appinv.UsageListFilter{})
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})

	t.Run("edit exceeding the ledger keeps the previous allocation", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)
		ctx := context.Background()

		created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
		require.NoError(t, err)
		require.True(t, created.Success)

		result, err := f.svc.Update(ctx, created.RecordID, f.command(day(2024, 1, 6), 200))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assertQty(t, 50, *result.Errors[0].Shortfall, "shortfall")

		f.assertStock(t, 0, 30, 30)
		resp, err := f.svc.Get(ctx, created.RecordID)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Revision)
		assertQty(t, 120, resp.Lines[0].Quantity, "line quantity")
	})

	t.Run("one short item rejects every line", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)
		feed, feedUnit, _ := f.seedItem(t, "Starter feed")
		f.receive(t, "feed", f.location, feed.ID, day(2024, 1, 1), 10)

		cmd := f.command(day(2024, 1, 6), 20)
		cmd.Lines = append(cmd.Lines, appinv.UsageLineCommand{ItemID: feed.ID, UnitID: feedUnit, Quantity: decimal.NewFromInt(25)})

		result, err := f.svc.Create(context.Background(), cmd)
		require.NoError(t, err)
		assert.False(t, result.Success)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, 1, result.Errors[0].LineIndex)
		assertQty(t, 15, *result.Errors[0].Shortfall, "shortfall")

		f.assertStock(t, 100, 50, 150)
		assertQty(t, 10, f.available(t, "feed"), "feed available")
	})
}

func TestUsageService_UnitConversion(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)

	cmd := f.command(day(2024, 1, 6), 0)
	cmd.Lines[0] = appinv.UsageLineCommand{ItemID: f.item.ID, UnitID: f.bottle, Quantity: decimal.NewFromInt(2)}

	result, err := f.svc.Create(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, result.Success, "errors: %v", result.Errors)

	resp, err := f.svc.Get(context.Background(), result.RecordID)
	require.NoError(t, err)
	assertQty(t, 2, resp.Lines[0].Quantity, "entered quantity")
	assertQty(t, 100, resp.Lines[0].AllocatedQuantity, "allocated smallest")
	f.assertStock(t, 0, 50, 50)
}

func TestUsageService_Drafts(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	cmd := f.command(day(2024, 1, 6), 120)
	cmd.Draft = true
	draft, err := f.svc.Create(ctx, cmd)
	require.NoError(t, err)
	require.True(t, draft.Success)
	assert.Equal(t, inventory.UsageStatusDraft, draft.Status)
	assert.Equal(t, 0, draft.Revision)

	f.assertStock(t, 100, 50, 150)
	f.trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)

	t.Run("draft edits move no stock", func(t *testing.T) {
		cmd := f.command(day(2024, 1, 6), 130)
		cmd.Draft = true
		result, err := f.svc.Update(ctx, draft.RecordID, cmd)
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Equal(t, inventory.UsageStatusDraft, result.Status)
		f.assertStock(t, 100, 50, 150)
	})

	t.Run("promotion allocates every line", func(t *testing.T) {
		result, err := f.svc.Update(ctx, draft.RecordID, f.command(day(2024, 1, 6), 130))
		require.NoError(t, err)
		require.True(t, result.Success, "errors: %v", result.Errors)
		assert.Equal(t, inventory.UsageStatusActive, result.Status)
		assert.Equal(t, 1, result.Revision)
		f.assertStock(t, 0, 20, 20)
	})

	t.Run("active records cannot return to draft", func(t *testing.T) {
		cmd := f.command(day(2024, 1, 6), 130)
		cmd.Draft = true
		_, err := f.svc.Update(ctx, draft.RecordID, cmd)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
		f.assertStock(t, 0, 20, 20)
	})

	t.Run("deleting a draft moves no stock", func(t *testing.T) {
		cmd := f.command(day(2024, 1, 6), 10)
		cmd.Draft = true
		other, err := f.svc.Create(ctx, cmd)
		require.NoError(t, err)

		result, err := f.svc.Delete(ctx, other.RecordID, f.actor)
		require.NoError(t, err)
		assert.True(t, result.Success)
		f.assertStock(t, 0, 20, 20)
	})
}

func TestUsageService_Update_HeaderChanges(t *testing.T) {
	t.Run("earlier date reallocates against older batches", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)
		ctx := context.Background()

		created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
		require.NoError(t, err)
		require.True(t, created.Success)

		result, err := f.svc.Update(ctx, created.RecordID, f.command(day(2024, 1, 3), 90))
		require.NoError(t, err)
		require.True(t, result.Success, "errors: %v", result.Errors)
		f.assertStock(t, 10, 50, 60)

		reqs := f.trigger.Calls[1].Arguments.Get(1).([]appinv.CostRecalcRequest)
		require.Len(t, reqs, 2)
		assert.True(t, day(2024, 1, 3).Equal(reqs[0].UsageDate))
		assert.True(t, day(2024, 1, 6).Equal(reqs[1].UsageDate))
	})

	t.Run("earlier date with too little eligible stock is rejected", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)
		ctx := context.Background()

		created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
		require.NoError(t, err)
		require.True(t, created.Success)

		result, err := f.svc.Update(ctx, created.RecordID, f.command(day(2024, 1, 3), 120))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assertQty(t, 20, *result.Errors[0].Shortfall, "shortfall")
		f.assertStock(t, 0, 30, 30)
	})

	t.Run("location move returns stock to the old location", func(t *testing.T) {
		f := newUsageFixture(t)
		f.scenario(t)
		ctx := context.Background()
		barn := uuid.New()
		f.receive(t, "barn", barn, f.item.ID, day(2024, 1, 1), 200)

		created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
		require.NoError(t, err)
		require.True(t, created.Success)

		cmd := f.command(day(2024, 1, 6), 120)
		cmd.LocationID = barn
		result, err := f.svc.Update(ctx, created.RecordID, cmd)
		require.NoError(t, err)
		require.True(t, result.Success, "errors: %v", result.Errors)

		f.assertStock(t, 100, 50, 150)
		assertQty(t, 80, f.available(t, "barn"), "barn batch available")
		assertQty(t, 80, f.balance(t, barn, f.item.ID), "barn ledger")
	})
}

func TestUsageService_Update_LineChanges(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	feed, feedUnit, _ := f.seedItem(t, "Starter feed")
	f.receive(t, "feed", f.location, feed.ID, day(2024, 1, 1), 40)
	ctx := context.Background()

	cmd := f.command(day(2024, 1, 6), 30)
	cmd.Lines = append(cmd.Lines, appinv.UsageLineCommand{ItemID: feed.ID, UnitID: feedUnit, Quantity: decimal.NewFromInt(40)})
	created, err := f.svc.Create(ctx, cmd)
	require.NoError(t, err)
	require.True(t, created.Success, "errors: %v", created.Errors)
	assertQty(t, 0, f.available(t, "feed"), "feed available")

	// drop the feed line, keep vitamin A with a note
	edit := f.command(day(2024, 1, 6), 30)
	edit.Lines[0].Notes = "morning round"
	result, err := f.svc.Update(ctx, created.RecordID, edit)
	require.NoError(t, err)
	require.True(t, result.Success, "errors: %v", result.Errors)

	assertQty(t, 40, f.available(t, "feed"), "feed available")
	assertQty(t, 40, f.balance(t, f.location, feed.ID), "feed ledger")
	f.assertStock(t, 70, 50, 120)

	resp, err := f.svc.Get(ctx, created.RecordID)
	require.NoError(t, err)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "morning round", resp.Lines[0].Notes)
}

func TestUsageService_RejectsMalformedCommands(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	f.svc.SetMaxLines(1)
	ctx := context.Background()

	tests := []struct {
		name  string
		cmd   func() appinv.UsageCommand
		codes []string
	}{
		{
			name: "unknown kind",
			cmd: func() appinv.UsageCommand {
				c := f.command(day(2024, 1, 6), 10)
				c.Kind = "HARVEST"
				return c
			},
			codes: []string{inventory.CodeInvalidUsageKind},
		},
		{
			name: "too many lines",
			cmd: func() appinv.UsageCommand {
				c := f.command(day(2024, 1, 6), 10)
				c.Lines = append(c.Lines, appinv.UsageLineCommand{ItemID: f.item.ID, UnitID: f.bottle, Quantity: decimal.NewFromInt(1)})
				return c
			},
			codes: []string{inventory.CodeTooManyLines},
		},
		{
			name: "non-positive quantity",
			cmd: func() appinv.UsageCommand {
				return f.command(day(2024, 1, 6), 0)
			},
			codes: []string{inventory.CodeInvalidQuantity},
		},
		{
			name: "unknown item",
			cmd: func() appinv.UsageCommand {
				c := f.command(day(2024, 1, 6), 10)
				c.Lines[0].ItemID = uuid.New()
				return c
			},
			codes: []string{inventory.CodeItemNotFound},
		},
		{
			name: "unit not defined for the item",
			cmd: func() appinv.UsageCommand {
				c := f.command(day(2024, 1, 6), 10)
				c.Lines[0].UnitID = uuid.New()
				return c
			},
			codes: []string{inventory.CodeUnitNotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.Create(ctx, tt.cmd())
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.codes, lineCodes(result))
		})
	}

	t.Run("duplicate lines", func(t *testing.T) {
		f.svc.SetMaxLines(appinv.DefaultMaxLines)
		c := f.command(day(2024, 1, 6), 10)
		c.Lines = append(c.Lines, c.Lines[0])
		result, err := f.svc.Create(ctx, c)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, []string{inventory.CodeDuplicateLine}, lineCodes(result))
		assert.Equal(t, 1, result.Errors[0].LineIndex)
	})

	f.assertStock(t, 100, 50, 150)
}

func TestUsageService_QuantityPrecision(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	withQty := func(unit uuid.UUID, qty string, draft bool) appinv.UsageCommand {
		c := f.command(day(2024, 1, 6), 1)
		c.Lines[0].UnitID = unit
		c.Lines[0].Quantity = decimal.RequireFromString(qty)
		c.Draft = draft
		return c
	}

	for _, tt := range []struct {
		name string
		cmd  appinv.UsageCommand
	}{
		{"rounds to zero", withQty(f.unit, "0.00001", false)},
		{"five decimals", withQty(f.bottle, "1.23456", false)},
		{"five decimals in a draft", withQty(f.bottle, "1.23456", true)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.Create(ctx, tt.cmd)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, []string{inventory.CodeInvalidQuantity}, lineCodes(result))
			assert.Equal(t, 0, result.Errors[0].LineIndex)
		})
	}
	f.assertStock(t, 100, 50, 150)

	t.Run("four decimals allocate exactly what is stored", func(t *testing.T) {
		created, err := f.svc.Create(ctx, withQty(f.bottle, "1.2345", false))
		require.NoError(t, err)
		require.True(t, created.Success)

		before, err := f.svc.Get(ctx, created.RecordID)
		require.NoError(t, err)
		require.Len(t, before.Lines, 1)
		assert.True(t, decimal.RequireFromString("1.2345").Equal(before.Lines[0].Quantity))
		drawn := decimal.Zero
		for _, a := range before.Lines[0].Allocations {
			drawn = drawn.Add(a.Quantity)
		}
		assert.True(t, decimal.RequireFromString("61.725").Equal(drawn), "drawn %s", drawn)

		// resubmitting the same quantity leaves the allocations alone
		updated, err := f.svc.Update(ctx, created.RecordID, withQty(f.bottle, "1.2345", false))
		require.NoError(t, err)
		require.True(t, updated.Success)
		after, err := f.svc.Get(ctx, created.RecordID)
		require.NoError(t, err)
		assert.Equal(t, before.Lines[0].ID, after.Lines[0].ID)
		assert.ElementsMatch(t, before.Lines[0].Allocations, after.Lines[0].Allocations)
	})
}

func TestUsageService_MissingRecords(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.svc.Get(ctx, missing)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Update(ctx, missing, f.command(day(2024, 1, 6), 1))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Delete(ctx, missing, f.actor)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUsageService_ListByLocation(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	for _, d := range []int{6, 7, 8} {
		result, err := f.svc.Create(ctx, f.command(day(2024, 1, d), 10))
		require.NoError(t, err)
		require.True(t, result.Success)
	}
	feedCmd := f.command(day(2024, 1, 9), 5)
	feedCmd.Kind = inventory.UsageKindFeed
	_, err := f.svc.Create(ctx, feedCmd)
	require.NoError(t, err)

	page, err := f.svc.ListByLocation(ctx, f.location, appinv.UsageListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 4)
	assert.True(t, day(2024, 1, 9).Equal(page.Items[0].UsageDate))

	from := day(2024, 1, 7)
	page, err = f.svc.ListByLocation(ctx, f.location, appinv.UsageListFilter{Kind: "OVK", From: &from, OrderDir: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.True(t, day(2024, 1, 7).Equal(page.Items[0].UsageDate))

	page, err = f.svc.ListByLocation(ctx, uuid.New(), appinv.UsageListFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestUsageService_Reconcile(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	require.True(t, created.Success)

	rec, err := f.svc.Reconcile(ctx, f.location, f.item.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assertQty(t, 30, rec.LedgerQuantity, "ledger")
	assertQty(t, 30, rec.BatchQuantity, "batches")

	require.NoError(t, f.db.Model(&models.CurrentStockModel{}).
		Where("location_id = ? AND item_id = ?", f.location, f.item.ID).
		Update("quantity", decimal.NewFromInt(25)).Error)

	rec, err = f.svc.Reconcile(ctx, f.location, f.item.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assertQty(t, -5, rec.Difference, "difference")

	t.Run("unknown key reads as an empty balance", func(t *testing.T) {
		rec, err := f.svc.Reconcile(ctx, uuid.New(), f.item.ID)
		require.NoError(t, err)
		assert.True(t, rec.Consistent)
		assert.True(t, rec.LedgerQuantity.IsZero())
	})
}

func TestUsageService_PostCommitFailuresDoNotRollBack(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)

	publisher := new(mockEventPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("bus closed"))
	trigger := new(mockCostTrigger)
	trigger.On("Trigger", mock.Anything, mock.Anything).Return(errors.New("queue unavailable"))
	f.svc.SetEventPublisher(publisher)
	f.svc.SetCostTrigger(trigger)

	result, err := f.svc.Create(context.Background(), f.command(day(2024, 1, 6), 120))
	require.NoError(t, err)
	assert.True(t, result.Success)
	f.assertStock(t, 0, 30, 30)

	publisher.AssertNumberOfCalls(t, "Publish", 1)
	trigger.AssertNumberOfCalls(t, "Trigger", 1)
}

func TestUsageService_ConcurrentCreatesNeverOverdraw(t *testing.T) {
	f := newUsageFixture(t)
	f.scenario(t)

	const workers = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Create(context.Background(), f.command(day(2024, 1, 6), 40))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Success {
				accepted++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, 2, rejected)
	f.assertStock(t, 0, 30, 30)

	rec, err := f.svc.Reconcile(context.Background(), f.location, f.item.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}
