package inventory

import (
	"context"
	"fmt"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/shopspring/decimal"
)

// LockedLedger holds the ledger rows locked by the current transaction.
// Mutations are buffered and written back by Flush in lock order.
type LockedLedger struct {
	rows  map[inventory.StockKey]*inventory.CurrentStock
	dirty map[inventory.StockKey]struct{}
}

// LockLedger locks the rows for keys in (location, item) order.
func LockLedger(ctx context.Context, repo inventory.CurrentStockRepository, keys []inventory.StockKey) (*LockedLedger, error) {
	sorted := inventory.SortedStockKeys(keys)
	rows, err := repo.LockByKeys(ctx, sorted)
	if err != nil {
		return nil, err
	}
	l := &LockedLedger{
		rows:  make(map[inventory.StockKey]*inventory.CurrentStock, len(sorted)),
		dirty: make(map[inventory.StockKey]struct{}),
	}
	for i := range rows {
		l.rows[rows[i].Key()] = &rows[i]
	}
	return l, nil
}

// Row returns the locked row for key. A key with no persisted row reads as an
// empty balance and is inserted on flush if it is mutated.
func (l *LockedLedger) Row(key inventory.StockKey) *inventory.CurrentStock {
	if r, ok := l.rows[key]; ok {
		return r
	}
	r := inventory.NewCurrentStock(key.LocationID, key.ItemID)
	l.rows[key] = r
	return r
}

// Increase credits qty to key
func (l *LockedLedger) Increase(key inventory.StockKey, qty decimal.Decimal) error {
	if err := l.Row(key).Increase(qty); err != nil {
		return err
	}
	l.dirty[key] = struct{}{}
	return nil
}

// Decrease debits qty from key
func (l *LockedLedger) Decrease(key inventory.StockKey, qty decimal.Decimal) error {
	if err := l.Row(key).Decrease(qty); err != nil {
		return err
	}
	l.dirty[key] = struct{}{}
	return nil
}

// Flush writes every mutated row back in lock order
func (l *LockedLedger) Flush(ctx context.Context, repo inventory.CurrentStockRepository) error {
	keys := make([]inventory.StockKey, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	for _, k := range inventory.SortedStockKeys(keys) {
		if err := repo.Save(ctx, l.rows[k]); err != nil {
			return fmt.Errorf("save ledger %s/%s: %w", k.LocationID, k.ItemID, err)
		}
	}
	l.dirty = make(map[inventory.StockKey]struct{})
	return nil
}
