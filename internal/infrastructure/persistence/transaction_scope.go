package persistence

import (
	"context"
	"fmt"
	"time"

	appinv "github.com/farmerp/backend/internal/application/inventory"
	"github.com/farmerp/backend/internal/domain/inventory"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// Lock-wait timeouts and deadlocks surface as shared.ErrConcurrencyConflict.
type GormTransactionScope struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// TransactionScopeOption configures a GormTransactionScope
type TransactionScopeOption func(*GormTransactionScope)

// WithLockTimeout bounds each row-lock wait inside the transaction.
// Only applied on PostgreSQL.
func WithLockTimeout(d time.Duration) TransactionScopeOption {
	return func(s *GormTransactionScope) {
		s.lockTimeout = d
	}
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB, opts ...TransactionScopeOption) *GormTransactionScope {
	s := &GormTransactionScope{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appinv.TransactionalRepositories) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyLockTimeout(tx); err != nil {
			return err
		}
		return fn(NewGormRepositories(tx))
	})
	return translateTxError(err)
}

func (s *GormTransactionScope) applyLockTimeout(tx *gorm.DB) error {
	if s.lockTimeout <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if err := tx.Exec("SELECT set_config('lock_timeout', ?, true)", timeout).Error; err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}

// GormRepositories bundles the engine repositories over one *gorm.DB.
// Inside Execute it wraps the transaction; outside it serves unlocked reads.
type GormRepositories struct {
	db *gorm.DB
}

// NewGormRepositories creates repositories bound to db
func NewGormRepositories(db *gorm.DB) *GormRepositories {
	return &GormRepositories{db: db}
}

// Items returns the item repository
func (r *GormRepositories) Items() inventory.ItemRepository {
	return NewGormItemRepository(r.db)
}

// Batches returns the stock batch repository
func (r *GormRepositories) Batches() inventory.StockBatchRepository {
	return NewGormStockBatchRepository(r.db)
}

// Ledger returns the current-stock repository
func (r *GormRepositories) Ledger() inventory.CurrentStockRepository {
	return NewGormCurrentStockRepository(r.db)
}

// Usages returns the usage record repository
func (r *GormRepositories) Usages() inventory.UsageRecordRepository {
	return NewGormUsageRecordRepository(r.db)
}

// Allocations returns the allocation detail repository
func (r *GormRepositories) Allocations() inventory.AllocationDetailRepository {
	return NewGormAllocationDetailRepository(r.db)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appinv.TransactionScope = (*GormTransactionScope)(nil)

// Ensure GormRepositories implements TransactionalRepositories
var _ appinv.TransactionalRepositories = (*GormRepositories)(nil)
