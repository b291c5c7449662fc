package inventory

import (
	"context"

	"github.com/farmerp/backend/internal/domain/inventory"
)

// TransactionScope provides transactional access to inventory repositories.
// When a function is executed within a transaction scope, all repository operations
// will be part of the same database transaction and will be committed or rolled back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all engine repositories within a transaction.
// All repositories returned share the same underlying database transaction.
//
// Locking notes:
//   - Ledger rows are the serialization point. LockByKeys must be called before any batch
//     is read for update, and always with keys in (location, item) order.
//   - Batches are locked after the ledger, never before.
//   - Allocation details are only written while both are held.
type TransactionalRepositories interface {
	// Items returns the read-only item repository
	Items() inventory.ItemRepository
	// Batches returns the stock batch repository scoped to the current transaction
	Batches() inventory.StockBatchRepository
	// Ledger returns the current-stock repository scoped to the current transaction
	Ledger() inventory.CurrentStockRepository
	// Usages returns the usage record repository scoped to the current transaction
	Usages() inventory.UsageRecordRepository
	// Allocations returns the allocation detail repository scoped to the current transaction
	Allocations() inventory.AllocationDetailRepository
}

// NoOpTransactionScope is a transaction scope that doesn't actually use transactions.
// This is useful for testing or when transaction support is not required.
type NoOpTransactionScope struct {
	repos TransactionalRepositories
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(repos TransactionalRepositories) *NoOpTransactionScope {
	return &NoOpTransactionScope{repos: repos}
}

// Execute runs the function without a real transaction (for testing/compatibility).
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s.repos)
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
