package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationRequest asks the engine to draw one line's quantity from stock
type AllocationRequest struct {
	Line       *inventory.UsageLineItem
	Kind       inventory.UsageKind
	LocationID uuid.UUID
	UsageDate  time.Time
	Required   decimal.Decimal // smallest unit
	ActorID    uuid.UUID
}

// AllocationEngine draws usage from dated batches in FIFO order.
// It must only run inside a transaction that already holds the ledger lock
// for the request's (location, item) and the batch locks for that item.
type AllocationEngine struct {
	strategy inventory.BatchOutboundStrategy
	metrics  *telemetry.AllocationMetrics
}

// NewAllocationEngine creates an engine using FIFO batch selection
func NewAllocationEngine(metrics *telemetry.AllocationMetrics) *AllocationEngine {
	return &AllocationEngine{
		strategy: inventory.NewFIFOBatchOutboundStrategy(),
		metrics:  metrics,
	}
}

// Allocate draws req.Required from eligible batches, writes one allocation
// detail per touched batch, recomputes those batches and debits the ledger.
// Returns *inventory.InsufficientStockError, with nothing written, when the
// eligible batches cannot cover the request.
func (e *AllocationEngine) Allocate(
	ctx context.Context,
	repos TransactionalRepositories,
	ledger *LockedLedger,
	req AllocationRequest,
) ([]inventory.AllocationDetail, error) {
	key := inventory.StockKey{LocationID: req.LocationID, ItemID: req.Line.ItemID}

	batches, err := repos.Batches().FindEligible(ctx, req.LocationID, req.Line.ItemID, req.UsageDate)
	if err != nil {
		return nil, fmt.Errorf("load eligible batches: %w", err)
	}

	result, err := e.strategy.SelectBatches(req.Required, req.UsageDate, batches)
	if err != nil {
		return nil, err
	}
	if !result.FullyFulfilled {
		return nil, &inventory.InsufficientStockError{
			LocationID: req.LocationID,
			ItemID:     req.Line.ItemID,
			Required:   req.Required,
			Available:  result.TotalDeducted,
			Shortfall:  result.RemainingQuantity,
		}
	}

	details := make([]inventory.AllocationDetail, 0, len(result.Deductions))
	for _, d := range result.Deductions {
		details = append(details, inventory.NewAllocationDetail(req.Line.ID, d.BatchID, d.DeductedAmount, req.ActorID))
	}
	if err := repos.Allocations().CreateBatch(ctx, details); err != nil {
		return nil, fmt.Errorf("create allocation details: %w", err)
	}

	for _, d := range result.Deductions {
		if _, err := repos.Batches().RecalculateUsed(ctx, d.BatchID); err != nil {
			return nil, fmt.Errorf("recalculate batch %s: %w", d.BatchID, err)
		}
	}

	if err := ledger.Decrease(key, req.Required); err != nil {
		return nil, err
	}

	req.Line.Allocations = details
	e.metrics.RecordAllocation(ctx, string(req.Kind), len(details), req.Required)
	return details, nil
}
