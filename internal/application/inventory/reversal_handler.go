package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReversalHandler returns a line's allocated stock to its batches and ledger.
// Like the engine, it only runs under the coordinator's locks.
type ReversalHandler struct {
	metrics *telemetry.AllocationMetrics
}

// NewReversalHandler creates a reversal handler
func NewReversalHandler(metrics *telemetry.AllocationMetrics) *ReversalHandler {
	return &ReversalHandler{metrics: metrics}
}

// ReverseLine deletes the line's allocation details, recomputes every batch
// they touched and credits their sum back to the ledger at locationID.
// Returns the quantity returned, in the smallest unit.
func (h *ReversalHandler) ReverseLine(
	ctx context.Context,
	repos TransactionalRepositories,
	ledger *LockedLedger,
	locationID uuid.UUID,
	line *inventory.UsageLineItem,
) (decimal.Decimal, error) {
	details, err := repos.Allocations().FindByLineItem(ctx, line.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load allocation details: %w", err)
	}
	if len(details) == 0 {
		line.Allocations = nil
		return decimal.Zero, nil
	}

	total := decimal.Zero
	for _, d := range details {
		total = total.Add(d.Quantity)
	}

	if err := repos.Allocations().DeleteByLineItem(ctx, line.ID); err != nil {
		return decimal.Zero, fmt.Errorf("delete allocation details: %w", err)
	}

	for _, batchID := range touchedBatches(details) {
		if _, err := repos.Batches().RecalculateUsed(ctx, batchID); err != nil {
			return decimal.Zero, fmt.Errorf("recalculate batch %s: %w", batchID, err)
		}
	}

	key := inventory.StockKey{LocationID: locationID, ItemID: line.ItemID}
	if err := ledger.Increase(key, total); err != nil {
		return decimal.Zero, err
	}

	line.Allocations = nil
	h.metrics.RecordReversal(ctx, total)
	return total, nil
}

// touchedBatches returns the distinct batch ids of details in id order
func touchedBatches(details []inventory.AllocationDetail) []uuid.UUID {
	used := inventory.FoldUsed(details)
	ids := make([]uuid.UUID, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
