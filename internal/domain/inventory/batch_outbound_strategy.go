package inventory

import (
	"sort"
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchOutboundStrategyType defines the type of batch outbound strategy
type BatchOutboundStrategyType string

const (
	// BatchOutboundStrategyTypeFIFO draws from the oldest receipt first
	BatchOutboundStrategyTypeFIFO BatchOutboundStrategyType = "FIFO"
)

// String returns the string representation
func (t BatchOutboundStrategyType) String() string {
	return string(t)
}

// BatchDeductionResult represents the result of drawing from a single batch
type BatchDeductionResult struct {
	BatchID          uuid.UUID       // ID of the batch
	DeductedAmount   decimal.Decimal // Amount drawn
	UnitCost         decimal.Decimal // Unit cost of this batch (for cost attribution)
	TotalCost        decimal.Decimal // DeductedAmount * UnitCost
	RemainingInBatch decimal.Decimal // Available quantity left after the draw
	FullyConsumed    bool            // True if batch is now fully drawn
}

// BatchOutboundResult represents the complete result of a batch outbound operation
type BatchOutboundResult struct {
	Deductions          []BatchDeductionResult // One entry per non-zero draw, in draw order
	TotalDeducted       decimal.Decimal        // Total quantity drawn
	TotalCost           decimal.Decimal        // Total cost of drawn stock
	WeightedAverageCost decimal.Decimal        // Weighted average cost per unit
	RemainingQuantity   decimal.Decimal        // Quantity that could not be fulfilled
	FullyFulfilled      bool                   // True if all requested quantity was fulfilled
}

// BatchOutboundStrategy decides which batches serve a request
type BatchOutboundStrategy interface {
	// StrategyType returns the batch outbound strategy type
	StrategyType() BatchOutboundStrategyType
	// SelectBatches calculates which batches to use and how much to draw from each
	SelectBatches(requestedQuantity decimal.Decimal, asOf time.Time, batches []StockBatch) (*BatchOutboundResult, error)
}

// FIFOBatchOutboundStrategy selects batches by receipt date (oldest first),
// then by insertion sequence. Batches received after the usage date are skipped.
type FIFOBatchOutboundStrategy struct{}

// NewFIFOBatchOutboundStrategy creates a new FIFO batch outbound strategy
func NewFIFOBatchOutboundStrategy() *FIFOBatchOutboundStrategy {
	return &FIFOBatchOutboundStrategy{}
}

// StrategyType returns the batch outbound strategy type
func (s *FIFOBatchOutboundStrategy) StrategyType() BatchOutboundStrategyType {
	return BatchOutboundStrategyTypeFIFO
}

// SelectBatches computes the FIFO draw. It does not mutate the batches.
// A result with FullyFulfilled=false means the eligible batches cannot cover
// the request; RemainingQuantity is the shortfall.
func (s *FIFOBatchOutboundStrategy) SelectBatches(requestedQuantity decimal.Decimal, asOf time.Time, batches []StockBatch) (*BatchOutboundResult, error) {
	if requestedQuantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Requested quantity must be positive")
	}

	return calculateDeductions(requestedQuantity, SortFIFO(EligibleBatches(batches, asOf))), nil
}

// EligibleBatches returns batches with stock received on or before asOf
func EligibleBatches(batches []StockBatch, asOf time.Time) []StockBatch {
	result := make([]StockBatch, 0, len(batches))
	for i := range batches {
		if batches[i].IsEligible(asOf) {
			result = append(result, batches[i])
		}
	}
	return result
}

// SortFIFO returns a copy of batches in consumption order
func SortFIFO(batches []StockBatch) []StockBatch {
	sorted := make([]StockBatch, len(batches))
	copy(sorted, batches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Precedes(&sorted[j])
	})
	return sorted
}

// ValidateBatchAvailability checks if the eligible batches cover the request.
// Returns whether it is covered and the total eligible quantity.
func ValidateBatchAvailability(batches []StockBatch, asOf time.Time, requestedQuantity decimal.Decimal) (bool, decimal.Decimal) {
	total := decimal.Zero
	for _, b := range EligibleBatches(batches, asOf) {
		total = total.Add(b.Available())
	}
	return total.GreaterThanOrEqual(requestedQuantity), total
}

// FoldUsed derives each batch's used quantity from its live allocation details.
func FoldUsed(details []AllocationDetail) map[uuid.UUID]decimal.Decimal {
	used := make(map[uuid.UUID]decimal.Decimal)
	for _, d := range details {
		used[d.BatchID] = used[d.BatchID].Add(d.Quantity)
	}
	return used
}

func calculateDeductions(requestedQuantity decimal.Decimal, sortedBatches []StockBatch) *BatchOutboundResult {
	deductions := make([]BatchDeductionResult, 0)
	remaining := requestedQuantity
	totalDeducted := decimal.Zero
	totalCost := decimal.Zero

	for _, batch := range sortedBatches {
		if remaining.IsZero() {
			break
		}
		available := batch.Available()
		if available.LessThanOrEqual(decimal.Zero) {
			continue
		}

		deductAmount := decimal.Min(remaining, available)
		remainingInBatch := available.Sub(deductAmount)
		batchCost := deductAmount.Mul(batch.UnitCost)

		deductions = append(deductions, BatchDeductionResult{
			BatchID:          batch.ID,
			DeductedAmount:   deductAmount,
			UnitCost:         batch.UnitCost,
			TotalCost:        batchCost,
			RemainingInBatch: remainingInBatch,
			FullyConsumed:    remainingInBatch.IsZero(),
		})

		totalDeducted = totalDeducted.Add(deductAmount)
		totalCost = totalCost.Add(batchCost)
		remaining = remaining.Sub(deductAmount)
	}

	var weightedAvgCost decimal.Decimal
	if totalDeducted.GreaterThan(decimal.Zero) {
		weightedAvgCost = totalCost.Div(totalDeducted).Round(4)
	}

	return &BatchOutboundResult{
		Deductions:          deductions,
		TotalDeducted:       totalDeducted,
		TotalCost:           totalCost,
		WeightedAverageCost: weightedAvgCost,
		RemainingQuantity:   remaining,
		FullyFulfilled:      remaining.IsZero(),
	}
}
