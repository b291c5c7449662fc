package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// AllocationMetrics records allocation engine activity. A nil
// *AllocationMetrics is valid and records nothing.
type AllocationMetrics struct {
	details     *Counter
	allocated   *FloatCounter
	reversed    *FloatCounter
	rejections  *Counter
	conflicts   *Counter
	transaction *Histogram
}

// NewAllocationMetrics registers the allocation instruments on meter.
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	var (
		m   AllocationMetrics
		err error
	)
	if m.details, err = NewCounter(meter, "farm_allocation_details_total",
		"Allocation details written against stock batches", "{details}"); err != nil {
		return nil, err
	}
	if m.allocated, err = NewFloatCounter(meter, "farm_allocated_quantity_total",
		"Quantity consumed from stock batches, in smallest units", "{units}"); err != nil {
		return nil, err
	}
	if m.reversed, err = NewFloatCounter(meter, "farm_reversed_quantity_total",
		"Quantity returned to stock batches by reversals, in smallest units", "{units}"); err != nil {
		return nil, err
	}
	if m.rejections, err = NewCounter(meter, "farm_usage_rejections_total",
		"Usage submissions rejected by validation", "{submissions}"); err != nil {
		return nil, err
	}
	if m.conflicts, err = NewCounter(meter, "farm_usage_conflicts_total",
		"Usage transactions aborted by lock contention", "{transactions}"); err != nil {
		return nil, err
	}
	if m.transaction, err = NewHistogram(meter, "farm_usage_transaction_duration",
		"Duration of usage transactions", "s", TransactionDurationBuckets); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordAllocation counts details written for one line and the quantity they cover.
func (m *AllocationMetrics) RecordAllocation(ctx context.Context, kind string, details int, quantity decimal.Decimal) {
	if m == nil {
		return
	}
	m.details.Add(ctx, int64(details), AttrUsageKind.String(kind))
	m.allocated.Add(ctx, quantity.InexactFloat64(), AttrUsageKind.String(kind))
}

// RecordReversal counts quantity returned to batches.
func (m *AllocationMetrics) RecordReversal(ctx context.Context, quantity decimal.Decimal) {
	if m == nil {
		return
	}
	m.reversed.Add(ctx, quantity.InexactFloat64())
}

// RecordRejection counts a rejected submission by its first error code.
func (m *AllocationMetrics) RecordRejection(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.rejections.Inc(ctx, AttrErrorCode.String(code))
}

// RecordConflict counts a transaction aborted on lock contention.
func (m *AllocationMetrics) RecordConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.conflicts.Inc(ctx, AttrOperation.String(operation))
}

// RecordTransaction records how long a usage transaction took and how it ended.
func (m *AllocationMetrics) RecordTransaction(ctx context.Context, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transaction.RecordDuration(ctx, d, AttrOperation.String(operation), AttrOutcome.String(outcome))
}
