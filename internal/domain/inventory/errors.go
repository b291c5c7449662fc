package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line error codes
const (
	CodeInvalidQuantity         = "INVALID_QUANTITY"
	CodeItemNotFound            = "ITEM_NOT_FOUND"
	CodeUnitNotFound            = "UNIT_NOT_FOUND"
	CodeDuplicateLine           = "DUPLICATE_LINE"
	CodeDateBeforeEarliestStock = "DATE_BEFORE_EARLIEST_STOCK"
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeMissingLocation         = "INVALID_LOCATION"
	CodeMissingUsageDate        = "INVALID_USAGE_DATE"
	CodeNoLines                 = "NO_LINES"
	CodeTooManyLines            = "TOO_MANY_LINES"
	CodeInvalidUsageKind        = "INVALID_USAGE_KIND"
)

// HeaderLine is the LineIndex used for errors that belong to the record header
const HeaderLine = -1

// Engine errors
var (
	ErrValidationFailed        = shared.NewDomainError("VALIDATION_FAILED", "Usage record failed validation")
	ErrDateBeforeEarliestStock = shared.NewDomainError(CodeDateBeforeEarliestStock, "Usage date is before the earliest stock receipt")
	ErrUsageRecordDeleted      = shared.NewDomainError(shared.ErrInvalidState.Code, "Usage record is deleted")
)

// LineError is a validation failure attached to one requested line
type LineError struct {
	LineIndex int              `json:"line_index"`
	ItemID    uuid.UUID        `json:"item_id,omitempty"`
	UnitID    uuid.UUID        `json:"unit_id,omitempty"`
	Code      string           `json:"code"`
	Message   string           `json:"message"`
	Shortfall *decimal.Decimal `json:"shortfall,omitempty"` // in the line's unit
}

// ValidationError aggregates every line error found in one pass
type ValidationError struct {
	Errors []LineError
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, le := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("line %d: %s", le.LineIndex, le.Message))
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed.Message, strings.Join(msgs, "; "))
}

// Is matches ErrValidationFailed
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// InsufficientStockError reports that a ledger row or the eligible batches
// cannot cover a request. Quantities are in the smallest unit.
type InsufficientStockError struct {
	LocationID uuid.UUID
	ItemID     uuid.UUID
	Required   decimal.Decimal
	Available  decimal.Decimal
	Shortfall  decimal.Decimal
}

// Error implements the error interface
func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s at location %s: required %s, available %s, short %s",
		e.ItemID, e.LocationID, e.Required, e.Available, e.Shortfall)
}

// Is matches shared.ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == shared.ErrInsufficientStock
}

// DateBeforeEarliestStockError reports a usage dated before any receipt of the item
type DateBeforeEarliestStockError struct {
	ItemID       uuid.UUID
	UsageDate    time.Time
	EarliestDate time.Time
}

// Error implements the error interface
func (e *DateBeforeEarliestStockError) Error() string {
	return fmt.Sprintf("usage date %s is before earliest stock receipt %s for item %s",
		e.UsageDate.Format(time.DateOnly), e.EarliestDate.Format(time.DateOnly), e.ItemID)
}

// Is matches ErrDateBeforeEarliestStock
func (e *DateBeforeEarliestStockError) Is(target error) bool {
	return target == ErrDateBeforeEarliestStock
}

// PersistenceError wraps a store failure that aborted a usage transaction
type PersistenceError struct {
	Op       string
	RecordID uuid.UUID
	Err      error
}

// Error implements the error interface
func (e *PersistenceError) Error() string {
	if e.RecordID == uuid.Nil {
		return fmt.Sprintf("%s usage record: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s usage record %s: %v", e.Op, e.RecordID, e.Err)
}

// Unwrap returns the underlying store error
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches shared.ErrPersistence
func (e *PersistenceError) Is(target error) bool {
	return target == shared.ErrPersistence
}
