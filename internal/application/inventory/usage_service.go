package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/domain/shared/service"
	"github.com/farmerp/backend/internal/infrastructure/logger"
	"github.com/farmerp/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxLines bounds the number of lines accepted in one submission
const DefaultMaxLines = 200

// Transaction outcomes reported to metrics
const (
	outcomeCommitted = "committed"
	outcomeRejected  = "rejected"
	outcomeConflict  = "conflict"
	outcomeFailed    = "failed"
)

// UsageService coordinates usage record submissions. Every create, update
// and delete runs in one transaction that locks the ledger rows of every
// touched (location, item) in key order, then the batch rows, re-validates,
// reverses, allocates and persists. The cost trigger fires after commit.
type UsageService struct {
	txScope     TransactionScope
	reads       TransactionalRepositories
	engine      *AllocationEngine
	reversal    *ReversalHandler
	validator   *UsageValidator
	converter   *service.UnitConversionService
	costTrigger CostTrigger
	publisher   shared.EventPublisher
	metrics     *telemetry.AllocationMetrics
	logger      *zap.Logger
	maxLines    int
}

// NewUsageService creates a UsageService.
// reads serves the optimistic pre-check and queries outside any transaction.
func NewUsageService(
	txScope TransactionScope,
	reads TransactionalRepositories,
	metrics *telemetry.AllocationMetrics,
	logger *zap.Logger,
) *UsageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	converter := service.NewUnitConversionService()
	return &UsageService{
		txScope:     txScope,
		reads:       reads,
		engine:      NewAllocationEngine(metrics),
		reversal:    NewReversalHandler(metrics),
		validator:   NewUsageValidator(converter),
		converter:   converter,
		costTrigger: NoOpCostTrigger{},
		metrics:     metrics,
		logger:      logger,
		maxLines:    DefaultMaxLines,
	}
}

// SetEventPublisher sets the publisher for usage record events
func (s *UsageService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// SetCostTrigger sets the post-commit cost recalculation trigger
func (s *UsageService) SetCostTrigger(trigger CostTrigger) {
	if trigger == nil {
		trigger = NoOpCostTrigger{}
	}
	s.costTrigger = trigger
}

// SetMaxLines sets the maximum number of lines per submission
func (s *UsageService) SetMaxLines(n int) {
	if n > 0 {
		s.maxLines = n
	}
}

// Create persists a new usage record. Unless cmd.Draft is set every line is
// allocated in the same transaction and the record becomes active.
func (s *UsageService) Create(ctx context.Context, cmd UsageCommand) (*UsageResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "create",
		telemetry.SpanAttrLocationID, cmd.LocationID,
		telemetry.SpanAttrUsageKind, string(cmd.Kind),
		telemetry.SpanAttrLineCount, len(cmd.Lines),
	)
	defer span.End()

	if errs := s.checkCommand(cmd); len(errs) > 0 {
		return s.fail(ctx, span, "create", uuid.Nil, start, &inventory.ValidationError{Errors: errs})
	}

	if err := s.precheck(ctx, cmd, nil); err != nil {
		return s.fail(ctx, span, "create", uuid.Nil, start, err)
	}

	record, err := inventory.NewUsageRecord(cmd.Kind, cmd.LocationID, cmd.SubLocationID, cmd.UsageDate, cmd.Notes, cmd.ActorID)
	if err != nil {
		return s.fail(ctx, span, "create", uuid.Nil, start, err)
	}
	ctx = logger.WithUsageRecordID(ctx, record.ID.String())
	telemetry.SetAttributes(span, telemetry.SpanAttrUsageRecordID, record.ID)

	inputs := cmd.lineInputs()
	recalc := newCostRecalcSet(record.ID)

	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		recalc = newCostRecalcSet(record.ID)

		if cmd.Draft {
			if err := repos.Usages().Save(ctx, record); err != nil {
				return fmt.Errorf("save usage record: %w", err)
			}
			for _, in := range inputs {
				if err := repos.Usages().SaveLine(ctx, record.AddLine(in)); err != nil {
					return fmt.Errorf("save usage line: %w", err)
				}
			}
			return nil
		}

		ledger, snap, err := s.lockAndSnapshot(ctx, repos, cmd, nil)
		if err != nil {
			return err
		}
		if err := s.validateLocked(cmd, snap); err != nil {
			return err
		}

		// lines reference the header and details reference lines
		if err := repos.Usages().Save(ctx, record); err != nil {
			return fmt.Errorf("save usage record: %w", err)
		}

		var lineErrs []inventory.LineError
		for i, in := range inputs {
			line := record.AddLine(in)
			if err := repos.Usages().SaveLine(ctx, line); err != nil {
				return fmt.Errorf("save usage line: %w", err)
			}
			le, err := s.allocateLine(ctx, repos, ledger, record, i, line, snap.Items[line.ItemID], cmd.ActorID)
			if err != nil {
				return err
			}
			if le != nil {
				lineErrs = append(lineErrs, *le)
				continue
			}
			recalc.add(record.LocationID, line.ItemID, record.UsageDate)
		}
		if len(lineErrs) > 0 {
			return &inventory.ValidationError{Errors: lineErrs}
		}

		if err := ledger.Flush(ctx, repos.Ledger()); err != nil {
			return err
		}
		if err := record.Activate(cmd.ActorID); err != nil {
			return err
		}
		if err := repos.Usages().Save(ctx, record); err != nil {
			return fmt.Errorf("save usage record: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, span, "create", record.ID, start, err)
	}

	s.afterCommit(ctx, record, recalc)
	return s.committed(ctx, span, "create", start, record)
}

// Update replaces the header and lines of a record. Lines are matched by
// (item, unit): unchanged lines keep their allocations, changed and removed
// lines are reversed before anything is allocated, added and changed lines
// are allocated afresh. A new location or date re-allocates every line.
func (s *UsageService) Update(ctx context.Context, recordID uuid.UUID, cmd UsageCommand) (*UsageResult, error) {
	start := time.Now()
	ctx = logger.WithUsageRecordID(ctx, recordID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "update",
		telemetry.SpanAttrUsageRecordID, recordID,
		telemetry.SpanAttrLocationID, cmd.LocationID,
		telemetry.SpanAttrLineCount, len(cmd.Lines),
	)
	defer span.End()

	if errs := s.checkCommand(cmd); len(errs) > 0 {
		return s.fail(ctx, span, "update", recordID, start, &inventory.ValidationError{Errors: errs})
	}

	current, err := s.reads.Usages().FindByID(ctx, recordID)
	if err != nil {
		return s.fail(ctx, span, "update", recordID, start, err)
	}
	if err := checkEditable(current, cmd.Draft); err != nil {
		return s.fail(ctx, span, "update", recordID, start, err)
	}
	if err := s.precheck(ctx, cmd, current); err != nil {
		return s.fail(ctx, span, "update", recordID, start, err)
	}

	inputs := cmd.lineInputs()
	var record *inventory.UsageRecord
	recalc := newCostRecalcSet(recordID)

	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		recalc = newCostRecalcSet(recordID)

		var err error
		record, err = repos.Usages().FindByIDForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if err := checkEditable(record, cmd.Draft); err != nil {
			return err
		}

		if cmd.Draft {
			return s.updateDraft(ctx, repos, record, cmd, inputs)
		}

		wasDraft := record.IsDraft()
		oldLocation, oldDate := record.LocationID, record.UsageDate
		reallocateAll := wasDraft || record.HeaderChanged(cmd.LocationID, cmd.UsageDate)

		ledger, snap, err := s.lockAndSnapshot(ctx, repos, cmd, record)
		if err != nil {
			return err
		}
		if err := s.validateLocked(cmd, snap); err != nil {
			return err
		}

		diff := inventory.DiffLines(record.Lines, inputs, reallocateAll)
		unchanged := make(map[inventory.LineKey]uuid.UUID, len(diff.Unchanged))
		for _, p := range diff.Unchanged {
			unchanged[p.Existing.Key()] = p.Existing.ID
		}
		changed := make(map[inventory.LineKey]uuid.UUID, len(diff.Changed))
		for _, p := range diff.Changed {
			changed[p.Existing.Key()] = p.Existing.ID
			if err := s.reverseLine(ctx, repos, ledger, recalc, oldLocation, oldDate, p.Existing); err != nil {
				return err
			}
		}
		removed := make([]uuid.UUID, 0, len(diff.Removed))
		for _, l := range diff.Removed {
			if err := s.reverseLine(ctx, repos, ledger, recalc, oldLocation, oldDate, l); err != nil {
				return err
			}
			if err := repos.Usages().DeleteLine(ctx, l.ID); err != nil {
				return fmt.Errorf("delete usage line: %w", err)
			}
			removed = append(removed, l.ID)
		}
		// diff pointers are invalid past this point
		for _, id := range removed {
			record.RemoveLine(id)
		}

		if err := record.UpdateHeader(cmd.LocationID, cmd.SubLocationID, cmd.UsageDate, cmd.Notes); err != nil {
			return err
		}

		var lineErrs []inventory.LineError
		for i, in := range inputs {
			var line *inventory.UsageLineItem
			if id, ok := unchanged[in.Key()]; ok {
				line = record.Line(id)
				if line.Notes != in.Notes {
					line.Notes = in.Notes
					if err := repos.Usages().SaveLine(ctx, line); err != nil {
						return fmt.Errorf("save usage line: %w", err)
					}
				}
				continue
			}
			if id, ok := changed[in.Key()]; ok {
				line = record.Line(id)
				line.Quantity = in.Quantity
				line.Notes = in.Notes
			} else {
				line = record.AddLine(in)
			}
			if err := repos.Usages().SaveLine(ctx, line); err != nil {
				return fmt.Errorf("save usage line: %w", err)
			}
			le, err := s.allocateLine(ctx, repos, ledger, record, i, line, snap.Items[line.ItemID], cmd.ActorID)
			if err != nil {
				return err
			}
			if le != nil {
				lineErrs = append(lineErrs, *le)
				continue
			}
			recalc.add(record.LocationID, line.ItemID, record.UsageDate)
		}
		if len(lineErrs) > 0 {
			return &inventory.ValidationError{Errors: lineErrs}
		}

		if err := ledger.Flush(ctx, repos.Ledger()); err != nil {
			return err
		}
		if wasDraft {
			err = record.Activate(cmd.ActorID)
		} else {
			err = record.Revise(cmd.ActorID)
		}
		if err != nil {
			return err
		}
		if err := repos.Usages().Save(ctx, record); err != nil {
			return fmt.Errorf("save usage record: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, span, "update", recordID, start, err)
	}

	s.afterCommit(ctx, record, recalc)
	return s.committed(ctx, span, "update", start, record)
}

// Delete reverses every line of the record, soft-deletes the lines and
// moves the record to its terminal state.
func (s *UsageService) Delete(ctx context.Context, recordID, actorID uuid.UUID) (*UsageResult, error) {
	start := time.Now()
	ctx = logger.WithUsageRecordID(ctx, recordID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "delete", telemetry.SpanAttrUsageRecordID, recordID)
	defer span.End()

	current, err := s.reads.Usages().FindByID(ctx, recordID)
	if err != nil {
		return s.fail(ctx, span, "delete", recordID, start, err)
	}
	if current.IsDeleted() {
		return s.fail(ctx, span, "delete", recordID, start, inventory.ErrUsageRecordDeleted)
	}

	var record *inventory.UsageRecord
	recalc := newCostRecalcSet(recordID)

	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		recalc = newCostRecalcSet(recordID)

		var err error
		record, err = repos.Usages().FindByIDForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if record.IsDeleted() {
			return inventory.ErrUsageRecordDeleted
		}

		var ledger *LockedLedger
		if !record.IsDraft() {
			ledger, err = LockLedger(ctx, repos.Ledger(), record.StockKeys())
			if err != nil {
				return err
			}
			if _, err := repos.Batches().LockByIDs(ctx, allocatedBatchIDs(record)); err != nil {
				return fmt.Errorf("lock allocated batches: %w", err)
			}
		}

		for i := range record.Lines {
			line := &record.Lines[i]
			if ledger != nil {
				if err := s.reverseLine(ctx, repos, ledger, recalc, record.LocationID, record.UsageDate, line); err != nil {
					return err
				}
			}
			if err := repos.Usages().DeleteLine(ctx, line.ID); err != nil {
				return fmt.Errorf("delete usage line: %w", err)
			}
		}

		if ledger != nil {
			if err := ledger.Flush(ctx, repos.Ledger()); err != nil {
				return err
			}
		}
		if err := record.MarkDeleted(actorID); err != nil {
			return err
		}
		if err := repos.Usages().Save(ctx, record); err != nil {
			return fmt.Errorf("save usage record: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, span, "delete", recordID, start, err)
	}

	s.afterCommit(ctx, record, recalc)
	return s.committed(ctx, span, "delete", start, record)
}

// Get returns a record with its live lines and allocation details
func (s *UsageService) Get(ctx context.Context, recordID uuid.UUID) (*UsageRecordResponse, error) {
	record, err := s.reads.Usages().FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	resp := ToUsageRecordResponse(record)
	return &resp, nil
}

// ListByLocation lists the live records of a location
func (s *UsageService) ListByLocation(ctx context.Context, locationID uuid.UUID, filter UsageListFilter) (*shared.Paginated[UsageRecordResponse], error) {
	domainFilter := shared.DefaultFilter()
	if filter.Page > 0 {
		domainFilter.Page = filter.Page
	}
	if filter.PageSize > 0 {
		domainFilter.PageSize = filter.PageSize
	}
	if filter.OrderBy != "" {
		domainFilter.OrderBy = filter.OrderBy
	}
	if filter.OrderDir != "" {
		domainFilter.OrderDir = filter.OrderDir
	}
	if filter.Kind != "" {
		domainFilter.Filters["kind"] = filter.Kind
	}
	if filter.Status != "" {
		domainFilter.Filters["status"] = filter.Status
	}
	if filter.From != nil {
		domainFilter.Filters["from"] = inventory.DateOf(*filter.From)
	}
	if filter.To != nil {
		domainFilter.Filters["to"] = inventory.DateOf(*filter.To)
	}

	records, total, err := s.reads.Usages().FindByLocation(ctx, locationID, domainFilter)
	if err != nil {
		return nil, err
	}
	items := make([]UsageRecordResponse, 0, len(records))
	for i := range records {
		items = append(items, ToUsageRecordResponse(&records[i]))
	}
	page := shared.NewPaginated(items, total, domainFilter.Page, domainFilter.PageSize)
	return &page, nil
}

// Reconcile compares the ledger row of (location, item) with the sum of its
// batches' availability. The ledger row is locked while reading so the two
// figures come from the same committed state.
func (s *UsageService) Reconcile(ctx context.Context, locationID, itemID uuid.UUID) (*LedgerReconciliation, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "usage", "reconcile",
		telemetry.SpanAttrLocationID, locationID,
		telemetry.SpanAttrItemID, itemID,
	)
	defer span.End()

	key := inventory.StockKey{LocationID: locationID, ItemID: itemID}
	var drift inventory.LedgerDrift
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		ledger, err := LockLedger(ctx, repos.Ledger(), []inventory.StockKey{key})
		if err != nil {
			return err
		}
		batchQty, err := repos.Batches().SumAvailable(ctx, locationID, itemID)
		if err != nil {
			return fmt.Errorf("sum batch availability: %w", err)
		}
		drift = inventory.LedgerDrift{
			Key:            key,
			LedgerQuantity: ledger.Row(key).Quantity,
			BatchQuantity:  batchQty,
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if !drift.Consistent() {
		logger.WithLogger(ctx, s.logger).Warn("Ledger drift detected",
			zap.String("location_id", locationID.String()),
			zap.String("item_id", itemID.String()),
			zap.String("ledger_quantity", drift.LedgerQuantity.String()),
			zap.String("batch_quantity", drift.BatchQuantity.String()),
		)
	}
	return toReconciliation(drift), nil
}

// checkCommand rejects commands that cannot be evaluated against stock at all
func (s *UsageService) checkCommand(cmd UsageCommand) []inventory.LineError {
	var errs []inventory.LineError
	if !cmd.Kind.IsValid() {
		errs = append(errs, inventory.LineError{
			LineIndex: inventory.HeaderLine,
			Code:      inventory.CodeInvalidUsageKind,
			Message:   fmt.Sprintf("Usage kind %q is not supported", cmd.Kind),
		})
	}
	if len(cmd.Lines) > s.maxLines {
		errs = append(errs, inventory.LineError{
			LineIndex: inventory.HeaderLine,
			Code:      inventory.CodeTooManyLines,
			Message:   fmt.Sprintf("At most %d lines are allowed", s.maxLines),
		})
	}
	return errs
}

func checkEditable(record *inventory.UsageRecord, toDraft bool) error {
	if record.IsDeleted() {
		return inventory.ErrUsageRecordDeleted
	}
	if toDraft && !record.IsDraft() {
		return shared.NewDomainError(shared.ErrInvalidState.Code, "Active usage records cannot return to draft")
	}
	return nil
}

// precheck validates against unlocked reads so obvious problems are reported
// without taking any lock
func (s *UsageService) precheck(ctx context.Context, cmd UsageCommand, current *inventory.UsageRecord) error {
	snap, err := s.snapshot(ctx, s.reads, cmd, current, nil)
	if err != nil {
		return err
	}
	errs, err := s.validator.Validate(validationRequest(cmd), snap)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return &inventory.ValidationError{Errors: errs}
	}
	return nil
}

func (s *UsageService) validateLocked(cmd UsageCommand, snap *ValidationSnapshot) error {
	errs, err := s.validator.Validate(validationRequest(cmd), snap)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return &inventory.ValidationError{Errors: errs}
	}
	return nil
}

func validationRequest(cmd UsageCommand) ValidationRequest {
	return ValidationRequest{
		LocationID: cmd.LocationID,
		UsageDate:  cmd.UsageDate,
		Lines:      cmd.lineInputs(),
		Draft:      cmd.Draft,
	}
}

// lockAndSnapshot takes the ledger locks for every key the submission and
// the existing record touch, then the batch locks, and reads the snapshot
// the authoritative validation runs against.
func (s *UsageService) lockAndSnapshot(
	ctx context.Context,
	repos TransactionalRepositories,
	cmd UsageCommand,
	current *inventory.UsageRecord,
) (*LockedLedger, *ValidationSnapshot, error) {
	keys := make([]inventory.StockKey, 0, len(cmd.Lines))
	for _, itemID := range cmd.itemIDs() {
		keys = append(keys, inventory.StockKey{LocationID: cmd.LocationID, ItemID: itemID})
	}
	if current != nil {
		keys = append(keys, current.StockKeys()...)
	}

	ledger, err := LockLedger(ctx, repos.Ledger(), keys)
	if err != nil {
		return nil, nil, err
	}

	if current != nil {
		if _, err := repos.Batches().LockByIDs(ctx, allocatedBatchIDs(current)); err != nil {
			return nil, nil, fmt.Errorf("lock allocated batches: %w", err)
		}
	}
	if _, err := repos.Batches().LockEligible(ctx, cmd.LocationID, cmd.itemIDs(), inventory.DateOf(cmd.UsageDate)); err != nil {
		return nil, nil, fmt.Errorf("lock eligible batches: %w", err)
	}

	snap, err := s.snapshot(ctx, repos, cmd, current, ledger)
	if err != nil {
		return nil, nil, err
	}
	return ledger, snap, nil
}

// snapshot reads items, earliest receipts and balances for the command's
// items at the command's location. Balances come from ledger when it is
// locked, otherwise from plain reads.
func (s *UsageService) snapshot(
	ctx context.Context,
	repos TransactionalRepositories,
	cmd UsageCommand,
	current *inventory.UsageRecord,
	ledger *LockedLedger,
) (*ValidationSnapshot, error) {
	itemIDs := cmd.itemIDs()
	snap := &ValidationSnapshot{
		Items:            make(map[uuid.UUID]*inventory.Item, len(itemIDs)),
		EarliestReceipts: make(map[uuid.UUID]*time.Time, len(itemIDs)),
		Balances:         make(map[uuid.UUID]decimal.Decimal, len(itemIDs)),
		AlreadyAllocated: make(map[uuid.UUID]decimal.Decimal),
	}
	if len(itemIDs) == 0 {
		return snap, nil
	}

	items, err := repos.Items().FindByIDs(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	for i := range items {
		snap.Items[items[i].ID] = &items[i]
	}

	if cmd.Draft {
		return snap, nil
	}

	for _, itemID := range itemIDs {
		if _, ok := snap.Items[itemID]; !ok {
			continue
		}
		earliest, err := repos.Batches().EarliestReceipt(ctx, cmd.LocationID, itemID)
		if err != nil {
			return nil, fmt.Errorf("load earliest receipt: %w", err)
		}
		snap.EarliestReceipts[itemID] = earliest
	}

	if ledger != nil {
		for _, itemID := range itemIDs {
			snap.Balances[itemID] = ledger.Row(inventory.StockKey{LocationID: cmd.LocationID, ItemID: itemID}).Quantity
		}
	} else {
		keys := make([]inventory.StockKey, 0, len(itemIDs))
		for _, itemID := range itemIDs {
			keys = append(keys, inventory.StockKey{LocationID: cmd.LocationID, ItemID: itemID})
		}
		rows, err := repos.Ledger().FindByKeys(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("load ledger: %w", err)
		}
		for _, r := range rows {
			snap.Balances[r.ItemID] = r.Quantity
		}
	}

	// stock already drawn by this record returns to the ledger before reallocation
	if current != nil && current.LocationID == cmd.LocationID {
		snap.AlreadyAllocated = current.AllocatedByItem()
	}
	return snap, nil
}

// allocateLine converts the line to the smallest unit and allocates it.
// A stock shortage comes back as a line error with nothing written for the line.
func (s *UsageService) allocateLine(
	ctx context.Context,
	repos TransactionalRepositories,
	ledger *LockedLedger,
	record *inventory.UsageRecord,
	index int,
	line *inventory.UsageLineItem,
	item *inventory.Item,
	actorID uuid.UUID,
) (*inventory.LineError, error) {
	if item == nil {
		return nil, fmt.Errorf("item %s missing from snapshot", line.ItemID)
	}
	required, err := s.converter.ToSmallest(item.Units, line.Quantity, line.UnitID)
	if err != nil {
		return nil, err
	}

	_, err = s.engine.Allocate(ctx, repos, ledger, AllocationRequest{
		Line:       line,
		Kind:       record.Kind,
		LocationID: record.LocationID,
		UsageDate:  record.UsageDate,
		Required:   required,
		ActorID:    actorID,
	})
	var ise *inventory.InsufficientStockError
	if errors.As(err, &ise) {
		le, err := s.validator.ShortfallLineError(index, line, item, ise)
		if err != nil {
			return nil, err
		}
		return &le, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *UsageService) reverseLine(
	ctx context.Context,
	repos TransactionalRepositories,
	ledger *LockedLedger,
	recalc *costRecalcSet,
	locationID uuid.UUID,
	usageDate time.Time,
	line *inventory.UsageLineItem,
) error {
	returned, err := s.reversal.ReverseLine(ctx, repos, ledger, locationID, line)
	if err != nil {
		return err
	}
	if returned.IsPositive() {
		recalc.add(locationID, line.ItemID, usageDate)
	}
	return nil
}

// updateDraft rewrites a draft's header and lines; nothing is allocated
func (s *UsageService) updateDraft(
	ctx context.Context,
	repos TransactionalRepositories,
	record *inventory.UsageRecord,
	cmd UsageCommand,
	inputs []inventory.LineInput,
) error {
	diff := inventory.DiffLines(record.Lines, inputs, false)
	removed := make([]uuid.UUID, 0, len(diff.Removed))
	for _, l := range diff.Removed {
		if err := repos.Usages().DeleteLine(ctx, l.ID); err != nil {
			return fmt.Errorf("delete usage line: %w", err)
		}
		removed = append(removed, l.ID)
	}
	for _, p := range append(diff.Changed, diff.Unchanged...) {
		p.Existing.Quantity = p.Incoming.Quantity
		p.Existing.Notes = p.Incoming.Notes
		if err := repos.Usages().SaveLine(ctx, p.Existing); err != nil {
			return fmt.Errorf("save usage line: %w", err)
		}
	}
	for _, id := range removed {
		record.RemoveLine(id)
	}
	for _, in := range diff.Added {
		if err := repos.Usages().SaveLine(ctx, record.AddLine(in)); err != nil {
			return fmt.Errorf("save usage line: %w", err)
		}
	}

	if err := record.UpdateHeader(cmd.LocationID, cmd.SubLocationID, cmd.UsageDate, cmd.Notes); err != nil {
		return err
	}
	if err := record.TouchDraft(cmd.ActorID); err != nil {
		return err
	}
	if err := repos.Usages().Save(ctx, record); err != nil {
		return fmt.Errorf("save usage record: %w", err)
	}
	return nil
}

// afterCommit publishes the record's events and fires the cost trigger.
// Neither can undo the commit; failures are logged.
func (s *UsageService) afterCommit(ctx context.Context, record *inventory.UsageRecord, recalc *costRecalcSet) {
	log := logger.WithLogger(ctx, s.logger)

	if events := record.GetDomainEvents(); s.publisher != nil && len(events) > 0 {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			log.Error("Failed to publish usage events", zap.Error(err))
		}
	}
	record.ClearDomainEvents()

	requests := recalc.list()
	if len(requests) == 0 {
		return
	}
	if err := s.costTrigger.Trigger(ctx, requests); err != nil {
		log.Error("Cost recalculation trigger failed",
			zap.Int("requests", len(requests)),
			zap.Error(err),
		)
	}
}

func (s *UsageService) committed(ctx context.Context, span trace.Span, op string, start time.Time, record *inventory.UsageRecord) (*UsageResult, error) {
	telemetry.SetAttributes(span, telemetry.SpanAttrRevision, record.Revision)
	s.metrics.RecordTransaction(ctx, op, outcomeCommitted, time.Since(start))
	logger.WithLogger(ctx, s.logger).Info("Usage record committed",
		zap.String("operation", op),
		zap.String("status", string(record.Status)),
		zap.Int("revision", record.Revision),
		zap.Int("lines", len(record.Lines)),
	)
	return accepted(record), nil
}

// fail classifies a failed operation. Validation failures become a rejected
// result; conflicts, missing records and invalid transitions pass through;
// anything else is a persistence failure.
func (s *UsageService) fail(
	ctx context.Context,
	span trace.Span,
	op string,
	recordID uuid.UUID,
	start time.Time,
	err error,
) (*UsageResult, error) {
	log := logger.WithLogger(ctx, s.logger)

	var verr *inventory.ValidationError
	switch {
	case errors.As(err, &verr):
		for _, le := range verr.Errors {
			s.metrics.RecordRejection(ctx, le.Code)
		}
		s.metrics.RecordTransaction(ctx, op, outcomeRejected, time.Since(start))
		telemetry.AddEvent(span, "usage.rejected", "errors", len(verr.Errors))
		log.Warn("Usage record rejected",
			zap.String("operation", op),
			zap.Int("errors", len(verr.Errors)),
		)
		return rejected(recordID, verr.Errors), nil

	case errors.Is(err, shared.ErrConcurrencyConflict):
		s.metrics.RecordConflict(ctx, op)
		s.metrics.RecordTransaction(ctx, op, outcomeConflict, time.Since(start))
		telemetry.RecordError(span, err)
		log.Warn("Usage transaction conflicted", zap.String("operation", op), zap.Error(err))
		return nil, err

	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrInvalidState):
		s.metrics.RecordTransaction(ctx, op, outcomeRejected, time.Since(start))
		telemetry.RecordError(span, err)
		return nil, err

	case errors.Is(err, shared.ErrUnitConversion):
		s.metrics.RecordTransaction(ctx, op, outcomeFailed, time.Since(start))
		telemetry.RecordError(span, err)
		log.Error("Usage transaction rolled back on conversion table", zap.String("operation", op), zap.Error(err))
		return nil, err
	}

	perr := &inventory.PersistenceError{Op: op, RecordID: recordID, Err: err}
	s.metrics.RecordTransaction(ctx, op, outcomeFailed, time.Since(start))
	telemetry.RecordError(span, perr)
	log.Error("Usage transaction rolled back", zap.String("operation", op), zap.Error(err))
	return nil, perr
}

// allocatedBatchIDs returns the distinct batches the record currently draws from
func allocatedBatchIDs(record *inventory.UsageRecord) []uuid.UUID {
	var details []inventory.AllocationDetail
	for i := range record.Lines {
		details = append(details, record.Lines[i].Allocations...)
	}
	return touchedBatches(details)
}
