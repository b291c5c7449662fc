package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// CostRecalcRequest identifies one (location, item, date) whose batch cost
// attribution changed in a committed usage transaction
type CostRecalcRequest struct {
	RecordID   uuid.UUID
	LocationID uuid.UUID
	ItemID     uuid.UUID
	UsageDate  time.Time
}

type costRecalcKey struct {
	locationID uuid.UUID
	itemID     uuid.UUID
	date       time.Time
}

// CostTrigger signals the cost-aggregation collaborator after commit.
// Implementations must not assume they run inside a transaction.
type CostTrigger interface {
	Trigger(ctx context.Context, requests []CostRecalcRequest) error
}

// EventCostTrigger publishes one CostRecalculationRequested event per request.
// Delivery (in-process handler, Redis queue) is up to the bus subscribers.
type EventCostTrigger struct {
	publisher shared.EventPublisher
}

// NewEventCostTrigger creates a trigger that publishes through publisher
func NewEventCostTrigger(publisher shared.EventPublisher) *EventCostTrigger {
	return &EventCostTrigger{publisher: publisher}
}

// Trigger publishes the requests as domain events
func (t *EventCostTrigger) Trigger(ctx context.Context, requests []CostRecalcRequest) error {
	if t.publisher == nil || len(requests) == 0 {
		return nil
	}
	events := make([]shared.DomainEvent, 0, len(requests))
	for _, r := range requests {
		events = append(events, inventory.NewCostRecalculationRequestedEvent(r.RecordID, r.LocationID, r.ItemID, r.UsageDate))
	}
	return t.publisher.Publish(ctx, events...)
}

// NoOpCostTrigger discards every request
type NoOpCostTrigger struct{}

// Trigger does nothing
func (NoOpCostTrigger) Trigger(context.Context, []CostRecalcRequest) error {
	return nil
}

// costRecalcSet collects distinct recalculation keys in a stable order
type costRecalcSet struct {
	recordID uuid.UUID
	seen     map[costRecalcKey]struct{}
	requests []CostRecalcRequest
}

func newCostRecalcSet(recordID uuid.UUID) *costRecalcSet {
	return &costRecalcSet{recordID: recordID, seen: make(map[costRecalcKey]struct{})}
}

func (s *costRecalcSet) add(locationID, itemID uuid.UUID, date time.Time) {
	k := costRecalcKey{locationID: locationID, itemID: itemID, date: inventory.DateOf(date)}
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.requests = append(s.requests, CostRecalcRequest{
		RecordID:   s.recordID,
		LocationID: locationID,
		ItemID:     itemID,
		UsageDate:  k.date,
	})
}

func (s *costRecalcSet) list() []CostRecalcRequest {
	out := make([]CostRecalcRequest, len(s.requests))
	copy(out, s.requests)
	sort.SliceStable(out, func(i, j int) bool {
		a := inventory.StockKey{LocationID: out[i].LocationID, ItemID: out[i].ItemID}
		b := inventory.StockKey{LocationID: out[j].LocationID, ItemID: out[j].ItemID}
		if a != b {
			return a.Less(b)
		}
		return out[i].UsageDate.Before(out[j].UsageDate)
	})
	return out
}

var (
	_ CostTrigger = (*EventCostTrigger)(nil)
	_ CostTrigger = NoOpCostTrigger{}
)
