package handler

import (
	"context"
	"fmt"
	"time"

	appinventory "github.com/farmerp/backend/internal/application/inventory"
	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/infrastructure/logger"
	"github.com/farmerp/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageRecordService is the part of the usage service the handler drives
type UsageRecordService interface {
	Create(ctx context.Context, cmd appinventory.UsageCommand) (*appinventory.UsageResult, error)
	Update(ctx context.Context, recordID uuid.UUID, cmd appinventory.UsageCommand) (*appinventory.UsageResult, error)
	Delete(ctx context.Context, recordID, actorID uuid.UUID) (*appinventory.UsageResult, error)
	Get(ctx context.Context, recordID uuid.UUID) (*appinventory.UsageRecordResponse, error)
	ListByLocation(ctx context.Context, locationID uuid.UUID, filter appinventory.UsageListFilter) (*shared.Paginated[appinventory.UsageRecordResponse], error)
	Reconcile(ctx context.Context, locationID, itemID uuid.UUID) (*appinventory.LedgerReconciliation, error)
}

// UsageRecordRequest is the body of a create or update
type UsageRecordRequest struct {
	Kind          string             `json:"kind" binding:"required"`
	LocationID    string             `json:"location_id" binding:"required,uuid"`
	SubLocationID *string            `json:"sub_location_id" binding:"omitempty,uuid"`
	UsageDate     string             `json:"usage_date" binding:"required"`
	Notes         string             `json:"notes" binding:"max=2000"`
	Draft         bool               `json:"draft"`
	Lines         []UsageLineRequest `json:"lines" binding:"dive"`
}

// UsageLineRequest is one requested line. Quantity is in the line's unit.
type UsageLineRequest struct {
	ItemID   string          `json:"item_id" binding:"required,uuid"`
	UnitID   string          `json:"unit_id" binding:"required,uuid"`
	Quantity decimal.Decimal `json:"quantity"`
	Notes    string          `json:"notes" binding:"max=500"`
}

// usageDateLayouts are tried in order; a bare date means midnight UTC
var usageDateLayouts = []string{time.DateOnly, time.RFC3339}

func parseUsageDate(s string) (time.Time, error) {
	for _, layout := range usageDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("usage_date %q is neither YYYY-MM-DD nor RFC 3339", s)
}

// toCommand converts a request. Field-level rules (quantities, kinds,
// units) are left to the service so every line is reported at once.
func (r UsageRecordRequest) toCommand(actorID uuid.UUID) (appinventory.UsageCommand, error) {
	date, err := parseUsageDate(r.UsageDate)
	if err != nil {
		return appinventory.UsageCommand{}, err
	}
	cmd := appinventory.UsageCommand{
		Kind:       inventory.UsageKind(r.Kind),
		LocationID: uuid.MustParse(r.LocationID),
		UsageDate:  date,
		Notes:      r.Notes,
		Draft:      r.Draft,
		ActorID:    actorID,
		Lines:      make([]appinventory.UsageLineCommand, 0, len(r.Lines)),
	}
	if r.SubLocationID != nil {
		id := uuid.MustParse(*r.SubLocationID)
		cmd.SubLocationID = &id
	}
	for _, l := range r.Lines {
		cmd.Lines = append(cmd.Lines, appinventory.UsageLineCommand{
			ItemID:   uuid.MustParse(l.ItemID),
			UnitID:   uuid.MustParse(l.UnitID),
			Quantity: l.Quantity,
			Notes:    l.Notes,
		})
	}
	return cmd, nil
}

// UsageRecordHandler serves the usage record endpoints
type UsageRecordHandler struct {
	BaseHandler
	usages UsageRecordService
}

// NewUsageRecordHandler creates a new UsageRecordHandler
func NewUsageRecordHandler(usages UsageRecordService) *UsageRecordHandler {
	return &UsageRecordHandler{usages: usages}
}

// Create records a usage and allocates it against stock.
// POST /usage-records
func (h *UsageRecordHandler) Create(c *gin.Context) {
	cmd, ok := h.bindCommand(c)
	if !ok {
		return
	}

	result, err := h.usages.Create(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !result.Success {
		h.Rejected(c, result.Errors)
		return
	}
	h.Created(c, result)
}

// Get returns one usage record with its allocations.
// GET /usage-records/:id
func (h *UsageRecordHandler) Get(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	record, err := h.usages.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, record)
}

// Update replaces the header and lines of a usage record, reversing its
// previous allocations first.
// PUT /usage-records/:id
func (h *UsageRecordHandler) Update(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}
	cmd, ok := h.bindCommand(c)
	if !ok {
		return
	}

	result, err := h.usages.Update(c.Request.Context(), id, cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !result.Success {
		h.Rejected(c, result.Errors)
		return
	}
	h.Success(c, result)
}

// Delete soft-deletes a usage record and returns its stock.
// DELETE /usage-records/:id
func (h *UsageRecordHandler) Delete(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}
	actorID, err := getActorID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	result, err := h.usages.Delete(c.Request.Context(), id, actorID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ListByLocation lists the live usage records of a location.
// GET /locations/:location_id/usage-records
func (h *UsageRecordHandler) ListByLocation(c *gin.Context) {
	locationID, ok := h.uuidParam(c, "location_id")
	if !ok {
		return
	}
	var filter appinventory.UsageListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	page, err := h.usages.ListByLocation(c.Request.Context(), locationID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Reconcile compares a ledger row with the sum of its batches.
// GET /locations/:location_id/items/:item_id/reconciliation
func (h *UsageRecordHandler) Reconcile(c *gin.Context) {
	locationID, ok := h.uuidParam(c, "location_id")
	if !ok {
		return
	}
	itemID, ok := h.uuidParam(c, "item_id")
	if !ok {
		return
	}

	report, err := h.usages.Reconcile(c.Request.Context(), locationID, itemID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

func (h *UsageRecordHandler) bindCommand(c *gin.Context) (appinventory.UsageCommand, bool) {
	actorID, err := getActorID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return appinventory.UsageCommand{}, false
	}

	var req UsageRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return appinventory.UsageCommand{}, false
	}
	cmd, err := req.toCommand(actorID)
	if err != nil {
		h.BadRequest(c, err.Error())
		return appinventory.UsageCommand{}, false
	}
	return cmd, true
}

func (h *UsageRecordHandler) recordID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := h.uuidParam(c, "id")
	if ok {
		ctx := logger.WithUsageRecordID(c.Request.Context(), id.String())
		c.Request = c.Request.WithContext(ctx)
	}
	return id, ok
}

func (h *UsageRecordHandler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
