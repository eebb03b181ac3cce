package imports

import (
	"net/http"

	"leadtrack_backend/platform/httpkit"
	"leadtrack_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Handler handles import HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new imports handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// RegisterRoutes mounts import routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/contacts", h.HandleContactImport)
	g.POST("/backfill", h.HandleBackfillImport)
	g.POST("/events", h.HandleEventImport)
	g.POST("/sales", h.HandleSaleImport)
	g.GET("/jobs/:id", h.HandleGetJob)
}

// HandleContactImport stages a contact list into a funnel stage.
// POST /api/v1/imports/contacts
func (h *Handler) HandleContactImport(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req ContactImportRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), contactJob(id.WorkspaceID(), req))
	if httpkit.HandleError(c, err) {
		return
	}
	if result.Async {
		httpkit.Accepted(c, AcceptedResponse{JobID: result.JobID, Status: "pending"})
		return
	}
	httpkit.OK(c, toContactResponse(result.Summary))
}

// HandleBackfillImport replays a historical contact list as dated events.
// POST /api/v1/imports/backfill
func (h *Handler) HandleBackfillImport(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req BackfillImportRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), backfillJob(id.WorkspaceID(), req))
	if httpkit.HandleError(c, err) {
		return
	}
	if result.Async {
		httpkit.Accepted(c, AcceptedResponse{JobID: result.JobID, Status: "pending"})
		return
	}
	httpkit.OK(c, toBackfillResponse(result.Summary))
}

// HandleEventImport applies a named event over a contact list.
// POST /api/v1/imports/events
func (h *Handler) HandleEventImport(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req EventImportRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), eventJob(id.WorkspaceID(), req))
	if httpkit.HandleError(c, err) {
		return
	}
	if result.Async {
		httpkit.Accepted(c, AcceptedResponse{JobID: result.JobID, Status: "pending"})
		return
	}
	httpkit.OK(c, toEventResponse(result.Summary))
}

// HandleSaleImport ingests a sales-platform export.
// POST /api/v1/imports/sales
func (h *Handler) HandleSaleImport(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req SaleImportRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), saleJob(id.WorkspaceID(), req))
	if httpkit.HandleError(c, err) {
		return
	}
	if result.Async {
		httpkit.Accepted(c, AcceptedResponse{JobID: result.JobID, Status: "pending"})
		return
	}
	httpkit.OK(c, toSaleResponse(req.Platform, result.Summary))
}

// HandleGetJob returns the status of a background import.
// GET /api/v1/imports/jobs/:id
func (h *Handler) HandleGetJob(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid job ID", nil)
		return
	}

	status, err := h.service.GetJob(c.Request.Context(), id.WorkspaceID(), jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toJobStatusResponse(status))
}

func (h *Handler) bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return false
	}
	return true
}
