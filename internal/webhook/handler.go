package webhook

import (
	"net/http"
	"time"

	"leadtrack_backend/platform/httpkit"
	"leadtrack_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
	errNoWorkspace    = "no workspace context"
)

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	repo    *Repository
	val     *validator.Validator
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, repo *Repository, val *validator.Validator) *Handler {
	return &Handler{service: service, repo: repo, val: val}
}

// ---- Event delivery (public, API-key authenticated) ----

// EventRequest is an inbound event delivery.
type EventRequest struct {
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	Name           string         `json:"name"`
	EventName      string         `json:"eventName" validate:"required,min=1,max=200"`
	FunnelID       *uuid.UUID     `json:"funnelId"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey" validate:"max=200"`
	OccurredAt     *time.Time     `json:"occurredAt"`
}

// EventResponse reports what a delivery did.
type EventResponse struct {
	LeadID             uuid.UUID `json:"leadId"`
	LeadCreated        bool      `json:"leadCreated"`
	EventsCreated      int       `json:"eventsCreated"`
	TransitionsApplied int       `json:"transitionsApplied"`
}

// HandleEvent processes an inbound event delivery.
// POST /webhooks/events
// Authenticated via X-Webhook-API-Key header (set by middleware).
func (h *Handler) HandleEvent(c *gin.Context) {
	workspaceID, ok := h.getWebhookWorkspaceID(c)
	if !ok {
		return
	}

	var req EventRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.ProcessDelivery(c.Request.Context(), workspaceID, EventDelivery{
		Email:          req.Email,
		Phone:          req.Phone,
		Name:           req.Name,
		EventName:      req.EventName,
		FunnelID:       req.FunnelID,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		OccurredAt:     req.OccurredAt,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	status := http.StatusOK
	if result.LeadCreated {
		status = http.StatusCreated
	}
	c.JSON(status, EventResponse{
		LeadID:             result.LeadID,
		LeadCreated:        result.LeadCreated,
		EventsCreated:      result.EventsCreated,
		TransitionsApplied: result.TransitionsApplied,
	})
}

// ---- API key management (JWT authenticated) ----

// CreateAPIKeyRequest is the request body for creating a new API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// APIKeyResponse is returned when listing or creating API keys.
type APIKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"keyPrefix"`
	IsActive  bool      `json:"isActive"`
	CreatedAt string    `json:"createdAt"`
}

// CreateAPIKeyResponse includes the plaintext key (shown only once).
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"` // plaintext, shown only once
}

// HandleCreateAPIKey creates a new webhook API key.
// POST /api/v1/webhooks/keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req CreateAPIKeyRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to generate API key", nil)
		return
	}

	key, err := h.repo.Create(c.Request.Context(), id.WorkspaceID(), req.Name, hash, prefix)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, CreateAPIKeyResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// HandleListAPIKeys lists all webhook API keys for the workspace.
// GET /api/v1/webhooks/keys
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	keys, err := h.repo.ListByWorkspace(c.Request.Context(), id.WorkspaceID())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, toAPIKeyResponse(key))
	}
	httpkit.OK(c, resp)
}

// HandleDeactivateAPIKey disables a webhook API key.
// DELETE /api/v1/webhooks/keys/:id
func (h *Handler) HandleDeactivateAPIKey(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key ID", nil)
		return
	}

	if err := h.repo.Deactivate(c.Request.Context(), id.WorkspaceID(), keyID); err != nil {
		if err == ErrAPIKeyNotFound {
			httpkit.Error(c, http.StatusNotFound, "API key not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) getWebhookWorkspaceID(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(ContextWorkspaceIDKey)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, errNoWorkspace, nil)
		return uuid.Nil, false
	}
	workspaceID, ok := value.(uuid.UUID)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, errNoWorkspace, nil)
		return uuid.Nil, false
	}
	return workspaceID, true
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
