// Package webhook provides the webhook bounded context module.
package webhook

import (
	"leadtrack_backend/internal/events"
	funnelrepo "leadtrack_backend/internal/funnel/repository"
	apphttp "leadtrack_backend/internal/http"
	leadrepo "leadtrack_backend/internal/identity/repository"
	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/internal/sales"
	"leadtrack_backend/platform/logger"
	"leadtrack_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
	service *Service
}

// NewModule creates and initializes the webhook module.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)

	processor := ingest.NewService(leadrepo.New(pool), funnelrepo.New(pool), sales.NewRepository(pool), bus, log)
	service := NewService(processor, log)
	handler := NewHandler(service, repo, val)

	return &Module{
		handler: handler,
		repo:    repo,
		service: service,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes. Event delivery is public behind
// API key auth; key management requires a dashboard JWT.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.Engine.Group("/webhooks")
	public.Use(APIKeyAuthMiddleware(m.repo))
	public.POST("/events", m.handler.HandleEvent)

	keys := ctx.Protected.Group("/webhooks/keys")
	keys.POST("", m.handler.HandleCreateAPIKey)
	keys.GET("", m.handler.HandleListAPIKeys)
	keys.DELETE("/:id", m.handler.HandleDeactivateAPIKey)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
