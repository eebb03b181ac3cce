// Package imports provides the batch import bounded context module.
package imports

import (
	"leadtrack_backend/internal/aggregate"
	"leadtrack_backend/internal/batch"
	"leadtrack_backend/internal/events"
	funnelrepo "leadtrack_backend/internal/funnel/repository"
	apphttp "leadtrack_backend/internal/http"
	leadrepo "leadtrack_backend/internal/identity/repository"
	"leadtrack_backend/internal/imports/repository"
	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/internal/sales"
	"leadtrack_backend/platform/config"
	"leadtrack_backend/platform/logger"
	"leadtrack_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the imports bounded context module implementing http.Module.
type Module struct {
	handler      *Handler
	service      *Service
	orchestrator *batch.Orchestrator
	jobs         *repository.Repository
}

// NewModule wires the full import pipeline: repositories, the ingestion
// service, the aggregation recalculator, the chunk orchestrator, and the
// HTTP surface. scheduler and progress are optional; without them every
// import runs inline.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator,
	scheduler *batch.Client, progress *batch.RedisProgress,
	cfg *config.Config, log *logger.Logger) *Module {

	leadRepo := leadrepo.New(pool)
	funnelRepo := funnelrepo.New(pool)
	saleRepo := sales.NewRepository(pool)
	aggRepo := aggregate.NewRepository(pool)
	jobRepo := repository.New(pool)

	ingestor := ingest.NewService(leadRepo, funnelRepo, saleRepo, bus, log)
	recalc := aggregate.New(aggRepo, log)

	var progressStore batch.ProgressStore
	var progressReader ProgressReader
	if progress != nil {
		progressStore = progress
		progressReader = progress
	}

	orchestrator := batch.NewOrchestrator(ingestor, recalc, progressStore, cfg.GetImportChunkSize(), log)

	var importScheduler batch.ImportScheduler
	if scheduler != nil {
		importScheduler = scheduler
	}

	service := NewService(orchestrator, funnelRepo, leadRepo, jobRepo,
		importScheduler, progressReader, bus, cfg, log)
	handler := NewHandler(service, val)

	return &Module{
		handler:      handler,
		service:      service,
		orchestrator: orchestrator,
		jobs:         jobRepo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "imports"
}

// Orchestrator exposes the chunk orchestrator for the background worker.
func (m *Module) Orchestrator() *batch.Orchestrator {
	return m.orchestrator
}

// JobRepository exposes the job store for the background worker.
func (m *Module) JobRepository() *repository.Repository {
	return m.jobs
}

// RegisterRoutes mounts import routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/imports")
	m.handler.RegisterRoutes(group)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
