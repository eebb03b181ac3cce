// Package imports exposes the batch import entry points: submitting
// contact, backfill, event and sale imports, and polling job status.
package imports

import (
	"context"
	"strings"

	"leadtrack_backend/internal/batch"
	"leadtrack_backend/internal/events"
	"leadtrack_backend/internal/funnel"
	"leadtrack_backend/internal/imports/repository"
	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/platform/apperr"
	"leadtrack_backend/platform/config"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

// FunnelReader validates funnel and stage references before a job runs.
type FunnelReader interface {
	GetFunnel(ctx context.Context, workspaceID, funnelID uuid.UUID) (funnel.Funnel, error)
	StageBelongsToFunnel(ctx context.Context, stageID, funnelID uuid.UUID) (bool, error)
}

// WorkspaceReader checks workspace existence.
type WorkspaceReader interface {
	WorkspaceExists(ctx context.Context, workspaceID uuid.UUID) (bool, error)
}

// JobReader loads stored jobs for polling.
type JobReader interface {
	Create(ctx context.Context, id, workspaceID uuid.UUID, mode string, request any) error
	GetByID(ctx context.Context, workspaceID, jobID uuid.UUID) (repository.Job, error)
}

// ProgressReader exposes chunk progress of a running job.
type ProgressReader interface {
	GetProgress(ctx context.Context, jobID uuid.UUID) (batch.Progress, error)
}

// SubmitResult is the outcome of submitting an import. Small inputs run
// inline and carry a summary; large inputs are queued and carry a job ID
// for polling.
type SubmitResult struct {
	Async   bool
	JobID   uuid.UUID
	Summary ingest.Summary
}

// JobStatus is the polled state of a background import.
type JobStatus struct {
	Job      repository.Job
	Progress batch.Progress
}

// Service validates and dispatches import jobs.
type Service struct {
	orchestrator *batch.Orchestrator
	funnels      FunnelReader
	workspaces   WorkspaceReader
	jobs         JobReader
	scheduler    batch.ImportScheduler
	progress     ProgressReader
	bus          events.Bus
	cfg          config.ImportConfig
	log          *logger.Logger
}

// NewService creates the imports service. scheduler and progress may be nil
// when background execution is not configured; every import then runs
// inline.
func NewService(orchestrator *batch.Orchestrator, funnels FunnelReader, workspaces WorkspaceReader,
	jobs JobReader, scheduler batch.ImportScheduler, progress ProgressReader,
	bus events.Bus, cfg config.ImportConfig, log *logger.Logger) *Service {
	return &Service{
		orchestrator: orchestrator,
		funnels:      funnels,
		workspaces:   workspaces,
		jobs:         jobs,
		scheduler:    scheduler,
		progress:     progress,
		bus:          bus,
		cfg:          cfg,
		log:          log,
	}
}

// jobRequestMeta is what gets stored with a job; the CSV body travels only
// through the queue.
type jobRequestMeta struct {
	Mode       batch.Mode `json:"mode"`
	FunnelID   uuid.UUID  `json:"funnelId,omitempty"`
	StageID    uuid.UUID  `json:"stageId,omitempty"`
	EventName  string     `json:"eventName,omitempty"`
	CampaignID *uuid.UUID `json:"campaignId,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	Rows       int        `json:"rows"`
}

// Submit validates a job and either runs it inline or queues it for the
// background worker, depending on input size.
func (s *Service) Submit(ctx context.Context, job batch.Job) (SubmitResult, error) {
	if err := s.validate(ctx, job); err != nil {
		return SubmitResult{}, err
	}

	job.ID = uuid.New()
	rows := countRows(job.CSVText)

	if s.scheduler != nil && rows >= s.cfg.GetImportAsyncThreshold() {
		meta := jobRequestMeta{
			Mode:       job.Mode,
			FunnelID:   job.FunnelID,
			StageID:    job.StageID,
			EventName:  job.EventName,
			CampaignID: job.CampaignID,
			Platform:   job.Platform,
			Rows:       rows,
		}
		if err := s.jobs.Create(ctx, job.ID, job.WorkspaceID, string(job.Mode), meta); err != nil {
			return SubmitResult{}, err
		}
		if err := s.scheduler.EnqueueImport(ctx, job); err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Async: true, JobID: job.ID}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.GetImportRequestTimeout())
	defer cancel()

	summary, err := s.orchestrator.Run(runCtx, job)
	if err != nil {
		return SubmitResult{}, err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.ImportCompleted{
			BaseEvent:   events.NewBaseEvent(),
			JobID:       job.ID,
			WorkspaceID: job.WorkspaceID,
			Mode:        string(job.Mode),
			TotalRows:   summary.TotalRows,
			Ignored:     summary.Ignored,
		})
	}
	return SubmitResult{JobID: job.ID, Summary: summary}, nil
}

// GetJob returns a stored job with its live progress.
func (s *Service) GetJob(ctx context.Context, workspaceID, jobID uuid.UUID) (JobStatus, error) {
	job, err := s.jobs.GetByID(ctx, workspaceID, jobID)
	if err != nil {
		if err == repository.ErrNotFound {
			return JobStatus{}, apperr.NotFound("import job not found")
		}
		return JobStatus{}, err
	}

	status := JobStatus{Job: job}
	if s.progress != nil {
		progress, err := s.progress.GetProgress(ctx, jobID)
		if err != nil {
			s.log.Warn("progress read failed", "jobId", jobID.String(), "error", err)
		} else {
			status.Progress = progress
		}
	}
	return status, nil
}

func (s *Service) validate(ctx context.Context, job batch.Job) error {
	exists, err := s.workspaces.WorkspaceExists(ctx, job.WorkspaceID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("workspace not found")
	}

	if strings.TrimSpace(job.CSVText) == "" {
		return apperr.BadRequest("csv input is empty")
	}

	switch job.Mode {
	case batch.ModeFunnel, batch.ModeBackfill:
		if job.FunnelID == uuid.Nil || job.StageID == uuid.Nil {
			return apperr.BadRequest("funnelId and stageId are required")
		}
		if _, err := s.funnels.GetFunnel(ctx, job.WorkspaceID, job.FunnelID); err != nil {
			return apperr.NotFound("funnel not found")
		}
		ok, err := s.funnels.StageBelongsToFunnel(ctx, job.StageID, job.FunnelID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.BadRequest("stage does not belong to funnel")
		}
	case batch.ModeEventOnly:
		if job.EventName == "" {
			return apperr.BadRequest("eventName is required")
		}
	case batch.ModeSale:
		if job.Platform == "" {
			return apperr.BadRequest("platform is required")
		}
	default:
		return apperr.BadRequest("unknown import mode")
	}
	return nil
}

// countRows estimates data rows without parsing, for the sync/async
// decision only. The parser counts for real.
func countRows(csvText string) int {
	n := strings.Count(strings.TrimSpace(csvText), "\n")
	if n < 0 {
		return 0
	}
	return n
}
