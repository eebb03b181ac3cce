package batch

import (
	"context"
	"fmt"

	"leadtrack_backend/internal/events"
	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/platform/config"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// JobStore records the lifecycle of a background import job.
type JobStore interface {
	MarkRunning(ctx context.Context, jobID uuid.UUID) error
	MarkCompleted(ctx context.Context, jobID uuid.UUID, summary ingest.Summary) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, cause string) error
}

// Worker consumes queued import jobs and runs them through the
// orchestrator.
type Worker struct {
	server       *asynq.Server
	mux          *asynq.ServeMux
	orchestrator *Orchestrator
	jobs         JobStore
	bus          events.Bus
	log          *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, orchestrator *Orchestrator, jobs JobStore, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:       server,
		mux:          mux,
		orchestrator: orchestrator,
		jobs:         jobs,
		bus:          bus,
		log:          log,
	}

	mux.HandleFunc(TaskImportRun, w.handleImportRun)

	return w, nil
}

func (w *Worker) handleImportRun(ctx context.Context, task *asynq.Task) error {
	job, err := ParseImportRunPayload(task)
	if err != nil {
		return err
	}

	if err := w.jobs.MarkRunning(ctx, job.ID); err != nil {
		return err
	}

	summary, err := w.orchestrator.Run(ctx, job)
	if err != nil {
		w.log.Error("import job failed", "jobId", job.ID.String(), "mode", string(job.Mode), "error", err)
		return w.jobs.MarkFailed(ctx, job.ID, err.Error())
	}

	if err := w.jobs.MarkCompleted(ctx, job.ID, summary); err != nil {
		return err
	}

	if w.bus != nil {
		w.bus.Publish(ctx, events.ImportCompleted{
			BaseEvent:   events.NewBaseEvent(),
			JobID:       job.ID,
			WorkspaceID: job.WorkspaceID,
			Mode:        string(job.Mode),
			TotalRows:   summary.TotalRows,
			Ignored:     summary.Ignored,
		})
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("import worker stopped", "error", err)
	}
}
