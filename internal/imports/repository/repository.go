// Package repository provides data access for import jobs.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"leadtrack_backend/internal/ingest"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an import job does not exist.
var ErrNotFound = errors.New("import job not found")

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is a stored import job. Request holds the job payload minus the CSV
// body; Summary is set once the job completes.
type Job struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Mode        string
	Status      string
	Summary     *ingest.Summary
	Error       string
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// Repository provides data access for import jobs.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new import job repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create stores a pending job. The request document is kept for debugging
// failed imports; the CSV body is stripped by the caller before storing.
func (r *Repository) Create(ctx context.Context, id, workspaceID uuid.UUID, mode string, request any) error {
	doc, err := json.Marshal(request)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO import_jobs (id, workspace_id, mode, status, request)
		VALUES ($1, $2, $3, $4, $5)
	`, id, workspaceID, mode, StatusPending, doc)
	return err
}

// GetByID retrieves a job scoped to a workspace.
func (r *Repository) GetByID(ctx context.Context, workspaceID, jobID uuid.UUID) (Job, error) {
	var job Job
	var summary []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, mode, status, summary, error, created_at, finished_at
		FROM import_jobs
		WHERE id = $1 AND workspace_id = $2
	`, jobID, workspaceID).Scan(&job.ID, &job.WorkspaceID, &job.Mode, &job.Status,
		&summary, &job.Error, &job.CreatedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}

	if len(summary) > 0 {
		var s ingest.Summary
		if err := json.Unmarshal(summary, &s); err != nil {
			return Job{}, err
		}
		job.Summary = &s
	}
	return job, nil
}

// MarkRunning transitions a job to running.
func (r *Repository) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2 WHERE id = $1
	`, jobID, StatusRunning)
	return err
}

// MarkCompleted stores the final summary.
func (r *Repository) MarkCompleted(ctx context.Context, jobID uuid.UUID, summary ingest.Summary) error {
	doc, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2, summary = $3, finished_at = now()
		WHERE id = $1
	`, jobID, StatusCompleted, doc)
	return err
}

// MarkFailed records the failure cause.
func (r *Repository) MarkFailed(ctx context.Context, jobID uuid.UUID, cause string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2, error = $3, finished_at = now()
		WHERE id = $1
	`, jobID, StatusFailed, cause)
	return err
}
