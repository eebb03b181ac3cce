// Package batch drives import jobs: it splits CSV input into fixed-size
// chunks, runs the ingestion pipeline chunk by chunk with per-chunk failure
// isolation, triggers aggregation for touched leads, and accumulates the
// final summary the caller polls for.
package batch

import (
	"context"
	"fmt"

	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

// Mode selects the ingestion semantics of an import job.
type Mode string

const (
	// ModeFunnel stages a contact list into one funnel stage.
	ModeFunnel Mode = "funnel"
	// ModeBackfill replays a historical contact list as dated events.
	ModeBackfill Mode = "backfill"
	// ModeEventOnly applies a named event to an existing contact list.
	ModeEventOnly Mode = "event_only"
	// ModeSale ingests a sales-platform export.
	ModeSale Mode = "sale"
)

// Job is one import request, self-contained so it can be run inline or
// handed to a background worker.
type Job struct {
	ID             uuid.UUID         `json:"id"`
	WorkspaceID    uuid.UUID         `json:"workspaceId"`
	Mode           Mode              `json:"mode"`
	CSVText        string            `json:"csvText"`
	FieldOverrides map[string]string `json:"fieldOverrides,omitempty"`
	FunnelID       uuid.UUID         `json:"funnelId,omitempty"`
	StageID        uuid.UUID         `json:"stageId,omitempty"`
	EventName      string            `json:"eventName,omitempty"`
	CampaignID     *uuid.UUID        `json:"campaignId,omitempty"`
	Platform       string            `json:"platform,omitempty"`
}

// Ingestor is the chunk-level pipeline the orchestrator drives.
type Ingestor interface {
	PrepareBatch(ctx context.Context, workspaceID uuid.UUID, header []string, overrides map[string]string) (*ingest.Batch, error)
	EventFunnels(ctx context.Context, workspaceID uuid.UUID, campaignID *uuid.UUID) ([]uuid.UUID, error)
	ImportContactsChunk(ctx context.Context, b *ingest.Batch, funnelID, stageID uuid.UUID, records [][]string) (ingest.Summary, []uuid.UUID, error)
	BackfillChunk(ctx context.Context, b *ingest.Batch, funnelID, stageID uuid.UUID, records [][]string) (ingest.Summary, []uuid.UUID, error)
	EventChunk(ctx context.Context, b *ingest.Batch, eventName string, candidateFunnels []uuid.UUID, records [][]string) (ingest.Summary, []uuid.UUID, error)
	SaleChunk(ctx context.Context, b *ingest.Batch, platform string, records [][]string) (ingest.Summary, []uuid.UUID, error)
}

// Recalculator recomputes lead rollups after sale ingestion.
type Recalculator interface {
	Recalculate(ctx context.Context, leadIDs []uuid.UUID) error
}

// ProgressStore reports chunk-level progress for polling callers. A nil
// store is allowed; progress is then simply not reported.
type ProgressStore interface {
	SetProgress(ctx context.Context, jobID uuid.UUID, processedRows, totalRows int) error
}

// Orchestrator runs import jobs to completion.
type Orchestrator struct {
	ingestor  Ingestor
	recalc    Recalculator
	progress  ProgressStore
	chunkSize int
	log       *logger.Logger
}

// NewOrchestrator creates an orchestrator. chunkSize bounds how many CSV
// rows one pipeline pass handles.
func NewOrchestrator(ingestor Ingestor, recalc Recalculator, progress ProgressStore, chunkSize int, log *logger.Logger) *Orchestrator {
	if chunkSize <= 0 {
		chunkSize = 250
	}
	return &Orchestrator{
		ingestor:  ingestor,
		recalc:    recalc,
		progress:  progress,
		chunkSize: chunkSize,
		log:       log,
	}
}

// Run executes one job. Chunks run sequentially against a single shared
// batch state; a chunk that fails or panics has its rows counted as
// ignored and the remaining chunks still run, so the caller always gets a
// final summary. Errors before the first chunk (empty CSV, store failures
// while loading the snapshot) abort the whole job.
func (o *Orchestrator) Run(ctx context.Context, job Job) (ingest.Summary, error) {
	var summary ingest.Summary

	header, records, err := ingest.ParseCSV(job.CSVText)
	if err != nil {
		return summary, err
	}

	b, err := o.ingestor.PrepareBatch(ctx, job.WorkspaceID, header, job.FieldOverrides)
	if err != nil {
		return summary, err
	}

	var candidateFunnels []uuid.UUID
	if job.Mode == ModeEventOnly {
		candidateFunnels, err = o.ingestor.EventFunnels(ctx, job.WorkspaceID, job.CampaignID)
		if err != nil {
			return summary, err
		}
	}

	var touched []uuid.UUID
	processed := 0
	for index := 0; processed < len(records); index++ {
		end := processed + o.chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[processed:end]

		chunkSummary, chunkTouched, err := o.runChunk(ctx, job, b, candidateFunnels, chunk)
		if err != nil {
			o.log.ChunkFailed(job.ID.String(), index, len(chunk), err)
			chunkSummary = ingest.Summary{TotalRows: len(chunk), Ignored: len(chunk)}
			chunkTouched = nil
		}
		summary.Merge(chunkSummary)
		touched = append(touched, chunkTouched...)

		processed = end
		if o.progress != nil {
			if err := o.progress.SetProgress(ctx, job.ID, processed, len(records)); err != nil {
				o.log.Warn("progress update failed", "jobId", job.ID.String(), "error", err)
			}
		}
	}

	if job.Mode == ModeSale && len(touched) > 0 {
		if err := o.recalc.Recalculate(ctx, dedupe(touched)); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// runChunk dispatches one chunk by mode. Panics are converted to errors so
// a bad chunk never takes the job down.
func (o *Orchestrator) runChunk(ctx context.Context, job Job, b *ingest.Batch, candidateFunnels []uuid.UUID, chunk [][]string) (summary ingest.Summary, touched []uuid.UUID, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk panic: %v", r)
		}
	}()

	switch job.Mode {
	case ModeFunnel:
		return o.ingestor.ImportContactsChunk(ctx, b, job.FunnelID, job.StageID, chunk)
	case ModeBackfill:
		return o.ingestor.BackfillChunk(ctx, b, job.FunnelID, job.StageID, chunk)
	case ModeEventOnly:
		return o.ingestor.EventChunk(ctx, b, job.EventName, candidateFunnels, chunk)
	case ModeSale:
		return o.ingestor.SaleChunk(ctx, b, job.Platform, chunk)
	default:
		return summary, nil, fmt.Errorf("unknown import mode %q", job.Mode)
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
