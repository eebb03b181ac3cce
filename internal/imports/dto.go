package imports

import (
	"time"

	"leadtrack_backend/internal/batch"
	"leadtrack_backend/internal/ingest"

	"github.com/google/uuid"
)

// ---- Requests ----

// ContactImportRequest stages a contact list into one funnel stage.
type ContactImportRequest struct {
	CSVText        string            `json:"csvText" validate:"required"`
	FieldOverrides map[string]string `json:"fieldOverrides"`
	FunnelID       uuid.UUID         `json:"funnelId" validate:"required"`
	StageID        uuid.UUID         `json:"stageId" validate:"required"`
}

// BackfillImportRequest replays a historical contact list as dated events.
type BackfillImportRequest struct {
	CSVText        string            `json:"csvText" validate:"required"`
	FieldOverrides map[string]string `json:"fieldOverrides"`
	FunnelID       uuid.UUID         `json:"funnelId" validate:"required"`
	StageID        uuid.UUID         `json:"stageId" validate:"required"`
}

// EventImportRequest applies one named event to a contact list.
type EventImportRequest struct {
	CSVText        string            `json:"csvText" validate:"required"`
	FieldOverrides map[string]string `json:"fieldOverrides"`
	EventName      string            `json:"eventName" validate:"required"`
	CampaignID     *uuid.UUID        `json:"campaignId"`
}

// SaleImportRequest ingests a sales-platform export.
type SaleImportRequest struct {
	CSVText        string            `json:"csvText" validate:"required"`
	FieldOverrides map[string]string `json:"fieldOverrides"`
	Platform       string            `json:"platform" validate:"required"`
}

// ---- Responses ----

// AcceptedResponse is returned when an import is queued for background
// execution instead of running inline.
type AcceptedResponse struct {
	JobID  uuid.UUID `json:"jobId"`
	Status string    `json:"status"`
}

type ContactImportResponse struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	NoContact  int `json:"no_contact"`
}

type BackfillImportResponse struct {
	Created                int `json:"created"`
	DuplicateRegistrations int `json:"duplicate_registrations"`
	NoContact              int `json:"no_contact"`
	EventsCreated          int `json:"events_created"`
}

type EventImportResponse struct {
	Found         int `json:"found"`
	NotFound      int `json:"not_found"`
	NoContact     int `json:"no_contact"`
	EventsCreated int `json:"events_created"`
}

type SaleImportResponse struct {
	Platform         string `json:"platform"`
	TotalRows        int    `json:"total_rows"`
	Enriched         int    `json:"enriched"`
	Ghosts           int    `json:"ghosts"`
	Ignored          int    `json:"ignored"`
	NoContact        int    `json:"no_contact"`
	Duplicates       int    `json:"duplicates"`
	Inserted         int    `json:"inserted"`
	InsertedPaid     int    `json:"inserted_paid"`
	InsertedRefunded int    `json:"inserted_refunded"`
	InsertedPending  int    `json:"inserted_pending"`
	TotalRevenue     int64  `json:"total_revenue"` // cents
}

// JobStatusResponse is the polled state of a background import.
type JobStatusResponse struct {
	ID            uuid.UUID       `json:"id"`
	Mode          string          `json:"mode"`
	Status        string          `json:"status"`
	Summary       *ingest.Summary `json:"summary,omitempty"`
	Error         string          `json:"error,omitempty"`
	ProcessedRows int             `json:"processedRows"`
	TotalRows     int             `json:"totalRows"`
	CreatedAt     time.Time       `json:"createdAt"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
}

func toContactResponse(s ingest.Summary) ContactImportResponse {
	return ContactImportResponse{
		Imported:   s.Imported,
		Duplicates: s.Duplicates,
		NoContact:  s.NoContact,
	}
}

func toBackfillResponse(s ingest.Summary) BackfillImportResponse {
	return BackfillImportResponse{
		Created:                s.Created,
		DuplicateRegistrations: s.DuplicateRegistrations,
		NoContact:              s.NoContact,
		EventsCreated:          s.EventsCreated,
	}
}

func toEventResponse(s ingest.Summary) EventImportResponse {
	return EventImportResponse{
		Found:         s.Found,
		NotFound:      s.NotFound,
		NoContact:     s.NoContact,
		EventsCreated: s.EventsCreated,
	}
}

func toSaleResponse(platform string, s ingest.Summary) SaleImportResponse {
	return SaleImportResponse{
		Platform:         platform,
		TotalRows:        s.TotalRows,
		Enriched:         s.Enriched,
		Ghosts:           s.Ghosts,
		Ignored:          s.Ignored,
		NoContact:        s.NoContact,
		Duplicates:       s.Duplicates,
		Inserted:         s.Inserted,
		InsertedPaid:     s.InsertedPaid,
		InsertedRefunded: s.InsertedRefunded,
		InsertedPending:  s.InsertedPending,
		TotalRevenue:     s.RevenueCents,
	}
}

func toJobStatusResponse(status JobStatus) JobStatusResponse {
	return JobStatusResponse{
		ID:            status.Job.ID,
		Mode:          status.Job.Mode,
		Status:        status.Job.Status,
		Summary:       status.Job.Summary,
		Error:         status.Job.Error,
		ProcessedRows: status.Progress.ProcessedRows,
		TotalRows:     status.Progress.TotalRows,
		CreatedAt:     status.Job.CreatedAt,
		FinishedAt:    status.Job.FinishedAt,
	}
}

func contactJob(workspaceID uuid.UUID, req ContactImportRequest) batch.Job {
	return batch.Job{
		WorkspaceID:    workspaceID,
		Mode:           batch.ModeFunnel,
		CSVText:        req.CSVText,
		FieldOverrides: req.FieldOverrides,
		FunnelID:       req.FunnelID,
		StageID:        req.StageID,
	}
}

func backfillJob(workspaceID uuid.UUID, req BackfillImportRequest) batch.Job {
	return batch.Job{
		WorkspaceID:    workspaceID,
		Mode:           batch.ModeBackfill,
		CSVText:        req.CSVText,
		FieldOverrides: req.FieldOverrides,
		FunnelID:       req.FunnelID,
		StageID:        req.StageID,
	}
}

func eventJob(workspaceID uuid.UUID, req EventImportRequest) batch.Job {
	return batch.Job{
		WorkspaceID:    workspaceID,
		Mode:           batch.ModeEventOnly,
		CSVText:        req.CSVText,
		FieldOverrides: req.FieldOverrides,
		EventName:      req.EventName,
		CampaignID:     req.CampaignID,
	}
}

func saleJob(workspaceID uuid.UUID, req SaleImportRequest) batch.Job {
	return batch.Job{
		WorkspaceID:    workspaceID,
		Mode:           batch.ModeSale,
		CSVText:        req.CSVText,
		FieldOverrides: req.FieldOverrides,
		Platform:       req.Platform,
	}
}
