// Package funnel implements funnel positions, transition rules, and the
// deterministic rule engine that moves leads between stages in response to
// named events.
package funnel

import (
	"time"

	"github.com/google/uuid"
)

// MovedBy values record which ingestion path applied a transition.
const (
	MovedByWebhook = "webhook"
	MovedByImport  = "import"
	MovedByManual  = "manual"
	MovedBySystem  = "system"
)

// Funnel is an ordered sequence of stages leads can occupy.
type Funnel struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	CampaignID  *uuid.UUID
	Name        string
}

// Stage is one step of a funnel.
type Stage struct {
	ID       uuid.UUID
	FunnelID uuid.UUID
	Name     string
	Position int
}

// Position records a lead's current stage within one funnel. There is at
// most one position per (lead, funnel) pair; re-entry updates the row.
type Position struct {
	LeadID          uuid.UUID
	FunnelID        uuid.UUID
	StageID         uuid.UUID
	PreviousStageID *uuid.UUID
	EnteredAt       time.Time
	MovedBy         string
	Source          string
}

// Rule maps an event to a stage move within a funnel. A nil FromStageID
// means the rule applies from any current stage, including leads not yet in
// the funnel (first entry).
type Rule struct {
	ID          uuid.UUID
	FunnelID    uuid.UUID
	EventName   string
	FromStageID *uuid.UUID
	ToStageID   uuid.UUID
	Priority    int
}

// Event is an immutable fact recorded against a lead in a funnel.
type Event struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	FunnelID       uuid.UUID
	EventName      string
	Source         string
	Payload        map[string]any
	OccurredAt     time.Time
	IdempotencyKey string
}
