// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadtrack_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// LeadCreated is published when a new lead is created, ghost or not.
type LeadCreated struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Source      string    `json:"source,omitempty"`
	IsGhost     bool      `json:"isGhost"`
}

func (e LeadCreated) EventName() string { return "leads.created" }

// LeadStageMoved is published when the rule engine moves a lead between
// funnel stages.
type LeadStageMoved struct {
	BaseEvent
	LeadID          uuid.UUID  `json:"leadId"`
	WorkspaceID     uuid.UUID  `json:"workspaceId"`
	FunnelID        uuid.UUID  `json:"funnelId"`
	StageID         uuid.UUID  `json:"stageId"`
	PreviousStageID *uuid.UUID `json:"previousStageId,omitempty"`
	MovedBy         string     `json:"movedBy"`
}

func (e LeadStageMoved) EventName() string { return "funnels.lead.stage_moved" }

// ImportCompleted is published when an import job finishes, inline or in
// the background.
type ImportCompleted struct {
	BaseEvent
	JobID       uuid.UUID `json:"jobId"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Mode        string    `json:"mode"`
	TotalRows   int       `json:"totalRows"`
	Ignored     int       `json:"ignored"`
}

func (e ImportCompleted) EventName() string { return "imports.completed" }
