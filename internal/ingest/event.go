package ingest

import (
	"context"
	"errors"
	"sort"
	"time"

	"leadtrack_backend/internal/events"
	"leadtrack_backend/internal/funnel"
	"leadtrack_backend/internal/identity"
	leadrepo "leadtrack_backend/internal/identity/repository"
	"leadtrack_backend/platform/apperr"

	"github.com/google/uuid"
)

// EventParams describes a single real-time event delivery. A non-nil
// FunnelID restricts the event to that funnel instead of every candidate.
type EventParams struct {
	Email          string
	Phone          string
	Name           string
	EventName      string
	Source         string
	FunnelID       *uuid.UUID
	Payload        map[string]any
	IdempotencyKey string
	OccurredAt     *time.Time
}

// EventResult reports what one event delivery did.
type EventResult struct {
	LeadID             uuid.UUID
	LeadCreated        bool
	EventsCreated      int
	TransitionsApplied int
}

// ProcessEvent applies a single event to one contact. The contact resolves
// against the store directly; an unknown contact becomes a ghost lead. The
// event is recorded for every funnel the lead is positioned in plus every
// funnel with a first-entry rule for the event name, and each newly
// recorded event is offered to the rule engine. A repeated delivery with
// the same idempotency key records nothing and moves nothing.
func (s *Service) ProcessEvent(ctx context.Context, workspaceID uuid.UUID, params EventParams) (EventResult, error) {
	var result EventResult

	email := identity.NormalizeEmail(params.Email)
	phone := identity.NormalizePhone(params.Phone)
	if email == "" && phone == "" {
		return result, apperr.BadRequest("event has no contact info")
	}
	if params.EventName == "" {
		return result, apperr.BadRequest("event name is required")
	}

	lead, err := s.leads.FindByContact(ctx, workspaceID, email, phone)
	if errors.Is(err, leadrepo.ErrNotFound) {
		created, createErr := s.leads.CreateLeads(ctx, []leadrepo.CreateLeadParams{{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			Email:       email,
			Phone:       phone,
			Name:        params.Name,
			Source:      params.Source,
			IsGhost:     true,
		}})
		if createErr != nil {
			return result, createErr
		}
		lead = created[0]
		result.LeadCreated = true
		if s.bus != nil {
			s.bus.Publish(ctx, events.LeadCreated{
				BaseEvent:   events.NewBaseEvent(),
				LeadID:      lead.ID,
				WorkspaceID: workspaceID,
				Source:      params.Source,
				IsGhost:     true,
			})
		}
	} else if err != nil {
		return result, err
	}
	result.LeadID = lead.ID

	funnelIDs, err := s.funnels.FunnelIDs(ctx, workspaceID, nil)
	if err != nil {
		return result, err
	}
	rules, err := s.funnels.RulesForFunnels(ctx, funnelIDs)
	if err != nil {
		return result, err
	}
	ruleSet := funnel.NewRuleSet(rules)

	byLead, err := s.funnels.PositionsByLeads(ctx, []uuid.UUID{lead.ID}, funnelIDs)
	if err != nil {
		return result, err
	}
	positions := byLead[lead.ID]

	candidates := candidateFunnels(positions, ruleSet.EntryFunnels(params.EventName))
	if params.FunnelID != nil {
		candidates = restrictTo(candidates, *params.FunnelID)
	}

	now := time.Now()
	occurredAt := now
	if params.OccurredAt != nil {
		occurredAt = *params.OccurredAt
	}

	var changes []funnel.Position
	for _, funnelID := range candidates {
		inserted, err := s.funnels.InsertEvent(ctx, funnel.Event{
			ID:             uuid.New(),
			LeadID:         lead.ID,
			FunnelID:       funnelID,
			EventName:      params.EventName,
			Source:         params.Source,
			Payload:        params.Payload,
			OccurredAt:     occurredAt,
			IdempotencyKey: params.IdempotencyKey,
		})
		if err != nil {
			return result, err
		}
		if !inserted {
			continue
		}
		result.EventsCreated++

		var currentStage *uuid.UUID
		if pos, ok := positions[funnelID]; ok {
			stage := pos.StageID
			currentStage = &stage
		}
		rule, ok := ruleSet.Select(funnelID, params.EventName, currentStage)
		if !ok {
			continue
		}
		result.TransitionsApplied++
		changes = append(changes, funnel.Position{
			LeadID:          lead.ID,
			FunnelID:        funnelID,
			StageID:         rule.ToStageID,
			PreviousStageID: currentStage,
			EnteredAt:       now,
			MovedBy:         funnel.MovedByWebhook,
			Source:          params.Source,
		})
	}

	if err := s.funnels.UpsertPositions(ctx, changes); err != nil {
		return result, err
	}

	if s.bus != nil {
		for _, change := range changes {
			s.bus.Publish(ctx, events.LeadStageMoved{
				BaseEvent:       events.NewBaseEvent(),
				LeadID:          change.LeadID,
				WorkspaceID:     workspaceID,
				FunnelID:        change.FunnelID,
				StageID:         change.StageID,
				PreviousStageID: change.PreviousStageID,
				MovedBy:         change.MovedBy,
			})
		}
	}
	return result, nil
}

// restrictTo keeps only the requested funnel. A funnel outside the
// candidate set stays excluded; a delivery cannot force its way into a
// funnel no rule or position admits it to.
func restrictTo(candidates []uuid.UUID, funnelID uuid.UUID) []uuid.UUID {
	for _, id := range candidates {
		if id == funnelID {
			return []uuid.UUID{funnelID}
		}
	}
	return nil
}

// candidateFunnels unions positioned funnels with first-entry funnels,
// sorted for deterministic evaluation.
func candidateFunnels(positions map[uuid.UUID]funnel.Position, entry []uuid.UUID) []uuid.UUID {
	set := make(map[uuid.UUID]bool, len(positions)+len(entry))
	for id := range positions {
		set[id] = true
	}
	for _, id := range entry {
		set[id] = true
	}

	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
