package webhook

import (
	"context"
	"time"

	"leadtrack_backend/internal/ingest"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

// EventProcessor is the slice of the ingestion pipeline webhook delivery
// needs: resolve one contact, record the event, run the rule engine.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, workspaceID uuid.UUID, params ingest.EventParams) (ingest.EventResult, error)
}

// EventDelivery is one inbound webhook event. FunnelID optionally pins the
// event to a single funnel.
type EventDelivery struct {
	Email          string
	Phone          string
	Name           string
	EventName      string
	FunnelID       *uuid.UUID
	Payload        map[string]any
	IdempotencyKey string
	OccurredAt     *time.Time
}

// Service processes inbound webhook events.
type Service struct {
	processor EventProcessor
	log       *logger.Logger
}

// NewService creates a new webhook service.
func NewService(processor EventProcessor, log *logger.Logger) *Service {
	return &Service{processor: processor, log: log}
}

// ProcessDelivery applies one delivery to the workspace the API key is
// scoped to. Redelivery with the same idempotency key is a successful
// no-op.
func (s *Service) ProcessDelivery(ctx context.Context, workspaceID uuid.UUID, delivery EventDelivery) (ingest.EventResult, error) {
	result, err := s.processor.ProcessEvent(ctx, workspaceID, ingest.EventParams{
		Email:          delivery.Email,
		Phone:          delivery.Phone,
		Name:           delivery.Name,
		EventName:      delivery.EventName,
		Source:         "webhook",
		FunnelID:       delivery.FunnelID,
		Payload:        delivery.Payload,
		IdempotencyKey: delivery.IdempotencyKey,
		OccurredAt:     delivery.OccurredAt,
	})
	if err != nil {
		return result, err
	}

	s.log.Info("webhook event processed",
		"workspaceId", workspaceID.String(),
		"event", delivery.EventName,
		"leadId", result.LeadID.String(),
		"leadCreated", result.LeadCreated,
		"transitions", result.TransitionsApplied,
	)
	return result, nil
}
