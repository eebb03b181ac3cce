package activity

import (
	"context"
	"strings"
	"testing"

	"leadtrack_backend/internal/events"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

func TestFeedRecordsSubscribedEventsNewestFirst(t *testing.T) {
	log := logger.New("development")
	bus := events.NewInMemoryBus(log)
	feed := NewFeed(10, log)
	feed.RegisterHandlers(bus)

	workspaceID := uuid.New()
	ctx := context.Background()

	if err := bus.PublishSync(ctx, events.LeadCreated{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      uuid.New(),
		WorkspaceID: workspaceID,
		Source:      "hotmart",
		IsGhost:     true,
	}); err != nil {
		t.Fatalf("publish LeadCreated failed: %v", err)
	}
	if err := bus.PublishSync(ctx, events.ImportCompleted{
		BaseEvent:   events.NewBaseEvent(),
		JobID:       uuid.New(),
		WorkspaceID: workspaceID,
		Mode:        "sale",
		TotalRows:   120,
		Ignored:     3,
	}); err != nil {
		t.Fatalf("publish ImportCompleted failed: %v", err)
	}

	entries := feed.Recent(workspaceID, 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != "imports.completed" || entries[1].Kind != "leads.created" {
		t.Fatalf("expected newest first, got %s then %s", entries[0].Kind, entries[1].Kind)
	}
	if !strings.Contains(entries[1].Message, "ghost") {
		t.Fatalf("expected ghost creation reflected in message, got %q", entries[1].Message)
	}
	if !strings.Contains(entries[0].Message, "120 rows") {
		t.Fatalf("expected row count in message, got %q", entries[0].Message)
	}
}

func TestFeedFiltersByWorkspaceAndEvictsOldest(t *testing.T) {
	log := logger.New("development")
	feed := NewFeed(3, log)

	mine := uuid.New()
	other := uuid.New()
	stages := make([]uuid.UUID, 0, 4)
	for i := 0; i < 4; i++ {
		ws := mine
		if i == 1 {
			ws = other
		}
		stageID := uuid.New()
		stages = append(stages, stageID)
		err := feed.Handle(context.Background(), events.LeadStageMoved{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      uuid.New(),
			WorkspaceID: ws,
			FunnelID:    uuid.New(),
			StageID:     stageID,
			MovedBy:     "import",
		})
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}

	all := feed.Recent(uuid.Nil, 0)
	if len(all) != 3 {
		t.Fatalf("expected eviction down to 3 entries, got %d", len(all))
	}

	filtered := feed.Recent(mine, 0)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 entries for workspace after eviction, got %d", len(filtered))
	}
	if !strings.Contains(filtered[0].Message, stages[3].String()) {
		t.Fatalf("expected newest stage first, got %q", filtered[0].Message)
	}

	limited := feed.Recent(uuid.Nil, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit respected, got %d entries", len(limited))
	}
}
