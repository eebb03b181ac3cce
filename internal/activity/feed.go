// Package activity consumes domain events off the bus and keeps a bounded
// in-memory feed of recent workspace activity, alongside a structured log
// line per event.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadtrack_backend/internal/events"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

// DefaultFeedSize is how many entries the feed retains before evicting the
// oldest.
const DefaultFeedSize = 200

// Entry is one recorded activity item.
type Entry struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Feed subscribes to lead and import events and records them most-recent
// first.
type Feed struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	log     *logger.Logger
}

// NewFeed creates an activity feed retaining up to size entries.
func NewFeed(size int, log *logger.Logger) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{size: size, log: log}
}

// RegisterHandlers subscribes the feed to the domain events it records.
func (f *Feed) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadCreated{}.EventName(), f)
	bus.Subscribe(events.LeadStageMoved{}.EventName(), f)
	bus.Subscribe(events.ImportCompleted{}.EventName(), f)

	f.log.Info("activity feed registered event handlers")
}

// Handle routes events to the appropriate recorder.
func (f *Feed) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadCreated:
		return f.handleLeadCreated(e)
	case events.LeadStageMoved:
		return f.handleLeadStageMoved(e)
	case events.ImportCompleted:
		return f.handleImportCompleted(e)
	}
	return nil
}

func (f *Feed) handleLeadCreated(e events.LeadCreated) error {
	msg := "lead created"
	if e.IsGhost {
		msg = "ghost lead created"
	}
	f.record(Entry{
		WorkspaceID: e.WorkspaceID,
		Kind:        e.EventName(),
		Message:     fmt.Sprintf("%s via %s", msg, e.Source),
		OccurredAt:  e.OccurredAt(),
	})
	f.log.Info("activity: lead created",
		"workspaceId", e.WorkspaceID, "leadId", e.LeadID,
		"source", e.Source, "ghost", e.IsGhost)
	return nil
}

func (f *Feed) handleLeadStageMoved(e events.LeadStageMoved) error {
	f.record(Entry{
		WorkspaceID: e.WorkspaceID,
		Kind:        e.EventName(),
		Message:     fmt.Sprintf("lead moved to stage %s by %s", e.StageID, e.MovedBy),
		OccurredAt:  e.OccurredAt(),
	})
	f.log.Info("activity: lead stage moved",
		"workspaceId", e.WorkspaceID, "leadId", e.LeadID,
		"funnelId", e.FunnelID, "stageId", e.StageID, "movedBy", e.MovedBy)
	return nil
}

func (f *Feed) handleImportCompleted(e events.ImportCompleted) error {
	f.record(Entry{
		WorkspaceID: e.WorkspaceID,
		Kind:        e.EventName(),
		Message:     fmt.Sprintf("%s import finished: %d rows, %d ignored", e.Mode, e.TotalRows, e.Ignored),
		OccurredAt:  e.OccurredAt(),
	})
	f.log.Info("activity: import completed",
		"workspaceId", e.WorkspaceID, "jobId", e.JobID,
		"mode", e.Mode, "totalRows", e.TotalRows, "ignored", e.Ignored)
	return nil
}

func (f *Feed) record(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append([]Entry{entry}, f.entries...)
	if len(f.entries) > f.size {
		f.entries = f.entries[:f.size]
	}
}

// Recent returns up to limit entries, newest first, optionally filtered by
// workspace. A zero workspace ID matches every entry.
func (f *Feed) Recent(workspaceID uuid.UUID, limit int) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit <= 0 || limit > len(f.entries) {
		limit = len(f.entries)
	}
	out := make([]Entry, 0, limit)
	for _, e := range f.entries {
		if workspaceID != uuid.Nil && e.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Compile-time check that Feed implements events.Handler
var _ events.Handler = (*Feed)(nil)
