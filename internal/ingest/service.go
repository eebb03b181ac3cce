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
	"leadtrack_backend/internal/sales"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

// Event names produced by the ingestion pipeline.
const (
	EventSignup       = "signup"
	EventRepeatSignup = "repeat_signup"
)

// LeadStore is the lead persistence interface the ingestor needs.
type LeadStore interface {
	Snapshot(ctx context.Context, workspaceID uuid.UUID) ([]identity.Contact, error)
	CreateLeads(ctx context.Context, params []leadrepo.CreateLeadParams) ([]leadrepo.Lead, error)
	FindByContact(ctx context.Context, workspaceID uuid.UUID, email, phone string) (leadrepo.Lead, error)
	IncrementSignupCounts(ctx context.Context, leadIDs []uuid.UUID) error
}

// FunnelStore is the funnel persistence interface the ingestor needs.
type FunnelStore interface {
	FunnelIDs(ctx context.Context, workspaceID uuid.UUID, campaignID *uuid.UUID) ([]uuid.UUID, error)
	RulesForFunnels(ctx context.Context, funnelIDs []uuid.UUID) ([]funnel.Rule, error)
	PositionsByFunnel(ctx context.Context, funnelID uuid.UUID, leadIDs []uuid.UUID) (map[uuid.UUID]funnel.Position, error)
	PositionsByLeads(ctx context.Context, leadIDs, funnelIDs []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]funnel.Position, error)
	UpsertPositions(ctx context.Context, positions []funnel.Position) error
	InsertEvent(ctx context.Context, e funnel.Event) (bool, error)
}

// SaleStore is the sale persistence interface the ingestor needs.
type SaleStore interface {
	InsertRecords(ctx context.Context, records []sales.Record) (sales.InsertResult, error)
}

// Summary accumulates ingestion counters. Each import mode reports a
// subset; the orchestrator merges chunk summaries into one.
type Summary struct {
	TotalRows              int   `json:"totalRows"`
	Imported               int   `json:"imported"`
	Duplicates             int   `json:"duplicates"`
	NoContact              int   `json:"noContact"`
	Created                int   `json:"created"`
	DuplicateRegistrations int   `json:"duplicateRegistrations"`
	EventsCreated          int   `json:"eventsCreated"`
	Found                  int   `json:"found"`
	NotFound               int   `json:"notFound"`
	Enriched               int   `json:"enriched"`
	Ghosts                 int   `json:"ghosts"`
	Ignored                int   `json:"ignored"`
	Inserted               int   `json:"inserted"`
	InsertedPaid           int   `json:"insertedPaid"`
	InsertedRefunded       int   `json:"insertedRefunded"`
	InsertedPending        int   `json:"insertedPending"`
	RevenueCents           int64 `json:"revenueCents"`
	TransitionsApplied     int   `json:"transitionsApplied"`
	InvalidPhones          int   `json:"invalidPhones"`
}

// Merge adds another summary's counters into this one.
func (s *Summary) Merge(other Summary) {
	s.TotalRows += other.TotalRows
	s.Imported += other.Imported
	s.Duplicates += other.Duplicates
	s.NoContact += other.NoContact
	s.Created += other.Created
	s.DuplicateRegistrations += other.DuplicateRegistrations
	s.EventsCreated += other.EventsCreated
	s.Found += other.Found
	s.NotFound += other.NotFound
	s.Enriched += other.Enriched
	s.Ghosts += other.Ghosts
	s.Ignored += other.Ignored
	s.Inserted += other.Inserted
	s.InsertedPaid += other.InsertedPaid
	s.InsertedRefunded += other.InsertedRefunded
	s.InsertedPending += other.InsertedPending
	s.RevenueCents += other.RevenueCents
	s.TransitionsApplied += other.TransitionsApplied
	s.InvalidPhones += other.InvalidPhones
}

// Batch carries the per-import mutable state: the identity index seeded
// from the workspace snapshot and mutated as leads are staged, the loaded
// rule set, the resolved field map, and bookkeeping for batch-created
// leads. A Batch is owned by exactly one import and processed one chunk at
// a time; it is never shared across goroutines.
type Batch struct {
	WorkspaceID uuid.UUID
	Index       *identity.Index
	Rules       *funnel.RuleSet
	Fields      FieldMap

	// created holds leads staged by this batch, ghost or not. A sale row
	// resolving to one of them is neither "enriched" nor a new ghost.
	created map[uuid.UUID]bool

	// remap translates a staged lead ID to the stored one when a
	// concurrent writer created the same contact first.
	remap map[uuid.UUID]uuid.UUID

	now func() time.Time
}

func (b *Batch) finalID(id uuid.UUID) uuid.UUID {
	if final, ok := b.remap[id]; ok {
		return final
	}
	return id
}

func (b *Batch) resolve(email, phone string) (uuid.UUID, bool) {
	id, ok := b.Index.Resolve(email, phone)
	if !ok {
		return uuid.Nil, false
	}
	return b.finalID(id), true
}

// stageLead hands out an ID for a new lead and registers its contact keys
// so later rows for the same person resolve to it.
func (b *Batch) stageLead(row ContactRow, source string, ghost bool) leadrepo.CreateLeadParams {
	p := leadrepo.CreateLeadParams{
		ID:          uuid.New(),
		WorkspaceID: b.WorkspaceID,
		Email:       row.Email,
		Phone:       row.Phone,
		Name:        row.Name,
		Source:      source,
		IsGhost:     ghost,
	}
	b.Index.Add(identity.Contact{LeadID: p.ID, Email: row.Email, Phone: row.Phone})
	b.created[p.ID] = true
	return p
}

// Service drives ingestion for one workspace at a time.
type Service struct {
	leads   LeadStore
	funnels FunnelStore
	sales   SaleStore
	bus     events.Bus
	log     *logger.Logger
}

// NewService creates the ingestion service. bus may be nil; lead and stage
// events are then simply not published.
func NewService(leads LeadStore, funnels FunnelStore, sales SaleStore, bus events.Bus, log *logger.Logger) *Service {
	return &Service{leads: leads, funnels: funnels, sales: sales, bus: bus, log: log}
}

// PrepareBatch loads the workspace's identity snapshot and transition rules
// and resolves the field map. Done once per import, before any chunk runs.
func (s *Service) PrepareBatch(ctx context.Context, workspaceID uuid.UUID, header []string, overrides map[string]string) (*Batch, error) {
	contacts, err := s.leads.Snapshot(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	funnelIDs, err := s.funnels.FunnelIDs(ctx, workspaceID, nil)
	if err != nil {
		return nil, err
	}
	rules, err := s.funnels.RulesForFunnels(ctx, funnelIDs)
	if err != nil {
		return nil, err
	}

	return &Batch{
		WorkspaceID: workspaceID,
		Index:       identity.NewIndex(contacts),
		Rules:       funnel.NewRuleSet(rules),
		Fields:      BuildFieldMap(header, overrides),
		created:     make(map[uuid.UUID]bool),
		remap:       make(map[uuid.UUID]uuid.UUID),
		now:         time.Now,
	}, nil
}

// EventFunnels lists the funnels an event-only import may touch,
// optionally restricted to one campaign. Resolved once per import.
func (s *Service) EventFunnels(ctx context.Context, workspaceID uuid.UUID, campaignID *uuid.UUID) ([]uuid.UUID, error) {
	return s.funnels.FunnelIDs(ctx, workspaceID, campaignID)
}

// persistStaged creates staged leads and records ID remaps for contacts a
// concurrent writer created first. Staged IDs that lost the race stop
// counting as batch-created.
func (s *Service) persistStaged(ctx context.Context, b *Batch, staged []leadrepo.CreateLeadParams) error {
	if len(staged) == 0 {
		return nil
	}
	leads, err := s.leads.CreateLeads(ctx, staged)
	if err != nil {
		return err
	}
	for i, lead := range leads {
		if lead.ID != staged[i].ID {
			b.remap[staged[i].ID] = lead.ID
			delete(b.created, staged[i].ID)
		}
	}
	return nil
}

// ImportContactsChunk stages one chunk of a contact-list import into a
// funnel stage. A contact already positioned in the target funnel counts as
// a duplicate; a known contact not yet in the funnel and a brand new
// contact both count as imported.
func (s *Service) ImportContactsChunk(ctx context.Context, b *Batch, funnelID, stageID uuid.UUID, records [][]string) (Summary, []uuid.UUID, error) {
	var sum Summary
	sum.TotalRows = len(records)

	var staged []leadrepo.CreateLeadParams
	var foundIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)

	for _, record := range records {
		row, err := ParseContactRow(b.Fields, record)
		if err != nil {
			sum.NoContact++
			continue
		}
		if row.Phone != "" && !identity.PhoneLooksValid(row.Phone) {
			sum.InvalidPhones++
		}

		if id, ok := b.resolve(row.Email, row.Phone); ok {
			if seen[id] {
				sum.Duplicates++
				continue
			}
			seen[id] = true
			foundIDs = append(foundIDs, id)
			continue
		}

		p := b.stageLead(row, leadrepo.SourceImport, false)
		seen[p.ID] = true
		staged = append(staged, p)
		sum.Imported++
	}

	positioned, err := s.funnels.PositionsByFunnel(ctx, funnelID, foundIDs)
	if err != nil {
		return sum, nil, err
	}

	var toPosition []uuid.UUID
	for _, id := range foundIDs {
		if _, ok := positioned[id]; ok {
			sum.Duplicates++
			continue
		}
		sum.Imported++
		toPosition = append(toPosition, id)
	}

	if err := s.persistStaged(ctx, b, staged); err != nil {
		return sum, nil, err
	}
	for _, p := range staged {
		toPosition = append(toPosition, b.finalID(p.ID))
	}

	now := b.now()
	positions := make([]funnel.Position, 0, len(toPosition))
	for _, leadID := range toPosition {
		positions = append(positions, funnel.Position{
			LeadID:    leadID,
			FunnelID:  funnelID,
			StageID:   stageID,
			EnteredAt: now,
			MovedBy:   funnel.MovedByImport,
			Source:    leadrepo.SourceImport,
		})
	}
	if err := s.funnels.UpsertPositions(ctx, positions); err != nil {
		return sum, nil, err
	}
	return sum, toPosition, nil
}

// BackfillChunk replays one chunk of a historical contact list. Every row
// becomes an individual dated event: a contact already in the funnel gets a
// repeat-signup event and a signup-counter bump instead of being silently
// merged; everyone else is positioned and gets a signup event.
func (s *Service) BackfillChunk(ctx context.Context, b *Batch, funnelID, stageID uuid.UUID, records [][]string) (Summary, []uuid.UUID, error) {
	var sum Summary
	sum.TotalRows = len(records)

	type pendingEvent struct {
		leadID     uuid.UUID // staged or final
		name       string
		occurredAt time.Time
	}

	var staged []leadrepo.CreateLeadParams
	var foundRows []struct {
		id   uuid.UUID
		date *time.Time
	}
	var events []pendingEvent
	now := b.now()

	// seenNew tracks leads first registered by this chunk, whether staged
	// here or resolved to a store row with no funnel position yet. A later
	// row for the same contact is a repeat registration, not a new one.
	seenNew := make(map[uuid.UUID]bool)

	for _, record := range records {
		row, err := ParseContactRow(b.Fields, record)
		if err != nil {
			sum.NoContact++
			continue
		}

		if id, ok := b.resolve(row.Email, row.Phone); ok {
			foundRows = append(foundRows, struct {
				id   uuid.UUID
				date *time.Time
			}{id, row.Date})
			continue
		}

		p := b.stageLead(row, leadrepo.SourceImport, false)
		seenNew[p.ID] = true
		staged = append(staged, p)
		sum.Created++
		events = append(events, pendingEvent{p.ID, EventSignup, eventTime(row.Date, now)})
	}

	foundIDs := make([]uuid.UUID, 0, len(foundRows))
	for _, fr := range foundRows {
		foundIDs = append(foundIDs, fr.id)
	}
	positioned, err := s.funnels.PositionsByFunnel(ctx, funnelID, foundIDs)
	if err != nil {
		return sum, nil, err
	}

	var toPosition []uuid.UUID
	var repeats []uuid.UUID
	for _, fr := range foundRows {
		_, inFunnel := positioned[fr.id]
		if inFunnel || seenNew[fr.id] {
			sum.DuplicateRegistrations++
			repeats = append(repeats, fr.id)
			events = append(events, pendingEvent{fr.id, EventRepeatSignup, eventTime(fr.date, now)})
			continue
		}
		seenNew[fr.id] = true
		sum.Created++
		toPosition = append(toPosition, fr.id)
		events = append(events, pendingEvent{fr.id, EventSignup, eventTime(fr.date, now)})
	}

	if err := s.persistStaged(ctx, b, staged); err != nil {
		return sum, nil, err
	}
	for _, p := range staged {
		toPosition = append(toPosition, b.finalID(p.ID))
	}
	// Repeats resolved against a staged ID carry it until persistStaged
	// assigns the final one.
	for i, id := range repeats {
		repeats[i] = b.finalID(id)
	}

	positions := make([]funnel.Position, 0, len(toPosition))
	for _, leadID := range toPosition {
		positions = append(positions, funnel.Position{
			LeadID:    leadID,
			FunnelID:  funnelID,
			StageID:   stageID,
			EnteredAt: now,
			MovedBy:   funnel.MovedByImport,
			Source:    leadrepo.SourceImport,
		})
	}
	if err := s.funnels.UpsertPositions(ctx, positions); err != nil {
		return sum, nil, err
	}

	for _, pe := range events {
		inserted, err := s.funnels.InsertEvent(ctx, funnel.Event{
			ID:         uuid.New(),
			LeadID:     b.finalID(pe.leadID),
			FunnelID:   funnelID,
			EventName:  pe.name,
			Source:     leadrepo.SourceImport,
			OccurredAt: pe.occurredAt,
		})
		if err != nil {
			return sum, nil, err
		}
		if inserted {
			sum.EventsCreated++
		}
	}

	if err := s.leads.IncrementSignupCounts(ctx, repeats); err != nil {
		return sum, nil, err
	}

	touched := append(toPosition, repeats...)
	return sum, touched, nil
}

// EventChunk applies a named event to every resolved contact of one chunk.
// Unmatched contacts are only counted; event-only mode never creates leads.
// Events are appended per funnel the lead is positioned in, restricted to
// candidateFunnels, and each inserted event is offered to the rule engine.
func (s *Service) EventChunk(ctx context.Context, b *Batch, eventName string, candidateFunnels []uuid.UUID, records [][]string) (Summary, []uuid.UUID, error) {
	var sum Summary
	sum.TotalRows = len(records)

	var leadIDs []uuid.UUID
	leadDates := make(map[uuid.UUID]*time.Time)
	for _, record := range records {
		row, err := ParseContactRow(b.Fields, record)
		if err != nil {
			sum.NoContact++
			continue
		}

		id, ok := b.resolve(row.Email, row.Phone)
		if !ok {
			sum.NotFound++
			continue
		}
		sum.Found++
		if _, dup := leadDates[id]; dup {
			continue
		}
		leadDates[id] = row.Date
		leadIDs = append(leadIDs, id)
	}

	byLead, err := s.funnels.PositionsByLeads(ctx, leadIDs, candidateFunnels)
	if err != nil {
		return sum, nil, err
	}

	now := b.now()
	var changes []funnel.Position
	for _, leadID := range leadIDs {
		positions := byLead[leadID]
		funnelIDs := make([]uuid.UUID, 0, len(positions))
		for funnelID := range positions {
			funnelIDs = append(funnelIDs, funnelID)
		}
		sort.Slice(funnelIDs, func(i, j int) bool { return funnelIDs[i].String() < funnelIDs[j].String() })

		for _, funnelID := range funnelIDs {
			pos := positions[funnelID]
			inserted, err := s.funnels.InsertEvent(ctx, funnel.Event{
				ID:         uuid.New(),
				LeadID:     leadID,
				FunnelID:   funnelID,
				EventName:  eventName,
				Source:     leadrepo.SourceImport,
				OccurredAt: eventTime(leadDates[leadID], now),
			})
			if err != nil {
				return sum, nil, err
			}
			if !inserted {
				continue
			}
			sum.EventsCreated++

			stage := pos.StageID
			rule, ok := b.Rules.Select(funnelID, eventName, &stage)
			if !ok {
				continue
			}
			sum.TransitionsApplied++
			changes = append(changes, funnel.Position{
				LeadID:          leadID,
				FunnelID:        funnelID,
				StageID:         rule.ToStageID,
				PreviousStageID: &stage,
				EnteredAt:       now,
				MovedBy:         funnel.MovedByImport,
				Source:          leadrepo.SourceImport,
			})
		}
	}

	if err := s.funnels.UpsertPositions(ctx, changes); err != nil {
		return sum, nil, err
	}
	return sum, leadIDs, nil
}

// SaleChunk ingests one chunk of a sales-platform export. Unmatched buyers
// become ghost leads, deduplicated across the whole batch so N sales from
// one unknown buyer create exactly one ghost. Records are persisted behind
// the invoice uniqueness constraint; re-imports count as duplicates.
func (s *Service) SaleChunk(ctx context.Context, b *Batch, platform string, records [][]string) (Summary, []uuid.UUID, error) {
	var sum Summary
	sum.TotalRows = len(records)

	var staged []leadrepo.CreateLeadParams
	var pending []sales.Record
	now := b.now()

	for _, record := range records {
		row, err := ParseSaleRow(b.Fields, record)
		if errors.Is(err, errNoContact) {
			sum.NoContact++
			continue
		}
		if err != nil {
			sum.Ignored++
			continue
		}
		if row.Contact.Phone != "" && !identity.PhoneLooksValid(row.Contact.Phone) {
			sum.InvalidPhones++
		}

		leadID, ok := b.resolve(row.Contact.Email, row.Contact.Phone)
		switch {
		case ok && !b.created[leadID]:
			sum.Enriched++
		case !ok:
			p := b.stageLead(row.Contact, platform, true)
			staged = append(staged, p)
			leadID = p.ID
			sum.Ghosts++
		}

		invoiceID := row.InvoiceID
		if invoiceID == "" {
			// No invoice means no platform-side dedup key. A generated one
			// keeps the row from colliding with other keyless rows.
			invoiceID = uuid.NewString()
		}

		paidAt := row.PaidAt
		if paidAt == nil && row.Status == sales.StatusPaid {
			paidAt = &now
		}

		pending = append(pending, sales.Record{
			ID:                   uuid.New(),
			WorkspaceID:          b.WorkspaceID,
			LeadID:               leadID,
			Platform:             platform,
			ExternalInvoiceID:    invoiceID,
			ProductName:          row.Product,
			GrossValueCents:      row.GrossValueCents,
			NetValueCents:        row.NetValueCents,
			Status:               row.Status,
			PaidAt:               paidAt,
			IsSubscription:       row.IsSubscription,
			SubscriptionContract: row.SubscriptionContract,
			UTMSource:            row.UTMSource,
			UTMMedium:            row.UTMMedium,
			UTMCampaign:          row.UTMCampaign,
			UTMContent:           row.UTMContent,
			UTMTerm:              row.UTMTerm,
		})
	}

	if err := s.persistStaged(ctx, b, staged); err != nil {
		return sum, nil, err
	}

	touched := make([]uuid.UUID, 0, len(pending))
	seen := make(map[uuid.UUID]bool)
	for i := range pending {
		pending[i].LeadID = b.finalID(pending[i].LeadID)
		if !seen[pending[i].LeadID] {
			seen[pending[i].LeadID] = true
			touched = append(touched, pending[i].LeadID)
		}
	}

	result, err := s.sales.InsertRecords(ctx, pending)
	if err != nil {
		return sum, nil, err
	}
	sum.Inserted = result.Inserted
	sum.Duplicates += result.Duplicates
	sum.InsertedPaid = result.InsertedPaid
	sum.InsertedRefunded = result.InsertedRefunded
	sum.InsertedPending = result.InsertedPending
	sum.RevenueCents = result.RevenueCents

	return sum, touched, nil
}

func eventTime(rowDate *time.Time, now time.Time) time.Time {
	if rowDate != nil {
		return *rowDate
	}
	return now
}
