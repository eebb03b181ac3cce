package ingest

import (
	"context"
	"testing"
	"time"

	"leadtrack_backend/internal/funnel"
	"leadtrack_backend/internal/identity"
	leadrepo "leadtrack_backend/internal/identity/repository"
	"leadtrack_backend/internal/sales"
	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeLeadStore struct {
	contacts       []identity.Contact
	stored         []leadrepo.Lead
	createdParams  []leadrepo.CreateLeadParams
	createOverride func(p leadrepo.CreateLeadParams) leadrepo.Lead
	signupBumps    []uuid.UUID
}

func (f *fakeLeadStore) Snapshot(ctx context.Context, workspaceID uuid.UUID) ([]identity.Contact, error) {
	return f.contacts, nil
}

func (f *fakeLeadStore) CreateLeads(ctx context.Context, params []leadrepo.CreateLeadParams) ([]leadrepo.Lead, error) {
	leads := make([]leadrepo.Lead, 0, len(params))
	for _, p := range params {
		f.createdParams = append(f.createdParams, p)
		lead := leadrepo.Lead{
			ID: p.ID, WorkspaceID: p.WorkspaceID,
			Email: p.Email, Phone: p.Phone, Name: p.Name,
			Source: p.Source, IsGhost: p.IsGhost,
		}
		if f.createOverride != nil {
			lead = f.createOverride(p)
		}
		f.stored = append(f.stored, lead)
		leads = append(leads, lead)
	}
	return leads, nil
}

func (f *fakeLeadStore) FindByContact(ctx context.Context, workspaceID uuid.UUID, email, phone string) (leadrepo.Lead, error) {
	if email != "" {
		for _, l := range f.stored {
			if l.Email == email {
				return l, nil
			}
		}
	}
	if phone != "" {
		for _, l := range f.stored {
			if l.Phone == phone {
				return l, nil
			}
		}
	}
	return leadrepo.Lead{}, leadrepo.ErrNotFound
}

func (f *fakeLeadStore) IncrementSignupCounts(ctx context.Context, leadIDs []uuid.UUID) error {
	f.signupBumps = append(f.signupBumps, leadIDs...)
	return nil
}

type fakeFunnelStore struct {
	funnelIDs []uuid.UUID
	rules     []funnel.Rule

	// positions is funnelID -> leadID -> position, updated by upserts.
	positions map[uuid.UUID]map[uuid.UUID]funnel.Position
	upserts   []funnel.Position

	events        []funnel.Event
	seenKeys      map[string]bool
	rejectInserts bool
}

func newFakeFunnelStore(funnelIDs []uuid.UUID, rules []funnel.Rule) *fakeFunnelStore {
	return &fakeFunnelStore{
		funnelIDs: funnelIDs,
		rules:     rules,
		positions: make(map[uuid.UUID]map[uuid.UUID]funnel.Position),
		seenKeys:  make(map[string]bool),
	}
}

func (f *fakeFunnelStore) setPosition(pos funnel.Position) {
	if f.positions[pos.FunnelID] == nil {
		f.positions[pos.FunnelID] = make(map[uuid.UUID]funnel.Position)
	}
	f.positions[pos.FunnelID][pos.LeadID] = pos
}

func (f *fakeFunnelStore) FunnelIDs(ctx context.Context, workspaceID uuid.UUID, campaignID *uuid.UUID) ([]uuid.UUID, error) {
	return f.funnelIDs, nil
}

func (f *fakeFunnelStore) RulesForFunnels(ctx context.Context, funnelIDs []uuid.UUID) ([]funnel.Rule, error) {
	return f.rules, nil
}

func (f *fakeFunnelStore) PositionsByFunnel(ctx context.Context, funnelID uuid.UUID, leadIDs []uuid.UUID) (map[uuid.UUID]funnel.Position, error) {
	out := make(map[uuid.UUID]funnel.Position)
	for _, id := range leadIDs {
		if pos, ok := f.positions[funnelID][id]; ok {
			out[id] = pos
		}
	}
	return out, nil
}

func (f *fakeFunnelStore) PositionsByLeads(ctx context.Context, leadIDs, funnelIDs []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]funnel.Position, error) {
	out := make(map[uuid.UUID]map[uuid.UUID]funnel.Position)
	for _, funnelID := range funnelIDs {
		for _, leadID := range leadIDs {
			if pos, ok := f.positions[funnelID][leadID]; ok {
				if out[leadID] == nil {
					out[leadID] = make(map[uuid.UUID]funnel.Position)
				}
				out[leadID][funnelID] = pos
			}
		}
	}
	return out, nil
}

func (f *fakeFunnelStore) UpsertPositions(ctx context.Context, positions []funnel.Position) error {
	for _, pos := range positions {
		f.upserts = append(f.upserts, pos)
		f.setPosition(pos)
	}
	return nil
}

func (f *fakeFunnelStore) InsertEvent(ctx context.Context, e funnel.Event) (bool, error) {
	if f.rejectInserts {
		return false, nil
	}
	if e.IdempotencyKey != "" {
		key := e.FunnelID.String() + "|" + e.IdempotencyKey
		if f.seenKeys[key] {
			return false, nil
		}
		f.seenKeys[key] = true
	}
	f.events = append(f.events, e)
	return true, nil
}

type fakeSaleStore struct {
	records  []sales.Record
	invoices map[string]bool
}

func newFakeSaleStore() *fakeSaleStore {
	return &fakeSaleStore{invoices: make(map[string]bool)}
}

func (f *fakeSaleStore) InsertRecords(ctx context.Context, records []sales.Record) (sales.InsertResult, error) {
	var result sales.InsertResult
	for _, r := range records {
		key := r.Platform + "|" + r.ExternalInvoiceID
		if f.invoices[key] {
			result.Duplicates++
			continue
		}
		f.invoices[key] = true
		f.records = append(f.records, r)
		result.Inserted++
		switch r.Status {
		case sales.StatusPaid:
			result.InsertedPaid++
			result.RevenueCents += r.NetValueCents
		case sales.StatusRefunded:
			result.InsertedRefunded++
		case sales.StatusPending:
			result.InsertedPending++
		}
	}
	return result, nil
}

func newTestService(leads *fakeLeadStore, funnels *fakeFunnelStore, saleStore *fakeSaleStore) *Service {
	return NewService(leads, funnels, saleStore, nil, logger.New("development"))
}

func prepareTestBatch(t *testing.T, svc *Service, header []string) *Batch {
	t.Helper()
	b, err := svc.PrepareBatch(context.Background(), uuid.New(), header, nil)
	if err != nil {
		t.Fatalf("PrepareBatch failed: %v", err)
	}
	return b
}

func TestSaleChunkCreatesOneGhostPerUnknownBuyer(t *testing.T) {
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore(nil, nil)
	saleStore := newFakeSaleStore()
	svc := newTestService(leads, funnels, saleStore)
	b := prepareTestBatch(t, svc, []string{"email", "invoice_id", "gross_value", "status"})

	sum, touched, err := svc.SaleChunk(context.Background(), b, "kiwify", [][]string{
		{"novo@example.com", "inv-1", "197,00", "Aprovado"},
		{"novo@example.com", "inv-2", "97,00", "Aprovado"},
	})
	if err != nil {
		t.Fatalf("SaleChunk failed: %v", err)
	}

	if sum.Ghosts != 1 {
		t.Fatalf("expected 1 ghost for the same unknown buyer, got %d", sum.Ghosts)
	}
	if sum.Enriched != 0 {
		t.Fatalf("expected 0 enriched, got %d", sum.Enriched)
	}
	if sum.Inserted != 2 {
		t.Fatalf("expected both records inserted, got %d", sum.Inserted)
	}
	if len(leads.createdParams) != 1 {
		t.Fatalf("expected exactly one lead created, got %d", len(leads.createdParams))
	}
	ghost := leads.createdParams[0]
	if !ghost.IsGhost || ghost.Source != "kiwify" {
		t.Fatalf("expected a ghost sourced from the platform, got ghost=%v source=%q", ghost.IsGhost, ghost.Source)
	}
	if saleStore.records[0].LeadID != saleStore.records[1].LeadID {
		t.Fatal("expected both sale records to attach to the same lead")
	}
	if len(touched) != 1 {
		t.Fatalf("expected one touched lead, got %d", len(touched))
	}
}

func TestSaleChunkEnrichesExistingLead(t *testing.T) {
	existing := uuid.New()
	leads := &fakeLeadStore{
		contacts: []identity.Contact{{LeadID: existing, Email: "ana@example.com"}},
	}
	funnels := newFakeFunnelStore(nil, nil)
	saleStore := newFakeSaleStore()
	svc := newTestService(leads, funnels, saleStore)
	b := prepareTestBatch(t, svc, []string{"email", "invoice_id", "gross_value", "status"})

	sum, _, err := svc.SaleChunk(context.Background(), b, "hotmart", [][]string{
		{"ana@example.com", "inv-9", "50,00", "Aprovado"},
	})
	if err != nil {
		t.Fatalf("SaleChunk failed: %v", err)
	}

	if sum.Enriched != 1 || sum.Ghosts != 0 {
		t.Fatalf("expected enriched=1 ghosts=0, got enriched=%d ghosts=%d", sum.Enriched, sum.Ghosts)
	}
	if len(leads.createdParams) != 0 {
		t.Fatal("expected no lead creation for a known contact")
	}
	if saleStore.records[0].LeadID != existing {
		t.Fatalf("expected record attached to existing lead %s, got %s", existing, saleStore.records[0].LeadID)
	}
}

func TestSaleChunkReimportCountsDuplicates(t *testing.T) {
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore(nil, nil)
	saleStore := newFakeSaleStore()
	saleStore.invoices["kiwify|inv-1"] = true
	svc := newTestService(leads, funnels, saleStore)
	b := prepareTestBatch(t, svc, []string{"email", "invoice_id", "gross_value", "status"})

	sum, _, err := svc.SaleChunk(context.Background(), b, "kiwify", [][]string{
		{"ana@example.com", "inv-1", "197,00", "Aprovado"},
		{"ana@example.com", "inv-2", "97,00", "Aprovado"},
	})
	if err != nil {
		t.Fatalf("SaleChunk failed: %v", err)
	}
	if sum.Inserted != 1 || sum.Duplicates != 1 {
		t.Fatalf("expected inserted=1 duplicates=1, got inserted=%d duplicates=%d", sum.Inserted, sum.Duplicates)
	}
}

func TestSaleChunkStatusCountersAndRevenue(t *testing.T) {
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore(nil, nil)
	saleStore := newFakeSaleStore()
	svc := newTestService(leads, funnels, saleStore)
	b := prepareTestBatch(t, svc, []string{"email", "invoice_id", "net_value", "status"})

	sum, _, err := svc.SaleChunk(context.Background(), b, "kiwify", [][]string{
		{"a@example.com", "i1", "197,00", "Aprovado"},
		{"b@example.com", "i2", "97,00", "Reembolsado"},
		{"c@example.com", "i3", "47,00", "Pendente"},
	})
	if err != nil {
		t.Fatalf("SaleChunk failed: %v", err)
	}
	if sum.InsertedPaid != 1 || sum.InsertedRefunded != 1 || sum.InsertedPending != 1 {
		t.Fatalf("unexpected status counters: %+v", sum)
	}
	if sum.RevenueCents != 19700 {
		t.Fatalf("expected revenue 19700 cents from paid records only, got %d", sum.RevenueCents)
	}
	for _, r := range saleStore.records {
		if r.Status == sales.StatusPaid && r.PaidAt == nil {
			t.Fatal("expected paid record to default paid_at")
		}
	}
}

func TestSaleChunkKeylessRowsGetDistinctInvoiceIDs(t *testing.T) {
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore(nil, nil)
	saleStore := newFakeSaleStore()
	svc := newTestService(leads, funnels, saleStore)
	b := prepareTestBatch(t, svc, []string{"email", "invoice_id", "gross_value"})

	sum, _, err := svc.SaleChunk(context.Background(), b, "manual", [][]string{
		{"a@example.com", "", "10,00"},
		{"b@example.com", "", "20,00"},
	})
	if err != nil {
		t.Fatalf("SaleChunk failed: %v", err)
	}
	if sum.Inserted != 2 {
		t.Fatalf("expected both keyless rows inserted, got %d", sum.Inserted)
	}
	if saleStore.records[0].ExternalInvoiceID == "" ||
		saleStore.records[0].ExternalInvoiceID == saleStore.records[1].ExternalInvoiceID {
		t.Fatal("expected generated, distinct invoice ids for keyless rows")
	}
}

func TestSaleChunkRowErrorsAreCountedNotFatal(t *testing.T) {
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore(nil, nil)
	saleStore := newFakeSaleStore()
	svc := newTestService(leads, funnels, saleStore)
	b := prepareTestBatch(t, svc, []string{"email", "invoice_id", "gross_value"})

	sum, _, err := svc.SaleChunk(context.Background(), b, "kiwify", [][]string{
		{"", "i1", "10,00"},
		{"a@example.com", "i2", "not money"},
		{"b@example.com", "i3", "30,00"},
	})
	if err != nil {
		t.Fatalf("SaleChunk failed: %v", err)
	}
	if sum.NoContact != 1 || sum.Ignored != 1 || sum.Inserted != 1 {
		t.Fatalf("expected noContact=1 ignored=1 inserted=1, got %+v", sum)
	}
}

func TestImportContactsChunkSplitsImportsAndDuplicates(t *testing.T) {
	funnelID := uuid.New()
	stageID := uuid.New()
	positionedLead := uuid.New()
	knownLead := uuid.New()

	leads := &fakeLeadStore{contacts: []identity.Contact{
		{LeadID: positionedLead, Email: "alice@example.com"},
		{LeadID: knownLead, Email: "bob@example.com"},
	}}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, nil)
	funnels.setPosition(funnel.Position{LeadID: positionedLead, FunnelID: funnelID, StageID: stageID})
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email", "nome"})

	sum, touched, err := svc.ImportContactsChunk(context.Background(), b, funnelID, stageID, [][]string{
		{"alice@example.com", "Alice"},
		{"bob@example.com", "Bob"},
		{"bob@example.com", "Bob again"},
		{"carol@example.com", "Carol"},
		{"", ""},
	})
	if err != nil {
		t.Fatalf("ImportContactsChunk failed: %v", err)
	}

	if sum.TotalRows != 5 {
		t.Fatalf("expected 5 total rows, got %d", sum.TotalRows)
	}
	if sum.NoContact != 1 {
		t.Fatalf("expected 1 no-contact row, got %d", sum.NoContact)
	}
	// Alice is already positioned, Bob's second row repeats within the chunk.
	if sum.Duplicates != 2 {
		t.Fatalf("expected 2 duplicates, got %d", sum.Duplicates)
	}
	// Bob joins the funnel, Carol is brand new.
	if sum.Imported != 2 {
		t.Fatalf("expected 2 imported, got %d", sum.Imported)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 leads positioned, got %d", len(touched))
	}
	for _, pos := range funnels.upserts {
		if pos.StageID != stageID || pos.MovedBy != funnel.MovedByImport {
			t.Fatalf("unexpected upserted position: %+v", pos)
		}
	}
}

func TestImportContactsChunkRemapsStagedLeadWhenStoreWins(t *testing.T) {
	funnelID := uuid.New()
	stageID := uuid.New()
	winner := uuid.New()

	leads := &fakeLeadStore{
		createOverride: func(p leadrepo.CreateLeadParams) leadrepo.Lead {
			// A concurrent writer already owns this contact.
			return leadrepo.Lead{ID: winner, Email: p.Email, Phone: p.Phone}
		},
	}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, nil)
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email"})

	_, touched, err := svc.ImportContactsChunk(context.Background(), b, funnelID, stageID, [][]string{
		{"nova@example.com"},
	})
	if err != nil {
		t.Fatalf("ImportContactsChunk failed: %v", err)
	}
	if len(touched) != 1 || touched[0] != winner {
		t.Fatalf("expected position attributed to store winner %s, got %v", winner, touched)
	}
	if len(funnels.upserts) != 1 || funnels.upserts[0].LeadID != winner {
		t.Fatalf("expected upsert for winner lead, got %+v", funnels.upserts)
	}
}

func TestBackfillChunkNewAndRepeatContacts(t *testing.T) {
	funnelID := uuid.New()
	stageID := uuid.New()
	repeatLead := uuid.New()

	leads := &fakeLeadStore{contacts: []identity.Contact{
		{LeadID: repeatLead, Email: "velha@example.com"},
	}}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, nil)
	funnels.setPosition(funnel.Position{LeadID: repeatLead, FunnelID: funnelID, StageID: stageID})
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email", "data"})

	sum, touched, err := svc.BackfillChunk(context.Background(), b, funnelID, stageID, [][]string{
		{"velha@example.com", "2023-05-10"},
		{"nova@example.com", "2023-06-01"},
	})
	if err != nil {
		t.Fatalf("BackfillChunk failed: %v", err)
	}

	if sum.Created != 1 || sum.DuplicateRegistrations != 1 {
		t.Fatalf("expected created=1 duplicateRegistrations=1, got %+v", sum)
	}
	if sum.EventsCreated != 2 {
		t.Fatalf("expected 2 events, got %d", sum.EventsCreated)
	}

	names := make(map[string]int)
	for _, e := range funnels.events {
		names[e.EventName]++
		if e.EventName == EventRepeatSignup && e.LeadID != repeatLead {
			t.Fatal("expected repeat_signup attributed to existing lead")
		}
		if e.OccurredAt.Year() != 2023 {
			t.Fatalf("expected row date preserved on event, got %v", e.OccurredAt)
		}
	}
	if names[EventSignup] != 1 || names[EventRepeatSignup] != 1 {
		t.Fatalf("unexpected event names: %v", names)
	}

	if len(leads.signupBumps) != 1 || leads.signupBumps[0] != repeatLead {
		t.Fatalf("expected signup counter bump for %s, got %v", repeatLead, leads.signupBumps)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 touched leads, got %d", len(touched))
	}
}

func TestBackfillChunkSecondRowForNewLeadIsRepeatRegistration(t *testing.T) {
	funnelID := uuid.New()
	stageID := uuid.New()
	known := uuid.New()

	leads := &fakeLeadStore{contacts: []identity.Contact{
		{LeadID: known, Email: "ana@example.com"},
	}}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, nil)
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email", "data"})

	sum, _, err := svc.BackfillChunk(context.Background(), b, funnelID, stageID, [][]string{
		{"ana@example.com", "2023-01-01"},
		{"ana@example.com", "2023-02-01"},
	})
	if err != nil {
		t.Fatalf("BackfillChunk failed: %v", err)
	}
	if sum.Created != 1 || sum.DuplicateRegistrations != 1 {
		t.Fatalf("expected the second row to register as a repeat, got %+v", sum)
	}
}

func TestBackfillChunkSecondRowForContactStagedByChunkIsRepeatRegistration(t *testing.T) {
	funnelID := uuid.New()
	stageID := uuid.New()

	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, nil)
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email", "data"})

	sum, touched, err := svc.BackfillChunk(context.Background(), b, funnelID, stageID, [][]string{
		{"nova@example.com", "2023-01-01"},
		{"nova@example.com", "2023-02-01"},
	})
	if err != nil {
		t.Fatalf("BackfillChunk failed: %v", err)
	}

	if sum.Created != 1 || sum.DuplicateRegistrations != 1 {
		t.Fatalf("expected one registration plus one repeat for the chunk-created contact, got %+v", sum)
	}
	if len(leads.createdParams) != 1 {
		t.Fatalf("expected a single lead created, got %d", len(leads.createdParams))
	}
	leadID := leads.createdParams[0].ID

	names := make(map[string]int)
	for _, e := range funnels.events {
		names[e.EventName]++
		if e.LeadID != leadID {
			t.Fatalf("expected all events attributed to the created lead, got %s", e.LeadID)
		}
	}
	if names[EventSignup] != 1 || names[EventRepeatSignup] != 1 {
		t.Fatalf("expected one signup and one repeat_signup, got %v", names)
	}

	if len(leads.signupBumps) != 1 || leads.signupBumps[0] != leadID {
		t.Fatalf("expected signup counter bump for %s, got %v", leadID, leads.signupBumps)
	}
	if len(touched) != 2 || touched[0] != leadID || touched[1] != leadID {
		t.Fatalf("expected touched to carry the created lead for position and repeat, got %v", touched)
	}
}

func TestEventChunkNeverCreatesLeads(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	stageTwo := uuid.New()
	known := uuid.New()

	rules := []funnel.Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "compareceu", FromStageID: &stageOne, ToStageID: stageTwo},
	}
	leads := &fakeLeadStore{contacts: []identity.Contact{
		{LeadID: known, Email: "ana@example.com"},
	}}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, rules)
	funnels.setPosition(funnel.Position{LeadID: known, FunnelID: funnelID, StageID: stageOne})
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email"})

	sum, _, err := svc.EventChunk(context.Background(), b, "compareceu", []uuid.UUID{funnelID}, [][]string{
		{"ana@example.com"},
		{"ana@example.com"},
		{"desconhecida@example.com"},
	})
	if err != nil {
		t.Fatalf("EventChunk failed: %v", err)
	}

	if sum.Found != 2 || sum.NotFound != 1 {
		t.Fatalf("expected found=2 notFound=1, got %+v", sum)
	}
	if len(leads.createdParams) != 0 {
		t.Fatal("expected event-only mode to never create leads")
	}
	if sum.EventsCreated != 1 {
		t.Fatalf("expected 1 event for the deduplicated lead, got %d", sum.EventsCreated)
	}
	if sum.TransitionsApplied != 1 {
		t.Fatalf("expected the rule to fire once, got %d", sum.TransitionsApplied)
	}
	if len(funnels.upserts) != 1 || funnels.upserts[0].StageID != stageTwo {
		t.Fatalf("expected position moved to stage two, got %+v", funnels.upserts)
	}
}

func TestEventChunkDuplicateEventInsertSkipsTransition(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	stageTwo := uuid.New()
	known := uuid.New()

	rules := []funnel.Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "compareceu", FromStageID: &stageOne, ToStageID: stageTwo},
	}
	leads := &fakeLeadStore{contacts: []identity.Contact{
		{LeadID: known, Email: "ana@example.com"},
	}}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, rules)
	funnels.setPosition(funnel.Position{LeadID: known, FunnelID: funnelID, StageID: stageOne})
	funnels.rejectInserts = true
	svc := newTestService(leads, funnels, newFakeSaleStore())
	b := prepareTestBatch(t, svc, []string{"email"})

	sum, _, err := svc.EventChunk(context.Background(), b, "compareceu", []uuid.UUID{funnelID}, [][]string{
		{"ana@example.com"},
	})
	if err != nil {
		t.Fatalf("EventChunk failed: %v", err)
	}
	if sum.EventsCreated != 0 || sum.TransitionsApplied != 0 {
		t.Fatalf("expected rejected insert to suppress the transition, got %+v", sum)
	}
	if len(funnels.upserts) != 0 {
		t.Fatal("expected no position changes")
	}
}

func TestProcessEventCreatesGhostAndAppliesEntryRule(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	rules := []funnel.Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "signup", FromStageID: nil, ToStageID: stageOne},
	}
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, rules)
	svc := newTestService(leads, funnels, newFakeSaleStore())

	result, err := svc.ProcessEvent(context.Background(), uuid.New(), EventParams{
		Email:     "Nova@Example.com",
		EventName: "signup",
		Source:    "webhook",
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	if !result.LeadCreated {
		t.Fatal("expected a ghost lead for an unknown contact")
	}
	if len(leads.createdParams) != 1 || !leads.createdParams[0].IsGhost {
		t.Fatalf("expected one ghost creation, got %+v", leads.createdParams)
	}
	if leads.createdParams[0].Email != "nova@example.com" {
		t.Fatalf("expected normalized email stored, got %q", leads.createdParams[0].Email)
	}
	if result.EventsCreated != 1 || result.TransitionsApplied != 1 {
		t.Fatalf("expected one event and one transition, got %+v", result)
	}
	if len(funnels.upserts) != 1 || funnels.upserts[0].StageID != stageOne {
		t.Fatalf("expected entry into stage one, got %+v", funnels.upserts)
	}
	if funnels.upserts[0].MovedBy != funnel.MovedByWebhook {
		t.Fatalf("expected movedBy webhook, got %q", funnels.upserts[0].MovedBy)
	}
}

func TestProcessEventRedeliveryWithSameKeyDoesNothing(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	rules := []funnel.Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "signup", FromStageID: nil, ToStageID: stageOne},
	}
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, rules)
	svc := newTestService(leads, funnels, newFakeSaleStore())
	workspaceID := uuid.New()
	params := EventParams{
		Email:          "ana@example.com",
		EventName:      "signup",
		Source:         "webhook",
		IdempotencyKey: "delivery-1",
	}

	first, err := svc.ProcessEvent(context.Background(), workspaceID, params)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	second, err := svc.ProcessEvent(context.Background(), workspaceID, params)
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}

	if first.EventsCreated != 1 {
		t.Fatalf("expected first delivery to record the event, got %+v", first)
	}
	if second.LeadCreated {
		t.Fatal("expected second delivery to resolve the existing lead")
	}
	if second.EventsCreated != 0 || second.TransitionsApplied != 0 {
		t.Fatalf("expected second delivery to be a no-op, got %+v", second)
	}
	if second.LeadID != first.LeadID {
		t.Fatal("expected both deliveries to resolve to the same lead")
	}
}

func TestProcessEventFunnelRestrictionPinsDelivery(t *testing.T) {
	funnelA := uuid.New()
	funnelB := uuid.New()
	stage := uuid.New()
	rules := []funnel.Rule{
		{ID: uuid.New(), FunnelID: funnelA, EventName: "signup", ToStageID: stage},
		{ID: uuid.New(), FunnelID: funnelB, EventName: "signup", ToStageID: stage},
	}
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelA, funnelB}, rules)
	svc := newTestService(leads, funnels, newFakeSaleStore())

	result, err := svc.ProcessEvent(context.Background(), uuid.New(), EventParams{
		Email:     "ana@example.com",
		EventName: "signup",
		Source:    "webhook",
		FunnelID:  &funnelA,
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if result.EventsCreated != 1 {
		t.Fatalf("expected the event recorded only in the pinned funnel, got %d", result.EventsCreated)
	}
	if len(funnels.events) != 1 || funnels.events[0].FunnelID != funnelA {
		t.Fatalf("expected event in funnel A only, got %+v", funnels.events)
	}

	// Pinning to a funnel with no admitting rule records nothing.
	outside := uuid.New()
	result, err = svc.ProcessEvent(context.Background(), uuid.New(), EventParams{
		Email:     "bia@example.com",
		EventName: "signup",
		Source:    "webhook",
		FunnelID:  &outside,
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if result.EventsCreated != 0 {
		t.Fatalf("expected no events outside the candidate set, got %d", result.EventsCreated)
	}
}

func TestProcessEventRejectsMissingContactAndName(t *testing.T) {
	svc := newTestService(&fakeLeadStore{}, newFakeFunnelStore(nil, nil), newFakeSaleStore())

	if _, err := svc.ProcessEvent(context.Background(), uuid.New(), EventParams{EventName: "signup"}); err == nil {
		t.Fatal("expected error for missing contact info")
	}
	if _, err := svc.ProcessEvent(context.Background(), uuid.New(), EventParams{Email: "a@example.com"}); err == nil {
		t.Fatal("expected error for missing event name")
	}
}

func TestProcessEventAppliesDatedOccurredAt(t *testing.T) {
	funnelID := uuid.New()
	stage := uuid.New()
	rules := []funnel.Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "signup", ToStageID: stage},
	}
	leads := &fakeLeadStore{}
	funnels := newFakeFunnelStore([]uuid.UUID{funnelID}, rules)
	svc := newTestService(leads, funnels, newFakeSaleStore())

	occurred := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	_, err := svc.ProcessEvent(context.Background(), uuid.New(), EventParams{
		Email:      "ana@example.com",
		EventName:  "signup",
		Source:     "webhook",
		OccurredAt: &occurred,
	})
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(funnels.events) != 1 || !funnels.events[0].OccurredAt.Equal(occurred) {
		t.Fatalf("expected event timestamped with the delivered occurredAt, got %+v", funnels.events)
	}
}
