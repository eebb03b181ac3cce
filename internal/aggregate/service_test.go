package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore is locked because RecalculateWorkspaces fans out across
// goroutines.
type fakeStore struct {
	mu        sync.Mutex
	rollups   map[uuid.UUID]Rollup
	readCalls int
	readSizes []int
	writes    []Rollup
	backdated [][]uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{rollups: make(map[uuid.UUID]Rollup)}
}

func (f *fakeStore) RollupsForLeads(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]Rollup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	f.readSizes = append(f.readSizes, len(leadIDs))
	out := make(map[uuid.UUID]Rollup, len(leadIDs))
	for _, id := range leadIDs {
		if roll, ok := f.rollups[id]; ok {
			out[id] = roll
		} else {
			out[id] = Rollup{LeadID: id}
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateLeadRollup(ctx context.Context, roll Rollup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, roll)
	return nil
}

func (f *fakeStore) BackdateGhostCreatedAt(ctx context.Context, leadIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backdated = append(f.backdated, leadIDs)
	return nil
}

func TestRecalculateWritesRollupForEveryLead(t *testing.T) {
	store := newFakeStore()
	paid := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	buyer := uuid.New()
	empty := uuid.New()
	store.rollups[buyer] = Rollup{
		LeadID:            buyer,
		PurchaseCount:     3,
		TotalRevenueCents: 59100,
		IsSubscriber:      true,
		FirstPurchaseAt:   &paid,
		LastPurchaseAt:    &paid,
	}

	svc := New(store, logger.New("development"))
	if err := svc.Recalculate(context.Background(), []uuid.UUID{buyer, empty}); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}

	if len(store.writes) != 2 {
		t.Fatalf("expected 2 rollup writes, got %d", len(store.writes))
	}
	byLead := make(map[uuid.UUID]Rollup)
	for _, w := range store.writes {
		byLead[w.LeadID] = w
	}
	if byLead[buyer].TotalRevenueCents != 59100 || byLead[buyer].PurchaseCount != 3 {
		t.Fatalf("unexpected buyer rollup: %+v", byLead[buyer])
	}
	// A lead with no sale history is written back to zero, which is what
	// makes recomputation safe after refunds wipe the history.
	if byLead[empty].PurchaseCount != 0 || byLead[empty].TotalRevenueCents != 0 {
		t.Fatalf("expected zero rollup for saleless lead, got %+v", byLead[empty])
	}
	if len(store.backdated) != 1 {
		t.Fatalf("expected one backdate pass, got %d", len(store.backdated))
	}
}

func TestRecalculateIsIdempotent(t *testing.T) {
	store := newFakeStore()
	leadID := uuid.New()
	store.rollups[leadID] = Rollup{LeadID: leadID, PurchaseCount: 1, TotalRevenueCents: 19700}

	svc := New(store, logger.New("development"))
	ids := []uuid.UUID{leadID}
	if err := svc.Recalculate(context.Background(), ids); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if err := svc.Recalculate(context.Background(), ids); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if len(store.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(store.writes))
	}
	if store.writes[0] != store.writes[1] {
		t.Fatalf("expected identical rollups across passes: %+v vs %+v", store.writes[0], store.writes[1])
	}
}

func TestRecalculateBatchesLargeLeadSets(t *testing.T) {
	store := newFakeStore()
	svc := New(store, logger.New("development"))

	ids := make([]uuid.UUID, 0, rollupBatchSize*2+1)
	for i := 0; i < rollupBatchSize*2+1; i++ {
		ids = append(ids, uuid.New())
	}
	if err := svc.Recalculate(context.Background(), ids); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}

	if store.readCalls != 3 {
		t.Fatalf("expected 3 batched reads, got %d", store.readCalls)
	}
	if store.readSizes[0] != rollupBatchSize || store.readSizes[2] != 1 {
		t.Fatalf("unexpected batch sizes: %v", store.readSizes)
	}
	if len(store.writes) != len(ids) {
		t.Fatalf("expected a write per lead, got %d", len(store.writes))
	}
}

func TestRecalculateWorkspacesCoversEveryWorkspace(t *testing.T) {
	store := newFakeStore()
	svc := New(store, logger.New("development"))

	byWorkspace := map[uuid.UUID][]uuid.UUID{
		uuid.New(): {uuid.New(), uuid.New()},
		uuid.New(): {uuid.New()},
	}
	if err := svc.RecalculateWorkspaces(context.Background(), byWorkspace); err != nil {
		t.Fatalf("RecalculateWorkspaces failed: %v", err)
	}
	if len(store.writes) != 3 {
		t.Fatalf("expected 3 rollup writes across workspaces, got %d", len(store.writes))
	}
}
