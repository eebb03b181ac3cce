package aggregate

import (
	"context"

	"leadtrack_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// rollupBatchSize bounds the number of leads recomputed per store
// round-trip. Full-history aggregation over an unbounded id list would blow
// past statement cost limits on large imports.
const rollupBatchSize = 100

// Store is the data access interface needed by the recalculator.
type Store interface {
	RollupsForLeads(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]Rollup, error)
	UpdateLeadRollup(ctx context.Context, roll Rollup) error
	BackdateGhostCreatedAt(ctx context.Context, leadIDs []uuid.UUID) error
}

// Service recomputes derived lead state from sale history.
type Service struct {
	store Store
	log   *logger.Logger
}

// New creates a new aggregation service.
func New(store Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log}
}

// Recalculate recomputes the rollups of the given leads in bounded batches.
// The recompute is idempotent: running it twice on unchanged sale history
// yields identical results.
func (s *Service) Recalculate(ctx context.Context, leadIDs []uuid.UUID) error {
	for start := 0; start < len(leadIDs); start += rollupBatchSize {
		end := start + rollupBatchSize
		if end > len(leadIDs) {
			end = len(leadIDs)
		}
		if err := s.recalculateBatch(ctx, leadIDs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recalculateBatch(ctx context.Context, leadIDs []uuid.UUID) error {
	rollups, err := s.store.RollupsForLeads(ctx, leadIDs)
	if err != nil {
		return err
	}

	for _, id := range leadIDs {
		if err := s.store.UpdateLeadRollup(ctx, rollups[id]); err != nil {
			return err
		}
	}

	return s.store.BackdateGhostCreatedAt(ctx, leadIDs)
}

// RecalculateWorkspaces fans recalculation out across workspaces. Leads of
// different workspaces never share an identity index, so cross-workspace
// parallelism is safe; within one workspace the batches stay sequential.
func (s *Service) RecalculateWorkspaces(ctx context.Context, byWorkspace map[uuid.UUID][]uuid.UUID) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for workspaceID, leadIDs := range byWorkspace {
		ids := leadIDs
		wsID := workspaceID
		g.Go(func() error {
			if err := s.Recalculate(gctx, ids); err != nil {
				s.log.Error("workspace recalculation failed", "workspaceId", wsID, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
