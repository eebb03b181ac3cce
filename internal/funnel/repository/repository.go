// Package repository provides data access for funnels, positions,
// transition rules, and events.
package repository

import (
	"context"
	"errors"

	"leadtrack_backend/internal/funnel"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a funnel or stage does not exist.
var ErrNotFound = errors.New("funnel not found")

// Repository provides data access for the funnel bounded context.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new funnel repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetFunnel retrieves a funnel scoped to a workspace.
func (r *Repository) GetFunnel(ctx context.Context, workspaceID, funnelID uuid.UUID) (funnel.Funnel, error) {
	var f funnel.Funnel
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, campaign_id, name FROM funnels
		WHERE id = $1 AND workspace_id = $2
	`, funnelID, workspaceID).Scan(&f.ID, &f.WorkspaceID, &f.CampaignID, &f.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return funnel.Funnel{}, ErrNotFound
	}
	return f, err
}

// StageBelongsToFunnel reports whether the stage is part of the funnel.
func (r *Repository) StageBelongsToFunnel(ctx context.Context, stageID, funnelID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM funnel_stages WHERE id = $1 AND funnel_id = $2)
	`, stageID, funnelID).Scan(&exists)
	return exists, err
}

// FunnelIDs lists the workspace's funnel IDs, optionally restricted to one
// campaign.
func (r *Repository) FunnelIDs(ctx context.Context, workspaceID uuid.UUID, campaignID *uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM funnels WHERE workspace_id = $1`
	args := []any{workspaceID}
	if campaignID != nil {
		query += ` AND campaign_id = $2`
		args = append(args, *campaignID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RulesForFunnels loads the transition rules of the given funnels.
func (r *Repository) RulesForFunnels(ctx context.Context, funnelIDs []uuid.UUID) ([]funnel.Rule, error) {
	if len(funnelIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, funnel_id, event_name, from_stage_id, to_stage_id, priority
		FROM transition_rules
		WHERE funnel_id = ANY($1)
	`, funnelIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []funnel.Rule
	for rows.Next() {
		var rule funnel.Rule
		if err := rows.Scan(&rule.ID, &rule.FunnelID, &rule.EventName, &rule.FromStageID, &rule.ToStageID, &rule.Priority); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// PositionsByFunnel returns the current positions of the given leads within
// one funnel, keyed by lead ID.
func (r *Repository) PositionsByFunnel(ctx context.Context, funnelID uuid.UUID, leadIDs []uuid.UUID) (map[uuid.UUID]funnel.Position, error) {
	if len(leadIDs) == 0 {
		return map[uuid.UUID]funnel.Position{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, funnel_id, stage_id, previous_stage_id, entered_at, moved_by, source
		FROM funnel_positions
		WHERE funnel_id = $1 AND lead_id = ANY($2)
	`, funnelID, leadIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make(map[uuid.UUID]funnel.Position)
	for rows.Next() {
		var p funnel.Position
		if err := rows.Scan(&p.LeadID, &p.FunnelID, &p.StageID, &p.PreviousStageID, &p.EnteredAt, &p.MovedBy, &p.Source); err != nil {
			return nil, err
		}
		positions[p.LeadID] = p
	}
	return positions, rows.Err()
}

// PositionsByLeads returns every current position of the given leads within
// the given funnels, keyed by lead then funnel.
func (r *Repository) PositionsByLeads(ctx context.Context, leadIDs, funnelIDs []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]funnel.Position, error) {
	result := make(map[uuid.UUID]map[uuid.UUID]funnel.Position)
	if len(leadIDs) == 0 || len(funnelIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, funnel_id, stage_id, previous_stage_id, entered_at, moved_by, source
		FROM funnel_positions
		WHERE lead_id = ANY($1) AND funnel_id = ANY($2)
	`, leadIDs, funnelIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p funnel.Position
		if err := rows.Scan(&p.LeadID, &p.FunnelID, &p.StageID, &p.PreviousStageID, &p.EnteredAt, &p.MovedBy, &p.Source); err != nil {
			return nil, err
		}
		if result[p.LeadID] == nil {
			result[p.LeadID] = make(map[uuid.UUID]funnel.Position)
		}
		result[p.LeadID][p.FunnelID] = p
	}
	return result, rows.Err()
}

// UpsertPositions writes position changes. Re-entry into a funnel updates
// the existing row; a lead never holds two stages of the same funnel.
func (r *Repository) UpsertPositions(ctx context.Context, positions []funnel.Position) error {
	for _, p := range positions {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO funnel_positions (lead_id, funnel_id, stage_id, previous_stage_id, entered_at, moved_by, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (lead_id, funnel_id) DO UPDATE SET
				stage_id = EXCLUDED.stage_id,
				previous_stage_id = EXCLUDED.previous_stage_id,
				entered_at = EXCLUDED.entered_at,
				moved_by = EXCLUDED.moved_by,
				source = EXCLUDED.source
		`, p.LeadID, p.FunnelID, p.StageID, p.PreviousStageID, p.EnteredAt, p.MovedBy, p.Source)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent persists an event. An event carrying an idempotency key that
// already exists for its funnel is accepted as a no-op; the false return
// tells the caller not to re-run the rule engine for it.
func (r *Repository) InsertEvent(ctx context.Context, e funnel.Event) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, lead_id, funnel_id, event_name, source, payload, occurred_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (funnel_id, idempotency_key) WHERE idempotency_key <> '' DO NOTHING
	`, e.ID, e.LeadID, e.FunnelID, e.EventName, e.Source, e.Payload, e.OccurredAt, e.IdempotencyKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
