// Package aggregate recomputes per-lead financial and identity rollups
// from full sale history. Recomputation is total, not incremental, so it
// stays correct under refunds, corrections, and re-imports.
package aggregate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Rollup is the derived financial state of one lead.
type Rollup struct {
	LeadID            uuid.UUID
	PurchaseCount     int
	TotalRevenueCents int64
	IsSubscriber      bool
	FirstPurchaseAt   *time.Time
	LastPurchaseAt    *time.Time
}

// Repository provides the store access the recalculator needs: reading
// sale history rollups and writing derived lead fields.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new aggregate repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RollupsForLeads computes each lead's rollup from its full sale history in
// a single grouped query. Leads with no sale records get a zero rollup.
func (r *Repository) RollupsForLeads(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]Rollup, error) {
	rollups := make(map[uuid.UUID]Rollup, len(leadIDs))
	for _, id := range leadIDs {
		rollups[id] = Rollup{LeadID: id}
	}
	if len(leadIDs) == 0 {
		return rollups, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT lead_id,
			COUNT(*) FILTER (WHERE status = 'paid'),
			COALESCE(SUM(net_value_cents) FILTER (WHERE status = 'paid'), 0),
			BOOL_OR(is_subscription),
			MIN(paid_at) FILTER (WHERE status = 'paid'),
			MAX(paid_at) FILTER (WHERE status = 'paid')
		FROM sale_records
		WHERE lead_id = ANY($1)
		GROUP BY lead_id
	`, leadIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var roll Rollup
		if err := rows.Scan(&roll.LeadID, &roll.PurchaseCount, &roll.TotalRevenueCents,
			&roll.IsSubscriber, &roll.FirstPurchaseAt, &roll.LastPurchaseAt); err != nil {
			return nil, err
		}
		rollups[roll.LeadID] = roll
	}
	return rollups, rows.Err()
}

// UpdateLeadRollup writes one lead's recomputed derived fields.
func (r *Repository) UpdateLeadRollup(ctx context.Context, roll Rollup) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET
			purchase_count = $2,
			total_revenue_cents = $3,
			is_subscriber = $4,
			first_purchase_at = $5,
			last_purchase_at = $6,
			updated_at = now()
		WHERE id = $1
	`, roll.LeadID, roll.PurchaseCount, roll.TotalRevenueCents, roll.IsSubscriber,
		roll.FirstPurchaseAt, roll.LastPurchaseAt)
	return err
}

// BackdateGhostCreatedAt corrects ghost leads whose created_at postdates
// their first purchase, so a ghost's visible age reflects actual history
// rather than import time. Leads whose first purchase is still unknown are
// left untouched.
func (r *Repository) BackdateGhostCreatedAt(ctx context.Context, leadIDs []uuid.UUID) error {
	if len(leadIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET created_at = first_purchase_at
		WHERE id = ANY($1)
		  AND is_ghost
		  AND first_purchase_at IS NOT NULL
		  AND created_at > first_purchase_at
	`, leadIDs)
	return err
}
