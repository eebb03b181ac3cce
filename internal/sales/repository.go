package sales

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides data access for sale records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new sales repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertRecords persists sale records one by one. A record whose
// (workspace, platform, invoice) already exists is counted as a duplicate
// and skipped; re-importing the same export never double-counts revenue.
func (r *Repository) InsertRecords(ctx context.Context, records []Record) (InsertResult, error) {
	var result InsertResult
	for _, rec := range records {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO sale_records (
				id, workspace_id, lead_id, platform, external_invoice_id, product_name,
				gross_value_cents, net_value_cents, status, paid_at,
				is_subscription, subscription_contract,
				utm_source, utm_medium, utm_campaign, utm_content, utm_term
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (workspace_id, platform, external_invoice_id) DO NOTHING
		`, rec.ID, rec.WorkspaceID, rec.LeadID, rec.Platform, rec.ExternalInvoiceID, rec.ProductName,
			rec.GrossValueCents, rec.NetValueCents, rec.Status, rec.PaidAt,
			rec.IsSubscription, rec.SubscriptionContract,
			rec.UTMSource, rec.UTMMedium, rec.UTMCampaign, rec.UTMContent, rec.UTMTerm)
		if err != nil {
			return result, err
		}

		if tag.RowsAffected() == 0 {
			result.Duplicates++
			continue
		}

		result.Inserted++
		switch rec.Status {
		case StatusPaid:
			result.InsertedPaid++
			result.RevenueCents += rec.NetValueCents
		case StatusRefunded:
			result.InsertedRefunded++
		case StatusPending:
			result.InsertedPending++
		}
	}
	return result, nil
}
