// Package repository provides data access for lead identities.
package repository

import (
	"context"
	"errors"
	"time"

	"leadtrack_backend/internal/identity"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lead does not exist.
var ErrNotFound = errors.New("lead not found")

// Lead source values.
const (
	SourceWebhook = "webhook"
	SourceAPI     = "api"
	SourceManual  = "manual"
	SourceImport  = "import"
)

// Lead is a canonical person identity within a workspace.
type Lead struct {
	ID                uuid.UUID
	WorkspaceID       uuid.UUID
	Email             string
	Phone             string
	Name              string
	Source            string
	IsGhost           bool
	PurchaseCount     int
	TotalRevenueCents int64
	IsSubscriber      bool
	SignupCount       int
	FirstPurchaseAt   *time.Time
	LastPurchaseAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateLeadParams describes a lead staged for creation. ID is the
// client-generated identifier the batch already handed out; if a concurrent
// writer beat us to the same contact, the stored lead's ID wins and is
// returned instead.
type CreateLeadParams struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Email       string
	Phone       string
	Name        string
	Source      string
	IsGhost     bool
}

// Repository provides data access for leads.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new identity repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `id, workspace_id, email, phone, name, source, is_ghost,
	purchase_count, total_revenue_cents, is_subscriber, signup_count,
	first_purchase_at, last_purchase_at, created_at, updated_at`

// Snapshot loads the identity projection of every lead in the workspace.
// The result seeds the per-batch index, avoiding one lookup per row.
func (r *Repository) Snapshot(ctx context.Context, workspaceID uuid.UUID) ([]identity.Contact, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, phone FROM leads WHERE workspace_id = $1
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []identity.Contact
	for rows.Next() {
		var c identity.Contact
		if err := rows.Scan(&c.LeadID, &c.Email, &c.Phone); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// CreateLeads persists staged leads. A unique-constraint conflict means a
// concurrent request already created the contact; the existing lead is
// loaded and returned in place of the staged one. Results are ordered to
// match params.
func (r *Repository) CreateLeads(ctx context.Context, params []CreateLeadParams) ([]Lead, error) {
	leads := make([]Lead, 0, len(params))
	for _, p := range params {
		lead, err := r.createLead(ctx, p)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

func (r *Repository) createLead(ctx context.Context, p CreateLeadParams) (Lead, error) {
	var lead Lead
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, workspace_id, email, phone, name, source, is_ghost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+leadColumns+`
	`, p.ID, p.WorkspaceID, p.Email, p.Phone, p.Name, p.Source, p.IsGhost).Scan(leadFields(&lead)...)
	if err == nil {
		return lead, nil
	}

	if !isUniqueViolation(err) {
		return Lead{}, err
	}

	// Already exists: a concurrent writer won the race. Not an error.
	existing, findErr := r.FindByContact(ctx, p.WorkspaceID, p.Email, p.Phone)
	if findErr != nil {
		return Lead{}, err
	}
	return existing, nil
}

// FindByContact resolves a lead by normalized contact keys, email first.
func (r *Repository) FindByContact(ctx context.Context, workspaceID uuid.UUID, email, phone string) (Lead, error) {
	if email != "" {
		lead, err := r.findByColumn(ctx, workspaceID, "email", email)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Lead{}, err
		}
	}
	if phone != "" {
		return r.findByColumn(ctx, workspaceID, "phone", phone)
	}
	return Lead{}, ErrNotFound
}

func (r *Repository) findByColumn(ctx context.Context, workspaceID uuid.UUID, column, value string) (Lead, error) {
	var lead Lead
	err := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE workspace_id = $1 AND `+column+` = $2
	`, workspaceID, value).Scan(leadFields(&lead)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

// GetByID retrieves a lead by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	var lead Lead
	err := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM leads WHERE id = $1
	`, id).Scan(leadFields(&lead)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

// IncrementSignupCounts bumps the repeat-signup counter for the given leads.
func (r *Repository) IncrementSignupCounts(ctx context.Context, leadIDs []uuid.UUID) error {
	if len(leadIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET signup_count = signup_count + 1, updated_at = now()
		WHERE id = ANY($1)
	`, leadIDs)
	return err
}

// WorkspaceExists reports whether the workspace is provisioned.
func (r *Repository) WorkspaceExists(ctx context.Context, workspaceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM workspaces WHERE id = $1)
	`, workspaceID).Scan(&exists)
	return exists, err
}

func leadFields(l *Lead) []any {
	return []any{
		&l.ID, &l.WorkspaceID, &l.Email, &l.Phone, &l.Name, &l.Source, &l.IsGhost,
		&l.PurchaseCount, &l.TotalRevenueCents, &l.IsSubscriber, &l.SignupCount,
		&l.FirstPurchaseAt, &l.LastPurchaseAt, &l.CreatedAt, &l.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
