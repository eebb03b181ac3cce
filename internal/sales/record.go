// Package sales implements sale-record persistence. Records are immutable
// facts imported from commerce platforms; the invoice uniqueness constraint
// makes re-imports no-ops instead of duplicate charges.
package sales

import (
	"time"

	"github.com/google/uuid"
)

// Record statuses.
const (
	StatusPaid     = "paid"
	StatusRefunded = "refunded"
	StatusPending  = "pending"
)

// Record is an immutable sale fact from a commerce platform export.
type Record struct {
	ID                   uuid.UUID
	WorkspaceID          uuid.UUID
	LeadID               uuid.UUID // resolved lead or batch-created ghost
	Platform             string
	ExternalInvoiceID    string
	ProductName          string
	GrossValueCents      int64
	NetValueCents        int64
	Status               string
	PaidAt               *time.Time
	IsSubscription       bool
	SubscriptionContract string
	UTMSource            string
	UTMMedium            string
	UTMCampaign          string
	UTMContent           string
	UTMTerm              string
}

// InsertResult summarizes one batch of record inserts.
type InsertResult struct {
	Inserted         int
	Duplicates       int
	InsertedPaid     int
	InsertedRefunded int
	InsertedPending  int
	RevenueCents     int64 // net value of inserted paid records
}
