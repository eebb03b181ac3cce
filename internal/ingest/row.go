package ingest

import (
	"errors"
	"strings"
	"time"

	"leadtrack_backend/internal/identity"
	"leadtrack_backend/internal/sales"
)

// errNoContact marks a row with neither email nor phone after
// normalization. Such rows only feed a diagnostic counter.
var errNoContact = errors.New("row has no contact info")

var errBadMoney = errors.New("unparseable currency value")

// ContactRow is a parsed contact-list row.
type ContactRow struct {
	Email string // normalized
	Phone string // normalized
	Name  string
	Date  *time.Time
}

// SaleRow is a parsed sales-platform export row.
type SaleRow struct {
	Contact              ContactRow
	InvoiceID            string
	Product              string
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

// ParseContactRow normalizes a record's contact fields. Returns errNoContact
// when both keys normalize to empty.
func ParseContactRow(fm FieldMap, record []string) (ContactRow, error) {
	row := ContactRow{
		Email: identity.NormalizeEmail(fm.Get(record, FieldEmail)),
		Phone: identity.NormalizePhone(fm.Get(record, FieldPhone)),
		Name:  fm.Get(record, FieldName),
	}
	if row.Email == "" && row.Phone == "" {
		return ContactRow{}, errNoContact
	}
	if raw := fm.Get(record, FieldDate); raw != "" {
		if t, ok := parseDate(raw); ok {
			row.Date = &t
		}
	}
	return row, nil
}

// ParseSaleRow parses a sale record. Contact troubles surface as
// errNoContact, money troubles as errBadMoney; both are per-row skips, not
// batch failures.
func ParseSaleRow(fm FieldMap, record []string) (SaleRow, error) {
	contact, err := ParseContactRow(fm, record)
	if err != nil {
		return SaleRow{}, err
	}

	gross, err := ParseMoney(fm.Get(record, FieldGrossValue))
	if err != nil {
		return SaleRow{}, err
	}
	net, err := ParseMoney(fm.Get(record, FieldNetValue))
	if err != nil {
		return SaleRow{}, err
	}
	if net == 0 {
		net = gross
	}

	row := SaleRow{
		Contact:              contact,
		InvoiceID:            fm.Get(record, FieldInvoiceID),
		Product:              fm.Get(record, FieldProduct),
		GrossValueCents:      gross,
		NetValueCents:        net,
		Status:               MapStatus(fm.Get(record, FieldStatus)),
		IsSubscription:       parseBool(fm.Get(record, FieldIsSubscription)),
		SubscriptionContract: fm.Get(record, FieldSubscriptionContract),
		UTMSource:            fm.Get(record, FieldUTMSource),
		UTMMedium:            fm.Get(record, FieldUTMMedium),
		UTMCampaign:          fm.Get(record, FieldUTMCampaign),
		UTMContent:           fm.Get(record, FieldUTMContent),
		UTMTerm:              fm.Get(record, FieldUTMTerm),
	}
	if row.SubscriptionContract != "" {
		row.IsSubscription = true
	}
	if raw := fm.Get(record, FieldPaidAt); raw != "" {
		if t, ok := parseDate(raw); ok {
			row.PaidAt = &t
		}
	}
	return row, nil
}

// MapStatus translates a platform status string to a canonical status.
// Platforms report in Portuguese or English depending on export locale.
// Unrecognized and empty statuses default to paid; that permissive default
// matches how the supported platforms label already-settled rows.
func MapStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "reembols"),
		strings.Contains(s, "estorn"),
		strings.Contains(s, "refund"),
		strings.Contains(s, "chargeback"):
		return sales.StatusRefunded
	case strings.Contains(s, "pendente"),
		strings.Contains(s, "pending"),
		strings.Contains(s, "aguardando"),
		strings.Contains(s, "boleto"):
		return sales.StatusPending
	default:
		return sales.StatusPaid
	}
}

// ParseMoney converts a currency string to integer cents. Accepts both
// Brazilian ("1.234,56") and US ("1,234.56") grouping, an optional "R$" or
// "$" prefix, and plain integers (taken as whole currency units). Empty
// input is zero.
func ParseMoney(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, nil
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	decimalSep := byte(0)
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			decimalSep = ','
		} else {
			decimalSep = '.'
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 <= 2 {
			decimalSep = ','
		}
	case lastDot >= 0:
		if len(s)-lastDot-1 <= 2 {
			decimalSep = '.'
		}
	}

	intPart := s
	fracPart := ""
	if decimalSep != 0 {
		idx := strings.LastIndexByte(s, decimalSep)
		intPart, fracPart = s[:idx], s[idx+1:]
	}
	intPart = strings.ReplaceAll(intPart, ",", "")
	intPart = strings.ReplaceAll(intPart, ".", "")

	cents, err := moneyDigits(intPart, fracPart)
	if err != nil {
		return 0, err
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

func moneyDigits(intPart, fracPart string) (int64, error) {
	if intPart == "" && fracPart == "" {
		return 0, errBadMoney
	}
	if len(fracPart) > 2 {
		return 0, errBadMoney
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	var cents int64
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return 0, errBadMoney
		}
		cents = cents*10 + int64(r-'0')
	}
	return cents, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "sim", "yes", "s", "y":
		return true
	}
	return false
}
