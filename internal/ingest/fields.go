package ingest

import "strings"

// Internal field keys. Import payloads name columns in Portuguese because
// the supported platform exports do; the keys are the contract between the
// caller's header detector and this pipeline.
const (
	FieldEmail                = "email"
	FieldPhone                = "telefone"
	FieldName                 = "nome"
	FieldDate                 = "data"
	FieldInvoiceID            = "invoice_id"
	FieldProduct              = "produto"
	FieldGrossValue           = "gross_value"
	FieldNetValue             = "net_value"
	FieldStatus               = "status"
	FieldPaidAt               = "paid_at"
	FieldIsSubscription       = "is_subscription"
	FieldSubscriptionContract = "subscription_contract"
	FieldPlatform             = "platform"
	FieldUTMSource            = "utm_source"
	FieldUTMMedium            = "utm_medium"
	FieldUTMCampaign          = "utm_campaign"
	FieldUTMContent           = "utm_content"
	FieldUTMTerm              = "utm_term"
)

var knownFields = []string{
	FieldEmail, FieldPhone, FieldName, FieldDate,
	FieldInvoiceID, FieldProduct, FieldGrossValue, FieldNetValue,
	FieldStatus, FieldPaidAt, FieldIsSubscription, FieldSubscriptionContract,
	FieldPlatform,
	FieldUTMSource, FieldUTMMedium, FieldUTMCampaign, FieldUTMContent, FieldUTMTerm,
}

// FieldMap resolves internal field keys to column indices. It is built once
// per batch and passed into the row parsers, never recomputed per row.
type FieldMap map[string]int

// BuildFieldMap matches field keys against the CSV header. An override maps
// a field key to the actual column name the caller's header detector found;
// keys without an override match a header cell of the same name.
func BuildFieldMap(header []string, overrides map[string]string) FieldMap {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, utf8BOM)))
		if _, taken := columns[name]; !taken {
			columns[name] = i
		}
	}

	fm := make(FieldMap)
	for _, key := range knownFields {
		name := key
		if override, ok := overrides[key]; ok && override != "" {
			name = strings.ToLower(strings.TrimSpace(override))
		}
		if idx, ok := columns[name]; ok {
			fm[key] = idx
		}
	}
	return fm
}

// Get returns the trimmed cell for a field key, or "" when the key is
// unmapped or the record is too short.
func (fm FieldMap) Get(record []string, key string) string {
	idx, ok := fm[key]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
