// Package identity implements lead identity normalization and matching.
// Raw contact fields are reduced to canonical keys so that the same person,
// arriving via webhook, contact import, or a sales-platform export, always
// resolves to a single lead.
package identity

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// countryCode is assumed for national-format numbers. The corpus is
// Brazilian commerce platform exports, which ship 11-digit local numbers.
const countryCode = "55"

// NormalizeEmail canonicalizes an email address. Empty input passes through
// as empty and is treated as "absent" by the resolver.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePhone reduces a raw phone string to a canonical E.164-ish key.
// An 11-digit national number gets the country code prefixed; 12 or 13
// digit inputs already starting with the country code just gain the "+".
// Anything else falls back to the last 11 digits with the country code.
// The fallback is lossy for genuinely foreign numbers; that is the
// documented trade-off, not an attempt at correctness.
func NormalizePhone(raw string) string {
	digits := stripNonDigits(raw)
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == 11:
		return "+" + countryCode + digits
	case len(digits) == 13 && strings.HasPrefix(digits, countryCode):
		return "+" + digits
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		return "+" + digits
	}

	if len(digits) > 11 {
		digits = digits[len(digits)-11:]
	}
	return "+" + countryCode + digits
}

// PhoneLooksValid reports whether a normalized phone parses as a valid
// number. Used only for diagnostic counters; validity never blocks
// resolution or lead creation.
func PhoneLooksValid(normalized string) bool {
	if normalized == "" {
		return false
	}
	num, err := phonenumbers.Parse(normalized, "BR")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
