// Package ingest implements the event and sale ingestion pipeline: CSV
// parsing, per-batch identity resolution, ghost lead creation, idempotent
// event and sale persistence, and stage transitions.
package ingest

import (
	"encoding/csv"
	"strings"

	"leadtrack_backend/platform/apperr"
)

const utf8BOM = "\ufeff"

// ParseCSV parses raw CSV text into a header row plus data records. The
// delimiter is auto-detected between comma and semicolon by whichever
// yields more fields on the header line. Input is UTF-8 with an optional
// BOM; fields may be double-quote wrapped.
func ParseCSV(raw string) (header []string, records [][]string, err error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), utf8BOM)
	if raw == "" {
		return nil, nil, apperr.BadRequest("csv input is empty")
	}

	reader := csv.NewReader(strings.NewReader(raw))
	reader.Comma = detectDelimiter(raw)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, apperr.BadRequest("csv input is malformed")
	}
	if len(rows) < 2 {
		return nil, nil, apperr.BadRequest("csv input has no data rows")
	}
	return rows[0], rows[1:], nil
}

func detectDelimiter(raw string) rune {
	headerLine := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		headerLine = raw[:i]
	}
	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';'
	}
	return ','
}
