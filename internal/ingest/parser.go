package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"txguard/internal/normalize"
)

// ErrEmptyBatch is returned for a payload with no header or no JSON rows.
var ErrEmptyBatch = errors.New("empty batch")

// FormatError wraps a payload that is neither valid CSV nor valid JSON.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s batch: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// MissingColumnsError lists required CSV columns absent from the header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

// ParseBatch decodes a CSV document with a header row or a JSON array of
// objects. The format is picked from the first non-space byte.
func ParseBatch(data []byte) ([]normalize.Record, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, ErrEmptyBatch
	}
	if looksLikeJSON(string(trim)) {
		return ParseJSONBatch(trim)
	}
	return ParseCSV(bytes.NewReader(trim))
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func ParseCSV(r io.Reader) ([]normalize.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyBatch
	}
	if err != nil {
		return nil, &FormatError{Format: "csv", Err: err}
	}
	cols := normalizeHeader(header)
	if missing := missingColumns(cols); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	records := make([]normalize.Record, 0)
	row := 0
	for {
		values, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Format: "csv", Err: err}
		}
		if blank(values) {
			continue
		}
		row++
		rec := normalize.Record{Row: row}
		for i, name := range cols {
			if i >= len(values) {
				break
			}
			assignField(&rec, name, values[i])
		}
		records = append(records, rec)
	}
	return records, nil
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = canonicalField(v)
	}
	return out
}

// canonicalField maps header and JSON key spellings onto record fields.
// "User ID" and the other report columns map too, so an exported report
// can be fed back in.
func canonicalField(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.Join(strings.Fields(name), "_")
	switch name {
	case "user_id", "user", "uid", "userid":
		return normalize.FieldUserID
	case "amount", "amt":
		return normalize.FieldAmount
	case "time", "time_of_day", "hour_minute":
		return normalize.FieldTime
	case "location", "city":
		return normalize.FieldLocation
	case "merchant":
		return normalize.FieldMerchant
	case "category":
		return normalize.FieldCategory
	}
	return name
}

func missingColumns(cols []string) []string {
	have := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		have[c] = struct{}{}
	}
	var missing []string
	for _, want := range normalize.RequiredColumns {
		if _, ok := have[want]; !ok {
			missing = append(missing, want)
		}
	}
	return missing
}

func assignField(rec *normalize.Record, name, value string) {
	switch name {
	case normalize.FieldUserID:
		rec.UserID = value
	case normalize.FieldAmount:
		rec.Amount = value
	case normalize.FieldTime:
		rec.Time = value
	case normalize.FieldLocation:
		rec.Location = value
	case normalize.FieldMerchant:
		rec.Merchant = value
	case normalize.FieldCategory:
		rec.Category = value
	default:
		if name == "" {
			return
		}
		if rec.Extras == nil {
			rec.Extras = map[string]string{}
		}
		rec.Extras[name] = value
	}
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
