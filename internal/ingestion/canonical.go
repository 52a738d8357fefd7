package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/casefeed/internal/dates"
	"github.com/rpattn/casefeed/internal/domain"
)

// canonicalDelimiter separates fields in rewritten files.
const canonicalDelimiter = ';'

// renderCanonical writes records as a canonical semicolon-delimited file:
// canonical header names in canonical order and timestamps in
// dates.CanonicalLayout. Reading it back yields the same records.
func renderCanonical(records []domain.ObservationRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = canonicalDelimiter

	if err := w.Write(domain.CanonicalFields); err != nil {
		return nil, fmt.Errorf("failed to write canonical header: %w", err)
	}
	for _, record := range records {
		row := []string{
			stringValue(record.ProvinceState),
			record.CountryRegion,
			record.LastUpdate.Format(dates.CanonicalLayout),
			countValue(record.Confirmed),
			countValue(record.Deaths),
			countValue(record.Recovered),
			countValue(record.Suspected),
			floatValue(record.Latitude),
			floatValue(record.Longitude),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write canonical row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush canonical file: %w", err)
	}
	return buf.Bytes(), nil
}

// isCanonical reports whether payload already holds a canonical rewrite. The
// header row is checked rather than the normalized flag alone: the bytes are
// replaced before the flag is stored, and a run may stop in between.
func isCanonical(payload []byte) bool {
	payload = bytes.TrimPrefix(payload, byteOrderMark)
	header, _, _ := bytes.Cut(payload, []byte("\n"))
	header = bytes.TrimSuffix(header, []byte("\r"))
	return string(header) == strings.Join(domain.CanonicalFields, string(canonicalDelimiter))
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func countValue(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}

func floatValue(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}
