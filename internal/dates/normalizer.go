// Package dates resolves a timestamp column to a single known layout.
package dates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/casefeed/internal/domain"
)

// CanonicalLayout is the representation every normalized timestamp is written in.
const CanonicalLayout = "2006-01-02 15:04:05"

// DefaultFormats lists the layouts used upstream, most specific first. Order
// matters: the first layout that parses the whole column wins.
var DefaultFormats = []string{
	"1/2/06 15:04",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 3 PM",
	"1/2/2006 3:04 PM",
}

// Normalizer tries a fixed list of layouts against whole columns.
type Normalizer struct {
	formats []string
}

// NewNormalizer returns a normalizer over formats, tried in the given order.
func NewNormalizer(formats []string) (*Normalizer, error) {
	cleaned := make([]string, 0, len(formats))
	for _, format := range formats {
		format = strings.TrimSpace(format)
		if format == "" {
			continue
		}
		cleaned = append(cleaned, format)
	}
	if len(cleaned) == 0 {
		return nil, errors.New("no date formats configured")
	}
	return &Normalizer{formats: cleaned}, nil
}

// Formats returns the configured layouts in priority order.
func (n *Normalizer) Formats() []string {
	return append([]string(nil), n.formats...)
}

// Resolve returns the first layout that parses every value of the column and
// the parsed times. An empty column resolves to the first layout.
func (n *Normalizer) Resolve(column string, values []string) (string, []time.Time, error) {
	// Report where the layout that got furthest stopped.
	worstRow, worstValue := -1, ""

	for _, layout := range n.formats {
		parsed, failedAt, ok := parseAll(layout, values)
		if ok {
			return layout, parsed, nil
		}
		if failedAt > worstRow {
			worstRow = failedAt
			worstValue = values[failedAt]
		}
	}

	return "", nil, &domain.DateFormatError{Column: column, Value: worstValue, Row: worstRow + 1}
}

// NormalizeColumn rewrites values in CanonicalLayout and returns the layout
// that matched.
func (n *Normalizer) NormalizeColumn(column string, values []string) ([]string, []time.Time, string, error) {
	layout, parsed, err := n.Resolve(column, values)
	if err != nil {
		return nil, nil, "", err
	}
	out := make([]string, len(parsed))
	for i, ts := range parsed {
		out[i] = ts.Format(CanonicalLayout)
	}
	return out, parsed, layout, nil
}

func parseAll(layout string, values []string) ([]time.Time, int, bool) {
	parsed := make([]time.Time, len(values))
	for i, raw := range values {
		ts, err := time.Parse(layout, strings.TrimSpace(raw))
		if err != nil {
			return nil, i, false
		}
		parsed[i] = ts
	}
	return parsed, -1, true
}

// Describe summarizes a resolved layout for diagnostics.
func Describe(layout string, rows int) string {
	return fmt.Sprintf("timestamps parsed with layout %q (%d rows)", layout, rows)
}
