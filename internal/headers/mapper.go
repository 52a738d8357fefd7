// Package headers resolves raw CSV header names to canonical field names
// through an explicit alias table.
package headers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rpattn/casefeed/internal/domain"
)

// Table is the alias configuration: canonical field -> accepted aliases, plus
// aliases of known columns that are dropped.
type Table struct {
	Fields  map[string][]string `mapstructure:"fields"`
	Ignored []string            `mapstructure:"ignored"`
}

// DefaultTable covers every header layout the upstream repository has published.
func DefaultTable() Table {
	return Table{
		Fields: map[string][]string{
			domain.FieldProvinceState: {"Province/State", "Province_State", "Province", "State"},
			domain.FieldCountryRegion: {"Country/Region", "Country_Region", "Country"},
			domain.FieldLastUpdate:    {"Last Update", "Last_Update", "Date last updated", "Last Updated"},
			domain.FieldConfirmed:     {"Confirmed"},
			domain.FieldDeaths:        {"Deaths", "Demised"},
			domain.FieldRecovered:     {"Recovered"},
			domain.FieldSuspected:     {"Suspected"},
			domain.FieldLatitude:      {"Latitude", "Lat"},
			domain.FieldLongitude:     {"Longitude", "Long_", "Long", "Lon"},
		},
		Ignored: []string{
			"FIPS",
			"Admin2",
			"Active",
			"Combined_Key",
			"Incident_Rate",
			"Incidence_Rate",
			"Case_Fatality_Ratio",
			"Case-Fatality_Ratio",
			"People_Tested",
			"People_Hospitalized",
			"UID",
			"ISO3",
			"Testing_Rate",
			"Hospitalization_Rate",
			"Mortality_Rate",
		},
	}
}

var (
	stripMarks   = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	separatorRun = regexp.MustCompile(`[^a-z0-9]+`)
)

// Normalize folds a header to its lookup key: "Province/State",
// "Province_State" and " province state " all become "province_state".
func Normalize(raw string) string {
	value := strings.TrimPrefix(raw, "\ufeff")
	if folded, _, err := transform.String(stripMarks, value); err == nil {
		value = folded
	}
	value = strings.ToLower(strings.TrimSpace(value))
	value = separatorRun.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}

// Mapper resolves headers against a fixed alias index.
type Mapper struct {
	index map[string]string
}

// NewMapper builds the alias index. An alias claimed by two targets is rejected.
func NewMapper(table Table) (*Mapper, error) {
	if len(table.Fields) == 0 {
		return nil, fmt.Errorf("header table has no fields")
	}

	index := make(map[string]string)
	add := func(alias, target string) error {
		key := Normalize(alias)
		if key == "" {
			return fmt.Errorf("empty alias for %s", target)
		}
		if existing, ok := index[key]; ok && existing != target {
			return fmt.Errorf("alias %q maps to both %s and %s", alias, existing, target)
		}
		index[key] = target
		return nil
	}

	fields := make([]string, 0, len(table.Fields))
	for field := range table.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !domain.IsCanonicalField(field) {
			return nil, fmt.Errorf("unknown canonical field %q", field)
		}
		if err := add(field, field); err != nil {
			return nil, err
		}
		for _, alias := range table.Fields[field] {
			if err := add(alias, field); err != nil {
				return nil, err
			}
		}
	}
	for _, alias := range table.Ignored {
		if err := add(alias, domain.IgnoredField); err != nil {
			return nil, err
		}
	}

	return &Mapper{index: index}, nil
}

// Map returns the mapping for every raw header; unknown headers map to
// domain.UnresolvedField.
func (m *Mapper) Map(raw []string) domain.HeaderMapping {
	mapping := make(domain.HeaderMapping, len(raw))
	for _, header := range raw {
		key := Normalize(header)
		if key == "" {
			// Unnamed trailing columns carry no data.
			mapping[header] = domain.IgnoredField
			continue
		}
		if field, ok := m.index[key]; ok {
			mapping[header] = field
			continue
		}
		mapping[header] = domain.UnresolvedField
	}
	return mapping
}

// Resolve reuses cached when it is fully resolved and covers raw, otherwise
// maps raw afresh. The returned mapping is always set, also on error, so
// callers can record what was attempted.
func (m *Mapper) Resolve(raw []string, cached domain.HeaderMapping) (domain.HeaderMapping, bool, error) {
	mapping := cached
	reused := cached.Resolved() && cached.Covers(raw)
	if !reused {
		mapping = m.Map(raw)
	}

	if err := Validate(raw, mapping); err != nil {
		return mapping, reused, err
	}
	return mapping, reused, nil
}

// Validate checks that every header in raw is resolved, that no canonical
// field is claimed twice, and that the required fields are present.
func Validate(raw []string, mapping domain.HeaderMapping) error {
	headerErr := &domain.HeaderError{Mapping: mapping}
	seen := make(map[string]string)
	failed := false

	for _, header := range raw {
		field, ok := mapping[header]
		if !ok || field == domain.UnresolvedField {
			mapping[header] = domain.UnresolvedField
			failed = true
			continue
		}
		if field == domain.IgnoredField {
			continue
		}
		if previous, dup := seen[field]; dup {
			headerErr.Duplicates = append(headerErr.Duplicates, fmt.Sprintf("%s (%q, %q)", field, previous, header))
			failed = true
			continue
		}
		seen[field] = header
	}

	for _, required := range domain.RequiredFields {
		if _, ok := seen[required]; !ok {
			headerErr.Missing = append(headerErr.Missing, required)
			failed = true
		}
	}

	if failed {
		return headerErr
	}
	return nil
}
