package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/casefeed/internal/domain"
)

// columnIndex maps canonical fields to their position in the table.
type columnIndex map[string]int

func indexColumns(headers []string, mapping domain.HeaderMapping) columnIndex {
	index := make(columnIndex, len(headers))
	for i, header := range headers {
		field := mapping[header]
		if field == "" || field == domain.UnresolvedField || field == domain.IgnoredField {
			continue
		}
		index[field] = i
	}
	return index
}

func (c columnIndex) value(row []string, field string) *string {
	i, ok := c[field]
	if !ok {
		return nil
	}
	value := strings.TrimSpace(row[i])
	if value == "" {
		return nil
	}
	return &value
}

// buildRecords converts every row into an ObservationRecord. The first
// invalid row rejects the whole file.
func buildRecords(table tableData, columns columnIndex, timestamps []time.Time, reportDay *time.Time) ([]domain.ObservationRecord, error) {
	records := make([]domain.ObservationRecord, 0, len(table.rows))

	for i, row := range table.rows {
		line := table.lines[i]
		record := domain.ObservationRecord{
			ProvinceState: columns.value(row, domain.FieldProvinceState),
			LastUpdate:    timestamps[i],
			ReportDay:     reportDay,
		}

		country := columns.value(row, domain.FieldCountryRegion)
		if country == nil {
			return nil, &domain.IntegrityError{Detail: fmt.Sprintf("line %d: country_region is empty", line), Line: line}
		}
		record.CountryRegion = *country

		counts := []struct {
			field  string
			target **int64
		}{
			{domain.FieldConfirmed, &record.Confirmed},
			{domain.FieldDeaths, &record.Deaths},
			{domain.FieldRecovered, &record.Recovered},
			{domain.FieldSuspected, &record.Suspected},
		}
		for _, count := range counts {
			value, err := parseCount(columns.value(row, count.field))
			if err != nil {
				return nil, &domain.IntegrityError{Detail: fmt.Sprintf("line %d column %s: %v", line, count.field, err), Line: line}
			}
			*count.target = value
		}

		coords := []struct {
			field  string
			limit  float64
			target **float64
		}{
			{domain.FieldLatitude, 90, &record.Latitude},
			{domain.FieldLongitude, 180, &record.Longitude},
		}
		for _, coord := range coords {
			value, err := parseCoordinate(columns.value(row, coord.field), coord.limit)
			if err != nil {
				return nil, &domain.IntegrityError{Detail: fmt.Sprintf("line %d column %s: %v", line, coord.field, err), Line: line}
			}
			*coord.target = value
		}

		record.DeriveConfirmedSuspected()
		records = append(records, record)
	}

	return records, nil
}

// parseCount accepts integers and whole floats ("12.0"); a count is never
// negative.
func parseCount(raw *string) (*int64, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(*raw, 64)
		if ferr != nil || math.IsInf(f, 0) || math.IsNaN(f) || math.Mod(f, 1) != 0 || math.Abs(f) >= math.MaxInt64 {
			return nil, fmt.Errorf("%q is not a count", *raw)
		}
		value = int64(f)
	}
	if value < 0 {
		return nil, fmt.Errorf("negative count %d", value)
	}
	return &value, nil
}

func parseCoordinate(raw *string, limit float64) (*float64, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := strconv.ParseFloat(*raw, 64)
	if err != nil || math.IsNaN(value) {
		return nil, fmt.Errorf("%q is not a coordinate", *raw)
	}
	if value < -limit || value > limit {
		return nil, fmt.Errorf("coordinate %v out of range", value)
	}
	return &value, nil
}
