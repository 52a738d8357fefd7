package ingestion

import (
	"path"
	"regexp"
	"strconv"
	"time"
)

var reportDayPattern = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`)

// reportDay extracts the publication day from an upstream file name such as
// "01-22-2020.csv".
func reportDay(name string) (*time.Time, bool) {
	match := reportDayPattern.FindStringSubmatch(path.Base(name))
	if match == nil {
		return nil, false
	}
	month, _ := strconv.Atoi(match[1])
	day, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])

	value := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow; reject names like 13-45-2020.
	if value.Month() != time.Month(month) || value.Day() != day {
		return nil, false
	}
	return &value, true
}
