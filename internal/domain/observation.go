package domain

import (
	"time"

	"github.com/google/uuid"
)

// Canonical field names produced by header mapping.
const (
	FieldProvinceState = "province_state"
	FieldCountryRegion = "country_region"
	FieldLastUpdate    = "last_update"
	FieldConfirmed     = "confirmed"
	FieldDeaths        = "deaths"
	FieldRecovered     = "recovered"
	FieldSuspected     = "suspected"
	FieldLatitude      = "latitude"
	FieldLongitude     = "longitude"
)

// CanonicalFields lists the persisted source columns in canonical file order.
var CanonicalFields = []string{
	FieldProvinceState,
	FieldCountryRegion,
	FieldLastUpdate,
	FieldConfirmed,
	FieldDeaths,
	FieldRecovered,
	FieldSuspected,
	FieldLatitude,
	FieldLongitude,
}

// RequiredFields must be present in every mapped file.
var RequiredFields = []string{FieldCountryRegion, FieldLastUpdate}

// IsCanonicalField reports whether name is one of CanonicalFields.
func IsCanonicalField(name string) bool {
	for _, field := range CanonicalFields {
		if field == name {
			return true
		}
	}
	return false
}

// ObservationRecord is one normalized region/time-stamped measurement.
type ObservationRecord struct {
	ID                 int64      `json:"id"`
	FileID             uuid.UUID  `json:"file_id"`
	ProvinceState      *string    `json:"province_state,omitempty"`
	CountryRegion      string     `json:"country_region"`
	LastUpdate         time.Time  `json:"last_update"`
	Confirmed          *int64     `json:"confirmed,omitempty"`
	Deaths             *int64     `json:"deaths,omitempty"`
	Recovered          *int64     `json:"recovered,omitempty"`
	Suspected          *int64     `json:"suspected,omitempty"`
	ConfirmedSuspected *int64     `json:"confirmed_suspected,omitempty"`
	Latitude           *float64   `json:"latitude,omitempty"`
	Longitude          *float64   `json:"longitude,omitempty"`
	ReportDay          *time.Time `json:"report_day,omitempty"`
}

// DeriveConfirmedSuspected sets ConfirmedSuspected to confirmed plus suspected
// cases when at least one of them is known.
func (o *ObservationRecord) DeriveConfirmedSuspected() {
	if o.Confirmed == nil && o.Suspected == nil {
		o.ConfirmedSuspected = nil
		return
	}
	var total int64
	if o.Confirmed != nil {
		total += *o.Confirmed
	}
	if o.Suspected != nil {
		total += *o.Suspected
	}
	o.ConfirmedSuspected = &total
}

// ObservationFilter narrows read queries over observations.
type ObservationFilter struct {
	From          *time.Time
	To            *time.Time
	CountryRegion string
	ProvinceState string
	Limit         int
	Offset        int
}
