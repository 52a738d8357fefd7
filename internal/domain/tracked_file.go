package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// FileState is the ingestion state of a tracked file.
type FileState string

const (
	FileStateRegistered     FileState = "registered"
	FileStateHeaderMapped   FileState = "header_mapped"
	FileStateDateNormalized FileState = "date_normalized"
	FileStateLoaded         FileState = "loaded"
	FileStateFailed         FileState = "failed"
)

// FailureReason classifies why a file ended in FileStateFailed.
type FailureReason string

const (
	FailureHeaderNotIdentifier     FailureReason = "HeaderNotIdentifier"
	FailureDateFormatNotIdentifier FailureReason = "DateFormatNotIdentifier"
	FailureIntegrityError          FailureReason = "IntegrityError"
	FailureIOError                 FailureReason = "IOError"
)

// TrackedFile is one source file registered for ingestion.
type TrackedFile struct {
	ID            uuid.UUID      `json:"id"`
	Fingerprint   string         `json:"fingerprint"`
	Name          string         `json:"name"`
	SourcePath    string         `json:"source_path,omitempty"`
	SourceSHA     *string        `json:"source_sha,omitempty"`
	StorageKey    string         `json:"storage_key"`
	JobID         *string        `json:"job_id,omitempty"`
	State         FileState      `json:"state"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
	Processed     bool           `json:"processed"`
	Normalized    bool           `json:"normalized"`
	Detail        *string        `json:"detail,omitempty"`
	HeaderMapping HeaderMapping  `json:"header_mapping"`
	RowsLoaded    int            `json:"rows_loaded"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewTrackedFile prepares a file record for registration.
func NewTrackedFile(fingerprint, name, sourcePath string) TrackedFile {
	now := time.Now().UTC()
	return TrackedFile{
		ID:            uuid.New(),
		Fingerprint:   fingerprint,
		Name:          name,
		SourcePath:    sourcePath,
		State:         FileStateRegistered,
		HeaderMapping: HeaderMapping{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// DetailText returns the diagnostic detail or an empty string.
func (f TrackedFile) DetailText() string {
	if f.Detail == nil {
		return ""
	}
	return *f.Detail
}

// Outcome is the status update applied when a pipeline run finishes.
type Outcome struct {
	State      FileState
	Processed  bool
	Reason     *FailureReason
	Detail     string
	RowsLoaded int
	Mapping    HeaderMapping
}

const (
	// UnresolvedField marks a raw header with no canonical field.
	UnresolvedField = "<unresolved>"
	// IgnoredField marks a raw header that is known but not persisted.
	IgnoredField = "<ignored>"
)

// HeaderMapping maps raw CSV headers to canonical field names.
type HeaderMapping map[string]string

// Unresolved returns the raw headers without a canonical field, sorted.
func (m HeaderMapping) Unresolved() []string {
	var out []string
	for raw, field := range m {
		if field == UnresolvedField {
			out = append(out, raw)
		}
	}
	sort.Strings(out)
	return out
}

// Resolved reports whether every header maps to a canonical or ignored field.
func (m HeaderMapping) Resolved() bool {
	return len(m) > 0 && len(m.Unresolved()) == 0
}

// Covers reports whether the mapping has an entry for every header.
func (m HeaderMapping) Covers(headers []string) bool {
	if len(m) == 0 {
		return false
	}
	for _, header := range headers {
		if _, ok := m[header]; !ok {
			return false
		}
	}
	return true
}

// Fields returns the set of canonical fields the mapping resolves to.
func (m HeaderMapping) Fields() map[string]bool {
	out := make(map[string]bool, len(m))
	for _, field := range m {
		if field == UnresolvedField || field == IgnoredField {
			continue
		}
		out[field] = true
	}
	return out
}
