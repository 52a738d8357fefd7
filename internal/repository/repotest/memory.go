// Package repotest provides in-memory repository implementations for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/repository"
)

// TrackedFiles is a TrackedFileRepository over a map, enforcing the unique
// fingerprint constraint.
type TrackedFiles struct {
	mu    sync.Mutex
	files map[uuid.UUID]domain.TrackedFile

	// CreateHook runs before a Create is applied, outside the lock.
	CreateHook func(domain.TrackedFile)
}

var _ repository.TrackedFileRepository = (*TrackedFiles)(nil)

func NewTrackedFiles() *TrackedFiles {
	return &TrackedFiles{files: make(map[uuid.UUID]domain.TrackedFile)}
}

func (r *TrackedFiles) Create(_ context.Context, file domain.TrackedFile) (domain.TrackedFile, error) {
	if r.CreateHook != nil {
		r.CreateHook(file)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.files {
		if existing.Fingerprint == file.Fingerprint {
			return domain.TrackedFile{}, fmt.Errorf("fingerprint %s: %w", file.Fingerprint, domain.ErrDuplicateContent)
		}
	}
	if file.State == "" {
		file.State = domain.FileStateRegistered
	}
	if file.HeaderMapping == nil {
		file.HeaderMapping = domain.HeaderMapping{}
	}
	now := time.Now().UTC()
	file.CreatedAt, file.UpdatedAt = now, now
	r.files[file.ID] = clone(file)
	return clone(file), nil
}

func (r *TrackedFiles) GetByID(_ context.Context, id uuid.UUID) (domain.TrackedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return domain.TrackedFile{}, fmt.Errorf("tracked file %s: %w", id, domain.ErrNotFound)
	}
	return clone(file), nil
}

func (r *TrackedFiles) find(what string, match func(domain.TrackedFile) bool) (domain.TrackedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, file := range r.sorted() {
		if match(file) {
			return clone(file), nil
		}
	}
	return domain.TrackedFile{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
}

func (r *TrackedFiles) GetByFingerprint(_ context.Context, fingerprint string) (domain.TrackedFile, error) {
	return r.find("fingerprint "+fingerprint, func(f domain.TrackedFile) bool { return f.Fingerprint == fingerprint })
}

func (r *TrackedFiles) GetBySourceSHA(_ context.Context, sha string) (domain.TrackedFile, error) {
	return r.find("source sha "+sha, func(f domain.TrackedFile) bool { return f.SourceSHA != nil && *f.SourceSHA == sha })
}

func (r *TrackedFiles) List(_ context.Context, limit int, offset int) ([]domain.TrackedFile, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted()
	// Newest first, as the database implementation orders.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *TrackedFiles) ListUnprocessed(_ context.Context) ([]domain.TrackedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TrackedFile
	for _, file := range r.sorted() {
		if !file.Processed {
			out = append(out, file)
		}
	}
	return out, nil
}

func (r *TrackedFiles) update(id uuid.UUID, fn func(*domain.TrackedFile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return fmt.Errorf("tracked file %s: %w", id, domain.ErrNotFound)
	}
	fn(&file)
	file.UpdatedAt = time.Now().UTC()
	r.files[id] = file
	return nil
}

func (r *TrackedFiles) UpdateMapping(_ context.Context, id uuid.UUID, mapping domain.HeaderMapping) error {
	return r.update(id, func(f *domain.TrackedFile) {
		if f.Processed {
			return
		}
		f.HeaderMapping = copyMapping(mapping)
		f.State = domain.FileStateHeaderMapped
		f.FailureReason = nil
	})
}

func (r *TrackedFiles) SetNormalized(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(f *domain.TrackedFile) {
		f.Normalized = true
		if !f.Processed {
			f.State = domain.FileStateDateNormalized
		}
	})
}

func (r *TrackedFiles) SetJob(_ context.Context, id uuid.UUID, jobID string) error {
	return r.update(id, func(f *domain.TrackedFile) {
		f.JobID = &jobID
	})
}

func (r *TrackedFiles) SetOutcome(_ context.Context, id uuid.UUID, outcome domain.Outcome) error {
	return r.update(id, func(f *domain.TrackedFile) {
		f.State = outcome.State
		f.Processed = outcome.Processed
		f.FailureReason = nil
		if outcome.Reason != nil {
			reason := *outcome.Reason
			f.FailureReason = &reason
		}
		f.Detail = nil
		if outcome.Detail != "" {
			detail := outcome.Detail
			f.Detail = &detail
		}
		f.RowsLoaded = outcome.RowsLoaded
		if outcome.Mapping != nil {
			f.HeaderMapping = copyMapping(outcome.Mapping)
		}
	})
}

// Put stores file as-is, bypassing the fingerprint check.
func (r *TrackedFiles) Put(file domain.TrackedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[file.ID] = clone(file)
}

// Len returns the number of stored files.
func (r *TrackedFiles) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

func (r *TrackedFiles) sorted() []domain.TrackedFile {
	out := make([]domain.TrackedFile, 0, len(r.files))
	for _, file := range r.files {
		out = append(out, clone(file))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func clone(file domain.TrackedFile) domain.TrackedFile {
	file.HeaderMapping = copyMapping(file.HeaderMapping)
	return file
}

func copyMapping(mapping domain.HeaderMapping) domain.HeaderMapping {
	out := make(domain.HeaderMapping, len(mapping))
	for k, v := range mapping {
		out[k] = v
	}
	return out
}

// Observations is an ObservationRepository over a slice. Inserts are atomic:
// when a row breaks a column constraint, nothing from the batch is kept.
type Observations struct {
	mu      sync.Mutex
	records []domain.ObservationRecord
	nextID  int64

	// FailOnRow makes BulkInsert reject the batch at the given 1-based row.
	FailOnRow int
	// Err, when set, is returned by every BulkInsert as an infrastructure error.
	Err error
	// Loaded, when set, reports files whose load is already marked processed.
	// BulkInsert refuses them with domain.ErrAlreadyLoaded.
	Loaded func(fileID uuid.UUID) bool
}

var _ repository.ObservationRepository = (*Observations)(nil)

func NewObservations() *Observations {
	return &Observations{}
}

func (r *Observations) BulkInsert(_ context.Context, fileID uuid.UUID, records []domain.ObservationRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return 0, r.Err
	}
	if r.Loaded != nil && r.Loaded(fileID) {
		return 0, fmt.Errorf("tracked file %s: %w", fileID, domain.ErrAlreadyLoaded)
	}

	kept := make([]domain.ObservationRecord, 0, len(r.records))
	for _, existing := range r.records {
		if existing.FileID != fileID {
			kept = append(kept, existing)
		}
	}

	staged := make([]domain.ObservationRecord, 0, len(records))
	nextID := r.nextID
	for i, record := range records {
		row := i + 1
		if r.FailOnRow == row {
			return 0, &domain.IntegrityError{Detail: fmt.Sprintf("row %d rejected by storage", row)}
		}
		if record.CountryRegion == "" {
			return 0, &domain.IntegrityError{Detail: fmt.Sprintf("row %d: null value in column \"country_region\"", row)}
		}
		for _, count := range []*int64{record.Confirmed, record.Deaths, record.Recovered, record.Suspected, record.ConfirmedSuspected} {
			if count != nil && *count < 0 {
				return 0, &domain.IntegrityError{Detail: fmt.Sprintf("row %d: negative count violates check constraint", row)}
			}
		}
		nextID++
		record.ID = nextID
		record.FileID = fileID
		staged = append(staged, record)
	}

	r.records = append(kept, staged...)
	r.nextID = nextID
	return int64(len(staged)), nil
}

func (r *Observations) ordered() []domain.ObservationRecord {
	out := append([]domain.ObservationRecord(nil), r.records...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdate.Before(out[j].LastUpdate)
	})
	return out
}

func (r *Observations) List(_ context.Context, filter domain.ObservationFilter) ([]domain.ObservationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ObservationRecord
	for _, record := range r.ordered() {
		if matches(filter, record) {
			out = append(out, record)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Observations) Count(_ context.Context, filter domain.ObservationFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, record := range r.records {
		if matches(filter, record) {
			count++
		}
	}
	return count, nil
}

func matches(filter domain.ObservationFilter, record domain.ObservationRecord) bool {
	if filter.From != nil && record.LastUpdate.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !record.LastUpdate.Before(*filter.To) {
		return false
	}
	if filter.CountryRegion != "" && !strings.EqualFold(record.CountryRegion, filter.CountryRegion) {
		return false
	}
	if filter.ProvinceState != "" && (record.ProvinceState == nil || !strings.EqualFold(*record.ProvinceState, filter.ProvinceState)) {
		return false
	}
	return true
}

func (r *Observations) Latest(_ context.Context) ([]domain.ObservationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := r.ordered()
	if len(ordered) == 0 {
		return nil, nil
	}
	last := ordered[len(ordered)-1].LastUpdate
	day := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location())

	var out []domain.ObservationRecord
	for _, record := range ordered {
		if !record.LastUpdate.Before(day) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *Observations) Stream(ctx context.Context, fn func(domain.ObservationRecord) error) error {
	r.mu.Lock()
	ordered := r.ordered()
	r.mu.Unlock()

	for _, record := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

func (r *Observations) CountByFile(_ context.Context, fileID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, record := range r.records {
		if record.FileID == fileID {
			count++
		}
	}
	return count, nil
}

// All returns every stored record.
func (r *Observations) All() []domain.ObservationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordered()
}

// IngestionLogs is an IngestionLogRepository over a slice.
type IngestionLogs struct {
	mu      sync.Mutex
	entries []domain.IngestionLogEntry
}

var _ repository.IngestionLogRepository = (*IngestionLogs)(nil)

func NewIngestionLogs() *IngestionLogs {
	return &IngestionLogs{}
}

func (r *IngestionLogs) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *IngestionLogs) ListByFile(_ context.Context, fileID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []domain.IngestionLogEntry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].FileID == fileID {
			out = append(out, r.entries[i])
		}
	}
	if offset > 0 {
		if offset >= len(out) {
			return []domain.IngestionLogEntry{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *IngestionLogs) CountByFile(_ context.Context, fileID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.entries {
		if entry.FileID == fileID {
			count++
		}
	}
	return count, nil
}
