package repository

import (
	"context"

	"github.com/rpattn/casefeed/internal/domain"

	"github.com/google/uuid"
)

// TrackedFileRepository defines the interface for tracked file operations.
// Lookups return an error wrapping domain.ErrNotFound when nothing matches.
type TrackedFileRepository interface {
	// Create inserts file. A fingerprint that already exists yields an error
	// wrapping domain.ErrDuplicateContent.
	Create(ctx context.Context, file domain.TrackedFile) (domain.TrackedFile, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.TrackedFile, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (domain.TrackedFile, error)
	GetBySourceSHA(ctx context.Context, sha string) (domain.TrackedFile, error)
	List(ctx context.Context, limit int, offset int) ([]domain.TrackedFile, int, error)
	ListUnprocessed(ctx context.Context) ([]domain.TrackedFile, error)

	// UpdateMapping and SetNormalized leave the state of a processed file
	// alone, so a late duplicate run cannot move a loaded file backwards.
	UpdateMapping(ctx context.Context, id uuid.UUID, mapping domain.HeaderMapping) error
	SetNormalized(ctx context.Context, id uuid.UUID) error
	SetJob(ctx context.Context, id uuid.UUID, jobID string) error
	SetOutcome(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error
}

// ObservationRepository defines the interface for observation operations
type ObservationRepository interface {
	// BulkInsert replaces the observations of fileID with records in a single
	// transaction. A constraint violation on any row rolls back everything and
	// yields a *domain.IntegrityError. Loads of one file are serialized, and a
	// file already marked processed yields domain.ErrAlreadyLoaded.
	BulkInsert(ctx context.Context, fileID uuid.UUID, records []domain.ObservationRecord) (int64, error)
	List(ctx context.Context, filter domain.ObservationFilter) ([]domain.ObservationRecord, error)
	// Count returns how many observations match filter, ignoring its limit and offset.
	Count(ctx context.Context, filter domain.ObservationFilter) (int64, error)
	// Latest returns the observations of the most recent calendar day.
	Latest(ctx context.Context) ([]domain.ObservationRecord, error)
	// Stream visits every observation ordered by last update.
	Stream(ctx context.Context, fn func(domain.ObservationRecord) error) error
	CountByFile(ctx context.Context, fileID uuid.UUID) (int64, error)
}

// IngestionLogRepository keeps the failure history of tracked files.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	// ListByFile returns entries newest first.
	ListByFile(ctx context.Context, fileID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
	CountByFile(ctx context.Context, fileID uuid.UUID) (int, error)
}
