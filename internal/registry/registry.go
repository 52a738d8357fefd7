// Package registry tracks every source file by content fingerprint and keeps
// its bytes in durable storage.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/checksum"
	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/platform/logger"
	"github.com/rpattn/casefeed/internal/repository"
	"github.com/rpattn/casefeed/internal/storage"
)

// RegisterRequest describes a file to register. Fingerprint is computed from
// Data when empty.
type RegisterRequest struct {
	Fingerprint string
	Name        string
	SourcePath  string
	SourceSHA   string
	Data        []byte
}

// Registry owns TrackedFile records and the stored bytes behind them.
type Registry struct {
	files repository.TrackedFileRepository
	blobs storage.BlobStore
	log   *logger.Logger
}

func New(files repository.TrackedFileRepository, blobs storage.BlobStore, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{files: files, blobs: blobs, log: log.With("component", "Registry")}
}

// Register persists a new file. Content already registered yields an error
// wrapping domain.ErrDuplicateContent and leaves storage untouched; of two
// concurrent registrations of the same bytes exactly one succeeds.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (domain.TrackedFile, error) {
	if req.Name == "" {
		return domain.TrackedFile{}, fmt.Errorf("file name is required")
	}

	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = checksum.Bytes(req.Data)
	}

	if existing, err := r.files.GetByFingerprint(ctx, fingerprint); err == nil {
		return existing, fmt.Errorf("%s matches file %s: %w", req.Name, existing.ID, domain.ErrDuplicateContent)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.TrackedFile{}, fmt.Errorf("failed to look up fingerprint: %w", err)
	}

	file := domain.NewTrackedFile(fingerprint, req.Name, req.SourcePath)
	if req.SourceSHA != "" {
		sha := req.SourceSHA
		file.SourceSHA = &sha
	}
	file.StorageKey = storage.FileKey(file.ID, req.Name)

	if err := r.blobs.Put(ctx, file.StorageKey, bytes.NewReader(req.Data)); err != nil {
		return domain.TrackedFile{}, fmt.Errorf("%w: failed to store %s: %v", domain.ErrIO, req.Name, err)
	}

	created, err := r.files.Create(ctx, file)
	if err != nil {
		// The key is unique to this attempt, so only our own blob is removed.
		if delErr := r.blobs.Delete(ctx, file.StorageKey); delErr != nil {
			r.log.Warn("failed to remove orphaned blob", "key", file.StorageKey, "error", delErr)
		}
		if errors.Is(err, domain.ErrDuplicateContent) {
			if existing, lookupErr := r.files.GetByFingerprint(ctx, fingerprint); lookupErr == nil {
				return existing, fmt.Errorf("%s matches file %s: %w", req.Name, existing.ID, domain.ErrDuplicateContent)
			}
			return domain.TrackedFile{}, err
		}
		return domain.TrackedFile{}, fmt.Errorf("failed to register %s: %w", req.Name, err)
	}

	r.log.Info("file registered", "file_id", created.ID, "name", created.Name, "fingerprint", created.Fingerprint)
	return created, nil
}

// Lookup finds a file by content fingerprint.
func (r *Registry) Lookup(ctx context.Context, fingerprint string) (domain.TrackedFile, error) {
	return r.files.GetByFingerprint(ctx, fingerprint)
}

// LookupSource finds a file by the upstream object hash it was fetched as.
func (r *Registry) LookupSource(ctx context.Context, sha string) (domain.TrackedFile, error) {
	return r.files.GetBySourceSHA(ctx, sha)
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (domain.TrackedFile, error) {
	return r.files.GetByID(ctx, id)
}

func (r *Registry) List(ctx context.Context, limit, offset int) ([]domain.TrackedFile, int, error) {
	return r.files.List(ctx, limit, offset)
}

// ListPending returns files that have not been loaded yet.
func (r *Registry) ListPending(ctx context.Context) ([]domain.TrackedFile, error) {
	return r.files.ListUnprocessed(ctx)
}

// RecordMapping stores the header mapping and moves the file to header_mapped.
func (r *Registry) RecordMapping(ctx context.Context, id uuid.UUID, mapping domain.HeaderMapping) error {
	return r.files.UpdateMapping(ctx, id, mapping)
}

// MarkNormalized records that the stored bytes are the canonical rewrite.
func (r *Registry) MarkNormalized(ctx context.Context, id uuid.UUID) error {
	return r.files.SetNormalized(ctx, id)
}

func (r *Registry) AttachJob(ctx context.Context, id uuid.UUID, jobID string) error {
	return r.files.SetJob(ctx, id, jobID)
}

// MarkOutcome applies the terminal state of a pipeline run.
func (r *Registry) MarkOutcome(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error {
	if outcome.State == domain.FileStateLoaded {
		outcome.Processed = true
		outcome.Reason = nil
	}
	if outcome.State == domain.FileStateFailed {
		outcome.Processed = false
	}
	return r.files.SetOutcome(ctx, id, outcome)
}

// Open returns the stored bytes of file. A missing blob wraps domain.ErrIO;
// any other store error is returned as is, since the store may come back.
func (r *Registry) Open(ctx context.Context, file domain.TrackedFile) (io.ReadCloser, error) {
	rc, err := r.blobs.Get(ctx, file.StorageKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: failed to open %s: %v", domain.ErrIO, file.StorageKey, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.StorageKey, err)
	}
	return rc, nil
}

// Rewrite replaces the stored bytes of file.
func (r *Registry) Rewrite(ctx context.Context, file domain.TrackedFile, data []byte) error {
	if err := r.blobs.Put(ctx, file.StorageKey, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", file.StorageKey, err)
	}
	return nil
}
