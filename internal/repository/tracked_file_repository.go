package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/casefeed/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type trackedFileRepository struct {
	pool *pgxpool.Pool
}

// NewTrackedFileRepository wires a repository backed by pgxpool.
func NewTrackedFileRepository(pool *pgxpool.Pool) TrackedFileRepository {
	return &trackedFileRepository{pool: pool}
}

const trackedFileColumns = `id, fingerprint, name, source_path, source_sha, storage_key, job_id, state,
	failure_reason, processed, normalized, detail, header_mapping, rows_loaded, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedFile(row rowScanner) (domain.TrackedFile, error) {
	var (
		file    domain.TrackedFile
		state   string
		reason  *string
		mapping []byte
	)
	err := row.Scan(
		&file.ID,
		&file.Fingerprint,
		&file.Name,
		&file.SourcePath,
		&file.SourceSHA,
		&file.StorageKey,
		&file.JobID,
		&state,
		&reason,
		&file.Processed,
		&file.Normalized,
		&file.Detail,
		&mapping,
		&file.RowsLoaded,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		return domain.TrackedFile{}, err
	}

	file.State = domain.FileState(state)
	if reason != nil {
		r := domain.FailureReason(*reason)
		file.FailureReason = &r
	}
	file.HeaderMapping = domain.HeaderMapping{}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &file.HeaderMapping); err != nil {
			return domain.TrackedFile{}, fmt.Errorf("failed to decode header mapping: %w", err)
		}
	}
	return file, nil
}

func encodeMapping(mapping domain.HeaderMapping) ([]byte, error) {
	if mapping == nil {
		mapping = domain.HeaderMapping{}
	}
	payload, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to encode header mapping: %w", err)
	}
	return payload, nil
}

func (r *trackedFileRepository) Create(ctx context.Context, file domain.TrackedFile) (domain.TrackedFile, error) {
	if r.pool == nil {
		return domain.TrackedFile{}, errNotInitialized
	}

	mapping, err := encodeMapping(file.HeaderMapping)
	if err != nil {
		return domain.TrackedFile{}, err
	}
	if file.State == "" {
		file.State = domain.FileStateRegistered
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO tracked_files (id, fingerprint, name, source_path, source_sha, storage_key, state, header_mapping)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+trackedFileColumns,
		file.ID,
		file.Fingerprint,
		file.Name,
		file.SourcePath,
		file.SourceSHA,
		file.StorageKey,
		string(file.State),
		mapping,
	)
	created, err := scanTrackedFile(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.TrackedFile{}, fmt.Errorf("fingerprint %s: %w", file.Fingerprint, domain.ErrDuplicateContent)
		}
		return domain.TrackedFile{}, fmt.Errorf("failed to create tracked file: %w", err)
	}
	return created, nil
}

func (r *trackedFileRepository) getOne(ctx context.Context, what string, where string, arg any) (domain.TrackedFile, error) {
	if r.pool == nil {
		return domain.TrackedFile{}, errNotInitialized
	}
	row := r.pool.QueryRow(ctx, `SELECT `+trackedFileColumns+` FROM tracked_files WHERE `+where+` ORDER BY created_at LIMIT 1`, arg)
	file, err := scanTrackedFile(row)
	if err != nil {
		if notFound(err) {
			return domain.TrackedFile{}, wrapNotFound(what)
		}
		return domain.TrackedFile{}, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return file, nil
}

func (r *trackedFileRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.TrackedFile, error) {
	return r.getOne(ctx, "tracked file "+id.String(), "id = $1", id)
}

func (r *trackedFileRepository) GetByFingerprint(ctx context.Context, fingerprint string) (domain.TrackedFile, error) {
	return r.getOne(ctx, "tracked file with fingerprint "+fingerprint, "fingerprint = $1", fingerprint)
}

func (r *trackedFileRepository) GetBySourceSHA(ctx context.Context, sha string) (domain.TrackedFile, error) {
	return r.getOne(ctx, "tracked file with source sha "+sha, "source_sha = $1", sha)
}

func (r *trackedFileRepository) List(ctx context.Context, limit int, offset int) ([]domain.TrackedFile, int, error) {
	if r.pool == nil {
		return nil, 0, errNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracked_files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tracked files: %w", err)
	}

	files, err := r.query(ctx,
		`SELECT `+trackedFileColumns+` FROM tracked_files ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tracked files: %w", err)
	}
	return files, total, nil
}

func (r *trackedFileRepository) ListUnprocessed(ctx context.Context) ([]domain.TrackedFile, error) {
	if r.pool == nil {
		return nil, errNotInitialized
	}
	files, err := r.query(ctx,
		`SELECT `+trackedFileColumns+` FROM tracked_files WHERE processed = FALSE ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed files: %w", err)
	}
	return files, nil
}

func (r *trackedFileRepository) query(ctx context.Context, sql string, args ...any) ([]domain.TrackedFile, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.TrackedFile
	for rows.Next() {
		file, err := scanTrackedFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (r *trackedFileRepository) exec(ctx context.Context, id uuid.UUID, action string, sql string, args ...any) error {
	if r.pool == nil {
		return errNotInitialized
	}
	tag, err := r.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapNotFound("tracked file " + id.String())
	}
	return nil
}

func (r *trackedFileRepository) UpdateMapping(ctx context.Context, id uuid.UUID, mapping domain.HeaderMapping) error {
	payload, err := encodeMapping(mapping)
	if err != nil {
		return err
	}
	return r.exec(ctx, id, "record header mapping",
		`UPDATE tracked_files
		 SET header_mapping = CASE WHEN processed THEN header_mapping ELSE $2 END,
		     state = CASE WHEN processed THEN state ELSE $3 END,
		     failure_reason = CASE WHEN processed THEN failure_reason ELSE NULL END,
		     updated_at = $4
		 WHERE id = $1`,
		payload, string(domain.FileStateHeaderMapped), time.Now().UTC(),
	)
}

func (r *trackedFileRepository) SetNormalized(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, id, "mark file normalized",
		`UPDATE tracked_files
		 SET normalized = TRUE, state = CASE WHEN processed THEN state ELSE $2 END, updated_at = $3
		 WHERE id = $1`,
		string(domain.FileStateDateNormalized), time.Now().UTC(),
	)
}

func (r *trackedFileRepository) SetJob(ctx context.Context, id uuid.UUID, jobID string) error {
	return r.exec(ctx, id, "attach job",
		`UPDATE tracked_files SET job_id = $2, updated_at = $3 WHERE id = $1`,
		jobID, time.Now().UTC(),
	)
}

func (r *trackedFileRepository) SetOutcome(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error {
	var reason *string
	if outcome.Reason != nil {
		value := string(*outcome.Reason)
		reason = &value
	}
	var detail *string
	if outcome.Detail != "" {
		detail = &outcome.Detail
	}

	// A nil mapping keeps the stored one.
	var mapping []byte
	if outcome.Mapping != nil {
		encoded, err := encodeMapping(outcome.Mapping)
		if err != nil {
			return err
		}
		mapping = encoded
	}

	return r.exec(ctx, id, "record outcome",
		`UPDATE tracked_files
		 SET state = $2,
		     processed = $3,
		     failure_reason = $4,
		     detail = $5,
		     rows_loaded = $6,
		     header_mapping = COALESCE($7::jsonb, header_mapping),
		     updated_at = $8
		 WHERE id = $1`,
		string(outcome.State), outcome.Processed, reason, detail, outcome.RowsLoaded, mapping, time.Now().UTC(),
	)
}
