package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/casefeed/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ingestionLogRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionLogRepository wires a repository backed by pgxpool.
func NewIngestionLogRepository(pool *pgxpool.Pool) IngestionLogRepository {
	return &ingestionLogRepository{pool: pool}
}

func (r *ingestionLogRepository) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	if r.pool == nil {
		return errNotInitialized
	}

	var lineNumber any
	if entry.LineNumber != nil {
		lineNumber = *entry.LineNumber
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_logs (file_id, file_name, reason, line_number, error_message)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.FileID,
		entry.FileName,
		string(entry.Reason),
		lineNumber,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion log: %w", err)
	}

	return nil
}

func (r *ingestionLogRepository) ListByFile(ctx context.Context, fileID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if r.pool == nil {
		return nil, errNotInitialized
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, file_id, file_name, reason, line_number, error_message, created_at
		 FROM ingestion_logs
		 WHERE file_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		fileID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.IngestionLogEntry{}
	for rows.Next() {
		var (
			entry      domain.IngestionLogEntry
			reason     string
			lineNumber pgtype.Int4
			createdAt  pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.FileID,
			&entry.FileName,
			&reason,
			&lineNumber,
			&entry.ErrorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion log: %w", scanErr)
		}

		entry.Reason = domain.FailureReason(reason)
		if lineNumber.Valid {
			value := int(lineNumber.Int32)
			entry.LineNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion logs: %w", rowsErr)
	}

	return logs, nil
}

func (r *ingestionLogRepository) CountByFile(ctx context.Context, fileID uuid.UUID) (int, error) {
	if r.pool == nil {
		return 0, errNotInitialized
	}
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ingestion_logs WHERE file_id = $1`, fileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count ingestion logs: %w", err)
	}
	return count, nil
}
