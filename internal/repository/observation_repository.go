package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/casefeed/internal/db"
	"github.com/rpattn/casefeed/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type observationRepository struct {
	pool *pgxpool.Pool
}

// NewObservationRepository wires a repository backed by pgxpool.
func NewObservationRepository(pool *pgxpool.Pool) ObservationRepository {
	return &observationRepository{pool: pool}
}

var observationCopyColumns = []string{
	"file_id",
	"province_state",
	"country_region",
	"last_update",
	"confirmed",
	"deaths",
	"recovered",
	"suspected",
	"confirmed_suspected",
	"latitude",
	"longitude",
	"report_day",
}

const observationColumns = `id, file_id, province_state, country_region, last_update, confirmed, deaths,
	recovered, suspected, confirmed_suspected, latitude, longitude, report_day`

func (r *observationRepository) BulkInsert(ctx context.Context, fileID uuid.UUID, records []domain.ObservationRecord) (int64, error) {
	if r.pool == nil {
		return 0, errNotInitialized
	}

	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, []any{
			fileID,
			record.ProvinceState,
			record.CountryRegion,
			record.LastUpdate,
			record.Confirmed,
			record.Deaths,
			record.Recovered,
			record.Suspected,
			record.ConfirmedSuspected,
			record.Latitude,
			record.Longitude,
			record.ReportDay,
		})
	}

	var inserted int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// The row lock serializes loads of one file until commit.
		var processed bool
		err := tx.QueryRow(ctx, `SELECT processed FROM tracked_files WHERE id = $1 FOR UPDATE`, fileID).Scan(&processed)
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapNotFound("tracked file " + fileID.String())
		}
		if err != nil {
			return fmt.Errorf("failed to lock tracked file: %w", err)
		}
		if processed {
			return fmt.Errorf("tracked file %s: %w", fileID, domain.ErrAlreadyLoaded)
		}

		// A retried load replaces whatever an interrupted run committed.
		if _, err := tx.Exec(ctx, `DELETE FROM observations WHERE file_id = $1`, fileID); err != nil {
			return fmt.Errorf("failed to clear previous observations: %w", err)
		}
		count, err := tx.CopyFrom(ctx, pgx.Identifier{"observations"}, observationCopyColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		inserted = count
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyLoaded) || errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		if isIntegrityViolation(err) {
			return 0, &domain.IntegrityError{Detail: integrityDetail(err), Err: err}
		}
		return 0, fmt.Errorf("failed to bulk insert observations: %w", err)
	}
	return inserted, nil
}

func scanObservation(row rowScanner) (domain.ObservationRecord, error) {
	var record domain.ObservationRecord
	err := row.Scan(
		&record.ID,
		&record.FileID,
		&record.ProvinceState,
		&record.CountryRegion,
		&record.LastUpdate,
		&record.Confirmed,
		&record.Deaths,
		&record.Recovered,
		&record.Suspected,
		&record.ConfirmedSuspected,
		&record.Latitude,
		&record.Longitude,
		&record.ReportDay,
	)
	return record, err
}

// observationWhere renders the WHERE clause of filter, empty when nothing is set.
func observationWhere(filter domain.ObservationFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.From != nil {
		add("last_update >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("last_update < $%d", *filter.To)
	}
	if filter.CountryRegion != "" {
		add("LOWER(country_region) = LOWER($%d)", filter.CountryRegion)
	}
	if filter.ProvinceState != "" {
		add("LOWER(province_state) = LOWER($%d)", filter.ProvinceState)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildObservationQuery(filter domain.ObservationFilter) (string, []any) {
	where, args := observationWhere(filter)

	var b strings.Builder
	b.WriteString(`SELECT ` + observationColumns + ` FROM observations`)
	b.WriteString(where)
	b.WriteString(" ORDER BY last_update, id")

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (r *observationRepository) List(ctx context.Context, filter domain.ObservationFilter) ([]domain.ObservationRecord, error) {
	if r.pool == nil {
		return nil, errNotInitialized
	}
	sql, args := buildObservationQuery(filter)
	records, err := r.collect(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	return records, nil
}

func (r *observationRepository) Count(ctx context.Context, filter domain.ObservationFilter) (int64, error) {
	if r.pool == nil {
		return 0, errNotInitialized
	}
	where, args := observationWhere(filter)
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observations`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

func (r *observationRepository) Latest(ctx context.Context) ([]domain.ObservationRecord, error) {
	if r.pool == nil {
		return nil, errNotInitialized
	}
	records, err := r.collect(ctx,
		`SELECT `+observationColumns+`
		 FROM observations
		 WHERE last_update >= (SELECT date_trunc('day', MAX(last_update)) FROM observations)
		 ORDER BY country_region, province_state NULLS FIRST, last_update`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest observations: %w", err)
	}
	return records, nil
}

func (r *observationRepository) Stream(ctx context.Context, fn func(domain.ObservationRecord) error) error {
	if r.pool == nil {
		return errNotInitialized
	}
	rows, err := r.pool.Query(ctx, `SELECT `+observationColumns+` FROM observations ORDER BY last_update, id`)
	if err != nil {
		return fmt.Errorf("failed to stream observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanObservation(rows)
		if err != nil {
			return fmt.Errorf("failed to scan observation: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to stream observations: %w", err)
	}
	return nil
}

func (r *observationRepository) CountByFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	if r.pool == nil {
		return 0, errNotInitialized
	}
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observations WHERE file_id = $1`, fileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

func (r *observationRepository) collect(ctx context.Context, sql string, args ...any) ([]domain.ObservationRecord, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ObservationRecord
	for rows.Next() {
		record, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
