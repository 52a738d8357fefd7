// Package ingestion turns a registered file into normalized observation
// records: header mapping, timestamp normalization, canonical rewrite and an
// atomic bulk load.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/dates"
	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/headers"
	"github.com/rpattn/casefeed/internal/metrics"
	"github.com/rpattn/casefeed/internal/platform/logger"
	"github.com/rpattn/casefeed/internal/repository"
)

// FileStore is the part of the file registry the pipeline drives.
type FileStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.TrackedFile, error)
	Open(ctx context.Context, file domain.TrackedFile) (io.ReadCloser, error)
	Rewrite(ctx context.Context, file domain.TrackedFile, data []byte) error
	RecordMapping(ctx context.Context, id uuid.UUID, mapping domain.HeaderMapping) error
	MarkNormalized(ctx context.Context, id uuid.UUID) error
	MarkOutcome(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error
}

// Result reports how a run ended. Skipped is set when the file had already
// been loaded.
type Result struct {
	FileID  uuid.UUID            `json:"file_id"`
	State   domain.FileState     `json:"state"`
	Reason  domain.FailureReason `json:"reason,omitempty"`
	Detail  string               `json:"detail,omitempty"`
	Rows    int                  `json:"rows"`
	Skipped bool                 `json:"skipped,omitempty"`
}

// Pipeline runs the ingestion state machine for one file at a time. It is
// safe for concurrent use on distinct files.
type Pipeline struct {
	files        FileStore
	observations repository.ObservationRepository
	mapper       *headers.Mapper
	dates        *dates.Normalizer
	canonical    *dates.Normalizer
	history      repository.IngestionLogRepository
	metrics      *metrics.Metrics
	log          *logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithHistory records every file-level failure in history.
func WithHistory(history repository.IngestionLogRepository) Option {
	return func(p *Pipeline) {
		p.history = history
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(log *logger.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func NewPipeline(files FileStore, observations repository.ObservationRepository, mapper *headers.Mapper, normalizer *dates.Normalizer, opts ...Option) *Pipeline {
	canonical, _ := dates.NewNormalizer([]string{dates.CanonicalLayout})
	p := &Pipeline{
		files:        files,
		observations: observations,
		mapper:       mapper,
		dates:        normalizer,
		canonical:    canonical,
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "Pipeline")
	return p
}

// Run ingests one file. File-level failures end in FileStateFailed and are
// reported through Result with a nil error; only infrastructure failures are
// returned as errors, leaving the file retryable.
func (p *Pipeline) Run(ctx context.Context, fileID uuid.UUID) (Result, error) {
	started := time.Now()

	file, err := p.files.Get(ctx, fileID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load file %s: %w", fileID, err)
	}
	if file.Processed {
		p.metrics.RecordIngestion("skipped", 0, time.Since(started).Seconds())
		return Result{FileID: file.ID, State: domain.FileStateLoaded, Rows: file.RowsLoaded, Detail: file.DetailText(), Skipped: true}, nil
	}

	log := p.log.With("file_id", file.ID, "name", file.Name)
	log.Info("ingestion started", "state", file.State, "normalized", file.Normalized)

	loaded, mapping, runErr := p.process(ctx, log, file)
	if errors.Is(runErr, domain.ErrAlreadyLoaded) {
		// Another run of the same file committed first.
		p.metrics.RecordIngestion("skipped", 0, time.Since(started).Seconds())
		log.Info("ingestion skipped, file loaded by a concurrent run")
		return Result{FileID: file.ID, State: domain.FileStateLoaded, Skipped: true}, nil
	}
	if runErr != nil {
		reason, ok := domain.ReasonFor(runErr)
		if !ok {
			log.Error("ingestion aborted", "error", runErr)
			return Result{}, runErr
		}
		outcome := domain.Outcome{
			State:   domain.FileStateFailed,
			Reason:  &reason,
			Detail:  runErr.Error(),
			Mapping: mapping,
		}
		if err := p.files.MarkOutcome(ctx, file.ID, outcome); err != nil {
			return Result{}, fmt.Errorf("failed to record failure of %s: %w", file.ID, err)
		}
		p.metrics.RecordIngestion(string(reason), 0, time.Since(started).Seconds())
		p.recordFailure(ctx, log, file, reason, runErr)
		log.Warn("ingestion failed", "reason", reason, "detail", outcome.Detail)
		return Result{FileID: file.ID, State: domain.FileStateFailed, Reason: reason, Detail: outcome.Detail}, nil
	}

	outcome := domain.Outcome{
		State:      domain.FileStateLoaded,
		Processed:  true,
		Detail:     loaded.detail,
		RowsLoaded: loaded.rows,
	}
	if err := p.files.MarkOutcome(ctx, file.ID, outcome); err != nil {
		return Result{}, fmt.Errorf("failed to record load of %s: %w", file.ID, err)
	}
	p.metrics.RecordIngestion("loaded", loaded.rows, time.Since(started).Seconds())
	log.Info("ingestion finished", "rows", loaded.rows, "duration", time.Since(started))
	return Result{FileID: file.ID, State: domain.FileStateLoaded, Rows: loaded.rows, Detail: loaded.detail}, nil
}

// recordFailure appends to the file's failure history. The outcome is
// already stored, so a history write error is only logged.
func (p *Pipeline) recordFailure(ctx context.Context, log *logger.Logger, file domain.TrackedFile, reason domain.FailureReason, err error) {
	if p.history == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		FileID:       file.ID,
		FileName:     file.Name,
		Reason:       reason,
		LineNumber:   domain.FailedLine(err),
		ErrorMessage: err.Error(),
	}
	if recordErr := p.history.Record(ctx, entry); recordErr != nil {
		log.Warn("failed to record ingestion log", "error", recordErr)
	}
}

type loadResult struct {
	rows   int
	detail string
}

// process walks the states up to the load. The returned mapping is the one
// attempted, also when header mapping failed.
func (p *Pipeline) process(ctx context.Context, log *logger.Logger, file domain.TrackedFile) (loadResult, domain.HeaderMapping, error) {
	payload, err := p.read(ctx, file)
	if err != nil {
		return loadResult{}, nil, err
	}

	canonical := file.Normalized || isCanonical(payload)
	delimiter := ','
	normalizer := p.dates
	if canonical {
		if !file.Normalized {
			log.Info("stored bytes already canonical, resuming")
		}
		delimiter = canonicalDelimiter
		normalizer = p.canonical
	}

	table, err := parseCSV(payload, delimiter)
	if err != nil {
		return loadResult{}, nil, err
	}

	// REGISTERED -> HEADER_MAPPED
	if table.headers == nil {
		return loadResult{}, domain.HeaderMapping{}, &domain.HeaderError{Mapping: domain.HeaderMapping{}, Missing: domain.RequiredFields}
	}
	mapping, reused, err := p.mapper.Resolve(table.headers, file.HeaderMapping)
	if err != nil {
		return loadResult{}, mapping, err
	}
	if err := p.files.RecordMapping(ctx, file.ID, mapping); err != nil {
		return loadResult{}, mapping, fmt.Errorf("failed to record header mapping: %w", err)
	}
	log.Debug("headers mapped", "reused", reused, "headers", len(table.headers))

	// HEADER_MAPPED -> DATE_NORMALIZED
	columns := indexColumns(table.headers, mapping)
	lastUpdate := columns[domain.FieldLastUpdate]
	_, timestamps, layout, err := normalizer.NormalizeColumn(table.headers[lastUpdate], table.column(lastUpdate))
	if err != nil {
		var dateErr *domain.DateFormatError
		if errors.As(err, &dateErr) && dateErr.Row > 0 && dateErr.Row <= len(table.lines) {
			dateErr.Line = table.lines[dateErr.Row-1]
		}
		return loadResult{}, mapping, err
	}

	day, dayKnown := reportDay(file.Name)
	records, err := buildRecords(table, columns, timestamps, day)
	if err != nil {
		return loadResult{}, mapping, err
	}

	if !canonical {
		rendered, err := renderCanonical(records)
		if err != nil {
			return loadResult{}, mapping, err
		}
		if err := p.files.Rewrite(ctx, file, rendered); err != nil {
			return loadResult{}, mapping, err
		}
	}
	if err := p.files.MarkNormalized(ctx, file.ID); err != nil {
		return loadResult{}, mapping, fmt.Errorf("failed to mark file normalized: %w", err)
	}
	log.Debug("timestamps normalized", "layout", layout, "rows", len(records))

	// DATE_NORMALIZED -> LOADED
	inserted, err := p.observations.BulkInsert(ctx, file.ID, records)
	if err != nil {
		return loadResult{}, mapping, err
	}

	notes := []string{fmt.Sprintf("loaded %d rows", inserted), dates.Describe(layout, len(records))}
	if !dayKnown {
		notes = append(notes, "report day not found in file name")
	}
	return loadResult{rows: int(inserted), detail: strings.Join(notes, "; ")}, mapping, nil
}

func (p *Pipeline) read(ctx context.Context, file domain.TrackedFile) ([]byte, error) {
	rc, err := p.files.Open(ctx, file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.StorageKey, err)
	}
	return payload, nil
}
