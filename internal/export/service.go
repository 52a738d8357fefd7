// Package export serves loaded observations and tracked files over HTTP and
// streams observations as CSV.
package export

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/platform/logger"
	"github.com/rpattn/casefeed/internal/repository"
)

// FileSource is the part of the file registry the export service reads.
type FileSource interface {
	Get(ctx context.Context, id uuid.UUID) (domain.TrackedFile, error)
	List(ctx context.Context, limit, offset int) ([]domain.TrackedFile, int, error)
	Open(ctx context.Context, file domain.TrackedFile) (io.ReadCloser, error)
}

// ErrInvalidToken is returned when a download token does not verify.
var ErrInvalidToken = errors.New("invalid download token")

// ExportColumns is the header row of every observation export.
var ExportColumns = []string{
	"file_id",
	domain.FieldProvinceState,
	domain.FieldCountryRegion,
	domain.FieldLastUpdate,
	domain.FieldConfirmed,
	domain.FieldDeaths,
	domain.FieldRecovered,
	domain.FieldSuspected,
	"confirmed_suspected",
	domain.FieldLatitude,
	domain.FieldLongitude,
	"report_day",
}

type Service struct {
	observations repository.ObservationRepository
	files        FileSource
	history      repository.IngestionLogRepository

	pageSize int
	now      func() time.Time
	signer   *downloadSigner
	log      *logger.Logger
}

type Option func(*Service)

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.signer.ttl = ttl
		}
	}
}

// WithDownloadSecret signs download links with secret, so every instance
// configured with it accepts the others' links.
func WithDownloadSecret(secret string) Option {
	return func(s *Service) {
		if secret != "" {
			s.signer.secret = []byte(secret)
		}
	}
}

// WithHistory exposes the failure history of files.
func WithHistory(history repository.IngestionLogRepository) Option {
	return func(s *Service) {
		s.history = history
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(observations repository.ObservationRepository, files FileSource, opts ...Option) *Service {
	s := &Service{
		observations: observations,
		files:        files,
		pageSize:     5000,
		now:          time.Now,
		signer:       newDownloadSigner(0),
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "ExportService")
	return s
}

// Observations returns one page of matching observations and the number of
// matches across all pages.
func (s *Service) Observations(ctx context.Context, filter domain.ObservationFilter) ([]domain.ObservationRecord, int64, error) {
	records, err := s.observations.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.observations.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Latest returns the observations of the most recent day on record.
func (s *Service) Latest(ctx context.Context) ([]domain.ObservationRecord, error) {
	return s.observations.Latest(ctx)
}

// FileDetail is a tracked file plus the number of observations it owns.
type FileDetail struct {
	domain.TrackedFile
	StoredRows  int64   `json:"stored_rows"`
	DownloadURL *string `json:"download_url,omitempty"`
}

func (s *Service) Files(ctx context.Context, limit, offset int) ([]domain.TrackedFile, int, error) {
	return s.files.List(ctx, limit, offset)
}

// File returns the tracked file with its stored row count and a signed link
// to its current bytes.
func (s *Service) File(ctx context.Context, id uuid.UUID) (FileDetail, error) {
	file, err := s.files.Get(ctx, id)
	if err != nil {
		return FileDetail{}, err
	}
	rows, err := s.observations.CountByFile(ctx, id)
	if err != nil {
		return FileDetail{}, fmt.Errorf("count observations of %s: %w", id, err)
	}
	link := fmt.Sprintf("/api/files/%s/download?token=%s", id, s.signer.Sign(id, s.now()))
	return FileDetail{TrackedFile: file, StoredRows: rows, DownloadURL: &link}, nil
}

// Logs returns one page of the failure history of a file, newest first, and
// the number of entries overall.
func (s *Service) Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.IngestionLogEntry, int, error) {
	if _, err := s.files.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	if s.history == nil {
		return []domain.IngestionLogEntry{}, 0, nil
	}
	logs, err := s.history.ListByFile(ctx, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.history.CountByFile(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// OpenFile verifies token and opens the stored bytes of the file.
func (s *Service) OpenFile(ctx context.Context, id uuid.UUID, token string) (domain.TrackedFile, io.ReadCloser, error) {
	if err := s.signer.Verify(id, token, s.now()); err != nil {
		return domain.TrackedFile{}, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	file, err := s.files.Get(ctx, id)
	if err != nil {
		return domain.TrackedFile{}, nil, err
	}
	rc, err := s.files.Open(ctx, file)
	if err != nil {
		return domain.TrackedFile{}, nil, err
	}
	return file, rc, nil
}

// WriteCSV streams observations matching filter to w and returns the number
// of rows written. A zero filter exports everything.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, filter domain.ObservationFilter) (int, error) {
	buffered := bufio.NewWriterSize(w, 1<<16)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.Write(ExportColumns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rowsExported := 0
	row := make([]string, len(ExportColumns))
	write := func(record domain.ObservationRecord) error {
		formatRecord(row, record)
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("write observation row: %w", err)
		}
		rowsExported++
		if rowsExported%s.pageSize == 0 {
			csvWriter.Flush()
			if err := csvWriter.Error(); err != nil {
				return fmt.Errorf("flush rows: %w", err)
			}
		}
		return nil
	}

	var err error
	if isZeroFilter(filter) {
		err = s.observations.Stream(ctx, write)
	} else {
		err = s.pageObservations(ctx, filter, write)
	}
	if err != nil {
		return rowsExported, err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return rowsExported, fmt.Errorf("final flush: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return rowsExported, fmt.Errorf("final buffered flush: %w", err)
	}
	s.log.Debug("observations exported", "rows", rowsExported, "bytes", counter.count)
	return rowsExported, nil
}

// pageObservations walks filtered results page by page. A caller limit caps
// the total number of rows.
func (s *Service) pageObservations(ctx context.Context, filter domain.ObservationFilter, fn func(domain.ObservationRecord) error) error {
	remaining := filter.Limit
	offset := filter.Offset
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page := s.pageSize
		if remaining > 0 && remaining < page {
			page = remaining
		}
		pageFilter := filter
		pageFilter.Limit = page
		pageFilter.Offset = offset

		records, err := s.observations.List(ctx, pageFilter)
		if err != nil {
			return fmt.Errorf("list observations: %w", err)
		}
		for _, record := range records {
			if err := fn(record); err != nil {
				return err
			}
		}
		if remaining > 0 {
			remaining -= len(records)
			if remaining <= 0 {
				return nil
			}
		}
		if len(records) < page {
			return nil
		}
		offset += page
	}
}

func isZeroFilter(filter domain.ObservationFilter) bool {
	return filter.From == nil && filter.To == nil &&
		filter.CountryRegion == "" && filter.ProvinceState == "" &&
		filter.Limit == 0 && filter.Offset == 0
}

func formatRecord(row []string, record domain.ObservationRecord) {
	row[0] = record.FileID.String()
	row[1] = formatString(record.ProvinceState)
	row[2] = record.CountryRegion
	row[3] = record.LastUpdate.UTC().Format(time.RFC3339)
	row[4] = formatInt(record.Confirmed)
	row[5] = formatInt(record.Deaths)
	row[6] = formatInt(record.Recovered)
	row[7] = formatInt(record.Suspected)
	row[8] = formatInt(record.ConfirmedSuspected)
	row[9] = formatFloat(record.Latitude)
	row[10] = formatFloat(record.Longitude)
	row[11] = ""
	if record.ReportDay != nil {
		row[11] = record.ReportDay.UTC().Format(time.DateOnly)
	}
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(fileID uuid.UUID, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", fileID.String(), expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	raw := fmt.Sprintf("%s:%s", payload, signature)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(fileID uuid.UUID, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != fileID.String() {
		return errors.New("token does not match file")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	payload := fmt.Sprintf("%s:%s", parts[0], parts[1])
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("signature mismatch")
	}
	return nil
}
