package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/casefeed/internal/checksum"
	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/metrics"
	"github.com/rpattn/casefeed/internal/platform/logger"
	"github.com/rpattn/casefeed/internal/registry"
)

// DefaultPaths are the upstream directories holding daily reports.
var DefaultPaths = []string{
	"archived_data/archived_daily_case_updates",
	"csse_covid_19_data/csse_covid_19_daily_reports",
}

// Upstream lists and downloads remote files.
type Upstream interface {
	List(ctx context.Context, dir string) ([]RemoteFile, error)
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Registrar is the part of the file registry the coordinator needs.
type Registrar interface {
	Register(ctx context.Context, req registry.RegisterRequest) (domain.TrackedFile, error)
	Lookup(ctx context.Context, fingerprint string) (domain.TrackedFile, error)
	LookupSource(ctx context.Context, sha string) (domain.TrackedFile, error)
}

// Submitter queues a registered file for ingestion.
type Submitter interface {
	Submit(ctx context.Context, fileID uuid.UUID) (string, error)
}

// DefaultInFlightWindow is how long a queued file is left alone before a
// pass submits it again.
const DefaultInFlightWindow = 30 * time.Minute

// Per-file results.
const (
	ResultSubmitted   = "submitted"
	ResultResubmitted = "resubmitted"
	ResultSkipped     = "skipped"
	ResultInFlight    = "in_flight"
	ResultFailed      = "failed"
)

// Summary counts what one coordinator pass did.
type Summary struct {
	Listed      int `json:"listed"`
	Submitted   int `json:"submitted"`
	Resubmitted int `json:"resubmitted"`
	Skipped     int `json:"skipped"`
	InFlight    int `json:"in_flight"`
	Failed      int `json:"failed"`
}

func (s *Summary) add(result string) {
	switch result {
	case ResultSubmitted:
		s.Submitted++
	case ResultResubmitted:
		s.Resubmitted++
	case ResultSkipped:
		s.Skipped++
	case ResultInFlight:
		s.InFlight++
	case ResultFailed:
		s.Failed++
	}
}

// Coordinator runs one discovery pass over the configured paths.
type Coordinator struct {
	upstream    Upstream
	files       Registrar
	submitter   Submitter
	paths       []string
	concurrency int
	inFlight    time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithPaths(paths []string) CoordinatorOption {
	return func(c *Coordinator) {
		if len(paths) > 0 {
			c.paths = paths
		}
	}
}

func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithInFlightWindow sets how long an unprocessed file holding a job handle
// counts as queued or running. Such files are not submitted again.
func WithInFlightWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.inFlight = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithLogger(log *logger.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

func NewCoordinator(upstream Upstream, files Registrar, submitter Submitter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		upstream:    upstream,
		files:       files,
		submitter:   submitter,
		paths:       DefaultPaths,
		concurrency: 4,
		inFlight:    DefaultInFlightWindow,
		now:         time.Now,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "FetchCoordinator")
	return c
}

// Run lists every path and handles each CSV entry. A listing that fails
// after retries aborts the pass; failures of single files are logged and
// counted.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	var remote []RemoteFile
	for _, dir := range c.paths {
		entries, err := c.upstream.List(ctx, dir)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsCSV() {
				remote = append(remote, entry)
			}
		}
	}
	sort.SliceStable(remote, func(i, j int) bool { return remote[i].Path < remote[j].Path })

	summary := Summary{Listed: len(remote)}
	var mu sync.Mutex
	// Files handled in this pass, so content listed under two paths is
	// submitted once.
	var seen sync.Map

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, entry := range remote {
		g.Go(func() error {
			result, err := c.handle(gctx, entry, &seen)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.log.Warn("failed to handle upstream file", "path", entry.Path, "error", err)
				result = ResultFailed
			}
			c.metrics.RecordFetchFile(result)
			mu.Lock()
			summary.add(result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	c.log.Info("fetch pass finished",
		"listed", summary.Listed,
		"submitted", summary.Submitted,
		"resubmitted", summary.Resubmitted,
		"skipped", summary.Skipped,
		"in_flight", summary.InFlight,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (c *Coordinator) handle(ctx context.Context, entry RemoteFile, seen *sync.Map) (string, error) {
	if entry.SHA != "" {
		known, err := c.files.LookupSource(ctx, entry.SHA)
		if err == nil {
			return c.revisit(ctx, known, seen)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
	}

	data, err := c.upstream.Download(ctx, entry.DownloadURL)
	if err != nil {
		return "", err
	}

	fingerprint := checksum.Bytes(data)
	if known, err := c.files.Lookup(ctx, fingerprint); err == nil {
		return c.revisit(ctx, known, seen)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	file, err := c.files.Register(ctx, registry.RegisterRequest{
		Fingerprint: fingerprint,
		Name:        entry.Name,
		SourcePath:  entry.Path,
		SourceSHA:   entry.SHA,
		Data:        data,
	})
	if errors.Is(err, domain.ErrDuplicateContent) {
		// Registered concurrently under another name or path.
		return c.revisit(ctx, file, seen)
	}
	if err != nil {
		return "", err
	}
	seen.Store(file.ID, struct{}{})

	if _, err := c.submitter.Submit(ctx, file.ID); err != nil {
		return "", err
	}
	c.log.Info("new upstream file submitted", "path", entry.Path, "file_id", file.ID)
	return ResultSubmitted, nil
}

// revisit handles a file that is already registered.
func (c *Coordinator) revisit(ctx context.Context, file domain.TrackedFile, seen *sync.Map) (string, error) {
	if file.Processed {
		return ResultSkipped, nil
	}
	if file.ID == uuid.Nil {
		return "", fmt.Errorf("duplicate content reported without a file")
	}
	if _, dup := seen.LoadOrStore(file.ID, struct{}{}); dup {
		return ResultSkipped, nil
	}
	if c.isInFlight(file) {
		c.log.Debug("file still queued, not resubmitted", "file_id", file.ID, "state", file.State)
		return ResultInFlight, nil
	}
	if _, err := c.submitter.Submit(ctx, file.ID); err != nil {
		return "", err
	}
	c.log.Info("unprocessed file resubmitted", "file_id", file.ID, "name", file.Name)
	return ResultResubmitted, nil
}

// isInFlight reports whether file was handed to the queue recently and has
// not failed since.
func (c *Coordinator) isInFlight(file domain.TrackedFile) bool {
	if file.JobID == nil || file.State == domain.FileStateFailed {
		return false
	}
	return c.now().Sub(file.UpdatedAt) < c.inFlight
}
