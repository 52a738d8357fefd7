// Package fetch discovers daily report files in the upstream repository and
// hands new ones to the registry.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/metrics"
	"github.com/rpattn/casefeed/internal/platform/logger"
)

const (
	DefaultBaseURL     = "https://api.github.com/repos/CSSEGISandData/COVID-19/contents/"
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
	DefaultTimeout     = 60 * time.Second

	maxDownloadBytes = 64 << 20
)

// RemoteFile is one entry of a repository directory listing.
type RemoteFile struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// IsCSV reports whether the entry is a regular .csv file.
func (f RemoteFile) IsCSV() bool {
	return f.Type == "file" && strings.EqualFold(pathExt(f.Name), ".csv")
}

func pathExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// ClientConfig configures the upstream client.
type ClientConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// Client talks to the GitHub contents API.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewClient builds a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(httpClient *http.Client, cfg ClientConfig, m *metrics.Metrics, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{http: httpClient, cfg: cfg, metrics: m, log: log.With("component", "UpstreamClient")}
}

// List returns the entries of a repository directory.
func (c *Client) List(ctx context.Context, dir string) ([]RemoteFile, error) {
	target := c.cfg.BaseURL + strings.Trim(dir, "/")
	body, err := c.get(ctx, "list", target)
	if err != nil {
		return nil, err
	}

	var entries []RemoteFile
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: failed to decode listing of %s: %v", domain.ErrIO, dir, err)
	}
	return entries, nil
}

// Download returns the raw bytes at rawURL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("%w: invalid download url %q", domain.ErrIO, rawURL)
	}
	return c.get(ctx, "download", rawURL)
}

// statusError is a non-success HTTP response.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.code, e.url)
}

func retryable(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.code == http.StatusTooManyRequests || status.code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Truncated bodies and resets surface as plain transport errors.
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// get performs a GET with bounded retries on network errors, timeouts, 429
// and 5xx responses, backing off exponentially between attempts.
func (c *Client) get(ctx context.Context, operation, target string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.Backoff * time.Duration(1<<uint(attempt-1))
			c.log.Debug("retrying upstream request", "operation", operation, "url", target, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := c.do(ctx, target)
		if err == nil {
			c.metrics.RecordUpstreamRequest(operation, "200")
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.metrics.RecordUpstreamRequest(operation, statusLabel(err))
		if !retryable(err) {
			return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrIO, operation, target, err)
		}
		c.log.Warn("upstream request failed", "operation", operation, "url", target, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: %s %s failed after %d attempts: %v", domain.ErrIO, operation, target, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode, url: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", target, maxDownloadBytes)
	}
	return body, nil
}

func statusLabel(err error) string {
	var status *statusError
	if errors.As(err, &status) {
		return strconv.Itoa(status.code)
	}
	return "error"
}
