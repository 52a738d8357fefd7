package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casefeed/internal/dates"
	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/fetch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "casefeed", cfg.Database.DBName)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, fetch.DefaultBaseURL, cfg.Upstream.BaseURL)
	assert.Equal(t, fetch.DefaultMaxAttempts, cfg.Upstream.MaxAttempts)
	assert.Equal(t, fetch.DefaultBackoff, cfg.Upstream.Backoff)
	assert.Equal(t, fetch.DefaultPaths, cfg.Upstream.Paths)
	assert.Equal(t, dates.DefaultFormats, cfg.Dates.Formats)
	assert.Contains(t, cfg.Headers.Fields[domain.FieldCountryRegion], "Country/Region")
	assert.Contains(t, cfg.Headers.Ignored, "Combined_Key")
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, fetch.DefaultInFlightWindow, cfg.Upstream.InFlightWindow)
	assert.Empty(t, cfg.HTTP.DownloadSecret)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := writeConfig(t, `
database:
  host: db.internal
  port: 6543
storage:
  backend: gcs
  bucket: casefeed-files
queue:
  backend: redis
  workers: 6
upstream:
  timeout: 15s
  backoff: 250ms
  paths:
    - csse_covid_19_data/csse_covid_19_daily_reports
dates:
  formats:
    - "2006-01-02"
`)
	t.Setenv("CASEFEED_DATABASE_PASSWORD", "from-env")
	t.Setenv("CASEFEED_QUEUE_REDIS_ADDR", "redis:6379")
	t.Setenv("CASEFEED_LOG_MODE", "prod")
	t.Setenv("CASEFEED_HTTP_DOWNLOAD_SECRET", "shared-secret")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "casefeed-files", cfg.Storage.Bucket)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, 6, cfg.Queue.Workers)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Upstream.Backoff)
	assert.Equal(t, []string{"csse_covid_19_data/csse_covid_19_daily_reports"}, cfg.Upstream.Paths)
	assert.Equal(t, []string{"2006-01-02"}, cfg.Dates.Formats)
	assert.Equal(t, "prod", cfg.Log.Mode)
	assert.Equal(t, "shared-secret", cfg.HTTP.DownloadSecret)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unknown storage": "storage:\n  backend: ftp\n",
		"gcs bucket":      "storage:\n  backend: gcs\n",
		"unknown queue":   "queue:\n  backend: kafka\n",
		"no workers":      "queue:\n  workers: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unclosed\n"))
	require.Error(t, err)
}
