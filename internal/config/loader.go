// Package config loads casefeed settings from config.yaml and CASEFEED_*
// environment variables on top of compiled-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/casefeed/internal/dates"
	"github.com/rpattn/casefeed/internal/db"
	"github.com/rpattn/casefeed/internal/fetch"
	"github.com/rpattn/casefeed/internal/headers"
)

const EnvPrefix = "CASEFEED"

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

type QueueConfig struct {
	Backend   string `mapstructure:"backend"`
	Workers   int    `mapstructure:"workers"`
	Buffer    int    `mapstructure:"buffer"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

type UpstreamConfig struct {
	fetch.ClientConfig `mapstructure:",squash"`
	Paths              []string      `mapstructure:"paths"`
	Concurrency        int           `mapstructure:"concurrency"`
	InFlightWindow     time.Duration `mapstructure:"inflight_window"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	DownloadTTL    time.Duration `mapstructure:"download_ttl"`
	// DownloadSecret signs download links. Instances sharing a queue need the
	// same value; empty picks a random secret per process.
	DownloadSecret string        `mapstructure:"download_secret"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

type DatesConfig struct {
	Formats []string `mapstructure:"formats"`
}

type Config struct {
	Database db.Config      `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Headers  headers.Table  `mapstructure:"headers"`
	Dates    DatesConfig    `mapstructure:"dates"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "./data/files")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.buffer", 256)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_key", "casefeed:ingest")

	v.SetDefault("upstream.base_url", fetch.DefaultBaseURL)
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.timeout", fetch.DefaultTimeout)
	v.SetDefault("upstream.max_attempts", fetch.DefaultMaxAttempts)
	v.SetDefault("upstream.backoff", fetch.DefaultBackoff)
	v.SetDefault("upstream.paths", fetch.DefaultPaths)
	v.SetDefault("upstream.concurrency", 4)
	v.SetDefault("upstream.inflight_window", fetch.DefaultInFlightWindow)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.download_ttl", 5*time.Minute)
	v.SetDefault("http.download_secret", "")

	v.SetDefault("log.mode", "dev")

	table := headers.DefaultTable()
	v.SetDefault("headers.fields", table.Fields)
	v.SetDefault("headers.ignored", table.Ignored)
	v.SetDefault("dates.formats", dates.DefaultFormats)
}

// Load reads config.yaml from configPath when present. A missing file is not
// an error; defaults and environment variables still apply.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return errors.New("storage.dir is required for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	if c.Queue.Workers <= 0 {
		return errors.New("queue.workers must be positive")
	}
	if len(c.Dates.Formats) == 0 {
		return errors.New("dates.formats must not be empty")
	}
	return nil
}
