// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the selectors below.
const (
	JobStoreMemory   = "memory"
	JobStorePostgres = "postgres"

	FetchModeHTTP     = "http"
	FetchModeHeadless = "headless"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"

	SheetsGoogle = "google"
	SheetsXLSX   = "xlsx"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Content   ContentConfig   `mapstructure:"content"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig governs the queue, worker pool and job retention.
type JobsConfig struct {
	Store                  string `mapstructure:"store"`
	Concurrency            int    `mapstructure:"concurrency"`
	QueueDepth             int    `mapstructure:"queue_depth"`
	RetentionHours         int    `mapstructure:"retention_hours"`
	JanitorIntervalMinutes int    `mapstructure:"janitor_interval_minutes"`
	ListLimit              int    `mapstructure:"list_limit"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	Mode                string   `mapstructure:"mode"`
	TimeoutSeconds      int      `mapstructure:"timeout_seconds"`
	UserAgents          []string `mapstructure:"user_agents"`
	MaxBodyBytes        int      `mapstructure:"max_body_bytes"`
	HeadlessMaxParallel int      `mapstructure:"headless_max_parallel"`
}

// ContentConfig sets validation limits and the optional text archive.
type ContentConfig struct {
	MinChars      int    `mapstructure:"min_chars"`
	MinWords      int    `mapstructure:"min_words"`
	Archive       string `mapstructure:"archive"`
	ArchivePrefix string `mapstructure:"archive_prefix"`
	ArchiveDir    string `mapstructure:"archive_dir"`
	ArchiveBucket string `mapstructure:"archive_bucket"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	APIKey        string  `mapstructure:"api_key"`
	Model         string  `mapstructure:"model"`
	MaxInputRunes int     `mapstructure:"max_input_runes"`
	RPS           float64 `mapstructure:"rps"`
}

// SheetsConfig selects the tabular store and write pacing.
type SheetsConfig struct {
	Backend         string  `mapstructure:"backend"`
	CredentialsJSON string  `mapstructure:"credentials_json"`
	CredentialsFile string  `mapstructure:"credentials_file"`
	Endpoint        string  `mapstructure:"endpoint"`
	XLSXDir         string  `mapstructure:"xlsx_dir"`
	FlushThreshold  int     `mapstructure:"flush_threshold"`
	WriteRPS        float64 `mapstructure:"write_rps"`
	WriteBurst      int     `mapstructure:"write_burst"`
	RowDelayMinMs   int     `mapstructure:"row_delay_min_ms"`
	RowDelayMaxMs   int     `mapstructure:"row_delay_max_ms"`
}

// DatabaseConfig controls access to Postgres when jobs.store is postgres.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for job-finished notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIMILARITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("jobs.store", JobStoreMemory)
	v.SetDefault("jobs.concurrency", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.retention_hours", 24)
	v.SetDefault("jobs.janitor_interval_minutes", 60)
	v.SetDefault("jobs.list_limit", 50)
	v.SetDefault("fetch.mode", FetchModeHTTP)
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.headless_max_parallel", 2)
	v.SetDefault("content.min_chars", 200)
	v.SetDefault("content.min_words", 30)
	v.SetDefault("content.archive", ArchiveNone)
	v.SetDefault("content.archive_prefix", "content")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.max_input_runes", 8000)
	v.SetDefault("sheets.backend", SheetsGoogle)
	v.SetDefault("sheets.flush_threshold", 10)
	v.SetDefault("sheets.write_rps", 1.0)
	v.SetDefault("sheets.write_burst", 1)
	v.SetDefault("sheets.row_delay_min_ms", 500)
	v.SetDefault("sheets.row_delay_max_ms", 1500)
	v.SetDefault("database.table", "similarity_jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "sheet-similarity")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	switch c.Jobs.Store {
	case JobStoreMemory:
	case JobStorePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when jobs.store is postgres")
		}
	default:
		return fmt.Errorf("jobs.store %q is not one of memory, postgres", c.Jobs.Store)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Fetch.Mode {
	case FetchModeHTTP:
	case FetchModeHeadless:
		if c.Fetch.HeadlessMaxParallel <= 0 {
			return fmt.Errorf("fetch.headless_max_parallel must be > 0 in headless mode")
		}
	default:
		return fmt.Errorf("fetch.mode %q is not one of http, headless", c.Fetch.Mode)
	}
	switch c.Content.Archive {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Content.ArchiveDir == "" {
			return fmt.Errorf("content.archive_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Content.ArchiveBucket == "" {
			return fmt.Errorf("content.archive_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("content.archive %q is not one of none, memory, local, gcs", c.Content.Archive)
	}
	if c.Embedding.BaseURL == "" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.base_url or embedding.api_key must be set")
	}
	switch c.Sheets.Backend {
	case SheetsGoogle:
	case SheetsXLSX:
		if c.Sheets.XLSXDir == "" {
			return fmt.Errorf("sheets.xlsx_dir must be set for the xlsx backend")
		}
	default:
		return fmt.Errorf("sheets.backend %q is not one of google, xlsx", c.Sheets.Backend)
	}
	if c.Sheets.FlushThreshold <= 0 {
		return fmt.Errorf("sheets.flush_threshold must be > 0")
	}
	if c.Sheets.RowDelayMinMs < 0 || c.Sheets.RowDelayMaxMs < c.Sheets.RowDelayMinMs {
		return fmt.Errorf("sheets.row_delay_min_ms/max_ms must satisfy 0 <= min <= max")
	}
	return nil
}

// FetchTimeout is the per-URL page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// Retention is the age after which finished jobs are evicted.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}

// JanitorInterval is how often eviction runs. Zero disables the janitor.
func (c Config) JanitorInterval() time.Duration {
	return time.Duration(c.Jobs.JanitorIntervalMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// RowDelay returns the bounds of the randomized pause between rows.
func (c Config) RowDelay() (time.Duration, time.Duration) {
	return time.Duration(c.Sheets.RowDelayMinMs) * time.Millisecond,
		time.Duration(c.Sheets.RowDelayMaxMs) * time.Millisecond
}
