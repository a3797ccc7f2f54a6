package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
jobs:
  store: postgres
  concurrency: 4
  retention_hours: 6
database:
  dsn: postgres://localhost/similarity
fetch:
  mode: headless
  timeout_seconds: 15
  user_agents: ["agent-a", "agent-b"]
content:
  archive: local
  archive_dir: /tmp/archive
embedding:
  base_url: http://localhost:8000/v1
  model: all-MiniLM-L6-v2
sheets:
  backend: xlsx
  xlsx_dir: /tmp/sheets
  row_delay_min_ms: 0
  row_delay_max_ms: 0
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, JobStorePostgres, cfg.Jobs.Store)
	require.Equal(t, 4, cfg.Jobs.Concurrency)
	require.Equal(t, 64, cfg.Jobs.QueueDepth, "defaults survive partial sections")
	require.Equal(t, []string{"agent-a", "agent-b"}, cfg.Fetch.UserAgents)
	require.Equal(t, "all-MiniLM-L6-v2", cfg.Embedding.Model)
	require.Equal(t, SheetsXLSX, cfg.Sheets.Backend)
	require.Equal(t, 10, cfg.Sheets.FlushThreshold)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, 6*time.Hour, cfg.Retention())
	lo, hi := cfg.RowDelay()
	require.Zero(t, lo)
	require.Zero(t, hi)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  api_key: sk-test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, JobStoreMemory, cfg.Jobs.Store)
	require.Equal(t, 20*time.Second, cfg.FetchTimeout())
	require.Equal(t, 200, cfg.Content.MinChars)
	require.Equal(t, 30, cfg.Content.MinWords)
	require.Equal(t, SheetsGoogle, cfg.Sheets.Backend)
	lo, hi := cfg.RowDelay()
	require.Equal(t, 500*time.Millisecond, lo)
	require.Equal(t, 1500*time.Millisecond, hi)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Jobs:      JobsConfig{Store: JobStoreMemory, Concurrency: 1, QueueDepth: 1},
		Fetch:     FetchConfig{Mode: FetchModeHTTP, TimeoutSeconds: 20},
		Content:   ContentConfig{Archive: ArchiveNone},
		Embedding: EmbeddingConfig{APIKey: "sk"},
		Sheets:    SheetsConfig{Backend: SheetsGoogle, FlushThreshold: 10},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid concurrency", func(c *Config) { c.Jobs.Concurrency = 0 }, "jobs.concurrency"},
		{"postgres without dsn", func(c *Config) { c.Jobs.Store = JobStorePostgres }, "database.dsn"},
		{"unknown store", func(c *Config) { c.Jobs.Store = "redis" }, "jobs.store"},
		{"invalid timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{"unknown fetch mode", func(c *Config) { c.Fetch.Mode = "ftp" }, "fetch.mode"},
		{"headless without parallelism", func(c *Config) { c.Fetch.Mode = FetchModeHeadless }, "fetch.headless_max_parallel"},
		{"gcs archive without bucket", func(c *Config) { c.Content.Archive = ArchiveGCS }, "content.archive_bucket"},
		{"local archive without dir", func(c *Config) { c.Content.Archive = ArchiveLocal }, "content.archive_dir"},
		{"no embedding endpoint", func(c *Config) { c.Embedding = EmbeddingConfig{} }, "embedding.base_url"},
		{"xlsx without dir", func(c *Config) { c.Sheets.Backend = SheetsXLSX }, "sheets.xlsx_dir"},
		{"zero flush threshold", func(c *Config) { c.Sheets.FlushThreshold = 0 }, "sheets.flush_threshold"},
		{"inverted delay", func(c *Config) { c.Sheets.RowDelayMinMs = 10 }, "sheets.row_delay"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
