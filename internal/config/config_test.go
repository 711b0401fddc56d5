package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 90, cfg.Compaction.CutoffDays)
	assert.Equal(t, 3, cfg.Compaction.MaxPeriodsPerRun)
	assert.Equal(t, filepath.Join(cfg.DataDir, "events"), cfg.EventsDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "archive"), cfg.ArchiveDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "index.db"), cfg.IndexPath)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventarchive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/eventarchive
compaction:
  cutoff_days: 0
  check_interval: 15m
storage:
  type: s3
  s3:
    bucket: archive-bucket
    prefix: events
    use_path_style: true
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/eventarchive", cfg.DataDir)
	assert.Equal(t, 0, cfg.Compaction.CutoffDays)
	assert.Equal(t, 3, cfg.Compaction.MaxPeriodsPerRun, "unset fields keep defaults")
	assert.Equal(t, 15*time.Minute, cfg.Compaction.CheckInterval)
	assert.Equal(t, StorageS3, cfg.Storage.Type)
	assert.Equal(t, "archive-bucket", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventarchive.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"events_dir": "/tmp/ev", "compaction": {"max_periods_per_run": 5}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ev", cfg.EventsDir)
	assert.Equal(t, 5, cfg.Compaction.MaxPeriodsPerRun)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0644))
	_, err = LoadFromFile(toml)
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVENTARCHIVE_DATA_DIR", "/data")
	t.Setenv("EVENTARCHIVE_CUTOFF_DAYS", "30")
	t.Setenv("EVENTARCHIVE_CHECK_INTERVAL", "10m")
	t.Setenv("EVENTARCHIVE_STORAGE_TYPE", "s3")
	t.Setenv("EVENTARCHIVE_S3_BUCKET", "b")
	t.Setenv("EVENTARCHIVE_S3_USE_PATH_STYLE", "1")
	t.Setenv("EVENTARCHIVE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 30, cfg.Compaction.CutoffDays)
	assert.Equal(t, 10*time.Minute, cfg.Compaction.CheckInterval)
	assert.Equal(t, "b", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnv_InvalidNumber(t *testing.T) {
	t.Setenv("EVENTARCHIVE_MAX_PERIODS_PER_RUN", "many")

	cfg := DefaultConfig()
	err := LoadFromEnv(cfg)
	assert.ErrorContains(t, err, "EVENTARCHIVE_MAX_PERIODS_PER_RUN")
	assert.Equal(t, 3, cfg.Compaction.MaxPeriodsPerRun)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }, "invalid storage type"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = StorageS3 }, "s3.bucket is required"},
		{"negative cutoff", func(c *Config) { c.Compaction.CutoffDays = -1 }, "cutoff_days"},
		{"zero throttle", func(c *Config) { c.Compaction.MaxPeriodsPerRun = 0 }, "max_periods_per_run"},
		{"zero top n", func(c *Config) { c.Compaction.TopN = 0 }, "top_n"},
		{"zero interval", func(c *Config) { c.Compaction.CheckInterval = 0 }, "check_interval"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.EventsDir, cfg.ArchiveDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\n"), 0644))
	t.Setenv("EVENTARCHIVE_DATA_DIR", "/from/env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, filepath.Join("/from/env", "events"), cfg.EventsDir)
}
