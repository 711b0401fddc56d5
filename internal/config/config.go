// Package config provides configuration for the eventarchive CLI and daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "EVENTARCHIVE_"

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the configuration of eventarchive.
type Config struct {
	// DataDir is the base directory the other paths default under
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// EventsDir is the hot store of day files
	EventsDir string `json:"events_dir" yaml:"events_dir"`

	// ArchiveDir is the local archive root (storage type local)
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	// IndexPath is the SQLite secondary index
	IndexPath string `json:"index_path" yaml:"index_path"`

	// Compaction configuration
	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`
}

// CompactionConfig holds compaction configuration.
type CompactionConfig struct {
	// CutoffDays is how many days of events stay in the hot store
	CutoffDays int `json:"cutoff_days" yaml:"cutoff_days"`

	// MaxPeriodsPerRun bounds the periods archived by one run
	MaxPeriodsPerRun int `json:"max_periods_per_run" yaml:"max_periods_per_run"`

	// CheckInterval is the interval between daemon runs
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// TopN bounds each summary pattern list
	TopN int `json:"top_n" yaml:"top_n"`

	// SweepArchived removes verified leftover hot files of archived periods
	SweepArchived bool `json:"sweep_archived" yaml:"sweep_archived"`
}

// StorageConfig holds archive storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every archive object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the daemon's HTTP surface
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/eventarchive",
		Compaction: CompactionConfig{
			CutoffDays:       90,
			MaxPeriodsPerRun: 3,
			CheckInterval:    time.Hour,
			TopN:             5,
		},
		Storage: StorageConfig{
			Type: StorageLocal,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr:         ":8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Resolve fills unset paths from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/eventarchive"
	}
	if c.EventsDir == "" {
		c.EventsDir = filepath.Join(c.DataDir, "events")
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = filepath.Join(c.DataDir, "archive")
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.DataDir, "index.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != StorageLocal && c.Storage.Type != StorageS3 {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Compaction.CutoffDays < 0 {
		return fmt.Errorf("compaction.cutoff_days must not be negative, got %d", c.Compaction.CutoffDays)
	}

	if c.Compaction.MaxPeriodsPerRun < 1 {
		return fmt.Errorf("compaction.max_periods_per_run must be at least 1, got %d", c.Compaction.MaxPeriodsPerRun)
	}

	if c.Compaction.TopN < 1 {
		return fmt.Errorf("compaction.top_n must be at least 1, got %d", c.Compaction.TopN)
	}

	if c.Compaction.CheckInterval <= 0 {
		return fmt.Errorf("compaction.check_interval must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s (must be json or console)", c.Logging.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load reads path when given, or starts from the defaults, then applies the
// environment and resolves paths.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	return cfg, nil
}

// LoadFromEnv overrides cfg from EVENTARCHIVE_* environment variables.
func LoadFromEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	var errs []string
	integer := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("DATA_DIR", &cfg.DataDir)
	str("EVENTS_DIR", &cfg.EventsDir)
	str("ARCHIVE_DIR", &cfg.ArchiveDir)
	str("INDEX_PATH", &cfg.IndexPath)

	// Compaction configuration
	integer("CUTOFF_DAYS", &cfg.Compaction.CutoffDays)
	integer("MAX_PERIODS_PER_RUN", &cfg.Compaction.MaxPeriodsPerRun)
	integer("TOP_N", &cfg.Compaction.TopN)
	duration("CHECK_INTERVAL", &cfg.Compaction.CheckInterval)
	boolean("SWEEP_ARCHIVED", &cfg.Compaction.SweepArchived)

	// Storage configuration
	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("S3_PREFIX", &cfg.Storage.S3.Prefix)
	boolean("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	// Logging and HTTP
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("HTTP_ADDR", &cfg.HTTP.Addr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnsureDirectories creates the local directories the configuration names.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.EventsDir,
		filepath.Dir(c.IndexPath),
	}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.ArchiveDir)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
