package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/logging"
)

// Config represents the complete storage configuration.
type Config struct {
	// StorageDir is the directory holding the active storage file.
	StorageDir string `yaml:"storage_dir"`

	// FilenamePattern is a Go time layout that resolves to the active file name.
	// Example: "readings_2006-01-02.csv"
	FilenamePattern string `yaml:"filename_pattern"`

	// Location is the IANA zone (or "Local", "UTC") for rendered timestamps
	// and archive names.
	Location string `yaml:"location"`

	// Writer configures buffering and flushing.
	Writer WriterConfig `yaml:"writer"`

	// Rotation defines when the active file is rotated.
	Rotation RotationConfig `yaml:"rotation"`

	// Retention defines how long archive entries are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Archive configures the archive area.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures summaries over query results.
	Query QueryConfig `yaml:"query"`

	// Export configures Parquet export.
	Export ExportConfig `yaml:"export"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// WriterConfig configures buffering and flushing.
type WriterConfig struct {
	// BufferFlushThreshold is the number of buffered records that triggers a flush.
	BufferFlushThreshold int `yaml:"buffer_flush_threshold"`

	// FlushInterval is the period of the ingestion flush worker.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Fsync syncs the active file after every flush.
	Fsync bool `yaml:"fsync"`
}

// RotationConfig defines when the active file is rotated.
type RotationConfig struct {
	// Every is the maximum age of the active file.
	// Format: "1h", "24h"
	Every time.Duration `yaml:"every"`

	// MaxSizeBytes rotates once the active file reaches this size.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`

	// MaxLineCount rotates once the active file holds this many data rows.
	MaxLineCount int64 `yaml:"max_line_count"`
}

// RetentionConfig defines how long archive entries are kept.
type RetentionConfig struct {
	// Duration is the maximum age of an archive entry.
	Duration time.Duration `yaml:"duration"`
}

// ArchiveConfig configures the archive area.
type ArchiveConfig struct {
	// Dir is the archive directory. Defaults to {StorageDir}/archive.
	Dir string `yaml:"dir"`

	// CompressionLevel is the deflate level (-2..9).
	CompressionLevel int `yaml:"compression_level"`
}

// QueryConfig configures summaries over query results.
type QueryConfig struct {
	// PercentileAccuracy is the relative accuracy of DDSketch percentiles
	// (0.01 = 1% error). Zero disables percentiles.
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Compression is the codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load loads configuration from a YAML (or JSON) file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StorageDir:      defaults.DefaultStorageDir,
		FilenamePattern: defaults.DefaultFilenamePattern,
		Location:        defaults.DefaultLocation,
		Writer: WriterConfig{
			BufferFlushThreshold: defaults.DefaultBufferFlushThreshold,
			FlushInterval:        defaults.DefaultFlushInterval,
		},
		Rotation: RotationConfig{
			Every:        defaults.DefaultRotateEvery,
			MaxSizeBytes: defaults.DefaultMaxSizeBytes,
			MaxLineCount: defaults.DefaultMaxLineCount,
		},
		Retention: RetentionConfig{
			Duration: defaults.DefaultRetention,
		},
		Archive: ArchiveConfig{
			CompressionLevel: defaults.DefaultCompressionLevel,
		},
		Query: QueryConfig{
			PercentileAccuracy: defaults.DefaultPercentileAccuracy,
		},
		Export: ExportConfig{
			Compression: defaults.DefaultExportCompression,
		},
		Logging: LoggingConfig{
			Level:      defaults.DefaultLogLevel,
			Format:     defaults.DefaultLogFormat,
			MaxSizeMB:  defaults.DefaultLogMaxSizeMB,
			MaxBackups: defaults.DefaultLogMaxBackups,
			MaxAgeDays: defaults.DefaultLogMaxAgeDays,
		},
	}
}

// LoggingOptions converts the logging section for logging.InitWithOptions.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
