package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	defaults "github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
)

// Validate checks the configuration for errors.
// Every returned error matches errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error

	// StorageDir
	if c.StorageDir == "" {
		errs = append(errs, errors.NewMissingField("storage_dir"))
	}

	// FilenamePattern
	if err := validateFilenamePattern(c.FilenamePattern); err != nil {
		errs = append(errs, err)
	}

	// Location
	if _, err := c.LoadLocation(); err != nil {
		errs = append(errs, errors.NewInvalidValue("location", c.Location, err.Error()))
	}

	// Writer
	if err := c.Writer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("writer: %w", err))
	}

	// Rotation
	if err := c.Rotation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rotation: %w", err))
	}

	// Retention
	if c.Retention.Duration <= 0 {
		errs = append(errs, errors.NewValidation("retention.duration", "must be positive"))
	}

	// Archive
	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}
	if c.StorageDir != "" && filepath.Clean(c.ArchiveDir()) == filepath.Clean(c.StorageDir) {
		errs = append(errs, errors.NewValidation("archive.dir", "must differ from storage_dir"))
	}

	// Query
	if c.Query.PercentileAccuracy < 0 || c.Query.PercentileAccuracy >= 1 {
		errs = append(errs, errors.NewValidation("query.percentile_accuracy", "must be in [0, 1)"))
	}

	// Export
	validCodecs := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validCodecs[c.Export.Compression] {
		errs = append(errs, errors.NewValidation("export.compression", "must be one of: snappy, zstd, lz4, gzip, none"))
	}

	// Logging
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateFilenamePattern checks that the pattern resolves to a plain .csv name.
func validateFilenamePattern(pattern string) error {
	if pattern == "" {
		return errors.NewMissingField("filename_pattern")
	}

	name := time.Now().Format(pattern)
	if strings.ContainsAny(name, `/\`) {
		return errors.NewInvalidValue("filename_pattern", pattern, "must resolve to a file name without directories")
	}
	if filepath.Ext(name) != ".csv" {
		return errors.NewInvalidValue("filename_pattern", pattern, "must resolve to a .csv file name")
	}
	return nil
}

// Validate checks the writer configuration.
func (c *WriterConfig) Validate() error {
	var errs []error

	if c.BufferFlushThreshold < 1 {
		errs = append(errs, errors.NewValidation("buffer_flush_threshold", "must be at least 1"))
	}

	if c.FlushInterval <= 0 {
		errs = append(errs, errors.NewValidation("flush_interval", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the rotation configuration.
func (c *RotationConfig) Validate() error {
	var errs []error

	if c.Every <= 0 {
		errs = append(errs, errors.NewValidation("every", "must be positive"))
	}

	if c.MaxSizeBytes <= 0 {
		errs = append(errs, errors.NewValidation("max_size_bytes", "must be positive"))
	}

	if c.MaxLineCount <= 0 {
		errs = append(errs, errors.NewValidation("max_line_count", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if c.CompressionLevel < -2 || c.CompressionLevel > 9 {
		return errors.NewValidation("compression_level", "must be between -2 and 9")
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Level); err != nil {
		errs = append(errs, errors.NewValidation("level", err.Error()))
	}

	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, errors.NewValidation("format", "must be text or json"))
	}

	if c.File != "" && c.MaxSizeMB < 0 {
		errs = append(errs, errors.NewValidation("max_size_mb", "must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoadLocation resolves the configured zone. Empty means UTC.
func (c *Config) LoadLocation() (*time.Location, error) {
	switch c.Location {
	case "", "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Location)
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.StorageDir,
		c.ArchiveDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("create directory", dir, err)
		}
	}

	return nil
}

// ArchiveDir returns the archive directory path.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.StorageDir, defaults.ArchiveDirName)
}
