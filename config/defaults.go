// Package config provides configuration defaults for sensorlog.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or SENSORLOG_* environment
// variables.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultStorageDir is where active storage files are written.
	// Override via config: storage_dir
	DefaultStorageDir = "./data"

	// DefaultFilenamePattern is a Go time layout resolved against the current
	// time to name the active file. One file per day by default.
	// Override via config: filename_pattern
	DefaultFilenamePattern = "readings_2006-01-02.csv"

	// DefaultLocation is the zone used to render timestamps and archive names.
	// Stored timestamps carry no offset, so a zone without DST keeps every
	// instant distinct.
	// Override via config: location
	DefaultLocation = "UTC"

	// ArchiveDirName is the archive area below storage_dir.
	// Override via config: archive.dir
	ArchiveDirName = "archive"
)

// =============================================================================
// Writer Defaults
// =============================================================================

const (
	// DefaultBufferFlushThreshold is the number of buffered records that
	// triggers a flush.
	// Range: >= 1
	// Override via config: writer.buffer_flush_threshold
	DefaultBufferFlushThreshold = 100

	// DefaultFlushInterval is how often the ingestion worker flushes a
	// partially filled buffer.
	// Override via config: writer.flush_interval
	DefaultFlushInterval = 5 * time.Second
)

// =============================================================================
// Rotation Defaults
// =============================================================================

const (
	// DefaultRotateEvery is the maximum age of the active file.
	// Override via config: rotation.every
	DefaultRotateEvery = 24 * time.Hour

	// DefaultMaxSizeBytes rotates the active file once it reaches 10 MiB.
	// Override via config: rotation.max_size_bytes
	DefaultMaxSizeBytes = 10 * 1024 * 1024

	// DefaultMaxLineCount rotates the active file after this many data rows.
	// Override via config: rotation.max_line_count
	DefaultMaxLineCount = 100000
)

// =============================================================================
// Archive and Retention Defaults
// =============================================================================

const (
	// DefaultRetention is how long archive entries are kept.
	// Override via config: retention.duration
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultCompressionLevel is the deflate level for archive entries.
	// Range: -2 (huffman only) to 9 (best compression)
	// Override via config: archive.compression_level
	DefaultCompressionLevel = 6
)

// =============================================================================
// Query and Export Defaults
// =============================================================================

const (
	// DefaultPercentileAccuracy is the relative accuracy of summary percentiles.
	// Override via config: query.percentile_accuracy
	DefaultPercentileAccuracy = 0.01

	// DefaultExportCompression is the Parquet codec used by export.
	// Override via config: export.compression
	DefaultExportCompression = "zstd"
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum level written.
	// Override via config: logging.level
	DefaultLogLevel = "info"

	// DefaultLogFormat is text or json.
	// Override via config: logging.format
	DefaultLogFormat = "text"

	// DefaultLogMaxSizeMB rotates the daemon's own log file.
	// Override via config: logging.max_size_mb
	DefaultLogMaxSizeMB = 50

	// DefaultLogMaxBackups is the number of rotated log files to keep.
	// Override via config: logging.max_backups
	DefaultLogMaxBackups = 3

	// DefaultLogMaxAgeDays is the maximum age of rotated log files.
	// Override via config: logging.max_age_days
	DefaultLogMaxAgeDays = 7
)

// EnvPrefix is the prefix of environment variables that override file values.
const EnvPrefix = "SENSORLOG_"
