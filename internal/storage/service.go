package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/aggregate"
	"github.com/xtxerr/sensorlog/internal/storage/archive"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/ingestion"
	"github.com/xtxerr/sensorlog/internal/storage/logwriter"
	"github.com/xtxerr/sensorlog/internal/storage/parquet"
	"github.com/xtxerr/sensorlog/internal/storage/query"
	"github.com/xtxerr/sensorlog/internal/storage/retention"
	"github.com/xtxerr/sensorlog/internal/storage/rotation"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Options carries hooks for embedding and tests.
type Options struct {
	// Now is the clock shared by all components. Default: time.Now
	Now func() time.Time
}

// Service is the main storage service that orchestrates all components.
type Service struct {
	mu sync.RWMutex

	config   *config.Config
	location *time.Location
	now      func() time.Time
	log      *slog.Logger

	// Components
	archiver  *archive.Archiver
	writer    *logwriter.Writer
	sweeper   *retention.Sweeper
	query     *query.Engine
	ingestion *ingestion.Service

	// State
	running   atomic.Bool
	startTime time.Time
}

// New creates a new storage service.
func New(cfg *config.Config) (*Service, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a new storage service with explicit hooks.
func NewWithOptions(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	loc, err := cfg.LoadLocation()
	if err != nil {
		return nil, errors.NewInvalidValue("location", cfg.Location, err.Error())
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	s := &Service{
		config:   cfg,
		location: loc,
		now:      opts.Now,
		log:      logging.Component("storage"),
	}

	s.archiver, err = archive.New(archive.Options{
		Dir:              cfg.ArchiveDir(),
		CompressionLevel: cfg.Archive.CompressionLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("create archiver: %w", err)
	}

	s.sweeper, err = retention.New(retention.Options{
		Dir:       cfg.ArchiveDir(),
		Retention: cfg.Retention.Duration,
		Location:  loc,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("create sweeper: %w", err)
	}

	s.writer, err = logwriter.New(logwriter.Options{
		Dir:             cfg.StorageDir,
		FilenamePattern: cfg.FilenamePattern,
		Location:        loc,
		FlushThreshold:  cfg.Writer.BufferFlushThreshold,
		Fsync:           cfg.Writer.Fsync,
		Policy: rotation.Policy{
			MaxSizeBytes: cfg.Rotation.MaxSizeBytes,
			MaxLineCount: cfg.Rotation.MaxLineCount,
			Every:        cfg.Rotation.Every,
		},
		Now:      opts.Now,
		OnRotate: s.onRotate,
	}, s.archiver)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}

	s.query, err = query.New(query.Options{
		StorageDir: cfg.StorageDir,
		ArchiveDir: cfg.ArchiveDir(),
		Location:   loc,
	})
	if err != nil {
		return nil, fmt.Errorf("create query engine: %w", err)
	}

	s.ingestion, err = ingestion.New(s, ingestion.Options{
		FlushInterval: cfg.Writer.FlushInterval,
		Location:      loc,
		Now:           opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("create ingestion: %w", err)
	}

	return s, nil
}

// onRotate triggers retention after every successful rotation.
func (s *Service) onRotate(archivePath string) {
	result := s.sweeper.Sweep()
	for _, err := range result.Errors {
		s.log.Warn("retention after rotation", "archive", archivePath, "error", err)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start opens the active storage file. When a failed rotation left the
// writer stopped, Start resumes on the same file.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resumed := s.running.Load()
	if resumed && s.writer.Running() {
		return errors.ErrAlreadyRunning
	}

	if err := s.writer.Start(); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}

	if !resumed {
		s.startTime = s.now()
	}
	s.running.Store(true)

	s.log.Info("storage started",
		"storage_dir", s.config.StorageDir,
		"archive_dir", s.config.ArchiveDir(),
		"resumed", resumed,
	)
	return nil
}

// Stop flushes buffered records and closes the active file.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return nil
	}

	if err := s.writer.Stop(); err != nil {
		return fmt.Errorf("stop writer: %w", err)
	}

	s.log.Info("storage stopped")
	return nil
}

// =============================================================================
// Write path
// =============================================================================

// Append buffers a record. A full buffer is flushed, and the flush may
// trigger a rotation.
func (s *Service) Append(r types.Record) error {
	return s.writer.Append(r)
}

// Flush writes buffered records and evaluates rotation.
func (s *Service) Flush() error {
	return s.writer.Flush()
}

// Rotate forces a rotation of the active file.
func (s *Service) Rotate() error {
	return s.writer.Rotate()
}

// Ingest reads JSON readings from r into the writer until EOF, failure or
// cancellation of ctx. The service must be started.
func (s *Service) Ingest(ctx context.Context, r io.Reader) error {
	if !s.IsRunning() {
		return errors.ErrNotRunning
	}
	return s.ingestion.Run(ctx, r)
}

// =============================================================================
// Read path
// =============================================================================

// Read returns a lazy iterator over live and archived records. It does not
// require the service to be running.
func (s *Service) Read(ctx context.Context, q query.Query) *query.Iterator {
	return s.query.Read(ctx, q)
}

// Query drains a range scan into memory.
func (s *Service) Query(ctx context.Context, q query.Query) ([]types.Record, []*errors.ParseWarning, error) {
	return s.query.Collect(ctx, q)
}

// Summarize computes per-source summaries over a range scan. A zero bucket
// yields one summary per source.
func (s *Service) Summarize(ctx context.Context, q query.Query, bucket time.Duration) ([]types.Summary, []*errors.ParseWarning, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}
	if bucket < 0 {
		return nil, nil, errors.NewInvalidValue("bucket", bucket, "must be non-negative")
	}

	it := s.query.Read(ctx, q)
	defer it.Close()

	summaries, err := aggregate.Summarize(ctx, it, bucket, s.config.Query.PercentileAccuracy)
	return summaries, it.Warnings(), err
}

// Export writes a range scan to a Parquet file and returns the row count.
func (s *Service) Export(ctx context.Context, q query.Query, path string) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	it := s.query.Read(ctx, q)
	defer it.Close()

	rows, err := parquet.Export(ctx, it, path, s.exportOptions())
	if err != nil {
		return 0, err
	}

	s.log.Info("records exported", "path", path, "rows", rows, "warnings", len(it.Warnings()))
	return rows, nil
}

// ExportSummaries writes summaries over a range scan to a Parquet file.
func (s *Service) ExportSummaries(ctx context.Context, q query.Query, bucket time.Duration, path string) (int, error) {
	summaries, _, err := s.Summarize(ctx, q, bucket)
	if err != nil {
		return 0, err
	}

	if err := parquet.ExportSummaries(summaries, path, s.exportOptions()); err != nil {
		return 0, err
	}
	return len(summaries), nil
}

func (s *Service) exportOptions() parquet.Options {
	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(s.config.Export.Compression)
	return opts
}

// =============================================================================
// Retention
// =============================================================================

// Sweep runs retention over the archive directory.
func (s *Service) Sweep() retention.Result {
	return s.sweeper.Sweep()
}

// DryRunSweep reports what Sweep would delete.
func (s *Service) DryRunSweep() retention.Result {
	return s.sweeper.DryRun()
}

// DiskUsage summarizes the archive directory.
func (s *Service) DiskUsage() (retention.DiskUsage, error) {
	return s.sweeper.DiskUsage()
}

// =============================================================================
// Introspection
// =============================================================================

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	running := s.IsRunning()

	var uptime time.Duration
	if running && !s.startTime.IsZero() {
		uptime = s.now().Sub(s.startTime)
	}

	return ServiceStats{
		Running:   running,
		Uptime:    uptime,
		Writer:    s.writer.Stats(),
		Archive:   s.archiver.Stats(),
		Query:     s.query.Stats(),
		Retention: s.sweeper.Stats(),
		Ingestion: s.ingestion.Stats(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running   bool
	Uptime    time.Duration
	Writer    logwriter.WriterStats
	Archive   archive.ArchiverStats
	Query     query.EngineStats
	Retention retention.Stats
	Ingestion ingestion.ServiceStats
}

// ActiveFile returns the state of the active storage file.
func (s *Service) ActiveFile() types.ActiveFile {
	return s.writer.State()
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// Location returns the configured time zone.
func (s *Service) Location() *time.Location {
	return s.location
}

// IsRunning reports whether the service is started and its writer holds an
// open active file. It turns false when a failed rotation stops the writer.
func (s *Service) IsRunning() bool {
	return s.running.Load() && s.writer.Running()
}
