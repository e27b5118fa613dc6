// Package retention deletes archive entries older than the retention window.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/archive"
)

// Options configures the Sweeper.
type Options struct {
	// Dir is the archive directory. Only this directory is listed.
	Dir string

	// Retention is the maximum age of an archive entry.
	Retention time.Duration

	// Location is used to read the timestamp embedded in archive names.
	// Default: time.Local
	Location *time.Location

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// Sweeper handles age-based cleanup of the archive directory.
type Sweeper struct {
	mu    sync.RWMutex
	opts  Options
	log   *slog.Logger
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	Runs         int64
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// Result holds the result of a sweep.
type Result struct {
	Cutoff       time.Time
	FilesDeleted int
	FilesKept    int
	FilesSkipped int
	BytesFreed   int64
	Deleted      []string
	Errors       []error
}

// New creates a new Sweeper.
func New(opts Options) (*Sweeper, error) {
	if opts.Dir == "" {
		return nil, errors.NewMissingField("archive dir")
	}
	if opts.Retention <= 0 {
		return nil, errors.NewInvalidValue("retention", opts.Retention, "must be positive")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Sweeper{
		opts: opts,
		log:  logging.Component("retention"),
	}, nil
}

// Sweep deletes every archive entry whose age is strictly greater than the
// retention window. A failure on one entry is logged and collected; the
// remaining entries are still processed.
func (s *Sweeper) Sweep() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.sweep(false)

	s.stats.LastRunTime = s.opts.Now()
	s.stats.Runs++
	s.stats.FilesDeleted += int64(result.FilesDeleted)
	s.stats.BytesFreed += result.BytesFreed
	s.stats.FilesSkipped += int64(result.FilesSkipped)
	s.stats.Errors += int64(len(result.Errors))

	if result.FilesDeleted > 0 || len(result.Errors) > 0 {
		s.log.Info("retention sweep",
			"deleted", result.FilesDeleted,
			"kept", result.FilesKept,
			"bytes_freed", result.BytesFreed,
			"errors", len(result.Errors),
		)
	}

	return result
}

// DryRun reports what Sweep would delete without deleting anything.
func (s *Sweeper) DryRun() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(true)
}

func (s *Sweeper) sweep(dryRun bool) Result {
	cutoff := s.opts.Now().Add(-s.opts.Retention)
	result := Result{Cutoff: cutoff}

	files, err := s.listFiles()
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, &errors.RetentionFailure{Path: s.opts.Dir, Err: err})
			s.log.Error("list archive dir", "dir", s.opts.Dir, "error", err)
		}
		return result
	}

	for _, file := range files {
		if !file.archived.Before(cutoff) {
			result.FilesKept++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				if os.IsNotExist(err) {
					// Already gone, nothing to do
					result.FilesSkipped++
					continue
				}
				failure := &errors.RetentionFailure{Path: file.path, Err: err}
				result.Errors = append(result.Errors, failure)
				s.log.Warn("delete archive entry", "path", file.path, "error", err)
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
		result.Deleted = append(result.Deleted, file.path)
	}

	return result
}

// fileInfo holds information about an archive entry.
type fileInfo struct {
	name     string
	path     string
	size     int64
	archived time.Time
}

// listFiles lists the archive entries, oldest name first.
func (s *Sweeper) listFiles() ([]fileInfo, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()
		if archive.IsTemp(name) || strings.HasPrefix(name, ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Vanished between listing and stat
			continue
		}

		files = append(files, fileInfo{
			name:     name,
			path:     filepath.Join(s.opts.Dir, name),
			size:     info.Size(),
			archived: s.archiveTime(name, info),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})

	return files, nil
}

// archiveTime prefers the rotation time recorded in the name and falls back
// to the modification time.
func (s *Sweeper) archiveTime(name string, info os.FileInfo) time.Time {
	if t, err := archive.ParseArchiveTime(name, s.opts.Location); err == nil {
		return t
	}
	return info.ModTime()
}

// Stats returns current statistics.
func (s *Sweeper) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// DiskUsage holds disk usage information for the archive directory.
type DiskUsage struct {
	FileCount int
	TotalSize int64
	Oldest    time.Time
	Newest    time.Time
}

// DiskUsage returns usage for the archive directory.
func (s *Sweeper) DiskUsage() (DiskUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var usage DiskUsage

	files, err := s.listFiles()
	if err != nil {
		if os.IsNotExist(err) {
			return usage, nil
		}
		return usage, errors.NewIOError("list", s.opts.Dir, err)
	}

	for _, f := range files {
		usage.FileCount++
		usage.TotalSize += f.size
		if usage.Oldest.IsZero() || f.archived.Before(usage.Oldest) {
			usage.Oldest = f.archived
		}
		if f.archived.After(usage.Newest) {
			usage.Newest = f.archived
		}
	}

	return usage, nil
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
