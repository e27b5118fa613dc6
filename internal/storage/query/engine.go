// Package query scans live and archived storage files for records in a
// time range.
//
// The engine takes no lock against the writer. Files that disappear between
// listing and open are skipped, so a query racing with a rotation or a
// retention sweep never fails because of it.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/archive"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Options configures the Engine.
type Options struct {
	// StorageDir holds the active file.
	StorageDir string

	// ArchiveDir holds archive entries.
	ArchiveDir string

	// Location is used for timestamps without a zone.
	// Default: time.Local
	Location *time.Location
}

// Query defines parameters for a range scan.
type Query struct {
	// Start and End bound the range inclusively. A zero value is unbounded.
	Start time.Time
	End   time.Time

	// SourceID filters by exact source when non-empty.
	SourceID string
}

// Matches reports whether r satisfies the query.
func (q Query) Matches(r *types.Record) bool {
	if q.SourceID != "" && r.SourceID != q.SourceID {
		return false
	}
	return r.InRange(q.Start, q.End)
}

// Validate checks the query bounds.
func (q Query) Validate() error {
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return errors.NewValidation("range", "end before start")
	}
	return nil
}

// Engine reads records from storage files. It keeps no cursor between
// queries; every Read rescans the directories.
type Engine struct {
	opts Options
	log  *slog.Logger

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	Queries      atomic.Int64
	RowsScanned  atomic.Int64
	RowsReturned atomic.Int64
	FilesScanned atomic.Int64
	FilesMissing atomic.Int64
	Warnings     atomic.Int64
}

// EngineStats is a point-in-time copy of Stats.
type EngineStats struct {
	Queries      int64
	RowsScanned  int64
	RowsReturned int64
	FilesScanned int64
	FilesMissing int64
	Warnings     int64
}

// New creates a new query engine.
func New(opts Options) (*Engine, error) {
	if opts.StorageDir == "" {
		return nil, errors.NewMissingField("storage dir")
	}
	if opts.ArchiveDir == "" {
		return nil, errors.NewMissingField("archive dir")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Engine{
		opts: opts,
		log:  logging.Component("query"),
	}, nil
}

// Read returns a lazy iterator over matching records. Nothing is listed or
// opened until the first call to Next.
//
// Records are yielded in file order (storage directory, then archive
// directory, each by name) and then in row order. There is no global sort.
func (e *Engine) Read(ctx context.Context, q Query) *Iterator {
	e.stats.Queries.Add(1)
	return &Iterator{
		engine: e,
		ctx:    ctx,
		query:  q,
	}
}

// Collect drains a query into memory.
func (e *Engine) Collect(ctx context.Context, q Query) ([]types.Record, []*errors.ParseWarning, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}

	it := e.Read(ctx, q)
	defer it.Close()

	var records []types.Record
	for it.Next() {
		records = append(records, it.Record())
	}

	return records, it.Warnings(), it.Err()
}

// listFiles returns every storage file to scan, in visit order.
func (e *Engine) listFiles() ([]string, error) {
	live, err := listDir(e.opts.StorageDir, func(name string) bool {
		return filepath.Ext(name) == ".csv"
	})
	if err != nil {
		return nil, fmt.Errorf("list storage dir: %w", err)
	}

	archived, err := listDir(e.opts.ArchiveDir, func(name string) bool {
		ext := filepath.Ext(name)
		return ext == ".csv" || ext == archive.Extension
	})
	if err != nil {
		return nil, fmt.Errorf("list archive dir: %w", err)
	}

	// A plain entry next to its container is a leftover from an
	// interrupted cleanup; read the container only.
	containers := make(map[string]bool)
	for _, name := range archived {
		if strings.HasSuffix(name, archive.Extension) {
			containers[name] = true
		}
	}

	files := make([]string, 0, len(live)+len(archived))
	for _, name := range live {
		files = append(files, filepath.Join(e.opts.StorageDir, name))
	}
	for _, name := range archived {
		if containers[name+archive.Extension] {
			continue
		}
		files = append(files, filepath.Join(e.opts.ArchiveDir, name))
	}

	return files, nil
}

// listDir returns matching regular file names in name order.
// A missing directory yields no files.
func listDir(dir string, match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if archive.IsTemp(name) || !match(name) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (e *Engine) warn(w *errors.ParseWarning) {
	e.stats.Warnings.Add(1)
	e.log.Warn("skipping row", "path", w.Path, "line", w.Line, "reason", w.Reason)
}

// Stats returns query statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Queries:      e.stats.Queries.Load(),
		RowsScanned:  e.stats.RowsScanned.Load(),
		RowsReturned: e.stats.RowsReturned.Load(),
		FilesScanned: e.stats.FilesScanned.Load(),
		FilesMissing: e.stats.FilesMissing.Load(),
		Warnings:     e.stats.Warnings.Load(),
	}
}
