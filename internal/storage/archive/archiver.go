// Package archive moves finalized storage files into the archive area and
// compresses each into a single-entry zip container.
package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
)

// Options configures the Archiver.
type Options struct {
	// Dir is the archive directory. It is created if missing.
	Dir string

	// CompressionLevel is the deflate level (-2..9).
	// Default: flate.DefaultCompression
	CompressionLevel int
}

// Archiver turns a finalized storage file into an archive entry.
type Archiver struct {
	dir   string
	level int
	log   *slog.Logger

	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)

	// Statistics
	stats Stats
}

// Stats holds archiver statistics.
type Stats struct {
	Archived      atomic.Int64
	Failed        atomic.Int64
	BytesIn       atomic.Int64
	BytesOut      atomic.Int64
	CleanupFailed atomic.Int64
}

// ArchiverStats is a point-in-time copy of Stats.
type ArchiverStats struct {
	Archived      int64
	Failed        int64
	BytesIn       int64
	BytesOut      int64
	CleanupFailed int64
}

// New creates a new Archiver.
func New(opts Options) (*Archiver, error) {
	if opts.Dir == "" {
		return nil, errors.NewMissingField("archive dir")
	}
	if opts.CompressionLevel < flate.HuffmanOnly || opts.CompressionLevel > flate.BestCompression {
		return nil, errors.NewInvalidValue("compression level", opts.CompressionLevel, "must be between -2 and 9")
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, errors.NewIOError("create archive dir", opts.Dir, err)
	}

	return &Archiver{
		dir:      opts.Dir,
		level:    opts.CompressionLevel,
		log:      logging.Component("archive"),
		openFile: os.OpenFile,
	}, nil
}

// Archive moves the finalized file at src into the archive directory under
// its rotation name, compresses it and removes the uncompressed copy.
// It returns the path of the new container.
//
// On failure the file is left at src and the error is an IOError.
func (a *Archiver) Archive(src string, rotatedAt time.Time) (string, error) {
	base := filepath.Base(src)
	name := a.uniqueName(rotatedAt, base)
	staged := filepath.Join(a.dir, name)
	container := staged + Extension

	info, err := os.Stat(src)
	if err != nil {
		a.stats.Failed.Add(1)
		return "", errors.NewIOError("stat", src, err)
	}

	if err := os.Rename(src, staged); err != nil {
		a.stats.Failed.Add(1)
		return "", errors.NewIOError("move", src, err)
	}

	size, err := a.compress(staged, container, name, rotatedAt)
	if err != nil {
		a.stats.Failed.Add(1)
		if rerr := os.Rename(staged, src); rerr != nil {
			a.log.Error("restore after failed compression",
				"staged", staged, "path", src, "error", rerr)
		}
		return "", errors.NewIOError("compress", staged, err)
	}

	if err := os.Remove(staged); err != nil {
		a.stats.CleanupFailed.Add(1)
		a.log.Warn("remove uncompressed copy", "path", staged, "error", err)
	}

	a.stats.Archived.Add(1)
	a.stats.BytesIn.Add(info.Size())
	a.stats.BytesOut.Add(size)

	a.log.Info("file archived",
		"source", src,
		"archive", container,
		"bytes_in", info.Size(),
		"bytes_out", size,
	)

	return container, nil
}

// compress writes src as the single entry of a zip container at dst.
// The container is written under a temporary name and renamed into place.
func (a *Archiver) compress(src, dst, entry string, modified time.Time) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := dst + tempMarker + uuid.NewString()
	out, err := a.openFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}

	fail := func(err error) (int64, error) {
		out.Close()
		os.Remove(tmp)
		return 0, err
	}

	zw := zip.NewWriter(out)
	level := a.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fail(fmt.Errorf("create entry: %w", err))
	}

	if _, err := io.Copy(w, in); err != nil {
		return fail(fmt.Errorf("write entry: %w", err))
	}

	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("finish container: %w", err))
	}

	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("sync container: %w", err))
	}

	info, err := out.Stat()
	if err != nil {
		return fail(err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	return info.Size(), nil
}

// uniqueName returns an archive name not yet used in the archive directory.
func (a *Archiver) uniqueName(t time.Time, base string) string {
	name := ArchiveName(t, base)
	for n := 2; a.taken(name); n++ {
		name = numberedName(t, base, n)
	}
	return name
}

func (a *Archiver) taken(name string) bool {
	for _, p := range []string{name, name + Extension} {
		if _, err := os.Lstat(filepath.Join(a.dir, p)); err == nil {
			return true
		}
	}
	return false
}

// Dir returns the archive directory.
func (a *Archiver) Dir() string {
	return a.dir
}

// Stats returns archiver statistics.
func (a *Archiver) Stats() ArchiverStats {
	return ArchiverStats{
		Archived:      a.stats.Archived.Load(),
		Failed:        a.stats.Failed.Load(),
		BytesIn:       a.stats.BytesIn.Load(),
		BytesOut:      a.stats.BytesOut.Load(),
		CleanupFailed: a.stats.CleanupFailed.Load(),
	}
}
