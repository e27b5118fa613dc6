// Package logwriter owns the active storage file and its in-memory buffer.
//
// All mutating operations (Append, Flush, Rotate, Stop) share one mutex, so
// a rotation's finalize, archive and reopen sequence never interleaves with
// an append.
package logwriter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/rotation"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// LockFileName is the lock file a running writer holds in its storage
// directory. A second writer over the same directory fails to start.
const LockFileName = ".sensorlog.lock"

// Archiver moves a finalized storage file into the archive area.
type Archiver interface {
	Archive(path string, rotatedAt time.Time) (string, error)
}

// Options configures the Writer.
type Options struct {
	// Dir is the storage directory holding the active file.
	Dir string

	// FilenamePattern is a Go time layout resolving to the active file name.
	FilenamePattern string

	// Location is used for file names, timestamps and archive names.
	// Default: time.Local
	Location *time.Location

	// FlushThreshold is the buffer length that triggers a flush.
	FlushThreshold int

	// Fsync syncs the file after every flush.
	Fsync bool

	// Policy decides when to rotate after a flush.
	Policy rotation.Policy

	// Now is the clock. Default: time.Now
	Now func() time.Time

	// OnRotate is called with the archive path after every successful
	// rotation, outside the writer lock, in the goroutine that triggered it.
	OnRotate func(archivePath string)
}

// Writer buffers records and appends them to the active storage file.
type Writer struct {
	mu sync.Mutex

	opts     Options
	archiver Archiver

	file    *os.File
	lock    *os.File
	state   types.ActiveFile
	buf     *types.RecordBatch
	enc     bytes.Buffer
	running bool

	log *slog.Logger

	// Statistics
	stats Stats
}

// Stats holds writer statistics.
type Stats struct {
	RecordsAppended  atomic.Int64
	RecordsWritten   atomic.Int64
	BytesWritten     atomic.Int64
	Flushes          atomic.Int64
	WriteErrors      atomic.Int64
	Rotations        atomic.Int64
	RotationFailures atomic.Int64
}

// WriterStats is a point-in-time copy of Stats.
type WriterStats struct {
	RecordsAppended  int64
	RecordsWritten   int64
	BytesWritten     int64
	Flushes          int64
	WriteErrors      int64
	Rotations        int64
	RotationFailures int64
	Buffered         int
	Running          bool
	Active           types.ActiveFile
}

// New creates a stopped Writer. Call Start before appending.
func New(opts Options, archiver Archiver) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.NewMissingField("storage dir")
	}
	if opts.FilenamePattern == "" {
		return nil, errors.NewMissingField("filename pattern")
	}
	if opts.FlushThreshold < 1 {
		return nil, errors.NewInvalidValue("flush threshold", opts.FlushThreshold, "must be at least 1")
	}
	if archiver == nil {
		return nil, errors.NewMissingField("archiver")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Writer{
		opts:     opts,
		archiver: archiver,
		buf:      types.NewRecordBatch(opts.FlushThreshold),
		log:      logging.Component("logwriter"),
	}, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start opens the active file resolved from the current time, creating it
// with a header if absent. An existing file is reopened for append and its
// size and row count are recomputed from disk. Start on a running writer is
// a no-op.
//
// The first Start takes the storage directory lock and holds it until Stop,
// including while a failed rotation leaves the writer stopped. Start fails
// with an IOError wrapping ErrLocked when another writer holds it.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	acquired := false
	if w.lock == nil {
		if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
			return errors.NewIOError("create storage dir", w.opts.Dir, err)
		}
		lock, err := acquireLock(filepath.Join(w.opts.Dir, LockFileName))
		if err != nil {
			return err
		}
		w.lock = lock
		acquired = true
	}

	if err := w.startLocked(); err != nil {
		if acquired {
			w.unlockLocked()
		}
		return err
	}
	return nil
}

func (w *Writer) startLocked() error {
	now := w.opts.Now()
	path := filepath.Join(w.opts.Dir, now.In(w.opts.Location).Format(w.opts.FilenamePattern))

	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return errors.NewIOError("create storage dir", w.opts.Dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewIOError("open", path, err)
	}

	scan, err := scanActive(f)
	if err != nil {
		f.Close()
		return errors.NewIOError("scan", path, err)
	}

	switch {
	case scan.size == 0:
		n, err := f.Write(headerLine())
		if err != nil {
			f.Close()
			return errors.NewIOError("write header", path, err)
		}
		scan.size = int64(n)

	case scan.torn:
		// Crash mid-row: terminate it so new rows start on their own line.
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return errors.NewIOError("repair", path, err)
		}
		scan.size++
		w.log.Warn("terminated torn final row", "path", path)

	case !scan.header:
		w.log.Warn("active file has no header row", "path", path)
	}

	// A reopened file's age runs from its last write, never from the
	// record timestamps it holds.
	created := now
	if scan.rows > 0 && !scan.modified.IsZero() && scan.modified.Before(now) {
		created = scan.modified
	}

	w.file = f
	w.state = types.ActiveFile{
		Path:      path,
		SizeBytes: scan.size,
		LineCount: scan.rows,
		CreatedAt: created,
	}
	w.running = true

	w.log.Info("active file opened",
		"path", path,
		"size_bytes", w.state.SizeBytes,
		"line_count", w.state.LineCount,
	)

	return nil
}

// Stop flushes the buffer and closes the active file. Rotation is not
// evaluated. Records that could not be flushed stay buffered and are
// written after the next Start.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		// Stopped by a failed rotation; the lock is still held.
		if w.lock != nil {
			w.unlockLocked()
		}
		return nil
	}

	flushErr := w.flushLocked()
	closeErr := w.closeLocked()
	w.unlockLocked()

	w.log.Info("active file closed",
		"path", w.state.Path,
		"line_count", w.state.LineCount,
		"buffered", w.buf.Len(),
	)

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *Writer) unlockLocked() {
	if err := releaseLock(w.lock); err != nil {
		w.log.Warn("release storage lock", "dir", w.opts.Dir, "error", err)
	}
	w.lock = nil
}

func (w *Writer) closeLocked() error {
	w.running = false
	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	if err != nil {
		return errors.NewIOError("close", w.state.Path, err)
	}
	return nil
}

// =============================================================================
// Append / Flush
// =============================================================================

// Append buffers r. When the buffer reaches the flush threshold it is
// flushed and rotation is evaluated. Records whose source or unit holds a
// line break are rejected, since every storage row is one line.
func (w *Writer) Append(r types.Record) error {
	if strings.ContainsAny(r.SourceID, "\r\n") {
		return fmt.Errorf("source_id %q contains a line break: %w", r.SourceID, errors.ErrInvalidRecord)
	}
	if strings.ContainsAny(r.Unit, "\r\n") {
		return fmt.Errorf("unit %q contains a line break: %w", r.Unit, errors.ErrInvalidRecord)
	}

	w.mu.Lock()

	if !w.running {
		w.mu.Unlock()
		return errors.ErrWriterStopped
	}

	w.buf.Add(r)
	w.stats.RecordsAppended.Add(1)

	if w.buf.Len() < w.opts.FlushThreshold {
		w.mu.Unlock()
		return nil
	}

	archived, err := w.flushAndEvaluateLocked()
	w.mu.Unlock()

	w.notifyRotated(archived)
	return err
}

// Flush writes all buffered records and then evaluates rotation, so a
// periodic caller drives age-based rotation even when appends are sparse.
func (w *Writer) Flush() error {
	w.mu.Lock()

	if !w.running {
		w.mu.Unlock()
		return errors.ErrWriterStopped
	}

	archived, err := w.flushAndEvaluateLocked()
	w.mu.Unlock()

	w.notifyRotated(archived)
	return err
}

func (w *Writer) flushAndEvaluateLocked() (string, error) {
	if err := w.flushLocked(); err != nil {
		return "", err
	}

	if w.state.IsEmpty() {
		return "", nil
	}

	reason := w.opts.Policy.Evaluate(w.state, w.opts.Now())
	if reason == rotation.ReasonNone {
		return "", nil
	}
	return w.rotateLocked(reason)
}

// flushLocked writes the buffer with a single write. On failure the file is
// truncated back to its previous size and the buffer is kept.
func (w *Writer) flushLocked() error {
	if w.buf.Len() == 0 {
		return nil
	}
	if w.file == nil {
		return errors.ErrWriterStopped
	}

	data, err := w.encodeLocked()
	if err != nil {
		w.stats.WriteErrors.Add(1)
		return fmt.Errorf("encode records: %w", err)
	}

	n, err := w.file.Write(data)
	if err != nil {
		w.stats.WriteErrors.Add(1)
		if n > 0 {
			if terr := w.file.Truncate(w.state.SizeBytes); terr != nil {
				w.log.Error("truncate after failed write",
					"path", w.state.Path, "error", terr)
			}
		}
		return errors.NewIOError("write", w.state.Path, err)
	}

	rows := int64(w.buf.Len())
	w.state.SizeBytes += int64(n)
	w.state.LineCount += rows
	w.buf.Clear()

	w.stats.Flushes.Add(1)
	w.stats.RecordsWritten.Add(rows)
	w.stats.BytesWritten.Add(int64(n))

	if w.opts.Fsync {
		if err := w.file.Sync(); err != nil {
			w.stats.WriteErrors.Add(1)
			return errors.NewIOError("sync", w.state.Path, err)
		}
	}

	return nil
}

func (w *Writer) encodeLocked() ([]byte, error) {
	w.enc.Reset()
	cw := csv.NewWriter(&w.enc)
	for i := range w.buf.Records {
		if err := cw.Write(w.buf.Records[i].Fields(w.opts.Location)); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return w.enc.Bytes(), nil
}

// =============================================================================
// Rotation
// =============================================================================

// Rotate flushes and rotates the active file now. It returns
// ErrNothingToRotate when the file holds no data rows.
func (w *Writer) Rotate() error {
	w.mu.Lock()

	if !w.running {
		w.mu.Unlock()
		return errors.ErrWriterStopped
	}

	if err := w.flushLocked(); err != nil {
		w.mu.Unlock()
		return err
	}

	if w.state.IsEmpty() {
		w.mu.Unlock()
		return errors.ErrNothingToRotate
	}

	archived, err := w.rotateLocked(rotation.ReasonManual)
	w.mu.Unlock()

	w.notifyRotated(archived)
	return err
}

// rotateLocked finalizes the active file, archives it and opens a fresh one.
// The buffer must already be flushed. If archiving fails the writer stays
// stopped and the finalized file is left at its original path.
func (w *Writer) rotateLocked(reason rotation.Reason) (string, error) {
	now := w.opts.Now()
	finalized := w.state

	if err := w.closeLocked(); err != nil {
		w.stats.RotationFailures.Add(1)
		return "", err
	}

	archived, err := w.archiver.Archive(finalized.Path, now.In(w.opts.Location))
	if err != nil {
		w.stats.RotationFailures.Add(1)
		w.log.Error("rotation failed, writer stopped",
			"path", finalized.Path,
			"reason", reason.String(),
			"error", err,
		)
		return "", fmt.Errorf("archive %s: %w", finalized.Path, err)
	}

	w.stats.Rotations.Add(1)
	w.log.Info("file rotated",
		"path", finalized.Path,
		"archive", archived,
		"reason", reason.String(),
		"size_bytes", finalized.SizeBytes,
		"line_count", finalized.LineCount,
	)

	if err := w.startLocked(); err != nil {
		return archived, err
	}
	return archived, nil
}

func (w *Writer) notifyRotated(archived string) {
	if archived != "" && w.opts.OnRotate != nil {
		w.opts.OnRotate(archived)
	}
}

// =============================================================================
// Accessors
// =============================================================================

// State returns a copy of the active file state.
func (w *Writer) State() types.ActiveFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Running reports whether the writer has an open active file.
func (w *Writer) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Buffered returns the number of records not yet written.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Len()
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	buffered := w.buf.Len()
	running := w.running
	active := w.state
	w.mu.Unlock()

	return WriterStats{
		RecordsAppended:  w.stats.RecordsAppended.Load(),
		RecordsWritten:   w.stats.RecordsWritten.Load(),
		BytesWritten:     w.stats.BytesWritten.Load(),
		Flushes:          w.stats.Flushes.Load(),
		WriteErrors:      w.stats.WriteErrors.Load(),
		Rotations:        w.stats.Rotations.Load(),
		RotationFailures: w.stats.RotationFailures.Load(),
		Buffered:         buffered,
		Running:          running,
		Active:           active,
	}
}

// =============================================================================
// Recovery scan
// =============================================================================

type scanResult struct {
	size     int64
	rows     int64
	header   bool
	torn     bool
	modified time.Time
}

// scanActive derives the file state from disk.
func scanActive(f *os.File) (scanResult, error) {
	var res scanResult

	info, err := f.Stat()
	if err != nil {
		return res, err
	}
	res.size = info.Size()
	res.modified = info.ModTime()
	if res.size == 0 {
		return res, nil
	}

	var last [1]byte
	if _, err := f.ReadAt(last[:], res.size-1); err != nil {
		return res, err
	}
	res.torn = last[0] != '\n'

	r := types.NewRowReader(io.NewSectionReader(f, 0, res.size))

	first := true
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var re *types.RowError
			if !errors.As(err, &re) {
				return res, err
			}
			res.rows++
			first = false
			continue
		}

		if first {
			first = false
			if types.IsHeader(fields) {
				res.header = true
				continue
			}
		}
		res.rows++
	}

	return res, nil
}

func headerLine() []byte {
	var b bytes.Buffer
	cw := csv.NewWriter(&b)
	cw.Write(types.Header)
	cw.Flush()
	return b.Bytes()
}
