package query

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/archive"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Iterator yields matching records one at a time. At most one file is open
// at any point; it is released on advance and on Close.
//
// Usage:
//
//	it := engine.Read(ctx, q)
//	defer it.Close()
//	for it.Next() {
//	    r := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	engine *Engine
	ctx    context.Context
	query  Query

	files  []string
	listed bool
	next   int

	cur      *source
	record   types.Record
	warnings []*errors.ParseWarning

	done bool
	err  error
}

// Next advances to the next matching record.
// Returns false when the scan is finished, failed or was cancelled.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	if !it.listed {
		if err := it.query.Validate(); err != nil {
			it.fail(err)
			return false
		}
		files, err := it.engine.listFiles()
		if err != nil {
			it.fail(err)
			return false
		}
		it.files = files
		it.listed = true
	}

	for {
		if err := it.ctx.Err(); err != nil {
			it.fail(err)
			return false
		}

		if it.cur == nil {
			if it.next >= len(it.files) {
				it.done = true
				return false
			}
			path := it.files[it.next]
			it.next++
			it.cur = it.open(path)
			continue
		}

		fields, err := it.cur.rows.Read()
		if err == io.EOF {
			it.closeCurrent()
			continue
		}
		if err != nil {
			var re *types.RowError
			if errors.As(err, &re) {
				it.warn(re.Line, re.Err.Error())
				continue
			}
			// Unreadable from here on, move to the next file
			it.warn(0, fmt.Sprintf("read: %v", err))
			it.closeCurrent()
			continue
		}

		if types.IsHeader(fields) {
			continue
		}

		it.engine.stats.RowsScanned.Add(1)

		r, err := types.ParseRecord(fields, it.engine.opts.Location)
		if err != nil {
			it.warn(it.line(), err.Error())
			continue
		}

		if !it.query.Matches(&r) {
			continue
		}

		it.record = r
		it.engine.stats.RowsReturned.Add(1)
		return true
	}
}

// Record returns the current record.
func (it *Iterator) Record() types.Record {
	return it.record
}

// Err returns the error that ended iteration early: a listing failure or
// context cancellation. Skipped rows and files are not errors; see Warnings.
func (it *Iterator) Err() error {
	return it.err
}

// Warnings returns the rows and files skipped so far.
func (it *Iterator) Warnings() []*errors.ParseWarning {
	return it.warnings
}

// Close releases the open file, if any. Next returns false afterwards.
func (it *Iterator) Close() error {
	it.done = true
	return it.closeCurrent()
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.closeCurrent()
}

func (it *Iterator) closeCurrent() error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.Close()
	it.cur = nil
	return err
}

// line returns the line of the record just read.
func (it *Iterator) line() int {
	return it.cur.rows.Line()
}

func (it *Iterator) warn(line int, reason string) {
	path := ""
	if it.cur != nil {
		path = it.cur.path
	}
	it.addWarning(&errors.ParseWarning{Path: path, Line: line, Reason: reason})
}

func (it *Iterator) addWarning(w *errors.ParseWarning) {
	it.warnings = append(it.warnings, w)
	it.engine.warn(w)
}

// open prepares a reader for path. It returns nil when the file should be
// skipped: a vanished file silently, anything else with a warning.
func (it *Iterator) open(path string) *source {
	src, err := openSource(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			it.engine.stats.FilesMissing.Add(1)
			return nil
		}
		it.addWarning(&errors.ParseWarning{Path: path, Reason: fmt.Sprintf("open: %v", err)})
		return nil
	}

	it.engine.stats.FilesScanned.Add(1)
	return src
}

// =============================================================================
// File sources
// =============================================================================

// source is one open storage file, plain or compressed.
type source struct {
	path    string
	rows    *types.RowReader
	closers []io.Closer
}

func openSource(path string) (*source, error) {
	if strings.HasSuffix(path, archive.Extension) {
		return openContainer(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newSource(path, f, f), nil
}

// openContainer reads the single entry of an archive container.
func openContainer(path string) (*source, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}

	if len(zr.File) == 0 {
		zr.Close()
		return nil, fmt.Errorf("empty container")
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		zr.Close()
		return nil, err
	}

	return newSource(path, rc, rc, zr), nil
}

func newSource(path string, r io.Reader, closers ...io.Closer) *source {
	return &source{
		path:    path,
		rows:    types.NewRowReader(r),
		closers: closers,
	}
}

// Close releases every handle of the source.
func (s *source) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
