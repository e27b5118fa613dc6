package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// RecordReader reads records from a Parquet file.
type RecordReader struct {
	file   *os.File
	reader *parquet.GenericReader[RecordRow]
	path   string
}

// NewRecordReader creates a new record Parquet reader.
func NewRecordReader(path string) (*RecordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[RecordRow](f)

	return &RecordReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n records. It returns io.EOF once the file is exhausted.
func (r *RecordReader) Read(n int) ([]types.Record, error) {
	rows := make([]RecordRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	records := make([]types.Record, count)
	for i := 0; i < count; i++ {
		records[i] = RowToRecord(&rows[i])
	}

	return records, nil
}

// ReadAll reads all records from the file.
func (r *RecordReader) ReadAll() ([]types.Record, error) {
	rows := make([]RecordRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	records := make([]types.Record, n)
	for i := 0; i < n; i++ {
		records[i] = RowToRecord(&rows[i])
	}

	return records, nil
}

// NumRows returns the total number of rows in the file.
func (r *RecordReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *RecordReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ReadSummaries reads all summaries from a Parquet file.
func ReadSummaries(path string) ([]types.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[SummaryRow](f)
	defer reader.Close()

	rows := make([]SummaryRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	summaries := make([]types.Summary, n)
	for i := 0; i < n; i++ {
		summaries[i] = RowToSummary(&rows[i])
	}

	return summaries, nil
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
	}, nil
}
