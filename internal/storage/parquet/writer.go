package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// BatchSize is the number of rows buffered before a write during Export.
	BatchSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
		BatchSize:   4096,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd", "":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// String returns the codec name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// RecordRow represents a record in Parquet format.
type RecordRow struct {
	TimestampNs int64   `parquet:"timestamp_ns"`
	SourceID    string  `parquet:"source_id,zstd"`
	Value       float64 `parquet:"value"`
	Unit        string  `parquet:"unit,zstd"`
}

// SummaryRow represents a summary in Parquet format.
type SummaryRow struct {
	SourceID    string   `parquet:"source_id,zstd"`
	Unit        string   `parquet:"unit,zstd"`
	BucketStart int64    `parquet:"bucket_start_ns"`
	BucketEnd   int64    `parquet:"bucket_end_ns"`
	Count       int64    `parquet:"count"`
	Sum         float64  `parquet:"sum"`
	Min         float64  `parquet:"min"`
	Max         float64  `parquet:"max"`
	Avg         float64  `parquet:"avg"`
	P50         *float64 `parquet:"p50,optional"`
	P90         *float64 `parquet:"p90,optional"`
	P95         *float64 `parquet:"p95,optional"`
	P99         *float64 `parquet:"p99,optional"`
	FirstNs     int64    `parquet:"first_ns"`
	LastNs      int64    `parquet:"last_ns"`
}

// RecordToRow converts a Record to a RecordRow.
func RecordToRow(r *types.Record) RecordRow {
	return RecordRow{
		TimestampNs: r.Timestamp.UnixNano(),
		SourceID:    r.SourceID,
		Value:       r.Value,
		Unit:        r.Unit,
	}
}

// RowToRecord converts a RecordRow to a Record.
func RowToRecord(r *RecordRow) types.Record {
	return types.Record{
		Timestamp: time.Unix(0, r.TimestampNs),
		SourceID:  r.SourceID,
		Value:     r.Value,
		Unit:      r.Unit,
	}
}

// SummaryToRow converts a Summary to a SummaryRow.
func SummaryToRow(s *types.Summary) SummaryRow {
	return SummaryRow{
		SourceID:    s.SourceID,
		Unit:        s.Unit,
		BucketStart: unixNano(s.BucketStart),
		BucketEnd:   unixNano(s.BucketEnd),
		Count:       s.Count,
		Sum:         s.Sum,
		Min:         s.Min,
		Max:         s.Max,
		Avg:         s.Avg,
		P50:         s.P50,
		P90:         s.P90,
		P95:         s.P95,
		P99:         s.P99,
		FirstNs:     unixNano(s.First),
		LastNs:      unixNano(s.Last),
	}
}

// RowToSummary converts a SummaryRow to a Summary.
func RowToSummary(r *SummaryRow) types.Summary {
	return types.Summary{
		SourceID:    r.SourceID,
		Unit:        r.Unit,
		BucketStart: fromUnixNano(r.BucketStart),
		BucketEnd:   fromUnixNano(r.BucketEnd),
		Count:       r.Count,
		Sum:         r.Sum,
		Min:         r.Min,
		Max:         r.Max,
		Avg:         r.Avg,
		P50:         r.P50,
		P90:         r.P90,
		P95:         r.P95,
		P99:         r.P99,
		First:       fromUnixNano(r.FirstNs),
		Last:        fromUnixNano(r.LastNs),
	}
}

// unixNano maps the zero time to 0 so unbucketed summaries round-trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// =============================================================================
// Writers
// =============================================================================

// RecordWriter writes records to a Parquet file.
type RecordWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[RecordRow]
	rowCount int64
	closed   bool
}

// NewRecordWriter creates a new record Parquet writer.
func NewRecordWriter(path string, opts Options) (*RecordWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}

	writer := parquet.NewGenericWriter[RecordRow](f,
		parquet.Compression(getCompression(opts.Compression)),
	)

	return &RecordWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes records to the Parquet file.
func (w *RecordWriter) Write(records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]RecordRow, len(records))
	for i := range records {
		rows[i] = RecordToRow(&records[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *RecordWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *RecordWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// SummaryWriter writes summaries to a Parquet file.
type SummaryWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[SummaryRow]
	rowCount int64
	closed   bool
}

// NewSummaryWriter creates a new summary Parquet writer.
func NewSummaryWriter(path string, opts Options) (*SummaryWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}

	writer := parquet.NewGenericWriter[SummaryRow](f,
		parquet.Compression(getCompression(opts.Compression)),
	)

	return &SummaryWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes summaries to the Parquet file.
func (w *SummaryWriter) Write(summaries []types.Summary) error {
	if len(summaries) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]SummaryRow, len(summaries))
	for i := range summaries {
		rows[i] = SummaryToRow(&summaries[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *SummaryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *SummaryWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// createFile creates path and its parent directory.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
