package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header is the first row of every storage file.
var Header = []string{"timestamp", "source_id", "value", "unit"}

// NumFields is the number of fields in a storage row.
const NumFields = 4

const (
	// TimestampLayout renders timestamps with seconds precision.
	// When parsing, time.Parse also accepts a fractional second after the
	// seconds field, so this single layout reads both stored forms.
	TimestampLayout = "2006-01-02 15:04:05"

	// timestampWriteLayout keeps sub-second digits and trims trailing zeros.
	timestampWriteLayout = "2006-01-02 15:04:05.999999999"
)

// Record represents a single reading from a source.
// This is the primary data unit flowing through the storage system.
type Record struct {
	Timestamp time.Time // When the reading was taken
	SourceID  string    // Sensor or source identifier (e.g., "T1")
	Value     float64   // Measured value
	Unit      string    // Unit of the value (e.g., "°C")
}

// Fields renders the record as a storage row in the given location.
func (r *Record) Fields(loc *time.Location) []string {
	return []string{
		FormatTimestamp(r.Timestamp, loc),
		r.SourceID,
		strconv.FormatFloat(r.Value, 'f', -1, 64),
		r.Unit,
	}
}

// InRange reports whether the record's timestamp lies in [start, end].
// A zero start or end leaves that side unbounded.
func (r *Record) InRange(start, end time.Time) bool {
	if !start.IsZero() && r.Timestamp.Before(start) {
		return false
	}
	if !end.IsZero() && r.Timestamp.After(end) {
		return false
	}
	return true
}

// ParseRecord decodes a storage row.
func ParseRecord(fields []string, loc *time.Location) (Record, error) {
	if len(fields) != NumFields {
		return Record{}, fmt.Errorf("expected %d fields, got %d", NumFields, len(fields))
	}

	ts, err := ParseTimestamp(fields[0], loc)
	if err != nil {
		return Record{}, err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid value %q", fields[2])
	}

	return Record{
		Timestamp: ts,
		SourceID:  fields[1],
		Value:     value,
		Unit:      fields[3],
	}, nil
}

// IsHeader reports whether fields is the storage header row.
func IsHeader(fields []string) bool {
	if len(fields) != len(Header) {
		return false
	}
	for i, f := range fields {
		if i == 0 {
			f = strings.TrimPrefix(f, "\ufeff")
		}
		if f != Header[i] {
			return false
		}
	}
	return true
}

// FormatTimestamp renders t as "YYYY-MM-DD HH:MM:SS[.fffffffff]" in loc.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(timestampWriteLayout)
}

// ParseTimestamp accepts both the seconds and the sub-second storage forms.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts, nil
}

// RecordBatch represents a collection of records for batch processing.
type RecordBatch struct {
	Records []Record
}

// NewRecordBatch creates a new batch with the given capacity.
func NewRecordBatch(capacity int) *RecordBatch {
	return &RecordBatch{
		Records: make([]Record, 0, capacity),
	}
}

// Add appends a record to the batch.
func (b *RecordBatch) Add(r Record) {
	b.Records = append(b.Records, r)
}

// Len returns the number of records in the batch.
func (b *RecordBatch) Len() int {
	return len(b.Records)
}

// Clear resets the batch for reuse.
func (b *RecordBatch) Clear() {
	b.Records = b.Records[:0]
}
