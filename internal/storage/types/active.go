package types

import "time"

// ActiveFile holds the bookkeeping for the storage file receiving new rows.
// It is owned by the log writer and only changes under the writer's lock.
type ActiveFile struct {
	Path      string    // Absolute or storage-relative path of the file
	SizeBytes int64     // Bytes on disk, header included
	LineCount int64     // Data rows on disk, header excluded
	CreatedAt time.Time // Start of the file's lifetime, used for age-based rotation
}

// Age returns how long the file has been active at now.
func (f *ActiveFile) Age(now time.Time) time.Duration {
	if f.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(f.CreatedAt)
}

// IsEmpty returns true if the file holds no data rows.
func (f *ActiveFile) IsEmpty() bool {
	return f.LineCount == 0
}
