package types

import "time"

// Summary represents aggregated statistics for one source over a time bucket.
// This is the output of the summary aggregation over query results.
type Summary struct {
	// Identity
	SourceID string
	Unit     string

	// Time bucket (zero when the summary spans the whole query)
	BucketStart time.Time
	BucketEnd   time.Time

	// Basic statistics (always present)
	Count int64   // Number of records in this bucket
	Sum   float64 // Sum of all values
	Min   float64 // Minimum value
	Max   float64 // Maximum value
	Avg   float64 // Average value (Sum / Count)

	// Percentiles (optional, nil if not enabled)
	P50 *float64 // 50th percentile (median)
	P90 *float64 // 90th percentile
	P95 *float64 // 95th percentile
	P99 *float64 // 99th percentile

	// Timestamps of actual records
	First time.Time // Earliest record in bucket
	Last  time.Time // Latest record in bucket
}

// Key returns a unique identifier for this summary's series and bucket.
func (s *Summary) Key() string {
	if s.BucketStart.IsZero() {
		return s.SourceID
	}
	return s.SourceID + "@" + s.BucketStart.UTC().Format(time.RFC3339)
}

// IsEmpty returns true if no records were aggregated.
func (s *Summary) IsEmpty() bool {
	return s.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}

// SetPercentiles sets all percentile values.
func (s *Summary) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}
