// Package aggregate computes per-source summaries over records.
package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// StreamingAggregate maintains running statistics for one source and bucket.
// It supports optional percentile calculation using DDSketch.
type StreamingAggregate struct {
	mu sync.Mutex

	// Identity
	sourceID string
	unit     string

	// Time bucket (zero for a whole-range summary)
	bucketStart time.Time
	bucketEnd   time.Time

	// Running statistics
	count int64
	sum   float64
	min   float64
	max   float64
	first time.Time
	last  time.Time

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// New creates a new StreamingAggregate. An accuracy of zero disables
// percentiles; otherwise it is the sketch's relative accuracy (0.01 = 1%).
func New(sourceID string, bucketStart, bucketEnd time.Time, accuracy float64) *StreamingAggregate {
	agg := &StreamingAggregate{
		sourceID:    sourceID,
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		min:         math.MaxFloat64,
		max:         -math.MaxFloat64,
		accuracy:    accuracy,
	}
	agg.sketch = newSketch(accuracy)
	return agg
}

func newSketch(accuracy float64) *ddsketch.DDSketch {
	if accuracy <= 0 || accuracy >= 1 {
		return nil
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Add adds a value observed at ts.
func (a *StreamingAggregate) Add(value float64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.first.IsZero() || ts.Before(a.first) {
		a.first = ts
	}
	if ts.After(a.last) {
		a.last = ts
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// AddRecord adds a record. The unit of the first record is kept.
func (a *StreamingAggregate) AddRecord(r types.Record) {
	a.mu.Lock()
	if a.unit == "" {
		a.unit = r.Unit
	}
	a.mu.Unlock()

	a.Add(r.Value, r.Timestamp)
}

// Count returns the number of values added.
func (a *StreamingAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no values have been added.
func (a *StreamingAggregate) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count == 0
}

// Result returns the summary.
func (a *StreamingAggregate) Result() types.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := types.Summary{
		SourceID:    a.sourceID,
		Unit:        a.unit,
		BucketStart: a.bucketStart,
		BucketEnd:   a.bucketEnd,
		Count:       a.count,
		Sum:         a.sum,
		First:       a.first,
		Last:        a.last,
	}

	if a.count > 0 {
		result.Avg = a.sum / float64(a.count)
		result.Min = a.min
		result.Max = a.max
	}

	// Calculate percentiles if enabled and we have data
	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p95, _ := a.sketch.GetValueAtQuantile(0.95)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Reset clears the aggregate for a new bucket.
func (a *StreamingAggregate) Reset(bucketStart, bucketEnd time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bucketStart = bucketStart
	a.bucketEnd = bucketEnd
	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64
	a.first = time.Time{}
	a.last = time.Time{}

	// DDSketch has no Clear method
	a.sketch = newSketch(a.accuracy)
}

// Merge combines another aggregate for the same source and bucket into a.
func (a *StreamingAggregate) Merge(other *StreamingAggregate) {
	if other == nil || other == a {
		return
	}

	a.mu.Lock()
	other.mu.Lock()
	defer a.mu.Unlock()
	defer other.mu.Unlock()

	if other.count == 0 {
		return
	}

	a.count += other.count
	a.sum += other.sum

	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}

	if a.first.IsZero() || (!other.first.IsZero() && other.first.Before(a.first)) {
		a.first = other.first
	}
	if other.last.After(a.last) {
		a.last = other.last
	}
	if a.unit == "" {
		a.unit = other.unit
	}

	// Merge sketches
	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}

// Key returns the unique key for this aggregate's series and bucket.
func (a *StreamingAggregate) Key() string {
	s := types.Summary{SourceID: a.sourceID, BucketStart: a.bucketStart}
	return s.Key()
}
