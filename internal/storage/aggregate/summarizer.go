package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// RecordIterator is the read side of a query.
type RecordIterator interface {
	Next() bool
	Record() types.Record
	Err() error
}

// Summarizer groups records by source and, optionally, fixed time buckets.
// Query results carry no global order, so every bucket stays open until
// Results is called.
type Summarizer struct {
	mu sync.Mutex

	// Configuration
	bucket   time.Duration
	accuracy float64

	// Active aggregates keyed by Summary.Key
	aggregates map[string]*StreamingAggregate

	// Statistics
	stats SummarizerStats
}

// SummarizerStats holds statistics for the summarizer.
type SummarizerStats struct {
	RecordsProcessed int64
	Aggregates       int64
}

// NewSummarizer creates a summarizer. A zero bucket produces one summary
// per source. Buckets are aligned to multiples of bucket since the zero time.
func NewSummarizer(bucket time.Duration, accuracy float64) *Summarizer {
	if bucket < 0 {
		bucket = 0
	}
	return &Summarizer{
		bucket:     bucket,
		accuracy:   accuracy,
		aggregates: make(map[string]*StreamingAggregate),
	}
}

// Add adds a record to its source/bucket aggregate.
func (s *Summarizer) Add(r types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := s.calculateBucket(r.Timestamp)
	key := (&types.Summary{SourceID: r.SourceID, BucketStart: start}).Key()

	agg, exists := s.aggregates[key]
	if !exists {
		agg = New(r.SourceID, start, end, s.accuracy)
		s.aggregates[key] = agg
		s.stats.Aggregates++
	}

	agg.AddRecord(r)
	s.stats.RecordsProcessed++
}

// AddAll drains it into the summarizer.
func (s *Summarizer) AddAll(ctx context.Context, it RecordIterator) error {
	var n int
	for it.Next() {
		s.Add(it.Record())
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return it.Err()
}

// Results returns all summaries sorted by source, then bucket start.
func (s *Summarizer) Results() []types.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]types.Summary, 0, len(s.aggregates))
	for _, agg := range s.aggregates {
		results = append(results, agg.Result())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SourceID != results[j].SourceID {
			return results[i].SourceID < results[j].SourceID
		}
		return results[i].BucketStart.Before(results[j].BucketStart)
	})

	return results
}

// Stats returns summarizer statistics.
func (s *Summarizer) Stats() SummarizerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// calculateBucket returns the bucket bounds for ts.
func (s *Summarizer) calculateBucket(ts time.Time) (start, end time.Time) {
	if s.bucket == 0 {
		return time.Time{}, time.Time{}
	}
	start = ts.Truncate(s.bucket)
	return start, start.Add(s.bucket)
}

// Summarize runs a summarizer over an iterator.
func Summarize(ctx context.Context, it RecordIterator, bucket time.Duration, accuracy float64) ([]types.Summary, error) {
	s := NewSummarizer(bucket, accuracy)
	if err := s.AddAll(ctx, it); err != nil {
		return nil, err
	}
	return s.Results(), nil
}
