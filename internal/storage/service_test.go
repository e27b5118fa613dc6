package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/parquet"
	"github.com/xtxerr/sensorlog/internal/storage/query"
	"github.com/xtxerr/sensorlog/internal/storage/types"
	testhelper "github.com/xtxerr/sensorlog/internal/testing"
)

func newTestService(t *testing.T, mutate func(cfg *config.Config)) (*Service, *testhelper.Clock) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.Location = "UTC"
	if mutate != nil {
		mutate(cfg)
	}

	clock := testhelper.NewClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	svc, err := NewWithOptions(cfg, Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, clock
}

func testRecord(base time.Time, i int, source string) types.Record {
	return types.Record{
		Timestamp: base.Add(time.Duration(i) * time.Second),
		SourceID:  source,
		Value:     float64(i) + 0.5,
		Unit:      "°C",
	}
}

func TestService_New(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if svc.IsRunning() {
		t.Error("service should not be running before Start()")
	}
	if svc.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", svc.Location())
	}

	want := filepath.Join(svc.Config().StorageDir, "archive")
	if svc.Config().ArchiveDir() != want {
		t.Errorf("expected archive dir %s, got %s", want, svc.Config().ArchiveDir())
	}
}

func TestService_NewInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.Writer.BufferFlushThreshold = 0

	if _, err := New(cfg); !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.Archive.Dir = cfg.StorageDir

	if _, err := New(cfg); !errors.IsConfig(err) {
		t.Errorf("expected config error for shared archive dir, got %v", err)
	}
}

func TestService_StartStop(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !svc.IsRunning() {
		t.Error("service should be running after Start()")
	}

	if err := svc.Start(); !errors.Is(err, errors.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning on double start, got %v", err)
	}

	active := svc.ActiveFile()
	if filepath.Base(active.Path) != "readings_2024-03-01.csv" {
		t.Errorf("unexpected active file %s", active.Path)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.IsRunning() {
		t.Error("service should not be running after Stop()")
	}

	// Stop is idempotent
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestService_ResumeAfterFailedRotation(t *testing.T) {
	svc, clock := newTestService(t, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	base := clock.Now()
	for i := 0; i < 5; i++ {
		if err := svc.Append(testRecord(base, i, "T1")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	before := svc.ActiveFile()

	// A file in place of the archive dir makes the move fail.
	archiveDir := svc.Config().ArchiveDir()
	if err := os.RemoveAll(archiveDir); err != nil {
		t.Fatalf("remove archive dir: %v", err)
	}
	if err := os.WriteFile(archiveDir, []byte("blocked"), 0644); err != nil {
		t.Fatalf("block archive dir: %v", err)
	}

	if err := svc.Rotate(); err == nil {
		t.Fatal("expected rotation to fail")
	}
	if svc.IsRunning() {
		t.Error("service should not report running with a stopped writer")
	}
	if svc.Stats().Running {
		t.Error("stats should not report running with a stopped writer")
	}
	if err := svc.Append(testRecord(base, 5, "T1")); !errors.Is(err, errors.ErrWriterStopped) {
		t.Errorf("expected ErrWriterStopped, got %v", err)
	}

	if err := os.Remove(archiveDir); err != nil {
		t.Fatalf("unblock archive dir: %v", err)
	}
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		t.Fatalf("recreate archive dir: %v", err)
	}

	if err := svc.Start(); err != nil {
		t.Fatalf("Start after failed rotation: %v", err)
	}
	if !svc.IsRunning() {
		t.Error("service should be running after resume")
	}

	after := svc.ActiveFile()
	if after.Path != before.Path {
		t.Errorf("expected resume on %s, got %s", before.Path, after.Path)
	}
	if after.LineCount != 5 {
		t.Errorf("expected 5 rows after resume, got %d", after.LineCount)
	}

	if err := svc.Append(testRecord(base, 5, "T1")); err != nil {
		t.Fatalf("Append after resume: %v", err)
	}
	if err := svc.Rotate(); err != nil {
		t.Fatalf("Rotate after resume: %v", err)
	}

	records, warnings, err := svc.Query(context.Background(), query.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(records) != 6 {
		t.Errorf("expected 6 records, got %d", len(records))
	}
}

func TestService_AppendWhenNotRunning(t *testing.T) {
	svc, clock := newTestService(t, nil)

	err := svc.Append(testRecord(clock.Now(), 0, "T1"))
	if !errors.Is(err, errors.ErrWriterStopped) {
		t.Errorf("expected ErrWriterStopped, got %v", err)
	}

	if err := svc.Ingest(context.Background(), strings.NewReader("")); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestService_Query(t *testing.T) {
	svc, clock := newTestService(t, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	base := clock.Now()
	for i := 0; i < 20; i++ {
		source := "T1"
		if i%2 == 1 {
			source = "H1"
		}
		if err := svc.Append(testRecord(base, i, source)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	records, warnings, err := svc.Query(context.Background(), query.Query{
		Start:    base.Add(5 * time.Second),
		End:      base.Add(14 * time.Second),
		SourceID: "T1",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for _, r := range records {
		if r.SourceID != "T1" {
			t.Errorf("expected only T1, got %s", r.SourceID)
		}
	}

	_, _, err = svc.Query(context.Background(), query.Query{Start: base, End: base.Add(-time.Second)})
	if !errors.IsConfig(err) {
		t.Errorf("expected validation error for inverted range, got %v", err)
	}
}

func TestService_Summarize(t *testing.T) {
	svc, clock := newTestService(t, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	base := clock.Now()
	for i := 1; i <= 10; i++ {
		r := types.Record{Timestamp: base.Add(time.Duration(i) * time.Minute), SourceID: "T1", Value: float64(i), Unit: "°C"}
		if err := svc.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := svc.Append(types.Record{Timestamp: base, SourceID: "H1", Value: 40, Unit: "%"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	summaries, _, err := svc.Summarize(context.Background(), query.Query{}, 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	h1, t1 := summaries[0], summaries[1]
	if h1.SourceID != "H1" || t1.SourceID != "T1" {
		t.Fatalf("expected H1 then T1, got %s, %s", h1.SourceID, t1.SourceID)
	}
	if t1.Count != 10 || t1.Min != 1 || t1.Max != 10 || t1.Avg != 5.5 {
		t.Errorf("unexpected T1 summary: count=%d min=%v max=%v avg=%v", t1.Count, t1.Min, t1.Max, t1.Avg)
	}
	if t1.P50 == nil {
		t.Fatal("expected p50")
	}
	if *t1.P50 < 5*0.99 || *t1.P50 > 6*1.01 {
		t.Errorf("p50 out of range: %v", *t1.P50)
	}

	// Ten-minute buckets split T1 at 10:10
	bucketed, _, err := svc.Summarize(context.Background(), query.Query{SourceID: "T1"}, 10*time.Minute)
	if err != nil {
		t.Fatalf("Summarize bucketed: %v", err)
	}
	if len(bucketed) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(bucketed))
	}
	if bucketed[0].Count != 9 || bucketed[1].Count != 1 {
		t.Errorf("expected 9+1 records, got %d+%d", bucketed[0].Count, bucketed[1].Count)
	}

	if _, _, err := svc.Summarize(context.Background(), query.Query{}, -time.Minute); !errors.IsConfig(err) {
		t.Errorf("expected error for negative bucket, got %v", err)
	}
}

func TestService_Export(t *testing.T) {
	svc, clock := newTestService(t, func(cfg *config.Config) {
		cfg.Export.Compression = "snappy"
	})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	base := clock.Now()
	var want []types.Record
	for i := 0; i < 25; i++ {
		r := testRecord(base, i, fmt.Sprintf("S%d", i%3))
		want = append(want, r)
		if err := svc.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	path := filepath.Join(t.TempDir(), "export.parquet")
	rows, err := svc.Export(context.Background(), query.Query{}, path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rows != int64(len(want)) {
		t.Errorf("expected %d rows, got %d", len(want), rows)
	}

	reader, err := parquet.NewRecordReader(path)
	if err != nil {
		t.Fatalf("NewRecordReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) || got[i].SourceID != want[i].SourceID ||
			got[i].Value != want[i].Value || got[i].Unit != want[i].Unit {
			t.Errorf("record %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	summaryPath := filepath.Join(t.TempDir(), "summary.parquet")
	n, err := svc.ExportSummaries(context.Background(), query.Query{}, 0, summaryPath)
	if err != nil {
		t.Fatalf("ExportSummaries: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 summaries, got %d", n)
	}

	summaries, err := parquet.ReadSummaries(summaryPath)
	if err != nil {
		t.Fatalf("ReadSummaries: %v", err)
	}
	if len(summaries) != 3 {
		t.Errorf("expected 3 summaries read back, got %d", len(summaries))
	}
}

func TestService_Ingest(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Writer.BufferFlushThreshold = 1000
	})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	input := `{"sensor_id":"T1","timestamp":"2024-03-01 10:00:00","value":21.5,"unit":"°C"}
{"sensor_id":"T1","timestamp":"2024-03-01 10:00:01","value":21.6,"unit":"°C"}
garbage
{"sensor_id":"H1","timestamp":"2024-03-01T10:00:02","value":40,"unit":"%"}
`
	if err := svc.Ingest(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Run flushes before returning, so everything is on disk
	records, _, err := svc.Query(context.Background(), query.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[2].Value != 40 || records[2].Unit != "%" {
		t.Errorf("unexpected last record %+v", records[2])
	}

	stats := svc.Stats()
	if stats.Ingestion.DecodeErrors != 1 {
		t.Errorf("expected 1 decode error, got %d", stats.Ingestion.DecodeErrors)
	}
	if stats.Writer.RecordsWritten != 3 {
		t.Errorf("expected 3 records written, got %d", stats.Writer.RecordsWritten)
	}
}

func TestService_Stats(t *testing.T) {
	svc, clock := newTestService(t, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	clock.Advance(time.Minute)

	stats := svc.Stats()
	if !stats.Running {
		t.Error("expected running")
	}
	if stats.Uptime != time.Minute {
		t.Errorf("expected uptime 1m, got %v", stats.Uptime)
	}
	if !stats.Writer.Running {
		t.Error("expected writer running")
	}
}

func TestService_ValueRoundTrip(t *testing.T) {
	svc, clock := newTestService(t, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	values := []float64{0, -0.1, 1e-9, 123456789.123, math.MaxFloat64, 0.30000000000000004}
	for i, v := range values {
		r := types.Record{Timestamp: clock.Now().Add(time.Duration(i) * time.Millisecond), SourceID: "V", Value: v, Unit: "x"}
		if err := svc.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	records, _, err := svc.Query(context.Background(), query.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != len(values) {
		t.Fatalf("expected %d records, got %d", len(values), len(records))
	}
	for i, v := range values {
		if records[i].Value != v {
			t.Errorf("value %d: expected %v, got %v", i, v, records[i].Value)
		}
	}
}
