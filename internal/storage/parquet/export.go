package parquet

import (
	"context"
	"fmt"
	"os"

	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// RecordIterator is the read side of a query.
type RecordIterator interface {
	Next() bool
	Record() types.Record
	Err() error
}

// Export drains it into a Parquet file at path and returns the number of
// rows written. The file is written under a temporary name and renamed into
// place, so a failed export leaves no partial file behind.
func Export(ctx context.Context, it RecordIterator, path string, opts Options) (int64, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	tmp := path + ".tmp"
	w, err := NewRecordWriter(tmp, opts)
	if err != nil {
		return 0, err
	}

	fail := func(err error) (int64, error) {
		w.Close()
		os.Remove(tmp)
		return 0, err
	}

	batch := make([]types.Record, 0, opts.BatchSize)
	for it.Next() {
		batch = append(batch, it.Record())
		if len(batch) < opts.BatchSize {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := w.Write(batch); err != nil {
			return fail(err)
		}
		batch = batch[:0]
	}

	if err := it.Err(); err != nil {
		return fail(fmt.Errorf("read records: %w", err))
	}

	if err := w.Write(batch); err != nil {
		return fail(err)
	}

	rows := w.RowCount()
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename export: %w", err)
	}

	return rows, nil
}

// ExportSummaries writes summaries to a Parquet file at path.
func ExportSummaries(summaries []types.Summary, path string, opts Options) error {
	w, err := NewSummaryWriter(path, opts)
	if err != nil {
		return err
	}

	if err := w.Write(summaries); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}
