package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/query"
	"github.com/xtxerr/sensorlog/internal/storage/retention"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// =============================================================================
// run
// =============================================================================

func newRunCmd(a *app) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest JSON readings from stdin until EOF or a signal",
		Long: `Reads newline-delimited JSON readings and appends them to storage.
Each line is an object or an array of objects:

  {"sensor_id":"T1","timestamp":"2024-03-01 10:00:00","value":21.5,"unit":"°C"}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				r = f
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := svc.Start(); err != nil {
				return err
			}

			logging.Info("sensorlogd started",
				"version", Version,
				"storage_dir", a.cfg.StorageDir,
				"archive_dir", a.cfg.ArchiveDir(),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			runErr := svc.Ingest(ctx, r)
			if stopErr := svc.Stop(); stopErr != nil && runErr == nil {
				runErr = stopErr
			}

			stats := svc.Stats()
			logging.Info("sensorlogd stopped",
				"records", stats.Ingestion.RecordsAppended,
				"decode_errors", stats.Ingestion.DecodeErrors,
				"rotations", stats.Writer.Rotations,
			)
			return runErr
		},
	}

	cmd.Flags().StringVar(&input, "input", "-", "input file (- for stdin)")
	return cmd
}

// =============================================================================
// query
// =============================================================================

// rangeFlags are the range filters shared by read commands.
type rangeFlags struct {
	from   string
	to     string
	source string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", `range start ("2006-01-02 15:04:05", RFC 3339 or a duration ago such as 1h)`)
	cmd.Flags().StringVar(&f.to, "to", "", "range end, same forms as --from")
	cmd.Flags().StringVar(&f.source, "source", "", "only records of this source")
}

func (f *rangeFlags) query(loc *time.Location, now time.Time) (query.Query, error) {
	start, err := parseTimeFlag(f.from, loc, now)
	if err != nil {
		return query.Query{}, fmt.Errorf("--from: %w", err)
	}
	end, err := parseTimeFlag(f.to, loc, now)
	if err != nil {
		return query.Query{}, fmt.Errorf("--to: %w", err)
	}

	q := query.Query{Start: start, End: end, SourceID: f.source}
	if err := q.Validate(); err != nil {
		return query.Query{}, err
	}
	return q, nil
}

// parseTimeFlag accepts the storage form, RFC 3339, or a duration that is
// subtracted from now. Empty means unbounded.
func parseTimeFlag(s string, loc *time.Location, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := types.ParseTimestamp(s, loc); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func newQueryCmd(a *app) *cobra.Command {
	var rf rangeFlags

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print records in a time range as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			q, err := rf.query(svc.Location(), time.Now())
			if err != nil {
				return err
			}

			it := svc.Read(cmd.Context(), q)
			defer it.Close()

			w := csv.NewWriter(cmd.OutOrStdout())
			if err := w.Write(types.Header); err != nil {
				return err
			}

			var n int
			for it.Next() {
				r := it.Record()
				if err := w.Write(r.Fields(svc.Location())); err != nil {
					return err
				}
				n++
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return err
			}
			if err := it.Err(); err != nil {
				return err
			}

			logging.Debug("query finished", "records", n, "warnings", len(it.Warnings()))
			return nil
		},
	}

	rf.register(cmd)
	return cmd
}

// =============================================================================
// summary
// =============================================================================

func newSummaryCmd(a *app) *cobra.Command {
	var (
		rf     rangeFlags
		bucket time.Duration
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print per-source statistics for a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			q, err := rf.query(svc.Location(), time.Now())
			if err != nil {
				return err
			}

			summaries, warnings, err := svc.Summarize(cmd.Context(), q, bucket)
			if err != nil {
				return err
			}
			if len(warnings) > 0 {
				logging.Warn("rows skipped", "count", len(warnings))
			}

			printSummaries(cmd.OutOrStdout(), summaries, svc.Location())
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().DurationVar(&bucket, "bucket", 0, "bucket size such as 1h (0 for one summary per source)")
	return cmd
}

func printSummaries(out io.Writer, summaries []types.Summary, loc *time.Location) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Source", "Unit", "Bucket", "Count", "Min", "Max", "Avg", "P50", "P95", "P99"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, s := range summaries {
		bucket := "-"
		if !s.BucketStart.IsZero() {
			bucket = types.FormatTimestamp(s.BucketStart, loc)
		}
		table.Append([]string{
			s.SourceID, s.Unit, bucket, strconv.FormatInt(s.Count, 10),
			formatFloat(s.Min), formatFloat(s.Max), formatFloat(s.Avg),
			formatOptional(s.P50), formatOptional(s.P95), formatOptional(s.P99),
		})
	}
	table.Render()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func formatOptional(f *float64) string {
	if f == nil {
		return "-"
	}
	return formatFloat(*f)
}

// =============================================================================
// export
// =============================================================================

func newExportCmd(a *app) *cobra.Command {
	var (
		rf        rangeFlags
		out       string
		summaries bool
		bucket    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write records or summaries in a time range to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			q, err := rf.query(svc.Location(), time.Now())
			if err != nil {
				return err
			}

			if summaries {
				n, err := svc.ExportSummaries(cmd.Context(), q, bucket, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d summaries to %s\n", n, out)
				return nil
			}

			rows, err := svc.Export(cmd.Context(), q, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", rows, out)
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output Parquet file")
	cmd.Flags().BoolVar(&summaries, "summaries", false, "export summaries instead of records")
	cmd.Flags().DurationVar(&bucket, "bucket", 0, "summary bucket size (with --summaries)")
	return cmd
}

// =============================================================================
// rotate
// =============================================================================

func newRotateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Archive the active file now",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := svc.Start(); err != nil {
				return err
			}

			rotateErr := svc.Rotate()
			if err := svc.Stop(); err != nil && rotateErr == nil {
				rotateErr = err
			}

			switch {
			case errors.Is(rotateErr, errors.ErrNothingToRotate):
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to rotate")
				return nil
			case rotateErr != nil:
				return rotateErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rotated, %d archive(s) written\n", svc.Stats().Archive.Archived)
			return nil
		},
	}
}

// =============================================================================
// sweep
// =============================================================================

func newSweepCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete archive entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}

			var result retention.Result
			if dryRun {
				result = svc.DryRunSweep()
			} else {
				result = svc.Sweep()
			}

			printSweep(cmd.OutOrStdout(), result, dryRun)

			if usage, err := svc.DiskUsage(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "archive: %d files, %s\n", usage.FileCount, retention.FormatBytes(usage.TotalSize))
			}

			if len(result.Errors) > 0 {
				return fmt.Errorf("%d archive entries could not be deleted: %w", len(result.Errors), errors.Join(result.Errors...))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}

func printSweep(out io.Writer, result retention.Result, dryRun bool) {
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	for _, path := range result.Deleted {
		fmt.Fprintf(out, "%s %s\n", verb, path)
	}
	fmt.Fprintf(out, "%s %d entries (%s), kept %d, cutoff %s\n",
		verb, result.FilesDeleted, retention.FormatBytes(result.BytesFreed),
		result.FilesKept, result.Cutoff.Format(time.RFC3339))
}
