// Package ingestion feeds JSON readings from a stream into the log writer.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

const (
	// DefaultFlushInterval is used when Options.FlushInterval is zero.
	DefaultFlushInterval = 5 * time.Second

	// DefaultMaxLineBytes bounds a single input line.
	DefaultMaxLineBytes = 1 << 20
)

// Appender receives decoded records.
type Appender interface {
	Append(r types.Record) error
	Flush() error
}

// Options configures the ingestion service.
type Options struct {
	// FlushInterval is the period of the flush worker.
	FlushInterval time.Duration

	// MaxLineBytes bounds a single input line.
	MaxLineBytes int

	// Location is used for timestamps without a zone. Nil means Local.
	Location *time.Location

	// Now stamps readings that carry no timestamp. Nil means time.Now.
	Now func() time.Time
}

// Service decodes JSON lines and appends them to the writer. A flush worker
// runs alongside so that slow streams still reach disk.
type Service struct {
	appender Appender
	decoder  *Decoder
	opts     Options
	log      *slog.Logger

	running atomic.Bool

	// Statistics
	stats Stats
}

// Stats holds ingestion statistics.
type Stats struct {
	LinesRead       atomic.Int64
	RecordsAppended atomic.Int64
	DecodeErrors    atomic.Int64
	Flushes         atomic.Int64
}

// ServiceStats is a point-in-time copy of Stats.
type ServiceStats struct {
	Running         bool
	LinesRead       int64
	RecordsAppended int64
	DecodeErrors    int64
	Flushes         int64
}

// New creates a new ingestion service.
func New(appender Appender, opts Options) (*Service, error) {
	if appender == nil {
		return nil, errors.NewMissingField("appender")
	}
	if opts.FlushInterval < 0 {
		return nil, errors.NewInvalidValue("flush interval", opts.FlushInterval, "must be non-negative")
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}

	return &Service{
		appender: appender,
		decoder:  NewDecoder(opts.Location, opts.Now),
		opts:     opts,
		log:      logging.Component("ingestion"),
	}, nil
}

// Run reads newline-delimited JSON from r until EOF, a failure, or ctx is
// cancelled. Each line holds one reading or an array of readings. Lines
// that fail to decode are counted and skipped. An append or flush failure
// ends Run with that error. A final flush runs before Run returns.
func (s *Service) Run(ctx context.Context, r io.Reader) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)

	lines := make(chan []byte, 64)
	scanErr := make(chan error, 1)
	finished := make(chan struct{})

	// The reader may block indefinitely (stdin), so the scanner lives outside
	// the group and is abandoned on cancellation.
	go s.scan(gctx, r, lines, scanErr)

	g.Go(func() error {
		defer close(finished)
		return s.consume(gctx, lines, scanErr)
	})

	g.Go(func() error {
		return s.flushWorker(gctx, finished)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.flush(); err != nil {
		return err
	}

	s.log.Info("ingestion finished",
		"lines", s.stats.LinesRead.Load(),
		"records", s.stats.RecordsAppended.Load(),
		"decode_errors", s.stats.DecodeErrors.Load(),
	)
	return nil
}

func (s *Service) scan(ctx context.Context, r io.Reader, lines chan<- []byte, scanErr chan<- error) {
	defer close(lines)

	// The scanner accepts tokens up to the larger of max and cap(buf).
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, s.opts.MaxLineBytes)), s.opts.MaxLineBytes)

	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := append([]byte(nil), sc.Bytes()...)
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}

	if err := sc.Err(); err != nil {
		scanErr <- err
	}
}

func (s *Service) consume(ctx context.Context, lines <-chan []byte, scanErr <-chan error) error {
	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			return s.drain(&lineNo, lines)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.NewIOError("read input", "", err)
				default:
					return nil
				}
			}
			lineNo++
			if err := s.handleLine(lineNo, line); err != nil {
				return err
			}
		}
	}
}

// drain handles lines the scanner already delivered without waiting for
// more, so they reach the final flush.
func (s *Service) drain(lineNo *int, lines <-chan []byte) error {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			*lineNo++
			if err := s.handleLine(*lineNo, line); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Service) handleLine(lineNo int, line []byte) error {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	s.stats.LinesRead.Add(1)

	records, err := s.decoder.DecodeAll(line)
	if err != nil {
		s.stats.DecodeErrors.Add(1)
		s.log.Warn("skipping line", "line", lineNo, "error", err)
		return nil
	}

	for _, r := range records {
		if err := s.appender.Append(r); err != nil {
			return fmt.Errorf("append line %d: %w", lineNo, err)
		}
		s.stats.RecordsAppended.Add(1)
	}
	return nil
}

// flushWorker flushes on every tick until the consumer finishes or the
// group is cancelled.
func (s *Service) flushWorker(ctx context.Context, finished <-chan struct{}) error {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			return nil
		case <-ticker.C:
			if err := s.flush(); err != nil {
				return err
			}
		}
	}
}

func (s *Service) flush() error {
	if err := s.appender.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	s.stats.Flushes.Add(1)
	return nil
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Running:         s.running.Load(),
		LinesRead:       s.stats.LinesRead.Load(),
		RecordsAppended: s.stats.RecordsAppended.Load(),
		DecodeErrors:    s.stats.DecodeErrors.Load(),
		Flushes:         s.stats.Flushes.Load(),
	}
}

// IsRunning returns whether Run is in progress.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
