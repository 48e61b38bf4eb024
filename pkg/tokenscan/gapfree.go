package tokenscan

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// GapFreeReaderTag is the cursor tracer tag used for gap-free scans.
const GapFreeReaderTag = "gapFreeAllEntriesReader"

// Seq is the iterator type returned by [GapFreeReader.All].
//
// It matches the shape of iter.Seq2[Range, error]. A non-nil error is always
// the last value yielded.
type Seq func(yield func(Range, error) bool)

// Option configures a [GapFreeReader].
type Option func(*GapFreeReader)

// WithLogger sets the logger used for open/close diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *GapFreeReader) {
		if log != nil {
			r.log = log
		}
	}
}

// GapFreeReader presents a [ScanStore]'s sparse ranges as a gap-free sequence
// from range 0 through the range holding entity highID-1.
//
// The reader owns the store's range reader and the cursor tracer it was opened
// with; [GapFreeReader.Close] releases both.
type GapFreeReader struct {
	source  AllEntriesReader
	tracer  CursorTracer
	highID  int64
	highest int64
	width   int
	log     logrus.FieldLogger
	closed  bool
}

// NewGapFreeReader opens the store's ranges for a gap-free scan.
//
// highID is the first entity id known not to exist. It is a snapshot: ranges
// the store holds beyond it are still passed through, but gaps are only filled
// up to it.
//
// A cursor tracer tagged [GapFreeReaderTag] is created first and the store is
// opened through it. If opening fails, the tracer is closed before returning.
func NewGapFreeReader(store ScanStore, highID int64, tracers TracerFactory, opts ...Option) (*GapFreeReader, error) {
	if store == nil || tracers == nil {
		return nil, fmt.Errorf("store and tracer factory are required: %w", ErrInvalidInput)
	}

	if highID < 0 {
		return nil, fmt.Errorf("high id must be >= 0, got %d: %w", highID, ErrInvalidInput)
	}

	r := &GapFreeReader{highID: highID, log: discardLogger()}
	for _, opt := range opts {
		opt(r)
	}

	tracer, err := tracers.CreateCursorTracer(GapFreeReaderTag)
	if err != nil {
		return nil, fmt.Errorf("create cursor tracer: %w", err)
	}

	source, err := store.AllEntityTokenRanges(tracer)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("open token ranges: %w", err),
			closeTracer(tracer),
		)
	}

	width := source.RangeSize()
	if width <= 0 {
		return nil, errors.Join(
			fmt.Errorf("range size must be > 0, got %d: %w", width, ErrInvalidInput),
			closeSource(source),
			closeTracer(tracer),
		)
	}

	r.source = source
	r.tracer = tracer
	r.width = width
	r.highest = HighestRangeID(highID, width)

	r.log.WithFields(logrus.Fields{
		"tag":              tracer.Tag(),
		"high_id":          highID,
		"range_size":       width,
		"highest_range_id": r.highest,
	}).Debug("opened gap-free token scan")

	return r, nil
}

// MaxCount returns the store's estimate of the number of ranges, unchanged.
//
// The iteration itself is bounded by [GapFreeReader.HighestRangeID].
func (r *GapFreeReader) MaxCount() int64 {
	return r.source.MaxCount()
}

// RangeSize returns the number of entity slots per range.
func (r *GapFreeReader) RangeSize() int {
	return r.width
}

// HighID returns the high id snapshot the reader was opened with.
func (r *GapFreeReader) HighID() int64 {
	return r.highID
}

// HighestRangeID returns the last range id that is filled in if absent.
func (r *GapFreeReader) HighestRangeID() int64 {
	return r.highest
}

// Iterator returns a new iterator over the gap-free sequence.
//
// Each call restarts the store's range sequence. Only one iterator may be in
// use at a time, and none after Close.
func (r *GapFreeReader) Iterator() *GapFillingIterator {
	if r.closed {
		return newGapFillingIterator(nil, r.highest, r.width, r.isClosed)
	}

	return newGapFillingIterator(r.source.Ranges(), r.highest, r.width, r.isClosed)
}

// All returns the gap-free sequence as a [Seq].
func (r *GapFreeReader) All() Seq {
	return func(yield func(Range, error) bool) {
		it := r.Iterator()

		for it.Next() {
			if !yield(it.Range(), nil) {
				return
			}
		}

		if err := it.Err(); err != nil {
			yield(Range{}, err)
		}
	}
}

// Close releases the store's range reader and the cursor tracer.
//
// Both are always released. If both fail, the returned error wraps both (see
// [errors.Join]). Calling Close again returns [ErrClosed].
func (r *GapFreeReader) Close() error {
	if r.closed {
		return ErrClosed
	}

	r.closed = true

	sourceErr := closeSource(r.source)
	tracerErr := closeTracer(r.tracer)

	r.log.WithFields(logrus.Fields{
		"tag":     r.tracer.Tag(),
		"high_id": r.highID,
		"failed":  sourceErr != nil || tracerErr != nil,
	}).Debug("closed gap-free token scan")

	return errors.Join(sourceErr, tracerErr)
}

func (r *GapFreeReader) isClosed() bool {
	return r.closed
}

func closeSource(source AllEntriesReader) error {
	err := source.Close()
	if err != nil {
		return fmt.Errorf("close token ranges: %w", err)
	}

	return nil
}

func closeTracer(tracer CursorTracer) error {
	err := tracer.Close()
	if err != nil {
		return fmt.Errorf("close cursor tracer %q: %w", tracer.Tag(), err)
	}

	return nil
}

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}
