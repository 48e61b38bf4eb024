// Package tokenscantest provides in-memory token scan stores and tracers for
// tests, with hooks to inject open, read and close failures.
package tokenscantest

import (
	"errors"
	"sync"

	"github.com/calvinalkan/tokenscan/pkg/tokenscan"
)

// Store is an in-memory [tokenscan.ScanStore] over a fixed list of ranges.
//
// The zero value is not usable; set RangeSize.
type Store struct {
	// RangeSize reported by every opened reader.
	RangeSize int

	// MaxCount reported by every opened reader.
	MaxCount int64

	// Ranges yielded in order, as given (no sorting or validation).
	Ranges []tokenscan.Range

	// OpenErr, if set, is returned by AllEntityTokenRanges.
	OpenErr error

	// CloseErr, if set, is returned by every reader's Close.
	CloseErr error

	// PullErrs maps a pull index (0-based position in Ranges) to an error
	// returned once instead of that range. The next pull yields the range.
	PullErrs map[int]error

	mu      sync.Mutex
	readers []*Reader
}

// AllEntityTokenRanges opens a reader over s.Ranges.
func (s *Store) AllEntityTokenRanges(tracer tokenscan.CursorTracer) (tokenscan.AllEntriesReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}

	pullErrs := make(map[int]error, len(s.PullErrs))
	for k, v := range s.PullErrs {
		pullErrs[k] = v
	}

	r := &Reader{store: s, tracer: tracer, pullErrs: pullErrs}
	s.readers = append(s.readers, r)

	return r, nil
}

// Readers returns every reader opened so far.
func (s *Store) Readers() []*Reader {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Reader(nil), s.readers...)
}

// Reader is the [tokenscan.AllEntriesReader] returned by [Store].
type Reader struct {
	store    *Store
	tracer   tokenscan.CursorTracer
	pullErrs map[int]error

	mu     sync.Mutex
	closes int
	pulls  int
}

// Tracer returns the tracer the reader was opened with.
func (r *Reader) Tracer() tokenscan.CursorTracer {
	return r.tracer
}

// Closes returns how many times Close was called.
func (r *Reader) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closes
}

// Pulls returns how many times Next was called across all iterators.
func (r *Reader) Pulls() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pulls
}

func (r *Reader) MaxCount() int64 { return r.store.MaxCount }

func (r *Reader) RangeSize() int { return r.store.RangeSize }

func (r *Reader) Ranges() tokenscan.RangeIterator {
	return &iterator{reader: r}
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closes++

	return r.store.CloseErr
}

type iterator struct {
	reader *Reader
	pos    int
	cur    tokenscan.Range
	err    error
}

func (it *iterator) Next() bool {
	it.reader.mu.Lock()
	defer it.reader.mu.Unlock()

	it.reader.pulls++
	it.err = nil

	if err, ok := it.reader.pullErrs[it.pos]; ok {
		delete(it.reader.pullErrs, it.pos)
		it.err = err
		it.cur = tokenscan.Range{}

		return false
	}

	if it.pos >= len(it.reader.store.Ranges) {
		it.cur = tokenscan.Range{}

		return false
	}

	it.cur = it.reader.store.Ranges[it.pos]
	it.pos++

	return true
}

func (it *iterator) Range() tokenscan.Range { return it.cur }

func (it *iterator) Err() error { return it.err }

// Tracers is a [tokenscan.TracerFactory] that records what it creates.
type Tracers struct {
	// CreateErr, if set, is returned by CreateCursorTracer.
	CreateErr error

	// CloseErr, if set, is returned by every tracer's Close.
	CloseErr error

	mu      sync.Mutex
	created []*Tracer
}

// CreateCursorTracer returns a new [Tracer] tagged tag.
func (f *Tracers) CreateCursorTracer(tag string) (tokenscan.CursorTracer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	t := &Tracer{tag: tag, closeErr: f.CloseErr}
	f.created = append(f.created, t)

	return t, nil
}

// Created returns every tracer created so far.
func (f *Tracers) Created() []*Tracer {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*Tracer(nil), f.created...)
}

// Tracer is a [tokenscan.CursorTracer] that counts Close calls.
type Tracer struct {
	tag      string
	closeErr error

	mu     sync.Mutex
	closes int
}

func (t *Tracer) Tag() string { return t.tag }

func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closes++

	return t.closeErr
}

// Closes returns how many times Close was called.
func (t *Tracer) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closes
}

// NewRange builds a range of the given width with tokens set on some slots.
func NewRange(id int64, width int, slots map[int][]int64) tokenscan.Range {
	tokens := make([][]int64, width)
	for slot, ids := range slots {
		tokens[slot] = ids
	}

	return tokenscan.Range{ID: id, Tokens: tokens}
}

// Collect drains it and returns the ranges seen and the final error.
func Collect(it tokenscan.RangeIterator) ([]tokenscan.Range, error) {
	var out []tokenscan.Range

	for it.Next() {
		out = append(out, it.Range())
	}

	return out, it.Err()
}

// IDs returns the ids of ranges, in order.
func IDs(ranges []tokenscan.Range) []int64 {
	ids := make([]int64, 0, len(ranges))
	for _, r := range ranges {
		ids = append(ids, r.ID)
	}

	return ids
}

// ErrFake is a convenience error for injected failures.
var ErrFake = errors.New("tokenscantest: injected failure")
