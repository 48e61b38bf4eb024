package pagecache

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/calvinalkan/tokenscan/pkg/tokenscan"
)

// Stats is a snapshot of page cache activity.
type Stats struct {
	Pins        int64 `json:"pins"`
	Hits        int64 `json:"hits"`
	Faults      int64 `json:"faults"`
	Evictions   int64 `json:"evictions"`
	Cursors     int64 `json:"cursors"`
	OpenCursors int64 `json:"open_cursors"`
}

// Tracer aggregates page cache events. It hands out [CursorTracer]s and
// implements [tokenscan.TracerFactory].
//
// Tracer is safe for concurrent use.
type Tracer struct {
	maxCursors int

	mu    sync.Mutex
	stats Stats
	open  map[uuid.UUID]string
}

var _ tokenscan.TracerFactory = (*Tracer)(nil)

// NewTracer returns a tracer that allows at most maxCursors open cursor
// tracers. maxCursors <= 0 means [DefaultMaxCursors].
func NewTracer(maxCursors int) *Tracer {
	if maxCursors <= 0 {
		maxCursors = DefaultMaxCursors
	}

	return &Tracer{maxCursors: maxCursors, open: make(map[uuid.UUID]string)}
}

// CreateCursorTracer opens a cursor tracer tagged tag.
//
// Returns [ErrCursorsExhausted] when the open cursor limit is reached.
func (t *Tracer) CreateCursorTracer(tag string) (tokenscan.CursorTracer, error) {
	return t.NewCursor(tag)
}

// NewCursor is [Tracer.CreateCursorTracer] returning the concrete type.
// Every cursor gets a time-ordered id.
func (t *Tracer) NewCursor(tag string) (*CursorTracer, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("cursor %q: generate id: %w", tag, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stats.OpenCursors >= int64(t.maxCursors) {
		return nil, fmt.Errorf("%w: %d open, cursor %q", ErrCursorsExhausted, t.stats.OpenCursors, tag)
	}

	t.stats.Cursors++
	t.stats.OpenCursors++
	t.open[id] = tag

	return &CursorTracer{parent: t, id: id, tag: tag}, nil
}

// OpenCursors returns the tags of cursor tracers not yet closed, by id.
func (t *Tracer) OpenCursors() map[uuid.UUID]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[uuid.UUID]string, len(t.open))
	for id, tag := range t.open {
		out[id] = tag
	}

	return out
}

// Stats returns the counters reported so far. Cursor tracers report their
// pins, hits and faults when they are closed.
func (t *Tracer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stats
}

func (t *Tracer) evicted(n int) {
	t.mu.Lock()
	t.stats.Evictions += int64(n)
	t.mu.Unlock()
}

func (t *Tracer) report(c *CursorTracer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Pins += c.pins
	t.stats.Hits += c.hits
	t.stats.Faults += c.faults
	t.stats.OpenCursors--
	delete(t.open, c.id)
}

// PageTracer receives one event per page pinned by a read.
//
// *CursorTracer implements it. A nil PageTracer is allowed wherever one is
// accepted.
type PageTracer interface {
	Pinned(pageID int64, hit bool)
}

// CursorTracer counts page activity for one scan.
//
// It implements [tokenscan.CursorTracer] and [PageTracer].
type CursorTracer struct {
	parent *Tracer
	id     uuid.UUID
	tag    string

	mu     sync.Mutex
	pins   int64
	hits   int64
	faults int64
	closed bool
}

var (
	_ tokenscan.CursorTracer = (*CursorTracer)(nil)
	_ PageTracer             = (*CursorTracer)(nil)
)

// ID returns the cursor's unique id.
func (c *CursorTracer) ID() uuid.UUID {
	return c.id
}

// Tag returns the tag the cursor was created with.
func (c *CursorTracer) Tag() string {
	return c.tag
}

// Pinned records one page pin.
func (c *CursorTracer) Pinned(_ int64, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pins++
	if hit {
		c.hits++
	} else {
		c.faults++
	}
}

// Stats returns this cursor's own counters.
func (c *CursorTracer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{Pins: c.pins, Hits: c.hits, Faults: c.faults}
}

// Close reports the cursor's counters into its [Tracer].
//
// Returns [ErrCursorClosed] if already closed.
func (c *CursorTracer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: %q (%s)", ErrCursorClosed, c.tag, c.id)
	}

	c.closed = true
	c.parent.report(c)

	return nil
}
