package labelscan

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/tokenscan/pkg/fs"
	"github.com/calvinalkan/tokenscan/pkg/pagecache"
	"github.com/calvinalkan/tokenscan/pkg/tokenscan"
)

// DefaultRangeSize is the range width used when [Options.RangeSize] is 0.
const DefaultRangeSize = 64

// Options configures [Open].
type Options struct {
	// Path of the store file. Required.
	Path string

	// RangeSize is the number of entities per range. Defaults to
	// [DefaultRangeSize]. It must match the size the file was written with.
	RangeSize int

	// LockTimeout bounds how long [Store.Update] waits for the writer lock.
	// Zero means try once and fail with [ErrBusy].
	LockTimeout time.Duration

	// Logger receives commit diagnostics. Nil discards output.
	Logger logrus.FieldLogger
}

// Store is a token scan store persisted as one TKSC file.
//
// Reads go through a [pagecache.PageCache]. Writes take an exclusive flock on
// "<path>.lock" and replace the file atomically, so readers always see a
// complete committed state.
type Store struct {
	fsys      fs.FS
	cache     *pagecache.PageCache
	locker    *fs.Locker
	path      string
	rangeSize int
	timeout   time.Duration
	log       logrus.FieldLogger
}

var _ tokenscan.ScanStore = (*Store)(nil)

// Open returns a store for opts.Path. The file does not have to exist; a
// missing file is an empty store.
func Open(fsys fs.FS, cache *pagecache.PageCache, opts Options) (*Store, error) {
	if fsys == nil || cache == nil {
		return nil, fmt.Errorf("%w: filesystem and page cache are required", ErrInvalidInput)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidInput)
	}

	if opts.RangeSize == 0 {
		opts.RangeSize = DefaultRangeSize
	}

	if opts.RangeSize < 0 || opts.RangeSize > 1<<20 {
		return nil, fmt.Errorf("%w: range size %d", ErrInvalidInput, opts.RangeSize)
	}

	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Store{
		fsys:      fsys,
		cache:     cache,
		locker:    fs.NewLocker(fsys),
		path:      opts.Path,
		rangeSize: opts.RangeSize,
		timeout:   opts.LockTimeout,
		log:       log.WithField("store", opts.Path),
	}, nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// RangeSize returns the number of entities per range.
func (s *Store) RangeSize() int {
	return s.rangeSize
}

// AllEntityTokenRanges reads the committed store through the page cache and
// returns its non-empty ranges in increasing id order.
//
// If tracer also implements [pagecache.PageTracer], page pins are recorded
// on it. The tracer is not closed by the returned reader.
func (s *Store) AllEntityTokenRanges(tracer tokenscan.CursorTracer) (tokenscan.AllEntriesReader, error) {
	pages, _ := tracer.(pagecache.PageTracer)

	labels, err := s.load(pages)
	if err != nil {
		return nil, err
	}

	return &rangeReader{
		width:  s.rangeSize,
		ranges: buildRanges(labels, s.rangeSize),
	}, nil
}

// HighEntityID returns one past the largest entity carrying a token, or 0
// for an empty store.
func (s *Store) HighEntityID() (int64, error) {
	labels, err := s.load(nil)
	if err != nil {
		return 0, err
	}

	return highEntityID(labels), nil
}

// Tokens returns the sorted tokens carried by entity.
func (s *Store) Tokens(entity int64) ([]int64, error) {
	if entity < 0 {
		return nil, fmt.Errorf("%w: entity %d", ErrInvalidInput, entity)
	}

	labels, err := s.load(nil)
	if err != nil {
		return nil, err
	}

	var out []int64

	for _, tok := range labels.tokens() {
		if labels[tok].Contains(uint64(entity)) {
			out = append(out, int64(tok))
		}
	}

	return out, nil
}

// load reads and decodes the committed file via the page cache.
func (s *Store) load(pages pagecache.PageTracer) (labelSet, error) {
	pf, err := s.cache.Map(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return labelSet{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	data, err := pf.ReadAll(pages)
	closeErr := pf.Close()

	if err != nil {
		return nil, errors.Join(fmt.Errorf("read store: %w", err), closeErr)
	}

	if closeErr != nil {
		return nil, closeErr
	}

	labels, err := decodeLabels(data, s.rangeSize)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}

	return labels, nil
}

// readCommitted bypasses the page cache. Writers use it under the lock.
func (s *Store) readCommitted() (labelSet, error) {
	data, err := s.fsys.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return labelSet{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	labels, err := decodeLabels(data, s.rangeSize)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}

	return labels, nil
}

func highEntityID(labels labelSet) int64 {
	high := int64(0)

	for _, bm := range labels {
		if bm.IsEmpty() {
			continue
		}

		high = max(high, int64(bm.Maximum())+1)
	}

	return high
}

// buildRanges inverts token->entities into entity-ordered ranges. Only
// ranges with at least one token are returned. Token lists per slot are
// ascending because tokens are visited in ascending order.
func buildRanges(labels labelSet, width int) []tokenscan.Range {
	byID := make(map[int64][][]int64)

	for _, tok := range labels.tokens() {
		it := labels[tok].Iterator()

		for it.HasNext() {
			entity := int64(it.Next())
			id := tokenscan.RangeOf(entity, width)

			slots, ok := byID[id]
			if !ok {
				slots = make([][]int64, width)
				byID[id] = slots
			}

			slot := entity - id*int64(width)
			slots[slot] = append(slots[slot], int64(tok))
		}
	}

	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	ranges := make([]tokenscan.Range, 0, len(ids))
	for _, id := range ids {
		ranges = append(ranges, tokenscan.Range{ID: id, Tokens: byID[id]})
	}

	return ranges
}

// rangeReader is the sparse [tokenscan.AllEntriesReader] over a loaded
// snapshot. Each call to Ranges starts from the first range.
type rangeReader struct {
	width  int
	ranges []tokenscan.Range
	closed bool
}

func (r *rangeReader) MaxCount() int64 {
	return int64(len(r.ranges))
}

func (r *rangeReader) RangeSize() int {
	return r.width
}

func (r *rangeReader) Ranges() tokenscan.RangeIterator {
	return &sliceIterator{reader: r, pos: -1}
}

func (r *rangeReader) Close() error {
	if r.closed {
		return ErrClosed
	}

	r.closed = true
	r.ranges = nil

	return nil
}

type sliceIterator struct {
	reader *rangeReader
	pos    int
	err    error
}

func (it *sliceIterator) Next() bool {
	if it.reader.closed {
		it.err = ErrClosed

		return false
	}

	if it.pos+1 >= len(it.reader.ranges) {
		it.pos = len(it.reader.ranges)

		return false
	}

	it.pos++

	return true
}

func (it *sliceIterator) Range() tokenscan.Range {
	if it.pos < 0 || it.pos >= len(it.reader.ranges) {
		return tokenscan.Range{}
	}

	return it.reader.ranges[it.pos]
}

func (it *sliceIterator) Err() error {
	return it.err
}
