package labelscan

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/tokenscan/pkg/fs"
)

const (
	storeFilePerm = 0o644
	storeDirPerm  = 0o755
)

// Writer stages token changes and commits them as one atomic file replace.
//
// Only one Writer may be open per store path across processes. Writer is
// not safe for concurrent use.
type Writer struct {
	store  *Store
	lock   *fs.Lock
	labels labelSet
	dirty  bool
	closed bool
}

// Update acquires the writer lock and returns a [Writer] seeded with the
// committed state. Returns [ErrBusy] if another writer holds the lock.
func (s *Store) Update() (*Writer, error) {
	lock, err := s.acquire()
	if err != nil {
		return nil, err
	}

	labels, err := s.readCommitted()
	if err != nil {
		return nil, errors.Join(err, lock.Close())
	}

	return &Writer{store: s, lock: lock, labels: labels}, nil
}

func (s *Store) acquire() (*fs.Lock, error) {
	lockPath := s.path + ".lock"

	var (
		lock *fs.Lock
		err  error
	)

	if s.timeout > 0 {
		lock, err = s.locker.LockWithTimeout(lockPath, s.timeout)
	} else {
		lock, err = s.locker.TryLock(lockPath)
	}

	if errors.Is(err, fs.ErrWouldBlock) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, lockPath)
	}

	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	return lock, nil
}

// Add labels entity with tokens. Adding an existing label is a no-op.
func (w *Writer) Add(entity int64, tokens ...int64) error {
	return w.apply(entity, tokens, func(bm *roaring64.Bitmap, e uint64) bool {
		return bm.CheckedAdd(e)
	})
}

// Remove drops tokens from entity. Removing a missing label is a no-op.
func (w *Writer) Remove(entity int64, tokens ...int64) error {
	return w.apply(entity, tokens, func(bm *roaring64.Bitmap, e uint64) bool {
		return bm.CheckedRemove(e)
	})
}

func (w *Writer) apply(entity int64, tokens []int64, op func(*roaring64.Bitmap, uint64) bool) error {
	if w.closed {
		return ErrClosed
	}

	if entity < 0 || entity > MaxEntity {
		return fmt.Errorf("%w: entity %d outside [0, %d]", ErrInvalidInput, entity, int64(MaxEntity))
	}

	for _, tok := range tokens {
		if tok < 0 || tok > math.MaxUint32 {
			return fmt.Errorf("%w: token %d outside [0, %d]", ErrInvalidInput, tok, uint64(math.MaxUint32))
		}
	}

	for _, tok := range tokens {
		bm, ok := w.labels[uint32(tok)]
		if !ok {
			bm = roaring64.New()
			w.labels[uint32(tok)] = bm
		}

		if op(bm, uint64(entity)) {
			w.dirty = true
		}
	}

	return nil
}

// HighEntityID returns one past the largest labelled entity, including
// uncommitted changes.
func (w *Writer) HighEntityID() int64 {
	return highEntityID(w.labels)
}

// Commit writes the staged state. It is a no-op when nothing changed. The
// writer stays open and may commit again.
func (w *Writer) Commit() error {
	if w.closed {
		return ErrClosed
	}

	if !w.dirty {
		return nil
	}

	s := w.store

	data, err := encodeLabels(w.labels, s.rangeSize)
	if err != nil {
		return err
	}

	if err := s.fsys.MkdirAll(filepath.Dir(s.path), storeDirPerm); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	if err := s.fsys.WriteFileAtomic(s.path, data, storeFilePerm); err != nil {
		return fmt.Errorf("write store: %w", err)
	}

	s.cache.Invalidate(s.path)
	w.dirty = false

	s.log.WithFields(logrus.Fields{
		"tokens":  len(w.labels.tokens()),
		"bytes":   len(data),
		"high_id": highEntityID(w.labels),
	}).Debug("committed token scan store")

	return nil
}

// Close discards uncommitted changes and releases the writer lock.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}

	w.closed = true
	w.labels = nil

	return w.lock.Close()
}
