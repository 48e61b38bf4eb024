package labelscan_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tokenscan/pkg/fs"
	"github.com/calvinalkan/tokenscan/pkg/labelscan"
	"github.com/calvinalkan/tokenscan/pkg/pagecache"
	"github.com/calvinalkan/tokenscan/pkg/tokenscan"
	"github.com/calvinalkan/tokenscan/pkg/tokenscan/tokenscantest"
)

type fixture struct {
	fsys    fs.FS
	cache   *pagecache.PageCache
	tracers *pagecache.Tracer
	path    string
}

func newFixture(t *testing.T, fsys fs.FS) fixture {
	t.Helper()

	factory, err := pagecache.NewFactory(fsys, pagecache.Config{Memory: "256k", PageSize: 512}, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = factory.Close() })

	cache, err := factory.GetOrCreate()
	require.NoError(t, err)

	return fixture{
		fsys:    fsys,
		cache:   cache,
		tracers: factory.Tracer(),
		path:    filepath.Join(t.TempDir(), "db", "labels.tks"),
	}
}

func (f fixture) open(t *testing.T, rangeSize int) *labelscan.Store {
	t.Helper()

	store, err := labelscan.Open(f.fsys, f.cache, labelscan.Options{Path: f.path, RangeSize: rangeSize})
	require.NoError(t, err)

	return store
}

func mustUpdate(t *testing.T, store *labelscan.Store, edit func(w *labelscan.Writer)) {
	t.Helper()

	w, err := store.Update()
	require.NoError(t, err)

	edit(w)

	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
}

func sparseRanges(t *testing.T, store *labelscan.Store) []tokenscan.Range {
	t.Helper()

	reader, err := store.AllEntityTokenRanges(nil)
	require.NoError(t, err)

	defer reader.Close()

	ranges, err := tokenscantest.Collect(reader.Ranges())
	require.NoError(t, err)

	return ranges
}

func Test_Store_Is_Empty_When_File_Missing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 8)

	assert.Empty(t, sparseRanges(t, store))

	high, err := store.HighEntityID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), high)
}

func Test_Store_Returns_Sparse_Sorted_Ranges_When_Committed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Add(10, 5))
		require.NoError(t, w.Add(1, 7, 3))
		require.NoError(t, w.Add(9, 3))
	})

	want := []tokenscan.Range{
		tokenscantest.NewRange(0, 4, map[int][]int64{1: {3, 7}}),
		tokenscantest.NewRange(2, 4, map[int][]int64{1: {3}, 2: {5}}),
	}

	if diff := cmp.Diff(want, sparseRanges(t, store)); diff != "" {
		t.Fatalf("ranges mismatch (-want +got):\n%s", diff)
	}

	high, err := store.HighEntityID()
	require.NoError(t, err)
	assert.Equal(t, int64(11), high)

	tokens, err := store.Tokens(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, tokens)
}

func Test_Store_Feeds_GapFreeReader_With_Filled_Gaps(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Add(1, 3))
		require.NoError(t, w.Add(9, 3))
	})

	reader, err := tokenscan.NewGapFreeReader(store, 16, f.tracers)
	require.NoError(t, err)

	ranges, err := tokenscantest.Collect(reader.Iterator())
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	assert.Equal(t, []int64{0, 1, 2, 3}, tokenscantest.IDs(ranges))
	assert.True(t, ranges[1].IsEmpty())
	assert.True(t, ranges[3].IsEmpty())
	assert.Equal(t, []int64{3}, ranges[2].Tokens[1])

	stats := f.tracers.Stats()
	assert.Equal(t, int64(0), stats.OpenCursors)
	assert.Positive(t, stats.Pins)
}

func Test_Writer_Remove_Drops_Tokens_And_Empty_Ranges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Add(1, 3, 4))
		require.NoError(t, w.Add(6, 4))
	})

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Remove(6, 4))
		require.NoError(t, w.Remove(1, 3))
		require.NoError(t, w.Remove(100, 9))
	})

	want := []tokenscan.Range{
		tokenscantest.NewRange(0, 4, map[int][]int64{1: {4}}),
	}

	if diff := cmp.Diff(want, sparseRanges(t, store)); diff != "" {
		t.Fatalf("ranges mismatch (-want +got):\n%s", diff)
	}
}

func Test_Writer_Close_Discards_Uncommitted_Changes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	w, err := store.Update()
	require.NoError(t, err)

	require.NoError(t, w.Add(3, 1))
	assert.Equal(t, int64(4), w.HighEntityID())
	require.NoError(t, w.Close())

	assert.Empty(t, sparseRanges(t, store))

	_, statErr := os.Stat(f.path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func Test_Writer_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	w, err := store.Update()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.ErrorIs(t, w.Add(1, 1), labelscan.ErrClosed)
	require.ErrorIs(t, w.Remove(1, 1), labelscan.ErrClosed)
	require.ErrorIs(t, w.Commit(), labelscan.ErrClosed)
	require.ErrorIs(t, w.Close(), labelscan.ErrClosed)
}

func Test_Update_Returns_ErrBusy_When_Writer_Active(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	w, err := store.Update()
	require.NoError(t, err)

	_, err = store.Update()
	require.ErrorIs(t, err, labelscan.ErrBusy)

	require.NoError(t, w.Close())

	w, err = store.Update()
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func Test_Writer_Rejects_Invalid_Entities_And_Tokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	w, err := store.Update()
	require.NoError(t, err)

	defer w.Close()

	require.ErrorIs(t, w.Add(-1, 1), labelscan.ErrInvalidInput)
	require.ErrorIs(t, w.Add(1, -1), labelscan.ErrInvalidInput)
	require.ErrorIs(t, w.Add(1, 1<<32), labelscan.ErrInvalidInput)
	require.ErrorIs(t, w.Remove(-5, 1), labelscan.ErrInvalidInput)
	require.ErrorIs(t, w.Add(math.MaxInt64, 1), labelscan.ErrInvalidInput)

	// A rejected call stages nothing.
	assert.Equal(t, int64(0), w.HighEntityID())
}

func Test_Writer_Reports_HighEntityID_When_Largest_Entity_Labelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	w, err := store.Update()
	require.NoError(t, err)

	require.NoError(t, w.Add(labelscan.MaxEntity, 1))
	assert.Equal(t, int64(math.MaxInt64), w.HighEntityID())

	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	high, err := store.HighEntityID()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), high)
}

func Test_Store_Returns_ErrIncompatible_When_RangeSize_Differs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())

	mustUpdate(t, f.open(t, 4), func(w *labelscan.Writer) {
		require.NoError(t, w.Add(1, 1))
	})

	_, err := f.open(t, 8).AllEntityTokenRanges(nil)
	require.ErrorIs(t, err, labelscan.ErrIncompatible)

	_, err = f.open(t, 8).Update()
	require.ErrorIs(t, err, labelscan.ErrIncompatible)
}

func Test_Store_Returns_ErrCorrupt_When_File_Damaged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 4)

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Add(1, 1))
	})

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)

	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(f.path, data, 0o644))
	f.cache.Invalidate(f.path)

	_, err = store.AllEntityTokenRanges(nil)
	require.ErrorIs(t, err, labelscan.ErrCorrupt)

	_, err = store.HighEntityID()
	require.ErrorIs(t, err, labelscan.ErrCorrupt)
}

func Test_Commit_Keeps_Previous_State_When_Write_Fails(t *testing.T) {
	t.Parallel()

	faulty := fs.NewFaulty(fs.NewReal())
	f := newFixture(t, faulty)
	store := f.open(t, 4)

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Add(1, 1))
	})

	errDisk := errors.New("disk full")
	faulty.FailN(fs.OpWriteFileAtomic, f.path, errDisk, 1)

	w, err := store.Update()
	require.NoError(t, err)

	require.NoError(t, w.Add(2, 2))
	require.ErrorIs(t, w.Commit(), errDisk)

	want := []tokenscan.Range{tokenscantest.NewRange(0, 4, map[int][]int64{1: {1}})}
	if diff := cmp.Diff(want, sparseRanges(t, store)); diff != "" {
		t.Fatalf("ranges mismatch after failed commit (-want +got):\n%s", diff)
	}

	// Staged changes survive the failure and commit on retry.
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	assert.Len(t, sparseRanges(t, store)[0].Tokens[2], 1)
}

func Test_Store_Range_Reader_Restarts_And_Closes_Once(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())
	store := f.open(t, 2)

	mustUpdate(t, store, func(w *labelscan.Writer) {
		require.NoError(t, w.Add(0, 1))
		require.NoError(t, w.Add(5, 1))
	})

	reader, err := store.AllEntityTokenRanges(nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2), reader.MaxCount())
	assert.Equal(t, 2, reader.RangeSize())

	first, err := tokenscantest.Collect(reader.Ranges())
	require.NoError(t, err)

	second, err := tokenscantest.Collect(reader.Ranges())
	require.NoError(t, err)

	assert.Equal(t, tokenscantest.IDs(first), tokenscantest.IDs(second))

	require.NoError(t, reader.Close())
	require.ErrorIs(t, reader.Close(), labelscan.ErrClosed)

	_, err = tokenscantest.Collect(reader.Ranges())
	require.ErrorIs(t, err, labelscan.ErrClosed)
}

func Test_Open_Returns_ErrInvalidInput_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fs.NewReal())

	_, err := labelscan.Open(f.fsys, f.cache, labelscan.Options{})
	require.ErrorIs(t, err, labelscan.ErrInvalidInput)

	_, err = labelscan.Open(f.fsys, f.cache, labelscan.Options{Path: f.path, RangeSize: -1})
	require.ErrorIs(t, err, labelscan.ErrInvalidInput)

	_, err = labelscan.Open(nil, f.cache, labelscan.Options{Path: f.path})
	require.ErrorIs(t, err, labelscan.ErrInvalidInput)

	store, err := labelscan.Open(f.fsys, f.cache, labelscan.Options{Path: f.path})
	require.NoError(t, err)
	assert.Equal(t, labelscan.DefaultRangeSize, store.RangeSize())
}
