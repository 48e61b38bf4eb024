package failure_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tokenscan/pkg/failure"
	"github.com/calvinalkan/tokenscan/pkg/fs"
)

func newStorage(t *testing.T, fsys fs.FS) (*failure.Storage, string) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "indexes")

	return failure.NewStorage(fsys, failure.DirLayout{Root: root}, nil), root
}

func Test_Storage_Load_Returns_Stored_Failure_With_Lines_Intact(t *testing.T) {
	t.Parallel()

	storage, root := newStorage(t, fs.NewReal())

	msg := "population failed\nat range 12\ncaused by: disk full"
	require.NoError(t, storage.Store(3, msg))

	got, found, err := storage.Load(3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, msg, got)

	_, err = os.Stat(filepath.Join(root, "3", failure.FileName))
	require.NoError(t, err)
}

func Test_Storage_Load_Reports_Not_Found_When_Nothing_Stored(t *testing.T) {
	t.Parallel()

	storage, _ := newStorage(t, fs.NewReal())

	got, found, err := storage.Load(7)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, got)
}

func Test_Storage_Store_Replaces_Earlier_Failure(t *testing.T) {
	t.Parallel()

	storage, _ := newStorage(t, fs.NewReal())

	require.NoError(t, storage.Store(1, "first\nsecond\nthird"))
	require.NoError(t, storage.Store(1, "short"))

	got, _, err := storage.Load(1)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func Test_Storage_Clear_Removes_Failure_And_Tolerates_Missing(t *testing.T) {
	t.Parallel()

	storage, _ := newStorage(t, fs.NewReal())

	require.NoError(t, storage.Clear(5))

	require.NoError(t, storage.Store(5, "boom"))
	require.NoError(t, storage.Clear(5))

	_, found, err := storage.Load(5)
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_Storage_Keeps_Indexes_Separate(t *testing.T) {
	t.Parallel()

	storage, _ := newStorage(t, fs.NewReal())

	require.NoError(t, storage.Store(1, "one"))
	require.NoError(t, storage.Store(2, "two"))
	require.NoError(t, storage.Clear(1))

	got, found, err := storage.Load(2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "two", got)
}

func Test_Storage_Returns_ErrInvalidInput_When_Index_Negative(t *testing.T) {
	t.Parallel()

	storage, _ := newStorage(t, fs.NewReal())

	require.ErrorIs(t, storage.Store(-1, "x"), failure.ErrInvalidInput)
	require.ErrorIs(t, storage.Clear(-1), failure.ErrInvalidInput)

	_, _, err := storage.Load(-1)
	require.ErrorIs(t, err, failure.ErrInvalidInput)
}

func Test_Storage_Propagates_Filesystem_Failures(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk gone")
	faulty := fs.NewFaulty(fs.NewReal())
	storage, root := newStorage(t, faulty)
	path := filepath.Join(root, "9", failure.FileName)

	faulty.FailN(fs.OpWriteFileAtomic, path, errDisk, 1)
	require.ErrorIs(t, storage.Store(9, "x"), errDisk)

	require.NoError(t, storage.Store(9, "x"))

	faulty.FailN(fs.OpReadFile, path, errDisk, 1)
	_, _, err := storage.Load(9)
	require.ErrorIs(t, err, errDisk)

	faulty.FailN(fs.OpRemove, path, errDisk, 1)
	require.ErrorIs(t, storage.Clear(9), errDisk)
}
