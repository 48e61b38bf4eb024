package labelscan

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/require"
)

func Test_DecodeLabels_Round_Trips_Encoded_Labels(t *testing.T) {
	t.Parallel()

	ls := labelSet{
		3: roaring64.BitmapOf(1, 2, 1<<40),
		9: roaring64.BitmapOf(7),
		4: roaring64.New(),
	}

	data, err := encodeLabels(ls, 16)
	require.NoError(t, err)

	got, err := decodeLabels(data, 16)
	require.NoError(t, err)

	require.Equal(t, []uint32{3, 9}, got.tokens())
	require.True(t, got[3].Equals(ls[3]))
	require.True(t, got[9].Equals(ls[9]))
	require.Equal(t, int64(1<<40+1), highEntityID(got))
}

func Test_DecodeLabels_Returns_ErrCorrupt_When_Malformed(t *testing.T) {
	t.Parallel()

	valid, err := encodeLabels(labelSet{1: roaring64.BitmapOf(5)}, 16)
	require.NoError(t, err)

	reseal := func(body []byte) []byte {
		return binary.LittleEndian.AppendUint32(body, crc32.Checksum(body, castagnoli))
	}

	body := valid[:len(valid)-tkscTrailer]

	badMagic := append([]byte("XXXX"), body[4:]...)

	extraLabel := append([]byte(nil), body...)
	binary.LittleEndian.PutUint32(extraLabel[12:16], 2)

	trailing := append(append([]byte(nil), body...), 0xAA)

	hugeEntity, err := encodeLabels(labelSet{1: roaring64.BitmapOf(math.MaxUint64)}, 16)
	require.NoError(t, err)

	maxInt64Entity, err := encodeLabels(labelSet{1: roaring64.BitmapOf(math.MaxInt64)}, 16)
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Short", data: valid[:10]},
		{name: "BadMagic", data: reseal(badMagic)},
		{name: "BadChecksum", data: append(append([]byte(nil), body...), 0, 0, 0, 0)},
		{name: "MissingLabel", data: reseal(extraLabel)},
		{name: "TrailingBytes", data: reseal(trailing)},
		{name: "EntityBeyondInt64", data: hugeEntity},
		{name: "EntityWithoutHighID", data: maxInt64Entity},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := decodeLabels(testCase.data, 16)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func Test_DecodeLabels_Returns_ErrIncompatible_When_Version_Unknown(t *testing.T) {
	t.Parallel()

	valid, err := encodeLabels(labelSet{}, 16)
	require.NoError(t, err)

	body := append([]byte(nil), valid[:len(valid)-tkscTrailer]...)
	binary.LittleEndian.PutUint32(body[4:8], 2)
	data := binary.LittleEndian.AppendUint32(body, crc32.Checksum(body, castagnoli))

	_, err = decodeLabels(data, 16)
	require.ErrorIs(t, err, ErrIncompatible)
}

func FuzzDecodeLabels_Rejects_Or_Round_Trips(f *testing.F) {
	valid, err := encodeLabels(labelSet{1: roaring64.BitmapOf(0, 5), 2: roaring64.BitmapOf(9)}, 8)
	require.NoError(f, err)

	f.Add(valid)
	f.Add(valid[:len(valid)-1])
	f.Add([]byte("TKSC"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		ls, err := decodeLabels(data, 8)
		if err != nil {
			if !errors.Is(err, ErrCorrupt) && !errors.Is(err, ErrIncompatible) {
				t.Fatalf("unexpected error class: %v", err)
			}

			return
		}

		again, err := encodeLabels(ls, 8)
		require.NoError(t, err)

		back, err := decodeLabels(again, 8)
		require.NoError(t, err)
		require.Equal(t, ls.tokens(), back.tokens())

		for _, id := range ls.tokens() {
			require.True(t, ls[id].Equals(back[id]), "token %d", id)
		}

		require.GreaterOrEqual(t, highEntityID(ls), int64(0))
		buildRanges(ls, 8)
	})
}
