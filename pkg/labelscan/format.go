package labelscan

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// TKSC file format constants. All integers are little endian.
//
//	offset  size  field
//	0       4     magic "TKSC"
//	4       4     version
//	8       4     range size
//	12      4     label count
//	16      ...   per label: token id (4), length (4), roaring64 bitmap
//	end-4   4     CRC-32C of every preceding byte
const (
	tkscMagic      = "TKSC"
	tkscVersion    = 1
	tkscHeaderSize = 16
	tkscTrailer    = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// MaxEntity is the largest entity id a store holds, so that one past it
// still fits an int64 high id.
const MaxEntity = math.MaxInt64 - 1

// labelSet maps a token id to the entities carrying it.
type labelSet map[uint32]*roaring64.Bitmap

// tokens returns the token ids with at least one entity, ascending.
func (ls labelSet) tokens() []uint32 {
	ids := make([]uint32, 0, len(ls))

	for id, bm := range ls {
		if !bm.IsEmpty() {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

// encodeLabels serializes ls. Tokens without entities are not written.
func encodeLabels(ls labelSet, rangeSize int) ([]byte, error) {
	ids := ls.tokens()

	buf := make([]byte, tkscHeaderSize, tkscHeaderSize+64*len(ids)+tkscTrailer)
	copy(buf[0:4], tkscMagic)
	binary.LittleEndian.PutUint32(buf[4:8], tkscVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rangeSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(ids)))

	for _, id := range ids {
		bm := ls[id]
		bm.RunOptimize()

		data, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("encode token %d: %w", id, err)
		}

		buf = binary.LittleEndian.AppendUint32(buf, id)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, crc32.Checksum(buf, castagnoli))

	return buf, nil
}

// decodeLabels parses a TKSC file. rangeSize is the expected range size.
func decodeLabels(data []byte, rangeSize int) (labelSet, error) {
	if len(data) < tkscHeaderSize+tkscTrailer {
		return nil, fmt.Errorf("%w: file is %d bytes, shorter than header", ErrCorrupt, len(data))
	}

	if string(data[0:4]) != tkscMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[0:4])
	}

	body, trailer := data[:len(data)-tkscTrailer], data[len(data)-tkscTrailer:]

	want := binary.LittleEndian.Uint32(trailer)
	if got := crc32.Checksum(body, castagnoli); got != want {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrCorrupt, got, want)
	}

	if v := binary.LittleEndian.Uint32(body[4:8]); v != tkscVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrIncompatible, v, tkscVersion)
	}

	if rs := binary.LittleEndian.Uint32(body[8:12]); int64(rs) != int64(rangeSize) {
		return nil, fmt.Errorf("%w: range size %d, want %d", ErrIncompatible, rs, rangeSize)
	}

	count := binary.LittleEndian.Uint32(body[12:16])
	rest := body[tkscHeaderSize:]
	ls := make(labelSet, min(int(count), len(rest)/8))

	for i := range count {
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: label %d header truncated", ErrCorrupt, i)
		}

		id := binary.LittleEndian.Uint32(rest[0:4])
		n := binary.LittleEndian.Uint32(rest[4:8])
		rest = rest[8:]

		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: token %d bitmap is %d bytes, %d left", ErrCorrupt, id, n, len(rest))
		}

		bm := roaring64.New()
		if err := bm.UnmarshalBinary(rest[:n]); err != nil {
			return nil, fmt.Errorf("%w: token %d bitmap: %w", ErrCorrupt, id, err)
		}

		if !bm.IsEmpty() && bm.Maximum() > MaxEntity {
			return nil, fmt.Errorf("%w: token %d holds entity %d beyond %d", ErrCorrupt, id, bm.Maximum(), int64(MaxEntity))
		}

		if _, dup := ls[id]; dup {
			return nil, fmt.Errorf("%w: token %d listed twice", ErrCorrupt, id)
		}

		ls[id] = bm
		rest = rest[n:]
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(rest))
	}

	return ls, nil
}
