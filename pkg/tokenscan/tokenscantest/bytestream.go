package tokenscantest

import "github.com/calvinalkan/tokenscan/pkg/tokenscan"

// ByteStream reads bytes sequentially from a byte slice.
//
// Used by fuzz tests to derive values from fuzz input. Once exhausted every
// read returns zero, so the same input always yields the same values.
type ByteStream struct {
	bytes []byte
	pos   int
}

// NewByteStream creates a stream over b.
func NewByteStream(b []byte) *ByteStream {
	return &ByteStream{bytes: b}
}

// HasMore reports whether unread bytes remain.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.bytes)
}

// NextByte returns the next byte, or 0 if exhausted.
func (s *ByteStream) NextByte() byte {
	if s.pos >= len(s.bytes) {
		return 0
	}

	v := s.bytes[s.pos]
	s.pos++

	return v
}

// NextInt returns a value in [0, maxVal) derived from the next byte.
func (s *ByteStream) NextInt(maxVal int) int {
	if maxVal <= 0 {
		return 0
	}

	return int(s.NextByte()) % maxVal
}

// SparseScenario is a source store shape decoded from fuzz input.
type SparseScenario struct {
	Width  int
	HighID int64
	Ranges []tokenscan.Range
}

// DecodeSparseScenario derives a width in [1, 8], a highID in [0, 64) and up
// to 16 non-empty source ranges with strictly increasing ids.
func DecodeSparseScenario(s *ByteStream) SparseScenario {
	sc := SparseScenario{
		Width:  1 + s.NextInt(8),
		HighID: int64(s.NextInt(64)),
	}

	count := s.NextInt(17)
	id := int64(-1)

	for range count {
		if !s.HasMore() {
			break
		}

		id += 1 + int64(s.NextInt(6))
		slot := s.NextInt(sc.Width)
		token := int64(s.NextInt(100))

		sc.Ranges = append(sc.Ranges, NewRange(id, sc.Width, map[int][]int64{slot: {token}}))
	}

	return sc
}
