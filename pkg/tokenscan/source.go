package tokenscan

// ScanStore is a token scan store that can list its non-empty ranges.
type ScanStore interface {
	// AllEntityTokenRanges opens a sequence over every range that holds at
	// least one token. Page accesses are recorded on tracer.
	AllEntityTokenRanges(tracer CursorTracer) (AllEntriesReader, error)
}

// AllEntriesReader is an open, sparse range sequence.
type AllEntriesReader interface {
	// MaxCount is an estimate of the number of ranges. It is a hint only.
	MaxCount() int64

	// RangeSize returns the number of entity slots per range. It does not
	// change while the reader is open.
	RangeSize() int

	// Ranges returns the ranges in strictly increasing id order. Ids may be
	// missing but never repeat or go backwards.
	Ranges() RangeIterator

	// Close releases the reader.
	Close() error
}

// RangeIterator walks a range sequence.
//
// Next advances to the next range and reports whether there is one. After
// Next returns false, Err reports whether the sequence ended because of a
// failure.
type RangeIterator interface {
	Next() bool
	Range() Range
	Err() error
}

// CursorTracer records page accesses for one logical operation.
type CursorTracer interface {
	// Tag names the operation being traced.
	Tag() string

	// Close reports the collected counts and releases the tracer.
	Close() error
}

// TracerFactory creates cursor tracers.
type TracerFactory interface {
	CreateCursorTracer(tag string) (CursorTracer, error)
}
