package tokenscan

import "fmt"

type fillState uint8

const (
	// stateNoLookahead: nothing buffered; pull from the source next.
	stateNoLookahead fillState = iota

	// stateLookahead: a range (real or the end sentinel) is buffered and
	// not yet emitted.
	stateLookahead

	// stateExhausted: the sequence is over, normally or after a terminal
	// failure.
	stateExhausted
)

// GapFillingIterator yields every range id from 0 through the highest range
// id, in order, filling ids the source skipped with empty ranges.
//
// It holds at most one range pulled from the source and not yet emitted.
// Ranges present in the source are passed through unchanged; every filled gap
// shares one empty payload.
//
// A GapFillingIterator is single-pass and not safe for concurrent use.
type GapFillingIterator struct {
	source  RangeIterator
	highest int64
	width   int
	empty   [][]int64
	closed  func() bool

	state     fillState
	drained   bool
	lookahead Range
	current   int64

	value Range
	err   error
}

func newGapFillingIterator(source RangeIterator, highest int64, width int, closed func() bool) *GapFillingIterator {
	return &GapFillingIterator{
		source:  source,
		highest: highest,
		width:   width,
		empty:   make([][]int64, width),
		closed:  closed,
		current: -1,
	}
}

// Next advances to the next range. It returns false when the sequence is
// complete or a failure occurred; check [GapFillingIterator.Err].
//
// After a source read failure no range id is consumed, so calling Next again
// retries the same step. Ordering violations and use after close are final.
func (it *GapFillingIterator) Next() bool {
	if it.state == stateExhausted {
		return false
	}

	if it.closed != nil && it.closed() {
		return it.fail(ErrClosed)
	}

	it.err = nil

	for {
		switch it.state {
		case stateLookahead:
			expected := it.current + 1

			switch {
			case it.lookahead.ID == expected:
				it.current = expected
				it.value = it.lookahead
				it.lookahead = Range{}
				it.state = stateNoLookahead

				return true

			case it.lookahead.ID > expected:
				it.current = expected
				it.value = Range{ID: expected, Tokens: it.empty}

				return true

			default:
				return it.fail(&OrderError{Previous: it.current, Got: it.lookahead.ID})
			}

		case stateNoLookahead:
			if !it.drained {
				if it.source.Next() {
					r := it.source.Range()
					if len(r.Tokens) != it.width {
						return it.fail(fmt.Errorf("%w: range %d has %d slots, want %d", ErrInvalidRange, r.ID, len(r.Tokens), it.width))
					}

					it.lookahead = r
					it.state = stateLookahead

					continue
				}

				if err := it.source.Err(); err != nil {
					it.err = fmt.Errorf("read range after %d: %w", it.current, err)
					it.value = Range{}

					return false
				}

				it.drained = true
			}

			if it.current < it.highest {
				it.lookahead = Range{ID: it.highest, Tokens: it.empty}
				it.state = stateLookahead

				continue
			}

			it.state = stateExhausted
			it.value = Range{}

			return false

		default:
			return false
		}
	}
}

func (it *GapFillingIterator) fail(err error) bool {
	it.err = err
	it.value = Range{}
	it.lookahead = Range{}
	it.state = stateExhausted

	return false
}

// Range returns the range produced by the last successful call to Next.
func (it *GapFillingIterator) Range() Range {
	return it.value
}

// Err returns the failure that ended the last call to Next, if any.
func (it *GapFillingIterator) Err() error {
	return it.err
}

// HighestRangeID returns the last range id the iterator will produce when the
// source holds nothing beyond it.
func (it *GapFillingIterator) HighestRangeID() int64 {
	return it.highest
}
