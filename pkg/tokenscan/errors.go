package tokenscan

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by tokenscan operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrClosed indicates the [GapFreeReader] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("tokenscan: closed")

	// ErrInvalidInput indicates invalid arguments, such as a negative high
	// id or a store reporting a non-positive range size.
	ErrInvalidInput = errors.New("tokenscan: invalid input")

	// ErrOutOfOrder indicates the store yielded a range id that is not
	// greater than one already consumed.
	//
	// This is data corruption or a bug in the store. The iteration is over.
	ErrOutOfOrder = errors.New("tokenscan: range out of order")

	// ErrInvalidRange indicates the store yielded a range whose width
	// differs from the reader's range size.
	ErrInvalidRange = errors.New("tokenscan: invalid range")
)

// OrderError describes a range that arrived out of order.
//
// It matches [ErrOutOfOrder] with [errors.Is].
type OrderError struct {
	// Previous is the last range id handed out.
	Previous int64

	// Got is the offending range id.
	Got int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s: got range %d after range %d", ErrOutOfOrder, e.Got, e.Previous)
}

func (e *OrderError) Unwrap() error {
	return ErrOutOfOrder
}
