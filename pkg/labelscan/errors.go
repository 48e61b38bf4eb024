package labelscan

import "errors"

// Sentinel errors returned by labelscan operations.
var (
	// ErrCorrupt indicates the store file is damaged: bad magic, checksum
	// mismatch, truncated or undecodable bitmap.
	//
	// Recovery: delete the file and rebuild the store.
	ErrCorrupt = errors.New("labelscan: corrupt")

	// ErrIncompatible indicates the file was written with another format
	// version or range size than the one requested in [Options].
	ErrIncompatible = errors.New("labelscan: incompatible")

	// ErrBusy indicates another writer holds the store lock.
	//
	// Recovery: retry after a short delay with backoff.
	ErrBusy = errors.New("labelscan: busy")

	// ErrClosed indicates the [Writer] has already been closed.
	ErrClosed = errors.New("labelscan: closed")

	// ErrInvalidInput indicates invalid arguments: negative entity ids,
	// tokens outside [0, 2^32), non-positive range size, empty path.
	ErrInvalidInput = errors.New("labelscan: invalid input")
)
