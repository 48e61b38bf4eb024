package pagecache

import "errors"

// Sentinel errors returned by pagecache operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrClosed indicates the [Factory], [PageCache] or [PagedFile] has
	// already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("pagecache: closed")

	// ErrInvalidConfig indicates a [Config] value could not be used.
	//
	// Common causes: unparsable memory size, memory smaller than one page,
	// negative page size or cursor limit.
	ErrInvalidConfig = errors.New("pagecache: invalid config")

	// ErrCursorsExhausted indicates [Config.MaxCursors] cursor tracers are
	// already open.
	//
	// Recovery: close an open scan and retry.
	ErrCursorsExhausted = errors.New("pagecache: cursors exhausted")

	// ErrCursorClosed indicates a [CursorTracer] was closed twice.
	ErrCursorClosed = errors.New("pagecache: cursor closed")

	// ErrPageOutOfRange indicates a page id outside [0, PageCount).
	ErrPageOutOfRange = errors.New("pagecache: page out of range")
)
