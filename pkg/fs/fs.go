// Package fs provides the filesystem abstraction used by the token scan
// store, the page cache and failure storage.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the storage layer needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] and atomic renames
//   - [Faulty]: testing implementation that fails selected operations
//   - [Locker]: flock(2) based exclusive locks
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.Open("labels.tks")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	page := make([]byte, 8192)
//	n, err := f.ReadAt(page, 0)
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File]. Implementations must behave like
// [os.File], including that [File.Fd] returns a descriptor usable with
// flock until the file is closed.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error
}

// FS defines the filesystem operations used by the storage packages.
//
// All methods mirror their [os] package equivalents but can be intercepted
// for testing with fault injection.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces the file at path with data. Readers observe
	// either the old or the new content, never a partial write.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
