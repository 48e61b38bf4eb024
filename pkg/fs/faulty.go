package fs

import (
	"errors"
	"os"
	"sync"
)

// Op names an [FS] or [File] operation that [Faulty] can fail.
type Op string

// Operations understood by [Faulty].
const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpMkdirAll        Op = "mkdirall"
	OpStat            Op = "stat"
	OpRemove          Op = "remove"
	OpReadAt          Op = "readat"
	OpClose           Op = "close"
)

// InjectedError marks an error as intentionally injected by [Faulty].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op   Op
	Path string
	Err  error
}

// Error returns a message naming the operation, path and underlying error.
func (e *InjectedError) Error() string {
	return "injected " + string(e.Op) + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by [Faulty].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Faulty wraps an [FS] and fails selected operations on selected paths.
//
// Rules are matched by operation and exact path; an empty path matches every
// path. A rule with a positive count fires that many times and is then
// removed; a zero count fires forever.
//
// Faulty is safe for concurrent use.
type Faulty struct {
	fs FS

	mu    sync.Mutex
	rules []faultRule
	calls map[Op]int
}

type faultRule struct {
	op        Op
	path      string
	err       error
	remaining int
}

// NewFaulty returns a [Faulty] that delegates to fs.
func NewFaulty(fs FS) *Faulty {
	return &Faulty{fs: fs, calls: make(map[Op]int)}
}

// Fail makes op on path return err. An empty path matches all paths.
func (f *Faulty) Fail(op Op, path string, err error) {
	f.FailN(op, path, err, 0)
}

// FailN is like [Faulty.Fail] but fires only n times when n > 0.
func (f *Faulty) FailN(op Op, path string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, path: path, err: err, remaining: n})
}

// Reset removes every rule and zeroes the call counters.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
	f.calls = make(map[Op]int)
}

// Calls returns how many times op was attempted, injected or not.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	for i, rule := range f.rules {
		if rule.op != op || (rule.path != "" && rule.path != path) {
			continue
		}

		if rule.remaining > 0 {
			rule.remaining--
			if rule.remaining == 0 {
				f.rules = append(f.rules[:i], f.rules[i+1:]...)
			} else {
				f.rules[i] = rule
			}
		}

		return &InjectedError{Op: op, Path: path, Err: rule.err}
	}

	return nil
}

// Open opens path, unless an [OpOpen] rule matches.
func (f *Faulty) Open(path string) (File, error) {
	if err := f.check(OpOpen, path); err != nil {
		return nil, err
	}

	file, err := f.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, path: path, owner: f}, nil
}

// OpenFile opens path, unless an [OpOpenFile] rule matches.
func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	file, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, path: path, owner: f}, nil
}

// ReadFile reads path, unless an [OpReadFile] rule matches.
func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

// WriteFileAtomic writes path, unless an [OpWriteFileAtomic] rule matches.
func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

// MkdirAll creates path, unless an [OpMkdirAll] rule matches.
func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

// Stat stats path, unless an [OpStat] rule matches.
func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

// Exists reports whether path exists. It shares rules with [OpStat].
func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

// Remove removes path, unless an [OpRemove] rule matches.
func (f *Faulty) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.fs.Remove(path)
}

type faultyFile struct {
	File

	path  string
	owner *Faulty
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	if err := ff.owner.check(OpReadAt, ff.path); err != nil {
		return 0, err
	}

	return ff.File.ReadAt(p, off)
}

func (ff *faultyFile) Close() error {
	// The descriptor is always released; an injected failure only changes
	// what the caller observes.
	closeErr := ff.File.Close()

	if err := ff.owner.check(OpClose, ff.path); err != nil {
		return err
	}

	return closeErr
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
