package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock means the lock is held elsewhere: immediately for
	// [Locker.TryLock], until the deadline for [Locker.LockWithTimeout].
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned by [Locker.LockWithTimeout] for a
	// timeout <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errStaleLockFile means the lock file at path was replaced or removed
	// after we opened it; the flock we got guards nothing.
	errStaleLockFile = errors.New("lock file replaced")
)

const (
	lockFilePerm  = 0o600
	lockDirPerm   = 0o755
	lockPollFirst = time.Millisecond
	lockPollMax   = 25 * time.Millisecond
	maxEINTRRetry = 100
	maxStaleRetry = 10
)

// Locker takes exclusive advisory flock(2) locks on dedicated lock files
// such as "labels.tks.lock". The lock file itself must never be replaced
// while held. Unix only.
type Locker struct {
	fs FS
}

// NewLocker returns a Locker opening lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs}
}

// Lock is a held lock. Release it with [Lock.Close].
type Lock struct {
	mu   sync.Mutex
	file File
}

// Close unlocks and closes the lock file. Calls after the first return nil.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	file := lk.file
	lk.file = nil

	var unlockErr, closeErr error

	if err := flock(file, unix.LOCK_UN); err != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", err)
	}

	if err := file.Close(); err != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", err)
	}

	return errors.Join(unlockErr, closeErr)
}

// TryLock takes the lock at path or fails at once with [ErrWouldBlock].
// Missing parent directories are created.
func (l *Locker) TryLock(path string) (*Lock, error) {
	var err error

	for range maxStaleRetry {
		var lock *Lock

		lock, err = l.tryOnce(path)
		if !errors.Is(err, errStaleLockFile) {
			return lock, err
		}
	}

	return nil, fmt.Errorf("lock %s: %w", path, err)
}

// LockWithTimeout polls for the lock at path, backing off from 1ms to 25ms,
// and gives up with [ErrWouldBlock] once timeout has passed.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0, got %s", ErrInvalidTimeout, timeout)
	}

	deadline := time.Now().Add(timeout)
	wait := lockPollFirst

	for {
		lock, err := l.tryOnce(path)

		if err == nil {
			return lock, nil
		}

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errStaleLockFile) {
			return nil, err
		}

		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		time.Sleep(min(wait, left))
		wait = min(2*wait, lockPollMax)
	}
}

// tryOnce opens the lock file and attempts one non-blocking flock.
func (l *Locker) tryOnce(path string) (*Lock, error) {
	file, err := l.open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lockfile: %w", err)
	}

	if err := flock(file, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// A writer that replaced or removed the lock file between our open and
	// flock leaves us holding a lock nobody else will see.
	if err := l.stillAt(path, file); err != nil {
		_ = flock(file, unix.LOCK_UN)
		_ = file.Close()

		return nil, err
	}

	return &Lock{file: file}, nil
}

func (l *Locker) open(path string) (File, error) {
	file, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if !errors.Is(err, os.ErrNotExist) {
		return file, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// stillAt reports errStaleLockFile unless file is the file currently at path.
func (l *Locker) stillAt(path string, file File) error {
	held, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat lock fd: %w", err)
	}

	current, err := l.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return errStaleLockFile
	}

	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if !os.SameFile(held, current) {
		return errStaleLockFile
	}

	return nil
}

func flock(file File, how int) error {
	fd := int(file.Fd())

	var err error
	for range maxEINTRRetry {
		if err = unix.Flock(fd, how); !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
