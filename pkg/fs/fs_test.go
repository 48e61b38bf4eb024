package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func Test_Real_WriteFileAtomic_Replaces_Content_And_Sets_Mode(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "labels.tks")

	if err := fsys.WriteFileAtomic(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic(first): %v", err)
	}

	if err := fsys.WriteFileAtomic(path, []byte("second"), 0o640); err != nil {
		t.Fatalf("WriteFileAtomic(second): %v", err)
	}

	got, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", path, err)
	}

	if string(got) != "second" {
		t.Fatalf("content=%q, want %q", got, "second")
	}

	info, err := fsys.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%q): %v", path, err)
	}

	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode=%v, want %v", info.Mode().Perm(), os.FileMode(0o640))
	}
}

func Test_Real_Exists_Reports_Missing_File_Without_Error(t *testing.T) {
	t.Parallel()

	fsys := NewReal()

	ok, err := fsys.Exists(filepath.Join(t.TempDir(), "missing"))
	if err != nil || ok {
		t.Fatalf("Exists(missing)=(%v, %v), want (false, nil)", ok, err)
	}
}

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "sub", "store.lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = lock1.Close() })

	lock2, err := locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q) while locked: err=%v, want %v", path, err, ErrWouldBlock)
	}

	if lock2 != nil {
		_ = lock2.Close()
		t.Fatalf("TryLock(%q) while locked: want lock=nil, got non-nil", path)
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("second Close(): %v", err)
	}

	lock3, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q) after release: %v", path, err)
	}

	if err := lock3.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Locker_LockWithTimeout_Times_Out_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "store.lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	defer lock1.Close()

	_, err = locker.LockWithTimeout(path, 30*time.Millisecond)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("LockWithTimeout(%q): err=%v, want %v", path, err, ErrWouldBlock)
	}

	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("LockWithTimeout(%q): err=%q, want substring %q", path, err.Error(), "timed out")
	}

	_, err = locker.LockWithTimeout(path, 0)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("LockWithTimeout(%q, 0): err=%v, want %v", path, err, ErrInvalidTimeout)
	}
}

func Test_Locker_Detects_Lock_File_Replaced_After_Open(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "store.lock")

	lock, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	defer lock.Close()

	if err := locker.stillAt(path, lock.file); err != nil {
		t.Fatalf("stillAt(%q) while in place: %v", path, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove(%q): %v", path, err)
	}

	if err := locker.stillAt(path, lock.file); !errors.Is(err, errStaleLockFile) {
		t.Fatalf("stillAt(%q) after remove: err=%v, want %v", path, err, errStaleLockFile)
	}

	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}

	if err := locker.stillAt(path, lock.file); !errors.Is(err, errStaleLockFile) {
		t.Fatalf("stillAt(%q) after replace: err=%v, want %v", path, err, errStaleLockFile)
	}

	// The replacement is a different file, so it can be locked alongside.
	lock2, err := locker.LockWithTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("LockWithTimeout(%q) on replacement: %v", path, err)
	}

	if err := lock2.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Faulty_Injects_Errors_For_Matching_Op_And_Path(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatalf("setup WriteFile(%q): %v", path, err)
	}

	errBoom := errors.New("boom")
	faulty := NewFaulty(NewReal())
	faulty.FailN(OpOpen, path, errBoom, 1)

	_, err := faulty.Open(path)
	if !errors.Is(err, errBoom) || !IsInjected(err) {
		t.Fatalf("Open(%q): err=%v, want injected %v", path, err, errBoom)
	}

	f, err := faulty.Open(path)
	if err != nil {
		t.Fatalf("Open(%q) after rule expired: %v", path, err)
	}

	faulty.Fail(OpReadAt, "", errBoom)

	buf := make([]byte, 3)

	_, err = f.ReadAt(buf, 0)
	if !errors.Is(err, errBoom) {
		t.Fatalf("ReadAt: err=%v, want %v", err, errBoom)
	}

	faulty.Fail(OpClose, path, errBoom)

	if err := f.Close(); !errors.Is(err, errBoom) {
		t.Fatalf("Close: err=%v, want %v", err, errBoom)
	}

	if got := faulty.Calls(OpOpen); got != 2 {
		t.Fatalf("Calls(OpOpen)=%d, want 2", got)
	}

	if IsInjected(errBoom) {
		t.Fatalf("IsInjected(plain error)=true, want false")
	}
}
