// Package failure persists the reason an index failed to populate, one file
// per index, so it survives restarts and can be reported later.
package failure

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/tokenscan/pkg/fs"
)

// FileName is the name of the failure file inside an index folder.
const FileName = "failure"

// ErrInvalidInput indicates a negative index id or an empty layout root.
var ErrInvalidInput = errors.New("failure: invalid input")

// FolderLayout maps an index id to the folder holding its files.
type FolderLayout interface {
	Folder(indexID int64) string
}

// DirLayout places index folders directly under Root: "<Root>/<id>".
type DirLayout struct {
	Root string
}

// Folder returns the folder for indexID.
func (l DirLayout) Folder(indexID int64) string {
	return filepath.Join(l.Root, strconv.FormatInt(indexID, 10))
}

// Storage reads and writes failure files.
type Storage struct {
	fsys   fs.FS
	layout FolderLayout
	log    logrus.FieldLogger
}

// NewStorage returns failure storage over layout. A nil log discards output.
func NewStorage(fsys fs.FS, layout FolderLayout, log logrus.FieldLogger) *Storage {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Storage{fsys: fsys, layout: layout, log: log}
}

// Path returns the failure file path for indexID.
func (s *Storage) Path(indexID int64) (string, error) {
	if indexID < 0 {
		return "", fmt.Errorf("%w: index id %d", ErrInvalidInput, indexID)
	}

	folder := s.layout.Folder(indexID)
	if folder == "" {
		return "", fmt.Errorf("%w: no folder for index %d", ErrInvalidInput, indexID)
	}

	return filepath.Join(folder, FileName), nil
}

// Store records failure for indexID, replacing any earlier one. The folder
// is created if needed and the write is atomic.
func (s *Storage) Store(indexID int64, failure string) error {
	path, err := s.Path(indexID)
	if err != nil {
		return err
	}

	if err := s.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store failure for index %d: %w", indexID, err)
	}

	if err := s.fsys.WriteFileAtomic(path, []byte(failure+"\n"), 0o644); err != nil {
		return fmt.Errorf("store failure for index %d: %w", indexID, err)
	}

	s.log.WithFields(logrus.Fields{"index": indexID, "path": path}).Info("stored index failure")

	return nil
}

// Load returns the stored failure for indexID. Lines are joined with "\n"
// and the final line terminator is dropped. found is false when no failure
// is stored.
func (s *Storage) Load(indexID int64) (failure string, found bool, err error) {
	path, err := s.Path(indexID)
	if err != nil {
		return "", false, err
	}

	data, err := s.fsys.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("load failure for index %d: %w", indexID, err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	return strings.TrimSuffix(text, "\n"), true, nil
}

// Clear removes the stored failure for indexID. Clearing an index without a
// stored failure is not an error.
func (s *Storage) Clear(indexID int64) error {
	path, err := s.Path(indexID)
	if err != nil {
		return err
	}

	err = s.fsys.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear failure for index %d: %w", indexID, err)
	}

	return nil
}
