package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/tokenscan/pkg/failure"
	"github.com/calvinalkan/tokenscan/pkg/fs"
	"github.com/calvinalkan/tokenscan/pkg/labelscan"
	"github.com/calvinalkan/tokenscan/pkg/pagecache"
)

// session owns the storage stack for one invocation. It is opened on first
// use so that commands like print-config never touch the store.
type session struct {
	cfg  Config
	log  logrus.FieldLogger
	fsys fs.FS

	factory  *pagecache.Factory
	store    *labelscan.Store
	failures *failure.Storage
}

func newSession(cfg Config, log logrus.FieldLogger, fsys fs.FS) *session {
	return &session{cfg: cfg, log: log, fsys: fsys}
}

// open wires page cache, store and failure storage.
func (s *session) open() error {
	if s.store != nil {
		return nil
	}

	factory, err := pagecache.NewFactory(s.fsys, s.cfg.PageCache, nil, s.log)
	if err != nil {
		return fmt.Errorf("page cache: %w", err)
	}

	cache, err := factory.GetOrCreate()
	if err != nil {
		_ = factory.Close()

		return fmt.Errorf("page cache: %w", err)
	}

	store, err := labelscan.Open(s.fsys, cache, labelscan.Options{
		Path:      s.cfg.StorePathAbs,
		RangeSize: s.cfg.RangeSize,
		Logger:    s.log,
	})
	if err != nil {
		_ = factory.Close()

		return err
	}

	s.factory = factory
	s.store = store
	s.failures = failure.NewStorage(s.fsys, failure.DirLayout{Root: s.cfg.FailureDirAbs}, s.log)

	return nil
}

func (s *session) Close() error {
	if s.factory == nil {
		return nil
	}

	for id, tag := range s.factory.Tracer().OpenCursors() {
		s.log.WithFields(logrus.Fields{"cursor_id": id, "tag": tag}).Warn("cursor tracer left open")
	}

	err := s.factory.Close()
	s.factory, s.store, s.failures = nil, nil, nil

	return err
}

// newLogger builds the process logger writing text to w.
func newLogger(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogLevel, level)
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	return log, nil
}

func parseInt64(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidArgument, name, s)
	}

	return n, nil
}

func parseInt64s(name string, args []string) ([]int64, error) {
	out := make([]int64, 0, len(args))

	for _, a := range args {
		n, err := parseInt64(name, a)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}
