package pagecache

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/tokenscan/pkg/fs"
)

// Factory creates one shared [PageCache] on first use and owns it.
//
// Factory is safe for concurrent use.
type Factory struct {
	fsys     fs.FS
	cfg      Config
	maxPages int
	tracer   *Tracer
	log      logrus.FieldLogger

	mu     sync.Mutex
	cache  *PageCache
	closed bool
}

// NewFactory validates cfg and returns a factory. Unset config fields get
// their defaults. A nil tracer is replaced by one honouring cfg.MaxCursors;
// a nil log discards output.
func NewFactory(fsys fs.FS, cfg Config, tracer *Tracer, log logrus.FieldLogger) (*Factory, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: filesystem is required", ErrInvalidConfig)
	}

	cfg = cfg.withDefaults()

	maxPages, err := cfg.MaxPages()
	if err != nil {
		return nil, err
	}

	if tracer == nil {
		tracer = NewTracer(cfg.MaxCursors)
	}

	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Factory{
		fsys:     fsys,
		cfg:      cfg,
		maxPages: maxPages,
		tracer:   tracer,
		log:      log,
	}, nil
}

// Config returns the resolved configuration.
func (f *Factory) Config() Config {
	return f.cfg
}

// Tracer returns the tracer shared by every cache this factory creates.
func (f *Factory) Tracer() *Tracer {
	return f.tracer
}

// GetOrCreate returns the shared page cache, creating it on first call.
func (f *Factory) GetOrCreate() (*PageCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	if f.cache != nil {
		return f.cache, nil
	}

	f.cache = newPageCache(f.fsys, f.cfg.PageSize, f.maxPages, f.tracer, f.log)

	f.log.WithFields(logrus.Fields{
		"memory":      f.cfg.Memory,
		"page_size":   f.cfg.PageSize,
		"max_pages":   f.maxPages,
		"max_cursors": f.cfg.MaxCursors,
	}).Info("created page cache")

	return f.cache, nil
}

// Close closes the shared cache if it was created.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	f.closed = true

	if f.cache == nil {
		return nil
	}

	return f.cache.Close()
}
