package pagecache

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/tokenscan/pkg/fs"
)

// PageCache keeps recently read file pages in memory, bounded by a page
// count, and evicts the least recently used page first.
//
// Pages are keyed by path and the identity of the file opened at map time
// (device, inode, size and modification time), so a file mapped after path
// was replaced never sees pages cached for an earlier version.
// [PageCache.Invalidate] releases the memory held by stale pages.
//
// PageCache is safe for concurrent use.
type PageCache struct {
	fsys     fs.FS
	pageSize int
	maxPages int
	tracer   *Tracer
	log      logrus.FieldLogger

	mu     sync.Mutex
	lru    *list.List
	pages  map[pageKey]*list.Element
	closed bool
}

type pageKey struct {
	path string
	file fileID
	id   int64
}

// fileID identifies one version of a file. Replacing a file by rename gives
// a new inode; rewriting it in place changes size or mtime.
type fileID struct {
	dev, ino uint64
	size     int64
	mtime    int64
}

func fileIDOf(info os.FileInfo) fileID {
	id := fileID{size: info.Size(), mtime: info.ModTime().UnixNano()}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		id.dev, id.ino = uint64(st.Dev), st.Ino
	}

	return id
}

type cachedPage struct {
	key  pageKey
	data []byte
}

func newPageCache(fsys fs.FS, pageSize, maxPages int, tracer *Tracer, log logrus.FieldLogger) *PageCache {
	return &PageCache{
		fsys:     fsys,
		pageSize: pageSize,
		maxPages: maxPages,
		tracer:   tracer,
		log:      log,
		lru:      list.New(),
		pages:    make(map[pageKey]*list.Element),
	}
}

// PageSize returns the page size in bytes.
func (pc *PageCache) PageSize() int {
	return pc.pageSize
}

// MaxPages returns the number of pages the cache holds before evicting.
func (pc *PageCache) MaxPages() int {
	return pc.maxPages
}

// Len returns the number of cached pages.
func (pc *PageCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	return pc.lru.Len()
}

// Map opens path for paged reads. The returned file must be closed.
//
// The size is fixed at map time; the file sees the content it was opened on
// even if path is replaced later.
func (pc *PageCache) Map(path string) (*PagedFile, error) {
	pc.mu.Lock()
	closed := pc.closed
	pc.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	file, err := pc.fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("map %s: stat: %w", path, err), file.Close())
	}

	return &PagedFile{
		cache: pc,
		path:  path,
		id:    fileIDOf(info),
		file:  file,
		size:  info.Size(),
	}, nil
}

// Invalidate drops every cached page of path. Call it after replacing the
// file at path; pages of the old version would otherwise linger until
// evicted.
func (pc *PageCache) Invalidate(path string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	dropped := 0

	for e := pc.lru.Front(); e != nil; {
		next := e.Next()

		page := e.Value.(*cachedPage)
		if page.key.path == path {
			pc.lru.Remove(e)
			delete(pc.pages, page.key)

			dropped++
		}

		e = next
	}

	pc.log.WithFields(logrus.Fields{
		"path":    path,
		"dropped": dropped,
	}).Debug("invalidated cached pages")
}

// Close drops all cached pages. Mapping after Close returns [ErrClosed];
// files mapped before keep reading from disk without caching.
func (pc *PageCache) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.closed {
		return ErrClosed
	}

	pc.closed = true
	pc.lru.Init()
	pc.pages = make(map[pageKey]*list.Element)

	return nil
}

func (pc *PageCache) lookup(key pageKey) ([]byte, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	e, ok := pc.pages[key]
	if !ok {
		return nil, false
	}

	pc.lru.MoveToFront(e)

	return e.Value.(*cachedPage).data, true
}

func (pc *PageCache) insert(key pageKey, data []byte) {
	pc.mu.Lock()

	if pc.closed {
		pc.mu.Unlock()

		return
	}

	if e, ok := pc.pages[key]; ok {
		pc.lru.MoveToFront(e)
		pc.mu.Unlock()

		return
	}

	pc.pages[key] = pc.lru.PushFront(&cachedPage{key: key, data: data})

	evicted := 0

	for pc.lru.Len() > pc.maxPages {
		oldest := pc.lru.Back()
		pc.lru.Remove(oldest)
		delete(pc.pages, oldest.Value.(*cachedPage).key)

		evicted++
	}

	pc.mu.Unlock()

	if evicted > 0 {
		pc.tracer.evicted(evicted)
	}
}

// PagedFile is a file mapped into a [PageCache].
//
// Page data returned by its methods is shared with the cache and must not be
// modified.
type PagedFile struct {
	cache *PageCache
	path  string
	id    fileID
	file  fs.File
	size  int64

	mu     sync.Mutex
	closed bool
}

// Path returns the mapped path.
func (f *PagedFile) Path() string {
	return f.path
}

// Size returns the file size captured at map time.
func (f *PagedFile) Size() int64 {
	return f.size
}

// PageCount returns the number of pages, the last one possibly short.
func (f *PagedFile) PageCount() int64 {
	ps := int64(f.cache.pageSize)

	return (f.size + ps - 1) / ps
}

// ReadPage returns page pageID, from the cache or from disk. tracer may be
// nil.
func (f *PagedFile) ReadPage(tracer PageTracer, pageID int64) ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	if pageID < 0 || pageID >= f.PageCount() {
		return nil, fmt.Errorf("%w: page %d of %s (%d pages)", ErrPageOutOfRange, pageID, f.path, f.PageCount())
	}

	key := pageKey{path: f.path, file: f.id, id: pageID}

	if data, ok := f.cache.lookup(key); ok {
		if tracer != nil {
			tracer.Pinned(pageID, true)
		}

		return data, nil
	}

	ps := int64(f.cache.pageSize)
	off := pageID * ps
	data := make([]byte, min(ps, f.size-off))

	n, err := f.file.ReadAt(data, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(data)) {
		return nil, fmt.Errorf("read page %d of %s: %w", pageID, f.path, err)
	}

	if tracer != nil {
		tracer.Pinned(pageID, false)
	}

	f.cache.insert(key, data)

	return data, nil
}

// ReadAll reads every page in order and returns the file content. tracer may
// be nil.
func (f *PagedFile) ReadAll(tracer PageTracer) ([]byte, error) {
	out := make([]byte, 0, f.size)

	for id := range f.PageCount() {
		page, err := f.ReadPage(tracer, id)
		if err != nil {
			return nil, err
		}

		out = append(out, page...)
	}

	return out, nil
}

// Close closes the underlying file. Close is idempotent.
func (f *PagedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true

	err := f.file.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}

	return nil
}
