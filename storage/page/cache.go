package page

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	MinCachePages = 10
)

var (
	ErrCacheFull = errors.New("page: cache full: every cached page is pinned")
)

type pageIO interface {
	ReadAt(b []byte, off int64) (int, error)
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	WriteAt(b []byte, off int64) (int, error)
	Close() error
}

// Cache keeps at most maxPages pages of a single page file in memory. Pages are pinned with
// Pin and unpinned with Page.Release; only unpinned pages are evicted, least recently
// released first, and dirty pages are written back before they are evicted.
type Cache struct {
	mutex     sync.Mutex
	pages     map[Num]*Page
	free      *list.List
	elems     map[*Page]*list.Element
	maxPages  int
	pageCount Num

	ioMutex sync.Mutex
	io      pageIO
	path    string
}

func newCache(f pageIO, path string, maxPages int) (*Cache, error) {
	if maxPages < MinCachePages {
		f.Close()
		return nil, fmt.Errorf("page: cache too small: %d pages; want at least %d", maxPages,
			MinCachePages)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	c := &Cache{
		pages:     map[Num]*Page{},
		free:      list.New(),
		elems:     map[*Page]*list.Element{},
		maxPages:  maxPages,
		pageCount: Num(fi.Size() / PageSize),
		io:        f,
		path:      path,
	}
	log.WithFields(log.Fields{
		"path":  path,
		"pages": c.pageCount,
		"cache": maxPages,
	}).Debug("page cache opened")
	return c, nil
}

// Create makes a new, empty page file; it fails if the file already exists.
func Create(path string, maxPages int) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	return newCache(f, path, maxPages)
}

func Open(path string, maxPages int) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return newCache(f, path, maxPages)
}

func (c *Cache) PageCount() Num {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pageCount
}

// NewPage appends a page containing data to the file and returns its number. The page is
// written through and synced immediately; it is not left in the cache.
func (c *Cache) NewPage(data []byte) (Num, error) {
	c.mutex.Lock()
	c.pageCount += 1
	num := c.pageCount
	c.mutex.Unlock()

	buf := make([]byte, PageSize)
	copy(buf, data)
	err := c.writeBytes(num, buf)
	if err == nil {
		err = c.sync()
	}
	if err != nil {
		return 0, err
	}
	return num, nil
}

// Pin returns the page with number num, reading it from the file if it is not cached. Every
// successful Pin must be matched by a call to Page.Release.
func (c *Cache) Pin(num Num) (*Page, error) {
	c.mutex.Lock()
	if num == 0 || num > c.pageCount {
		c.mutex.Unlock()
		return nil, fmt.Errorf("page: %s: page %d out of range: %d pages", c.path, num,
			c.pageCount)
	}

	pg, ok := c.pages[num]
	if ok {
		pg.ref += 1
		c.unlist(pg)
		c.mutex.Unlock()

		<-pg.ready
		if pg.err != nil {
			pg.Release()
			return nil, pg.err
		}
		return pg, nil
	}

	if len(c.pages) >= c.maxPages {
		err := c.evict()
		if err != nil {
			c.mutex.Unlock()
			return nil, err
		}
	}

	pg = &Page{
		num:   num,
		cache: c,
		ref:   1,
		ready: make(chan struct{}),
		Bytes: make([]byte, PageSize),
	}
	c.pages[num] = pg
	c.mutex.Unlock()

	err := c.readPage(pg)
	if err != nil {
		c.mutex.Lock()
		pg.err = err
		if c.pages[num] == pg {
			delete(c.pages, num)
		}
		pg.ref -= 1
		c.mutex.Unlock()
		close(pg.ready)
		return nil, err
	}
	close(pg.ready)
	return pg, nil
}

func (c *Cache) unlist(pg *Page) {
	if e, ok := c.elems[pg]; ok {
		c.free.Remove(e)
		delete(c.elems, pg)
	}
}

// evict must be called with c.mutex held.
func (c *Cache) evict() error {
	e := c.free.Front()
	if e == nil {
		return ErrCacheFull
	}
	pg := e.Value.(*Page)
	if pg.dirty {
		err := c.writeBytes(pg.num, pg.Bytes)
		if err != nil {
			return err
		}
		pg.dirty = false
	}
	c.free.Remove(e)
	delete(c.elems, pg)
	delete(c.pages, pg.num)
	return nil
}

func (c *Cache) release(pg *Page) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	pg.ref -= 1
	if pg.ref < 0 {
		panic(fmt.Sprintf("page: page %d released too many times", pg.num))
	}
	if pg.ref == 0 && pg.err == nil && c.pages[pg.num] == pg {
		c.elems[pg] = c.free.PushBack(pg)
	}
}

// Flush writes the page back to the file, if it is dirty, and syncs the file.
func (c *Cache) Flush(pg *Page) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	err := c.flush(pg)
	if err != nil {
		return err
	}
	return c.sync()
}

func (c *Cache) flush(pg *Page) error {
	if !pg.dirty {
		return nil
	}
	err := c.writeBytes(pg.num, pg.Bytes)
	if err != nil {
		return err
	}
	pg.dirty = false
	return nil
}

// FlushAll writes back every dirty cached page and then syncs the file once.
func (c *Cache) FlushAll() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, pg := range c.pages {
		err := c.flush(pg)
		if err != nil {
			return err
		}
	}
	return c.sync()
}

// TruncateTo shrinks the file to hold at most count pages. Cached pages past the end are
// discarded; none of them may be pinned.
func (c *Cache) TruncateTo(count Num) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for num, pg := range c.pages {
		if num <= count {
			continue
		}
		if pg.ref > 0 {
			panic(fmt.Sprintf("page: truncate with page %d pinned", num))
		}
		c.unlist(pg)
		delete(c.pages, num)
	}

	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	err := c.io.Truncate(int64(count) * PageSize)
	if err != nil {
		return fmt.Errorf("page: %s: truncate: %w", c.path, err)
	}
	c.pageCount = count
	return c.io.Sync()
}

// Close writes back every dirty page and closes the file.
func (c *Cache) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var err error
	for _, pg := range c.pages {
		if pg.ref > 0 {
			log.WithField("page", pg.num).Warn("page cache closed with page pinned")
		}
		ferr := c.flush(pg)
		if ferr != nil && err == nil {
			err = ferr
		}
	}
	c.pages = map[Num]*Page{}
	c.free.Init()
	c.elems = map[*Page]*list.Element{}

	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	serr := c.io.Sync()
	if serr != nil && err == nil {
		err = serr
	}
	cerr := c.io.Close()
	if cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (c *Cache) readPage(pg *Page) error {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	fi, err := c.io.Stat()
	if err != nil {
		return err
	}
	off := int64(pg.num-1) * PageSize
	if fi.Size() < off+PageSize {
		return nil // allocated but never written
	}
	br, err := c.io.ReadAt(pg.Bytes, off)
	if err != nil {
		return fmt.Errorf("page: %s: read page %d: %w", c.path, pg.num, err)
	} else if br != PageSize {
		return fmt.Errorf("page: %s: partial read of page %d: got %d, want %d", c.path,
			pg.num, br, PageSize)
	}
	return nil
}

func (c *Cache) writeBytes(num Num, b []byte) error {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	bw, err := c.io.WriteAt(b, int64(num-1)*PageSize)
	if err != nil {
		return fmt.Errorf("page: %s: write page %d: %w", c.path, num, err)
	} else if bw != PageSize {
		return fmt.Errorf("page: %s: partial write of page %d: got %d, want %d", c.path, num,
			bw, PageSize)
	}
	return nil
}

func (c *Cache) sync() error {
	c.ioMutex.Lock()
	defer c.ioMutex.Unlock()

	err := c.io.Sync()
	if err != nil {
		return fmt.Errorf("page: %s: sync: %w", c.path, err)
	}
	return nil
}
