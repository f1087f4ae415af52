package page

import (
	"sync"
)

const (
	PageSize = 8192
)

// Num is a 1-based page number; page n lives at file offset (n-1)*PageSize.
type Num uint32

type Page struct {
	mutex sync.Mutex
	num   Num
	cache *Cache
	ref   int32 // protected by cache.mutex
	dirty bool  // protected by cache.mutex
	ready chan struct{}
	err   error
	Bytes []byte
}

func (pg *Page) Num() Num {
	return pg.num
}

// Lock and Unlock guard structural changes to the page such as appending a data item.
func (pg *Page) Lock() {
	pg.mutex.Lock()
}

func (pg *Page) Unlock() {
	pg.mutex.Unlock()
}

func (pg *Page) SetDirty() {
	pg.cache.mutex.Lock()
	pg.dirty = true
	pg.cache.mutex.Unlock()
}

func (pg *Page) Dirty() bool {
	pg.cache.mutex.Lock()
	defer pg.cache.mutex.Unlock()
	return pg.dirty
}

// Release drops a reference obtained from Cache.Pin; the page may be evicted once every
// reference has been released.
func (pg *Page) Release() {
	pg.cache.release(pg)
}
