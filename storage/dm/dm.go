package dm

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/storage/page"
	"github.com/leftmike/mvdb/storage/wal"
)

const (
	insertTries = 5
)

var (
	ErrDataTooLarge = errors.New("dm: data too large")
	errNoPage       = errors.New("dm: no page with enough free space")
)

// Committed reports whether a transaction committed; recovery uses it to decide between redo
// and undo.
type Committed interface {
	IsCommitted(xid uint64) bool
}

// DM stores variable length data items in the pages of a page file, logging every change to
// a write ahead log.
type DM struct {
	cache   *page.Cache
	lgr     *wal.Logger
	tm      Committed
	pageOne *page.Page
	pindex  pageIndex

	recovered bool

	mutex sync.Mutex
	items map[uint64]*DataItem
}

func Create(path, logPath string, maxPages int, tm Committed) (*DM, error) {
	cache, err := page.Create(path, maxPages)
	if err != nil {
		return nil, err
	}
	lgr, err := wal.Create(logPath)
	if err != nil {
		cache.Close()
		return nil, err
	}

	_, err = cache.NewPage(page.InitPageOne())
	if err != nil {
		cache.Close()
		lgr.Close()
		return nil, err
	}

	dm := &DM{
		cache: cache,
		lgr:   lgr,
		tm:    tm,
		items: map[uint64]*DataItem{},
	}
	err = dm.start(false)
	if err != nil {
		return nil, err
	}
	return dm, nil
}

// Open opens an existing page file and log, running recovery if the page file was not
// cleanly closed.
func Open(path, logPath string, maxPages int, tm Committed) (*DM, error) {
	cache, err := page.Open(path, maxPages)
	if err != nil {
		return nil, err
	}
	if cache.PageCount() == 0 {
		cache.Close()
		return nil, fmt.Errorf("dm: %s: missing page one", path)
	}
	lgr, err := wal.Open(logPath)
	if err != nil {
		cache.Close()
		return nil, err
	}

	dm := &DM{
		cache: cache,
		lgr:   lgr,
		tm:    tm,
		items: map[uint64]*DataItem{},
	}
	err = dm.start(true)
	if err != nil {
		return nil, err
	}
	return dm, nil
}

func (dm *DM) start(check bool) error {
	pg, err := dm.cache.Pin(1)
	if err == nil {
		if check && !page.CheckMarkers(pg) {
			// Recovery may truncate the page file, but never below page one.
			err = recoverPages(dm.cache, dm.lgr, dm.tm)
			dm.recovered = true
		}
		if err == nil {
			page.SetOpenMarker(pg)
			err = dm.cache.Flush(pg)
		}
		if err != nil {
			pg.Release()
		}
	}
	if err == nil {
		err = dm.fillPageIndex()
		if err != nil {
			pg.Release()
		}
	}
	if err != nil {
		dm.cache.Close()
		dm.lgr.Close()
		return err
	}

	dm.pageOne = pg
	return nil
}

func (dm *DM) fillPageIndex() error {
	cnt := dm.cache.PageCount()
	for num := page.Num(2); num <= cnt; num += 1 {
		pg, err := dm.cache.Pin(num)
		if err != nil {
			return err
		}
		dm.pindex.add(num, page.FreeSpace(pg))
		pg.Release()
	}
	log.WithField("pages", cnt).Debug("dm: page index filled")
	return nil
}

// Recovered reports whether the page file was recovered from the log when it was opened.
func (dm *DM) Recovered() bool {
	return dm.recovered
}

func (dm *DM) PageCount() page.Num {
	return dm.cache.PageCount()
}

// Read returns the data item for uid; it returns nil if the item has been invalidated. The
// item must be released when the caller is done with it.
func (dm *DM) Read(uid uint64) (*DataItem, error) {
	dm.mutex.Lock()
	di, ok := dm.items[uid]
	if ok {
		di.refs += 1
	}
	dm.mutex.Unlock()

	if !ok {
		var err error
		di, err = dm.load(uid)
		if err != nil {
			return nil, err
		}
	}

	if !di.valid() {
		di.Release()
		return nil, nil
	}
	return di, nil
}

func (dm *DM) load(uid uint64) (*DataItem, error) {
	num, off := splitUID(uid)
	if num < 2 {
		return nil, fmt.Errorf("dm: bad uid: %d", uid)
	}
	pg, err := dm.cache.Pin(num)
	if err != nil {
		return nil, err
	}
	used := int(page.Used(pg))
	if int(off) < page.DataStart || int(off)+itemHeaderSize > used ||
		int(off)+itemSize(pg.Bytes[off:]) > used {

		pg.Release()
		return nil, fmt.Errorf("dm: bad uid: %d", uid)
	}

	di := &DataItem{
		dm:   dm,
		uid:  uid,
		pg:   pg,
		raw:  pg.Bytes[off : int(off)+itemSize(pg.Bytes[off:])],
		refs: 1,
	}

	dm.mutex.Lock()
	if cdi, ok := dm.items[uid]; ok {
		cdi.refs += 1
		dm.mutex.Unlock()
		pg.Release()
		return cdi, nil
	}
	dm.items[uid] = di
	dm.mutex.Unlock()
	return di, nil
}

func (dm *DM) release(di *DataItem) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	di.refs -= 1
	if di.refs < 0 {
		panic(fmt.Sprintf("dm: data item %d released too many times", di.uid))
	}
	if di.refs == 0 {
		delete(dm.items, di.uid)
		di.pg.Release()
	}
}

// Insert stores data as a new data item, logging the insert on behalf of xid, and returns
// the UID of the item.
func (dm *DM) Insert(xid uint64, data []byte) (uint64, error) {
	raw := wrapItem(data)
	if len(raw) > page.MaxFreeSpace {
		return 0, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(data))
	}

	for try := 0; try < insertTries; try += 1 {
		info, ok := dm.pindex.choose(len(raw))
		if !ok {
			num, err := dm.cache.NewPage(page.InitDataPage())
			if err != nil {
				return 0, err
			}
			dm.pindex.add(num, page.MaxFreeSpace)
			continue
		}

		uid, err := dm.insert(info.num, xid, raw)
		if err == errNoPage {
			continue
		}
		return uid, err
	}
	return 0, errNoPage
}

func (dm *DM) insert(num page.Num, xid uint64, raw []byte) (uint64, error) {
	pg, err := dm.cache.Pin(num)
	if err != nil {
		dm.pindex.add(num, 0)
		return 0, err
	}
	defer func() {
		dm.pindex.add(num, page.FreeSpace(pg))
		pg.Release()
	}()

	free := page.FreeSpace(pg)
	if free < len(raw) {
		return 0, errNoPage
	}
	off := uint16(page.PageSize - free)

	rec := wal.InsertRecord{
		Xid:    xid,
		Page:   num,
		Offset: off,
		Raw:    raw,
	}
	err = dm.lgr.Log(rec.Encode())
	if err != nil {
		return 0, err
	}

	ioff, err := page.Insert(pg, raw)
	if err != nil {
		return 0, err
	} else if ioff != off {
		panic(fmt.Sprintf("dm: page %d: inserted at %d; logged at %d", num, ioff, off))
	}
	return UID(num, off), nil
}

// Close writes back every dirty page, then the close marker on page one, and closes the page
// file and the log.
func (dm *DM) Close() error {
	dm.mutex.Lock()
	n := len(dm.items)
	dm.mutex.Unlock()
	if n > 0 {
		log.WithField("items", n).Warn("dm: closed with data items in use")
	}

	err := dm.cache.FlushAll()
	if err == nil {
		page.SetCloseMarker(dm.pageOne)
		err = dm.cache.Flush(dm.pageOne)
	}
	dm.pageOne.Release()
	cerr := dm.cache.Close()
	if err == nil {
		err = cerr
	}
	lerr := dm.lgr.Close()
	if err == nil {
		err = lerr
	}
	return err
}
