package dm

import (
	"encoding/binary"
	"sync"

	"github.com/leftmike/mvdb/storage/page"
	"github.com/leftmike/mvdb/storage/wal"
)

// Data items:
// - valid: byte (0 = valid, 1 = invalid)
// - size of data: uint16
// - data: [size]byte

const (
	itemValid   = 0
	itemInvalid = 1

	itemHeaderSize = 3
)

func wrapItem(data []byte) []byte {
	raw := make([]byte, itemHeaderSize+len(data))
	raw[0] = itemValid
	binary.BigEndian.PutUint16(raw[1:], uint16(len(data)))
	copy(raw[itemHeaderSize:], data)
	return raw
}

func itemSize(b []byte) int {
	return itemHeaderSize + int(binary.BigEndian.Uint16(b[1:]))
}

func invalidItem(raw []byte) []byte {
	b := append(make([]byte, 0, len(raw)), raw...)
	b[0] = itemInvalid
	return b
}

func UID(num page.Num, off uint16) uint64 {
	return uint64(num)<<32 | uint64(off)
}

func splitUID(uid uint64) (page.Num, uint16) {
	return page.Num(uid >> 32), uint16(uid)
}

// DataItem is a record stored in a page. Changes are staged: Before takes the write lock
// and saves the current bytes, the caller changes Data in place, and then either After logs
// the change and releases the lock, or UnBefore restores the saved bytes and releases the
// lock.
type DataItem struct {
	rwmutex sync.RWMutex
	dm      *DM
	uid     uint64
	pg      *page.Page
	raw     []byte // slice of pg.Bytes
	old     []byte
	refs    int // protected by dm.mutex
}

func (di *DataItem) UID() uint64 {
	return di.uid
}

// Data returns the payload of the item; it aliases the page and must only be read while
// holding at least the read lock.
func (di *DataItem) Data() []byte {
	return di.raw[itemHeaderSize:]
}

func (di *DataItem) valid() bool {
	di.rwmutex.RLock()
	defer di.rwmutex.RUnlock()

	return di.raw[0] == itemValid
}

func (di *DataItem) Lock() {
	di.rwmutex.Lock()
}

func (di *DataItem) Unlock() {
	di.rwmutex.Unlock()
}

func (di *DataItem) RLock() {
	di.rwmutex.RLock()
}

func (di *DataItem) RUnlock() {
	di.rwmutex.RUnlock()
}

func (di *DataItem) Before() {
	di.rwmutex.Lock()
	di.old = append(di.old[:0], di.raw...)
}

func (di *DataItem) UnBefore() {
	copy(di.raw, di.old)
	di.rwmutex.Unlock()
}

// After logs the change made since Before on behalf of xid. If the change can not be
// logged, it is undone and the error returned. The page is only marked dirty once the change
// is in the log.
func (di *DataItem) After(xid uint64) error {
	rec := wal.UpdateRecord{
		Xid: xid,
		UID: di.uid,
		Old: di.old,
		New: di.raw,
	}
	err := di.dm.lgr.Log(rec.Encode())
	if err != nil {
		copy(di.raw, di.old)
	} else {
		di.pg.SetDirty()
	}
	di.rwmutex.Unlock()
	return err
}

func (di *DataItem) Release() {
	di.dm.release(di)
}
