package vm

import (
	"encoding/binary"

	"github.com/leftmike/mvdb/storage/dm"
)

// Entries are stored as data items:
// - xmin: xid of the creating transaction: uint64
// - xmax: xid of the deleting transaction, or 0: uint64
// - data

const (
	xminOffset   = 0
	xmaxOffset   = 8
	entryHdrSize = 16
)

func wrapEntry(xid uint64, data []byte) []byte {
	buf := make([]byte, entryHdrSize+len(data))
	binary.BigEndian.PutUint64(buf[xminOffset:], xid)
	copy(buf[entryHdrSize:], data)
	return buf
}

type entry struct {
	di *dm.DataItem
}

func (e entry) uid() uint64 {
	return e.di.UID()
}

func (e entry) xmin() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()

	return binary.BigEndian.Uint64(e.di.Data()[xminOffset:])
}

func (e entry) xmax() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()

	return binary.BigEndian.Uint64(e.di.Data()[xmaxOffset:])
}

func (e entry) data() []byte {
	e.di.RLock()
	defer e.di.RUnlock()

	return append([]byte{}, e.di.Data()[entryHdrSize:]...)
}

func (e entry) setXmax(xid uint64) error {
	e.di.Before()
	binary.BigEndian.PutUint64(e.di.Data()[xmaxOffset:], xid)
	return e.di.After(xid)
}

func (e entry) release() {
	e.di.Release()
}
