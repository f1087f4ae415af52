package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/leftmike/mvdb/storage/page"
)

const (
	insertRecordType = 0
	updateRecordType = 1

	insertRecordSize = 1 + 8 + 4 + 2
	updateRecordSize = 1 + 8 + 8
)

type Record interface {
	XID() uint64
	Encode() []byte
}

// InsertRecord logs a new data item written at Offset in Page.
type InsertRecord struct {
	Xid    uint64
	Page   page.Num
	Offset uint16
	Raw    []byte
}

// UpdateRecord logs an in place change to the data item UID; Old and New are the raw item
// before and after the change and have the same length.
type UpdateRecord struct {
	Xid uint64
	UID uint64
	Old []byte
	New []byte
}

func (ir InsertRecord) XID() uint64 {
	return ir.Xid
}

func (ir InsertRecord) Encode() []byte {
	buf := make([]byte, insertRecordSize, insertRecordSize+len(ir.Raw))
	buf[0] = insertRecordType
	binary.BigEndian.PutUint64(buf[1:], ir.Xid)
	binary.BigEndian.PutUint32(buf[9:], uint32(ir.Page))
	binary.BigEndian.PutUint16(buf[13:], ir.Offset)
	return append(buf, ir.Raw...)
}

func (ur UpdateRecord) XID() uint64 {
	return ur.Xid
}

func (ur UpdateRecord) Encode() []byte {
	if len(ur.Old) != len(ur.New) {
		panic(fmt.Sprintf("wal: update record: old length %d != new length %d", len(ur.Old),
			len(ur.New)))
	}
	buf := make([]byte, updateRecordSize, updateRecordSize+len(ur.Old)+len(ur.New))
	buf[0] = updateRecordType
	binary.BigEndian.PutUint64(buf[1:], ur.Xid)
	binary.BigEndian.PutUint64(buf[9:], ur.UID)
	buf = append(buf, ur.Old...)
	return append(buf, ur.New...)
}

// Page and Offset split the UID of an update record into its page number and offset.
func (ur UpdateRecord) Page() page.Num {
	return page.Num(ur.UID >> 32)
}

func (ur UpdateRecord) Offset() uint16 {
	return uint16(ur.UID)
}

func Decode(buf []byte) (Record, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("wal: bad record: empty")
	}
	switch buf[0] {
	case insertRecordType:
		if len(buf) < insertRecordSize {
			return nil, fmt.Errorf("wal: bad insert record length: %d", len(buf))
		}
		return InsertRecord{
			Xid:    binary.BigEndian.Uint64(buf[1:]),
			Page:   page.Num(binary.BigEndian.Uint32(buf[9:])),
			Offset: binary.BigEndian.Uint16(buf[13:]),
			Raw:    buf[insertRecordSize:],
		}, nil
	case updateRecordType:
		if len(buf) < updateRecordSize || (len(buf)-updateRecordSize)%2 != 0 {
			return nil, fmt.Errorf("wal: bad update record length: %d", len(buf))
		}
		n := (len(buf) - updateRecordSize) / 2
		return UpdateRecord{
			Xid: binary.BigEndian.Uint64(buf[1:]),
			UID: binary.BigEndian.Uint64(buf[9:]),
			Old: buf[updateRecordSize : updateRecordSize+n],
			New: buf[updateRecordSize+n:],
		}, nil
	}
	return nil, fmt.Errorf("wal: bad record type: %d", buf[0])
}
