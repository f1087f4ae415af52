package page

import (
	"encoding/binary"
	"fmt"
)

// Data pages (every page except page one):
// - free space offset: uint16
// - data items, appended starting at offset 2

const (
	freeSpaceOffsetSize = 2
	MaxFreeSpace        = PageSize - freeSpaceOffsetSize

	// DataStart is the offset of the first data item on a data page.
	DataStart = freeSpaceOffsetSize
)

func InitDataPage() []byte {
	b := make([]byte, PageSize)
	setFreeSpaceOffset(b, freeSpaceOffsetSize)
	return b
}

func freeSpaceOffset(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func setFreeSpaceOffset(b []byte, fso uint16) {
	binary.BigEndian.PutUint16(b, fso)
}

// FreeSpace returns the number of unused bytes at the end of a data page.
func FreeSpace(pg *Page) int {
	pg.Lock()
	defer pg.Unlock()

	return PageSize - int(freeSpaceOffset(pg.Bytes))
}

// Used returns the offset just past the last data item on the page.
func Used(pg *Page) uint16 {
	pg.Lock()
	defer pg.Unlock()

	return freeSpaceOffset(pg.Bytes)
}

// Insert appends raw to the data page and returns the offset where it was written.
func Insert(pg *Page, raw []byte) (uint16, error) {
	pg.Lock()
	defer pg.Unlock()

	fso := freeSpaceOffset(pg.Bytes)
	if int(fso)+len(raw) > PageSize {
		return 0, fmt.Errorf("page: page %d: insert of %d bytes: only %d bytes free", pg.num,
			len(raw), PageSize-int(fso))
	}
	copy(pg.Bytes[fso:], raw)
	setFreeSpaceOffset(pg.Bytes, fso+uint16(len(raw)))
	pg.SetDirty()
	return fso, nil
}

// RecoverInsert writes raw at off, moving the free space offset past it if necessary.
func RecoverInsert(pg *Page, raw []byte, off uint16) {
	pg.Lock()
	defer pg.Unlock()

	copy(pg.Bytes[off:], raw)
	end := off + uint16(len(raw))
	if freeSpaceOffset(pg.Bytes) < end {
		setFreeSpaceOffset(pg.Bytes, end)
	}
	pg.SetDirty()
}

// RecoverUpdate overwrites the bytes at off with raw.
func RecoverUpdate(pg *Page, raw []byte, off uint16) {
	pg.Lock()
	defer pg.Unlock()

	copy(pg.Bytes[off:], raw)
	pg.SetDirty()
}
