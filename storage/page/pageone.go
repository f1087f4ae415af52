package page

import (
	"bytes"
	"crypto/rand"
)

// Page one reserves two markers: an open marker written with random bytes each time the
// page file is opened, and a close marker that receives a copy of the open marker when the
// file is cleanly closed.
const (
	openMarkerOffset  = 100
	closeMarkerOffset = openMarkerOffset + markerLength
	markerLength      = 8
)

func InitPageOne() []byte {
	b := make([]byte, PageSize)
	randomMarker(b[openMarkerOffset : openMarkerOffset+markerLength])
	return b
}

func randomMarker(b []byte) {
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
}

func SetOpenMarker(pg *Page) {
	pg.Lock()
	randomMarker(pg.Bytes[openMarkerOffset : openMarkerOffset+markerLength])
	pg.Unlock()
	pg.SetDirty()
}

func SetCloseMarker(pg *Page) {
	pg.Lock()
	copy(pg.Bytes[closeMarkerOffset:closeMarkerOffset+markerLength],
		pg.Bytes[openMarkerOffset:openMarkerOffset+markerLength])
	pg.Unlock()
	pg.SetDirty()
}

// CheckMarkers returns true if the page file was cleanly closed.
func CheckMarkers(pg *Page) bool {
	pg.Lock()
	defer pg.Unlock()

	return bytes.Equal(pg.Bytes[openMarkerOffset:openMarkerOffset+markerLength],
		pg.Bytes[closeMarkerOffset:closeMarkerOffset+markerLength])
}
