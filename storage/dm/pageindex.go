package dm

import (
	"sync"

	"github.com/leftmike/mvdb/storage/page"
)

const (
	intervals = 40
	threshold = page.PageSize / intervals
)

type pageInfo struct {
	num  page.Num
	free int
}

// pageIndex buckets data pages by free space. A page is removed from the index while an
// insert is writing to it, so no two inserts ever append to the same page at the same time.
type pageIndex struct {
	mutex sync.Mutex
	lists [intervals + 1][]pageInfo
}

func (pi *pageIndex) add(num page.Num, free int) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	n := free / threshold
	pi.lists[n] = append(pi.lists[n], pageInfo{num: num, free: free})
}

// choose removes and returns a page with at least size bytes free.
func (pi *pageIndex) choose(size int) (pageInfo, bool) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	n := size / threshold
	if n < intervals {
		n += 1
	}
	for ; n <= intervals; n += 1 {
		for idx, info := range pi.lists[n] {
			if info.free >= size {
				pi.lists[n] = append(pi.lists[n][:idx], pi.lists[n][idx+1:]...)
				return info, true
			}
		}
	}
	return pageInfo{}, false
}
