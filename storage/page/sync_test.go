package page

import (
	"os"
	"path/filepath"
	"testing"
)

type syncCounter struct {
	*os.File
	syncs int
}

func (sc *syncCounter) Sync() error {
	sc.syncs += 1
	return sc.File.Sync()
}

func TestSyncs(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatal(err)
	}
	sc := &syncCounter{File: f}
	c, err := newCache(sc, f.Name(), MinCachePages)
	if err != nil {
		t.Fatal(err)
	}

	const pages = MinCachePages * 3
	for i := 0; i < pages; i += 1 {
		_, err = c.NewPage(InitDataPage())
		if err != nil {
			t.Fatalf("NewPage() failed with %s", err)
		}
	}
	if sc.syncs != pages {
		t.Errorf("NewPage() syncs got %d want %d", sc.syncs, pages)
	}

	// Dirty every page; most of them are written back when they are evicted.
	for num := Num(1); num <= pages; num += 1 {
		pg, err := c.Pin(num)
		if err != nil {
			t.Fatalf("Pin(%d) failed with %s", num, err)
		}
		pg.Bytes[100] = byte(num)
		pg.SetDirty()
		pg.Release()
	}
	if sc.syncs != pages {
		t.Errorf("eviction syncs got %d want none", sc.syncs-pages)
	}

	err = c.FlushAll()
	if err != nil {
		t.Fatalf("FlushAll() failed with %s", err)
	}
	if sc.syncs != pages+1 {
		t.Errorf("FlushAll() syncs got %d want 1", sc.syncs-pages)
	}

	err = c.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	c, err = Open(f.Name(), MinCachePages)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	for num := Num(1); num <= pages; num += 1 {
		pg, err := c.Pin(num)
		if err != nil {
			t.Fatalf("Pin(%d) failed with %s", num, err)
		}
		if pg.Bytes[100] != byte(num) {
			t.Errorf("Pin(%d).Bytes[100] got %d want %d", num, pg.Bytes[100], num)
		}
		pg.Release()
	}
}
