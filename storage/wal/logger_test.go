package wal_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/leftmike/mvdb/storage/wal"
)

func readAll(t *testing.T, lgr *wal.Logger) []string {
	t.Helper()

	var recs []string
	lgr.Rewind()
	for {
		data, err := lgr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Next() failed with %s", err)
		}
		recs = append(recs, string(data))
	}
	return recs
}

func TestLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	lgr, err := wal.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if recs := readAll(t, lgr); len(recs) != 0 {
		t.Errorf("Next() got %v want no records", recs)
	}

	var want []string
	for i := 0; i < 100; i += 1 {
		s := fmt.Sprintf("record #%d", i)
		err = lgr.Log([]byte(s))
		if err != nil {
			t.Fatalf("Log(%s) failed with %s", s, err)
		}
		want = append(want, s)
	}
	if recs := readAll(t, lgr); !reflect.DeepEqual(recs, want) {
		t.Errorf("Next() got %v want %v", recs, want)
	}
	lgr.Close()

	lgr, err = wal.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if recs := readAll(t, lgr); !reflect.DeepEqual(recs, want) {
		t.Errorf("Next() got %v want %v", recs, want)
	}
	lgr.Close()
}

func TestLoggerTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.log")

	lgr, err := wal.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"abc", "defg", "hijkl"} {
		err = lgr.Log([]byte(s))
		if err != nil {
			t.Fatal(err)
		}
	}
	lgr.Close()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	good := fi.Size()

	// A partial record appended by a crash in the middle of Log.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0, 0, 0, 10, 1, 2, 3})
	f.Close()

	lgr, err = wal.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"abc", "defg", "hijkl"}
	if recs := readAll(t, lgr); !reflect.DeepEqual(recs, want) {
		t.Errorf("Next() got %v want %v", recs, want)
	}
	err = lgr.Log([]byte("mnop"))
	if err != nil {
		t.Fatal(err)
	}
	lgr.Close()

	fi, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != good+8+4 {
		t.Errorf("Stat(%s).Size() got %d want %d", path, fi.Size(), good+8+4)
	}

	// A complete record whose checksum was never folded into the header.
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0, 0, 0, 1, 0, 0, 0, 'x', 'x'})
	f.Close()

	lgr, err = wal.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	want = append(want, "mnop")
	if recs := readAll(t, lgr); !reflect.DeepEqual(recs, want) {
		t.Errorf("Next() got %v want %v", recs, want)
	}
	lgr.Close()
}

func TestLoggerLostRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lost.log")

	lgr, err := wal.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	err = lgr.Log([]byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	err = lgr.Log([]byte("second"))
	if err != nil {
		t.Fatal(err)
	}
	lgr.Close()

	// The header covers the second record, but the record itself never reached the disk.
	err = os.Truncate(path, fi.Size())
	if err != nil {
		t.Fatal(err)
	}

	lgr, err = wal.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", path, err)
	}
	want := []string{"first"}
	if recs := readAll(t, lgr); !reflect.DeepEqual(recs, want) {
		t.Errorf("Next() got %v want %v", recs, want)
	}
	err = lgr.Log([]byte("third"))
	if err != nil {
		t.Fatal(err)
	}
	lgr.Close()

	lgr, err = wal.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", path, err)
	}
	want = append(want, "third")
	if recs := readAll(t, lgr); !reflect.DeepEqual(recs, want) {
		t.Errorf("Next() got %v want %v", recs, want)
	}
	lgr.Close()
}

func TestRecords(t *testing.T) {
	cases := []wal.Record{
		wal.InsertRecord{Xid: 7, Page: 3, Offset: 2, Raw: []byte{0, 0, 3, 'a', 'b', 'c'}},
		wal.InsertRecord{Xid: 0, Page: 1 << 20, Offset: 8000, Raw: []byte{}},
		wal.UpdateRecord{Xid: 11, UID: 3<<32 | 2, Old: []byte{0, 1, 2}, New: []byte{3, 4, 5}},
	}

	for _, c := range cases {
		r, err := wal.Decode(c.Encode())
		if err != nil {
			t.Errorf("Decode(%v) failed with %s", c, err)
		} else if r.XID() != c.XID() || !reflect.DeepEqual(r.Encode(), c.Encode()) {
			t.Errorf("Decode(%v) got %v", c, r)
		}
	}

	ur := wal.UpdateRecord{UID: 9<<32 | 1234}
	if ur.Page() != 9 || ur.Offset() != 1234 {
		t.Errorf("UpdateRecord{%d}: got page %d offset %d", ur.UID, ur.Page(), ur.Offset())
	}

	for _, buf := range [][]byte{nil, {2}, {0, 1, 2}, {1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}} {
		_, err := wal.Decode(buf)
		if err == nil {
			t.Errorf("Decode(%v) did not fail", buf)
		}
	}
}
