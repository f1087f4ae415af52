package tm

import (
	"path/filepath"
	"testing"

	"github.com/leftmike/mvdb/storage/kv"
	"github.com/leftmike/mvdb/testutil"
)

func TestRecord(t *testing.T) {
	cases := []record{
		{state: Active, epoch: 1},
		{state: Committed, epoch: 12345678},
		{state: Aborted},
	}
	for _, c := range cases {
		r, err := decodeRecord(c.encode())
		if err != nil {
			t.Errorf("decodeRecord(%v) failed with %s", c, err)
		} else if r != c {
			t.Errorf("decodeRecord(%v) got %v", c, r)
		}
	}

	for _, buf := range [][]byte{{0x08}, {0x08, 0x07}, {0xff}} {
		_, err := decodeRecord(buf)
		if err == nil {
			t.Errorf("decodeRecord(%v) did not fail", buf)
		}
	}

	// Unknown fields are skipped.
	buf := append([]byte{0x1a, 0x02, 'h', 'i'}, record{state: Committed, epoch: 3}.encode()...)
	r, err := decodeRecord(buf)
	if err != nil || r.state != Committed || r.epoch != 3 {
		t.Errorf("decodeRecord(%v) got %v, %v", buf, r, err)
	}
}

func TestTM(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.SetupLogger(filepath.Join(dir, "tm_test.log"))

	st, err := kv.Open("bbolt", dir, logger)
	if err != nil {
		t.Fatal(err)
	}

	tm, err := Open(st, false)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Epoch() != 1 {
		t.Errorf("Epoch() got %d want 1", tm.Epoch())
	}
	if !tm.IsCommitted(SuperXID) {
		t.Errorf("IsCommitted(%d) got false want true", SuperXID)
	}

	var xids []uint64
	for i := 0; i < 6; i += 1 {
		xid, err := tm.Begin()
		if err != nil {
			t.Fatalf("Begin() failed with %s", err)
		}
		if xid != uint64(i+1) {
			t.Errorf("Begin() got %d want %d", xid, i+1)
		}
		if !tm.IsActive(xid) {
			t.Errorf("IsActive(%d) got false want true", xid)
		}
		xids = append(xids, xid)
	}

	// 1, 3, 5 committed; 2, 4 aborted; 6 left active
	for i, xid := range xids[:5] {
		if i%2 == 0 {
			err = tm.Commit(xid)
		} else {
			err = tm.Abort(xid)
		}
		if err != nil {
			t.Errorf("finishing %d failed with %s", xid, err)
		}
	}
	err = tm.Commit(xids[0])
	if err == nil {
		t.Errorf("Commit(%d) twice did not fail", xids[0])
	}

	check := func(want []State) {
		t.Helper()
		for i, xid := range xids {
			if s := tm.State(xid); s != want[i] {
				t.Errorf("State(%d) got %s want %s", xid, s, want[i])
			}
		}
	}
	check([]State{Committed, Aborted, Committed, Aborted, Committed, Active})
	if !tm.IsAborted(100) {
		t.Error("IsAborted(100) got false want true")
	}
	tm.Close()

	tm, err = Open(st, false)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Epoch() != 2 {
		t.Errorf("Epoch() got %d want 2", tm.Epoch())
	}
	check([]State{Committed, Aborted, Committed, Aborted, Committed, Aborted})

	xid, err := tm.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if xid != 7 {
		t.Errorf("Begin() got %d want 7", xid)
	}
	tm.Close()
	st.Close()
}
