package boot_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/leftmike/mvdb/storage/boot"
	"github.com/leftmike/mvdb/storage/kv"
)

func TestBoot(t *testing.T) {
	st, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatal(err)
	}
	bs := boot.Open(st)

	_, err = bs.Get("missing")
	if !errors.Is(err, boot.ErrNotFound) {
		t.Errorf("Get(missing) got %v want %s", err, boot.ErrNotFound)
	}

	cases := []struct {
		name string
		uid  uint64
	}{
		{"index.users", 2<<32 | 2},
		{"index.accounts", 3<<32 | 100},
		{"table", 1<<40 | 17},
	}
	for _, c := range cases {
		err = bs.Set(c.name, c.uid)
		if err != nil {
			t.Fatalf("Set(%s) failed with %s", c.name, err)
		}
	}
	err = bs.Set("table", 99)
	if err != nil {
		t.Fatal(err)
	}
	cases[2].uid = 99

	for _, c := range cases {
		uid, err := bs.Get(c.name)
		if err != nil {
			t.Errorf("Get(%s) failed with %s", c.name, err)
		} else if uid != c.uid {
			t.Errorf("Get(%s) got %d want %d", c.name, uid, c.uid)
		}
	}

	names, err := bs.Names()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"index.accounts", "index.users", "table"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Names() got %v want %v", names, want)
	}
}
