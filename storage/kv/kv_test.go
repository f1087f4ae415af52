package kv_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leftmike/mvdb/storage/kv"
	"github.com/leftmike/mvdb/testutil"
)

func write(t *testing.T, st kv.KV, sync bool, kvs ...string) {
	t.Helper()

	var b kv.Batch
	for i := 0; i < len(kvs); i += 2 {
		b.Set([]byte(kvs[i]), []byte(kvs[i+1]))
	}
	err := st.Write(&b, sync)
	if err != nil {
		t.Fatalf("Write(%v) failed with %s", kvs, err)
	}
}

func scan(t *testing.T, st kv.KV, prefix string) []string {
	t.Helper()

	var kvs []string
	err := st.Scan([]byte(prefix),
		func(k, v []byte) error {
			kvs = append(kvs, string(k), string(v))
			return nil
		})
	if err != nil {
		t.Fatalf("Scan(%s) failed with %s", prefix, err)
	}
	return kvs
}

func testKV(t *testing.T, st kv.KV) {
	t.Helper()

	_, err := st.Get([]byte("missing"))
	if !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Get(missing) got %v want %s", err, kv.ErrNotFound)
	}

	write(t, st, true, "b1", "bbb", "d", "ddd", "a", "aaa", "b2", "BBB")
	write(t, st, false, "c", "ccc", "d", "DDD")

	for _, c := range []struct {
		key, val string
	}{
		{"a", "aaa"},
		{"b1", "bbb"},
		{"b2", "BBB"},
		{"c", "ccc"},
		{"d", "DDD"},
	} {
		val, err := st.Get([]byte(c.key))
		if err != nil {
			t.Errorf("Get(%s) failed with %s", c.key, err)
		} else if string(val) != c.val {
			t.Errorf("Get(%s) got %s want %s", c.key, val, c.val)
		}
	}

	for _, c := range []struct {
		prefix string
		want   []string
	}{
		{"b", []string{"b1", "bbb", "b2", "BBB"}},
		{"b2", []string{"b2", "BBB"}},
		{"bb", nil},
		{"e", nil},
		{"", []string{"a", "aaa", "b1", "bbb", "b2", "BBB", "c", "ccc", "d", "DDD"}},
	} {
		kvs := scan(t, st, c.prefix)
		if fmt.Sprint(kvs) != fmt.Sprint(c.want) {
			t.Errorf("Scan(%s) got %v want %v", c.prefix, kvs, c.want)
		}
	}

	stop := errors.New("stop")
	var n int
	err = st.Scan(nil,
		func(k, v []byte) error {
			n += 1
			if n == 2 {
				return stop
			}
			return nil
		})
	if err != stop || n != 2 {
		t.Errorf("Scan(stop after 2) got %v, %d want %s, 2", err, n, stop)
	}

	val, err := st.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get(a) failed with %s", err)
	}
	val[0] = 'x'
	val, err = st.Get([]byte("a"))
	if err != nil || string(val) != "aaa" {
		t.Errorf("Get(a) after changing a returned value got %s, %v want aaa", val, err)
	}
}

func TestKV(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.SetupLogger(filepath.Join(dir, "kv_test.log"))

	for _, kind := range kv.Kinds {
		t.Run(kind,
			func(t *testing.T) {
				kdir := filepath.Join(dir, kind)
				st, err := kv.Open(kind, kdir, logger)
				if err != nil {
					t.Fatalf("Open(%s) failed with %s", kind, err)
				}
				testKV(t, st)
				err = st.Close()
				if err != nil {
					t.Fatalf("Close() failed with %s", err)
				}

				if !kv.Durable(kind) {
					return
				}

				st, err = kv.Open(kind, kdir, logger)
				if err != nil {
					t.Fatalf("Open(%s) failed with %s", kind, err)
				}
				val, err := st.Get([]byte("d"))
				if err != nil || string(val) != "DDD" {
					t.Errorf("Get(d) after reopen got %s, %v want DDD", val, err)
				}
				st.Close()
			})
	}

	_, err := kv.Open("unknown", dir, logger)
	if err == nil {
		t.Error("Open(unknown) did not fail")
	}
}
