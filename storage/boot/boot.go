package boot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/leftmike/mvdb/storage/kv"
)

const (
	bootPrefix = 'b'
)

var (
	ErrNotFound = errors.New("boot: not found")
)

// Store keeps named, well known UIDs, such as the boot items of indexes, outside of the page
// file.
type Store struct {
	kv kv.KV
}

func Open(st kv.KV) *Store {
	return &Store{
		kv: st,
	}
}

func bootKey(name string) []byte {
	return append([]byte{bootPrefix}, name...)
}

func (bs *Store) Get(name string) (uint64, error) {
	val, err := bs.kv.Get(bootKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return 0, err
	} else if len(val) != 8 {
		return 0, fmt.Errorf("boot: %s: bad length: %d", name, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// Set durably records uid under name.
func (bs *Store) Set(name string, uid uint64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uid)

	var b kv.Batch
	b.Set(bootKey(name), val)
	return bs.kv.Write(&b, true)
}

// Names returns the names of every boot UID, in order.
func (bs *Store) Names() ([]string, error) {
	var names []string
	err := bs.kv.Scan([]byte{bootPrefix},
		func(key, val []byte) error {
			names = append(names, string(key[1:]))
			return nil
		})
	if err != nil {
		return nil, err
	}
	return names, nil
}
