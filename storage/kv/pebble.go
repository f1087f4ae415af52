package kv

import (
	"bytes"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

type pebbleKV struct {
	db *pebble.DB
}

func MakePebbleKV(dir string, logger *log.Logger) (KV, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("kv: pebble: %w", err)
	}
	return pebbleKV{db: db}, nil
}

func (pkv pebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := pkv.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("kv: pebble: %w", err)
	}
	defer closer.Close()

	return append([]byte{}, val...), nil
}

func (pkv pebbleKV) Scan(prefix []byte, fn func(key, val []byte) error) error {
	it := pkv.db.NewIter(&pebble.IterOptions{LowerBound: prefix})
	for ok := it.First(); ok && bytes.HasPrefix(it.Key(), prefix); ok = it.Next() {
		err := fn(it.Key(), it.Value())
		if err != nil {
			it.Close()
			return err
		}
	}
	return it.Close()
}

func (pkv pebbleKV) Write(b *Batch, sync bool) error {
	pb := pkv.db.NewBatch()
	defer pb.Close()

	for i := range b.keys {
		err := pb.Set(b.keys[i], b.vals[i], nil)
		if err != nil {
			return fmt.Errorf("kv: pebble: %w", err)
		}
	}

	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}
	return pb.Commit(opts)
}

func (pkv pebbleKV) Close() error {
	return pkv.db.Close()
}
