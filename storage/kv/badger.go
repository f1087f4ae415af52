package kv

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

// badgerKV writes without syncing and syncs the value log when a Batch asks for it.
type badgerKV struct {
	db *badger.DB
}

func MakeBadgerKV(dir string, logger *log.Logger) (KV, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(badger.DefaultOptions(dir).
		WithLogger(logger).
		WithSyncWrites(false))
	if err != nil {
		return nil, fmt.Errorf("kv: badger: %w", err)
	}
	return badgerKV{db: db}, nil
}

func (bkv badgerKV) Get(key []byte) ([]byte, error) {
	var val []byte
	err := bkv.db.View(
		func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			} else if err != nil {
				return err
			}
			val, err = item.ValueCopy(nil)
			return err
		})
	return val, err
}

func (bkv badgerKV) Scan(prefix []byte, fn func(key, val []byte) error) error {
	return bkv.db.View(
		func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				err := item.Value(
					func(val []byte) error {
						return fn(item.Key(), val)
					})
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (bkv badgerKV) Write(b *Batch, sync bool) error {
	err := bkv.db.Update(
		func(txn *badger.Txn) error {
			for i := range b.keys {
				err := txn.Set(b.keys[i], b.vals[i])
				if err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("kv: badger: %w", err)
	}
	if sync {
		return bkv.db.Sync()
	}
	return nil
}

func (bkv badgerKV) Close() error {
	return bkv.db.Close()
}
