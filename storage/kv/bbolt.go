package kv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	mvdbBucket = []byte("mvdb")
)

// bboltKV keeps every key in a single bucket.
type bboltKV struct {
	db *bbolt.DB
}

func MakeBBoltKV(path string) (KV, error) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: bbolt: %w", err)
	}
	db.NoFreelistSync = true

	err = db.Update(
		func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(mvdbBucket)
			return err
		})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: bbolt: %w", err)
	}
	return bboltKV{db: db}, nil
}

func (bkv bboltKV) view(fn func(bkt *bbolt.Bucket) error) error {
	return bkv.db.View(
		func(tx *bbolt.Tx) error {
			bkt := tx.Bucket(mvdbBucket)
			if bkt == nil {
				return fmt.Errorf("kv: bbolt: missing %s bucket", mvdbBucket)
			}
			return fn(bkt)
		})
}

func (bkv bboltKV) Get(key []byte) ([]byte, error) {
	var val []byte
	err := bkv.view(
		func(bkt *bbolt.Bucket) error {
			v := bkt.Get(key)
			if v == nil {
				return ErrNotFound
			}
			val = append([]byte{}, v...)
			return nil
		})
	return val, err
}

func (bkv bboltKV) Scan(prefix []byte, fn func(key, val []byte) error) error {
	return bkv.view(
		func(bkt *bbolt.Bucket) error {
			cr := bkt.Cursor()
			for k, v := cr.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cr.Next() {
				err := fn(k, v)
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (bkv bboltKV) Write(b *Batch, sync bool) error {
	tx, err := bkv.db.Begin(true)
	if err != nil {
		return fmt.Errorf("kv: bbolt: %w", err)
	}
	bkt := tx.Bucket(mvdbBucket)
	for i := range b.keys {
		err = bkt.Put(b.keys[i], b.vals[i])
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("kv: bbolt: %w", err)
		}
	}

	// Only the single writable transaction reads NoSync.
	bkv.db.NoSync = !sync
	return tx.Commit()
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}
