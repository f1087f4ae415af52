package kv

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type btreeItem struct {
	key []byte
	val []byte
}

func (bi btreeItem) Less(item btree.Item) bool {
	return bytes.Compare(bi.key, item.(btreeItem).key) < 0
}

// btreeKV keeps everything in memory; nothing survives Close. A Write is applied to a clone
// of the tree which then replaces it, so Get and Scan always see whole batches.
type btreeKV struct {
	mutex sync.Mutex
	tree  *btree.BTree
}

func MakeBTreeKV() (KV, error) {
	return &btreeKV{
		tree: btree.New(16),
	}, nil
}

func (bkv *btreeKV) current() *btree.BTree {
	bkv.mutex.Lock()
	defer bkv.mutex.Unlock()

	return bkv.tree
}

func (bkv *btreeKV) Get(key []byte) ([]byte, error) {
	item := bkv.current().Get(btreeItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return append([]byte{}, item.(btreeItem).val...), nil
}

func (bkv *btreeKV) Scan(prefix []byte, fn func(key, val []byte) error) error {
	var err error
	bkv.current().AscendGreaterOrEqual(btreeItem{key: prefix},
		func(item btree.Item) bool {
			bi := item.(btreeItem)
			if !bytes.HasPrefix(bi.key, prefix) {
				return false
			}
			err = fn(bi.key, bi.val)
			return err == nil
		})
	return err
}

func (bkv *btreeKV) Write(b *Batch, sync bool) error {
	bkv.mutex.Lock()
	defer bkv.mutex.Unlock()

	tree := bkv.tree.Clone()
	for i := range b.keys {
		tree.ReplaceOrInsert(btreeItem{key: b.keys[i], val: b.vals[i]})
	}
	bkv.tree = tree
	return nil
}

func (bkv *btreeKV) Close() error {
	return nil
}
