package kv

import (
	"errors"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound = errors.New("kv: not found")
)

// Batch is a set of key value pairs written to a store together.
type Batch struct {
	keys [][]byte
	vals [][]byte
}

func (b *Batch) Set(key, val []byte) {
	b.keys = append(b.keys, append([]byte{}, key...))
	b.vals = append(b.vals, append([]byte{}, val...))
}

func (b *Batch) Len() int {
	return len(b.keys)
}

// KV is an ordered key value store holding the transaction states and boot UIDs.
type KV interface {
	// Get returns a copy of the value of key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Scan calls fn, in key order, with every key which starts with prefix. If fn returns an
	// error, the scan stops and Scan returns the error. key and val are only valid during the
	// call to fn.
	Scan(prefix []byte, fn func(key, val []byte) error) error

	// Write applies every pair in b atomically; if sync is set, the pairs are durable when
	// Write returns.
	Write(b *Batch, sync bool) error

	Close() error
}

var Kinds = []string{"bbolt", "badger", "pebble", "memory"}

// Durable reports whether a store of the given kind keeps its contents after Close.
func Durable(kind string) bool {
	return kind != "memory"
}

// Open opens (or creates) a store of the given kind in dir.
func Open(kind, dir string, logger *log.Logger) (KV, error) {
	switch kind {
	case "bbolt":
		return MakeBBoltKV(filepath.Join(dir, "mvdb.bbolt"))
	case "badger":
		return MakeBadgerKV(dir, logger)
	case "pebble":
		return MakePebbleKV(dir, logger)
	case "memory":
		return MakeBTreeKV()
	}
	return nil, fmt.Errorf("kv: unknown store: %s; want one of %v", kind, Kinds)
}
