package tm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/storage/kv"
)

const (
	// SuperXID is used for internal structural changes; it is always committed.
	SuperXID = 0

	xidPrefix = 'x'
)

var (
	lastKey  = []byte("last")
	epochKey = []byte("epoch")
)

// TM allocates transaction ids and durably records the state of every transaction. Each
// transaction has a record in the key value store; records still active when the store is
// opened belong to a process which did not shut down cleanly and are rewritten as aborted.
type TM struct {
	mutex  sync.Mutex
	kv     kv.KV
	sync   bool
	epoch  uint64
	last   uint64
	active map[uint64]struct{}
	cache  *ristretto.Cache[uint64, State]
}

func xidKey(xid uint64) []byte {
	key := make([]byte, 9)
	key[0] = xidPrefix
	binary.BigEndian.PutUint64(key[1:], xid)
	return key
}

func getUint64(st kv.KV, key []byte) (uint64, error) {
	val, err := st.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	} else if len(val) != 8 {
		return 0, fmt.Errorf("tm: bad %s: length %d", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func encodeUint64(u uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

// Open starts a transaction manager using st; if noSync is set, commits are not synced.
func Open(st kv.KV, noSync bool) (*TM, error) {
	epoch, err := getUint64(st, epochKey)
	if err != nil {
		return nil, err
	}
	last, err := getUint64(st, lastKey)
	if err != nil {
		return nil, err
	}

	var unfinished []uint64
	err = st.Scan([]byte{xidPrefix},
		func(key, val []byte) error {
			if len(key) != 9 {
				return fmt.Errorf("tm: bad key: %v", key)
			}
			r, err := decodeRecord(val)
			if err != nil {
				return err
			}
			if r.state == Active {
				unfinished = append(unfinished, binary.BigEndian.Uint64(key[1:]))
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	epoch += 1
	var b kv.Batch
	for _, xid := range unfinished {
		b.Set(xidKey(xid), record{state: Aborted, epoch: epoch}.encode())
	}
	b.Set(epochKey, encodeUint64(epoch))
	err = st.Write(&b, true)
	if err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, State]{
		NumCounters: 1 << 17,
		MaxCost:     1 << 13,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"epoch":   epoch,
		"last":    last,
		"aborted": len(unfinished),
	}).Info("transaction manager started")
	return &TM{
		kv:     st,
		sync:   !noSync,
		epoch:  epoch,
		last:   last,
		active: map[uint64]struct{}{},
		cache:  cache,
	}, nil
}

func (tm *TM) Epoch() uint64 {
	return tm.epoch
}

func (tm *TM) write(xid uint64, s State, sync bool, last bool) error {
	var b kv.Batch
	b.Set(xidKey(xid), record{state: s, epoch: tm.epoch}.encode())
	if last {
		b.Set(lastKey, encodeUint64(xid))
	}
	return tm.kv.Write(&b, sync)
}

// Begin allocates a new transaction id and records the transaction as active.
func (tm *TM) Begin() (uint64, error) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	// The new last xid must be durable before anything is logged on behalf of xid, or xid
	// could be handed out again after a crash.
	xid := tm.last + 1
	err := tm.write(xid, Active, tm.sync, true)
	if err != nil {
		return 0, fmt.Errorf("tm: begin: %w", err)
	}
	tm.last = xid
	tm.active[xid] = struct{}{}

	log.WithField("xid", xid).Debug("tm: begin")
	return xid, nil
}

func (tm *TM) finish(xid uint64, s State) error {
	if xid == SuperXID {
		return nil
	}

	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if _, ok := tm.active[xid]; !ok {
		return fmt.Errorf("tm: transaction %d not active", xid)
	}
	// Aborts need not be synced: an active record is aborted when the store is next opened.
	err := tm.write(xid, s, s == Committed && tm.sync, false)
	if err != nil {
		return fmt.Errorf("tm: %s %d: %w", s, xid, err)
	}
	tm.cache.Set(xid, s, 1)
	delete(tm.active, xid)

	log.WithFields(log.Fields{
		"xid":   xid,
		"state": s,
	}).Debug("tm: finish")
	return nil
}

func (tm *TM) Commit(xid uint64) error {
	return tm.finish(xid, Committed)
}

func (tm *TM) Abort(xid uint64) error {
	return tm.finish(xid, Aborted)
}

// State returns the state of xid; ids which were never recorded are reported as aborted.
// Failing to read the key value store is fatal.
func (tm *TM) State(xid uint64) State {
	if xid == SuperXID {
		return Committed
	}

	tm.mutex.Lock()
	_, ok := tm.active[xid]
	tm.mutex.Unlock()
	if ok {
		return Active
	}

	if s, ok := tm.cache.Get(xid); ok {
		return s
	}

	val, err := tm.kv.Get(xidKey(xid))
	if errors.Is(err, kv.ErrNotFound) {
		return Aborted
	} else if err != nil {
		panic(fmt.Sprintf("tm: state of %d: %s", xid, err))
	}
	r, err := decodeRecord(val)
	if err != nil {
		panic(fmt.Sprintf("tm: state of %d: %s", xid, err))
	}
	if r.state != Active {
		tm.cache.Set(xid, r.state, 1)
	}
	return r.state
}

func (tm *TM) IsActive(xid uint64) bool {
	return tm.State(xid) == Active
}

func (tm *TM) IsCommitted(xid uint64) bool {
	return tm.State(xid) == Committed
}

func (tm *TM) IsAborted(xid uint64) bool {
	return tm.State(xid) == Aborted
}

// Close releases the status cache; the key value store belongs to the caller.
func (tm *TM) Close() error {
	tm.mutex.Lock()
	n := len(tm.active)
	tm.mutex.Unlock()
	if n > 0 {
		log.WithField("active", n).Warn("transaction manager closed with active transactions")
	}
	tm.cache.Close()
	return nil
}
