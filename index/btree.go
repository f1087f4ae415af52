package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/storage/dm"
	"github.com/leftmike/mvdb/storage/tm"
)

const (
	MaxKey = math.MaxUint64
)

var (
	ErrBadKey = errors.New("index: bad key")
)

// Tree is a B+Tree whose nodes are data items. There is no lock over the whole tree: each
// node is changed atomically under its own lock, and a reader or writer which arrives at a
// node after the node was split follows the sibling pointer to the right. The root is found
// through the boot item, which is only changed while holding bootMutex.
type Tree struct {
	dm        *dm.DM
	bootUID   uint64
	boot      *dm.DataItem
	bootMutex sync.Mutex
}

// Create makes an empty tree and returns the uid of its boot item.
func Create(dmgr *dm.DM) (uint64, error) {
	root, err := dmgr.Insert(tm.SuperXID, newEmptyRootBytes())
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], root)
	return dmgr.Insert(tm.SuperXID, buf[:])
}

func Load(bootUID uint64, dmgr *dm.DM) (*Tree, error) {
	boot, err := dmgr.Read(bootUID)
	if err != nil {
		return nil, err
	} else if boot == nil {
		return nil, fmt.Errorf("index: missing boot item %d", bootUID)
	} else if len(boot.Data()) != 8 {
		boot.Release()
		return nil, fmt.Errorf("index: boot item %d: bad size: %d", bootUID, len(boot.Data()))
	}

	return &Tree{
		dm:      dmgr,
		bootUID: bootUID,
		boot:    boot,
	}, nil
}

func (t *Tree) BootUID() uint64 {
	return t.bootUID
}

func (t *Tree) rootUID() uint64 {
	t.bootMutex.Lock()
	defer t.bootMutex.Unlock()

	return t.readRoot()
}

func (t *Tree) readRoot() uint64 {
	t.boot.RLock()
	defer t.boot.RUnlock()

	return binary.BigEndian.Uint64(t.boot.Data())
}

// searchNext returns the child of nodeUID to descend into for key, following siblings.
func (t *Tree) searchNext(nodeUID, key uint64, inclusive bool) (uint64, error) {
	for {
		n, err := t.loadNode(nodeUID)
		if err != nil {
			return 0, err
		}
		next, sibling := n.searchNext(key, inclusive)
		n.release()

		if next != 0 {
			return next, nil
		} else if sibling == 0 {
			return 0, fmt.Errorf("index: node %d: no child for key %d", nodeUID, key)
		}
		nodeUID = sibling
	}
}

// path returns the nodes visited descending from nodeUID to a leaf.
func (t *Tree) path(nodeUID, key uint64, inclusive bool) ([]uint64, error) {
	var p []uint64
	for {
		p = append(p, nodeUID)

		n, err := t.loadNode(nodeUID)
		if err != nil {
			return nil, err
		}
		leaf := n.isLeaf()
		n.release()
		if leaf {
			return p, nil
		}

		nodeUID, err = t.searchNext(nodeUID, key, inclusive)
		if err != nil {
			return nil, err
		}
	}
}

func (t *Tree) Search(key uint64) ([]uint64, error) {
	return t.SearchRange(key, key)
}

// SearchRange returns the uids of every key in [lo, hi], in key order.
func (t *Tree) SearchRange(lo, hi uint64) ([]uint64, error) {
	if lo > hi {
		return nil, nil
	}

	p, err := t.path(t.rootUID(), lo, true)
	if err != nil {
		return nil, err
	}

	var uids []uint64
	leafUID := p[len(p)-1]
	for leafUID != 0 {
		n, err := t.loadNode(leafUID)
		if err != nil {
			return nil, err
		}
		found, sibling := n.leafSearchRange(lo, hi)
		n.release()

		uids = append(uids, found...)
		leafUID = sibling
	}
	return uids, nil
}

func (t *Tree) Insert(key, uid uint64) error {
	if key == MaxKey {
		return fmt.Errorf("%w: %d", ErrBadKey, key)
	}

	root := t.rootUID()
	res, err := t.insert(root, uid, key)
	if err != nil {
		return err
	}
	if res.newSon != 0 {
		return t.insertAbove(res.node, res.newSon, res.newKey)
	}
	return nil
}

type insertResult struct {
	node   uint64 // the node which split
	newSon uint64
	newKey uint64
}

func (t *Tree) insert(nodeUID, uid, key uint64) (insertResult, error) {
	n, err := t.loadNode(nodeUID)
	if err != nil {
		return insertResult{}, err
	}
	leaf := n.isLeaf()
	n.release()

	if leaf {
		return t.insertAndSplit(nodeUID, uid, key, 0)
	}

	next, err := t.searchNext(nodeUID, key, false)
	if err != nil {
		return insertResult{}, err
	}
	res, err := t.insert(next, uid, key)
	if err != nil || res.newSon == 0 {
		return insertResult{}, err
	}
	return t.insertAndSplit(nodeUID, res.newSon, res.newKey, res.node)
}

// insertAndSplit inserts (uid, key) into nodeUID or, if it has been split, one of its
// siblings.
func (t *Tree) insertAndSplit(nodeUID, uid, key, left uint64) (insertResult, error) {
	for {
		n, err := t.loadNode(nodeUID)
		if err != nil {
			return insertResult{}, err
		}
		res, err := n.insertAndSplit(uid, key, left)
		n.release()
		if err != nil {
			return insertResult{}, err
		}

		if res.sibling != 0 {
			nodeUID = res.sibling
			continue
		}
		return insertResult{
			node:   nodeUID,
			newSon: res.newSon,
			newKey: res.newKey,
		}, nil
	}
}

// height returns the number of levels from nodeUID down to the leaves, counting both.
func (t *Tree) height(nodeUID uint64) (int, error) {
	p, err := t.path(nodeUID, 0, true)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// insertAbove adds newSon, split off from left, to the level above left. If left is the
// root, a new root is made. Otherwise another insert has grown the tree since this insert
// began, and the separator goes into the node above left on the path from the current root.
func (t *Tree) insertAbove(left, newSon, newKey uint64) error {
	for {
		t.bootMutex.Lock()
		root := t.readRoot()
		if root == left {
			err := t.newRoot(left, newSon, newKey)
			t.bootMutex.Unlock()
			return err
		}
		t.bootMutex.Unlock()

		h, err := t.height(left)
		if err != nil {
			return err
		}
		p, err := t.path(root, newKey, false)
		if err != nil {
			return err
		}
		if len(p) <= h {
			// The root has split but the new root is not in place yet.
			runtime.Gosched()
			continue
		}

		res, err := t.insertAndSplit(p[len(p)-h-1], newSon, newKey, left)
		if err != nil || res.newSon == 0 {
			return err
		}
		left, newSon, newKey = res.node, res.newSon, res.newKey
	}
}

// newRoot must be called with bootMutex held.
func (t *Tree) newRoot(left, right, key uint64) error {
	root, err := t.dm.Insert(tm.SuperXID, newRootBytes(left, right, key))
	if err != nil {
		return err
	}

	t.boot.Before()
	binary.BigEndian.PutUint64(t.boot.Data(), root)
	err = t.boot.After(tm.SuperXID)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"boot": t.bootUID,
		"root": root,
	}).Debug("index: new root")
	return nil
}

func (t *Tree) Close() {
	t.boot.Release()
}
