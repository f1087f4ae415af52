package index

import (
	"encoding/binary"
	"fmt"

	"github.com/leftmike/mvdb/storage/dm"
	"github.com/leftmike/mvdb/storage/tm"
)

// Nodes are stored as data items:
// - is leaf: byte (1 = leaf)
// - number of keys: uint16
// - sibling: uid of the node split off from this one, or 0: uint64
// - 2*BalanceNumber+2 slots:
//   - son: uint64 (uid of a child node, or of a row in a leaf)
//   - key: uint64
//
// In an internal node, son i holds keys up to and including key i; the last key of a
// rightmost internal node is MaxKey.

const (
	BalanceNumber = 32

	isLeafOffset  = 0
	numKeysOffset = isLeafOffset + 1
	siblingOffset = numKeysOffset + 2
	nodeHdrSize   = siblingOffset + 8
	slotSize      = 16

	NodeSize = nodeHdrSize + slotSize*(BalanceNumber*2+2)
)

type nodeBytes []byte

func (nb nodeBytes) isLeaf() bool {
	return nb[isLeafOffset] == 1
}

func (nb nodeBytes) setLeaf(leaf bool) {
	if leaf {
		nb[isLeafOffset] = 1
	} else {
		nb[isLeafOffset] = 0
	}
}

func (nb nodeBytes) numKeys() int {
	return int(binary.BigEndian.Uint16(nb[numKeysOffset:]))
}

func (nb nodeBytes) setNumKeys(n int) {
	binary.BigEndian.PutUint16(nb[numKeysOffset:], uint16(n))
}

func (nb nodeBytes) sibling() uint64 {
	return binary.BigEndian.Uint64(nb[siblingOffset:])
}

func (nb nodeBytes) setSibling(uid uint64) {
	binary.BigEndian.PutUint64(nb[siblingOffset:], uid)
}

func (nb nodeBytes) son(k int) uint64 {
	return binary.BigEndian.Uint64(nb[nodeHdrSize+k*slotSize:])
}

func (nb nodeBytes) setSon(k int, uid uint64) {
	binary.BigEndian.PutUint64(nb[nodeHdrSize+k*slotSize:], uid)
}

func (nb nodeBytes) key(k int) uint64 {
	return binary.BigEndian.Uint64(nb[nodeHdrSize+k*slotSize+8:])
}

func (nb nodeBytes) setKey(k int, key uint64) {
	binary.BigEndian.PutUint64(nb[nodeHdrSize+k*slotSize+8:], key)
}

// shift moves slots k and above up by one slot.
func (nb nodeBytes) shift(k int) {
	off := nodeHdrSize + k*slotSize
	copy(nb[off+slotSize:NodeSize], nb[off:NodeSize-slotSize])
}

func newRootBytes(left, right, key uint64) []byte {
	nb := nodeBytes(make([]byte, NodeSize))
	nb.setLeaf(false)
	nb.setNumKeys(2)
	nb.setSon(0, left)
	nb.setKey(0, key)
	nb.setSon(1, right)
	nb.setKey(1, MaxKey)
	return nb
}

func newEmptyRootBytes() []byte {
	nb := nodeBytes(make([]byte, NodeSize))
	nb.setLeaf(true)
	return nb
}

type node struct {
	tree *Tree
	di   *dm.DataItem
	uid  uint64
}

func (t *Tree) loadNode(uid uint64) (node, error) {
	di, err := t.dm.Read(uid)
	if err != nil {
		return node{}, err
	} else if di == nil {
		return node{}, fmt.Errorf("index: missing node %d", uid)
	} else if len(di.Data()) != NodeSize {
		di.Release()
		return node{}, fmt.Errorf("index: node %d: bad size: %d", uid, len(di.Data()))
	}
	return node{
		tree: t,
		di:   di,
		uid:  uid,
	}, nil
}

func (n node) bytes() nodeBytes {
	return nodeBytes(n.di.Data())
}

func (n node) release() {
	n.di.Release()
}

func (n node) isLeaf() bool {
	n.di.RLock()
	defer n.di.RUnlock()

	return n.bytes().isLeaf()
}

// searchNext returns the child to descend into for key: the first son whose key is greater
// than key or, if inclusive, greater than or equal to key. If no son qualifies, the node was
// split and the sibling is returned instead.
func (n node) searchNext(key uint64, inclusive bool) (uint64, uint64) {
	n.di.RLock()
	defer n.di.RUnlock()

	nb := n.bytes()
	cnt := nb.numKeys()
	for k := 0; k < cnt; k += 1 {
		ik := nb.key(k)
		if key < ik || (inclusive && key == ik) {
			return nb.son(k), 0
		}
	}
	return 0, nb.sibling()
}

// leafSearchRange returns the sons of keys in [lo, hi]. If every key from lo on is in range,
// the range may continue in the sibling, which is returned.
func (n node) leafSearchRange(lo, hi uint64) ([]uint64, uint64) {
	n.di.RLock()
	defer n.di.RUnlock()

	nb := n.bytes()
	cnt := nb.numKeys()
	k := 0
	for k < cnt && nb.key(k) < lo {
		k += 1
	}

	var uids []uint64
	for ; k < cnt; k += 1 {
		if nb.key(k) > hi {
			break
		}
		uids = append(uids, nb.son(k))
	}

	var sibling uint64
	if k == cnt {
		sibling = nb.sibling()
	}
	return uids, sibling
}

type splitResult struct {
	sibling uint64 // the insert belongs in the sibling
	newSon  uint64
	newKey  uint64
}

// insertAndSplit adds (uid, key) to the node. For an internal node, left is the child which
// split into left and uid; the new separator is placed immediately after left. If the node
// is full afterwards, its upper half is moved to a new node.
func (n node) insertAndSplit(uid, key, left uint64) (splitResult, error) {
	n.di.Before()

	nb := n.bytes()
	if !n.insert(nb, uid, key, left) {
		sib := nb.sibling()
		n.di.UnBefore()
		return splitResult{sibling: sib}, nil
	}

	var res splitResult
	if nb.numKeys() == BalanceNumber*2 {
		var err error
		res.newSon, res.newKey, err = n.split(nb)
		if err != nil {
			n.di.UnBefore()
			return splitResult{}, err
		}
	}

	err := n.di.After(tm.SuperXID)
	if err != nil {
		return splitResult{}, err
	}
	return res, nil
}

func (n node) insert(nb nodeBytes, uid, key, left uint64) bool {
	cnt := nb.numKeys()

	if !nb.isLeaf() && left != 0 {
		for k := 0; k < cnt; k += 1 {
			if nb.son(k) == left {
				n.insertAfter(nb, k, uid, key)
				return true
			}
		}
		if nb.sibling() != 0 {
			return false
		}
	}

	k := 0
	for k < cnt && nb.key(k) < key {
		k += 1
	}
	if k == cnt && nb.sibling() != 0 {
		return false
	}

	if nb.isLeaf() {
		nb.shift(k)
		nb.setKey(k, key)
		nb.setSon(k, uid)
		nb.setNumKeys(cnt + 1)
	} else {
		n.insertAfter(nb, k, uid, key)
	}
	return true
}

// insertAfter splits son k: son k keeps keys up to key, and uid takes the rest of what son k
// had.
func (n node) insertAfter(nb nodeBytes, k int, uid, key uint64) {
	kk := nb.key(k)
	nb.setKey(k, key)
	nb.shift(k + 1)
	nb.setKey(k+1, kk)
	nb.setSon(k+1, uid)
	nb.setNumKeys(nb.numKeys() + 1)
}

func (n node) split(nb nodeBytes) (uint64, uint64, error) {
	sb := nodeBytes(make([]byte, NodeSize))
	sb.setLeaf(nb.isLeaf())
	sb.setNumKeys(BalanceNumber)
	sb.setSibling(nb.sibling())
	copy(sb[nodeHdrSize:], nb[nodeHdrSize+BalanceNumber*slotSize:])

	son, err := n.tree.dm.Insert(tm.SuperXID, sb)
	if err != nil {
		return 0, 0, err
	}

	nb.setNumKeys(BalanceNumber)
	nb.setSibling(son)
	return son, sb.key(0), nil
}
