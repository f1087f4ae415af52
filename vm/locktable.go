package vm

import (
	"sync"
)

// LockTable serializes writers of the same entry. Each uid is held by at most one
// transaction; other transactions wait for it in arrival order. The wait-for graph is checked
// for a cycle every time a transaction has to wait.
type LockTable struct {
	mutex  sync.Mutex
	x2u    map[uint64][]uint64 // uids held by xid
	u2x    map[uint64]uint64   // xid holding uid
	wait   map[uint64][]uint64 // xids waiting for uid, in arrival order
	waitCh map[uint64]chan struct{}
	waitU  map[uint64]uint64 // uid xid is waiting for
}

func NewLockTable() *LockTable {
	return &LockTable{
		x2u:    map[uint64][]uint64{},
		u2x:    map[uint64]uint64{},
		wait:   map[uint64][]uint64{},
		waitCh: map[uint64]chan struct{}{},
		waitU:  map[uint64]uint64{},
	}
}

// Add requests uid for xid. If xid may proceed immediately, a nil channel is returned.
// Otherwise the returned channel is closed once uid has been handed to xid (or xid has been
// removed). If waiting would deadlock, ErrDeadlock is returned and nothing is recorded.
func (lt *LockTable) Add(xid, uid uint64) (<-chan struct{}, error) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	holder, held := lt.u2x[uid]
	if held && holder == xid {
		return nil, nil
	}
	if !held {
		lt.u2x[uid] = xid
		lt.x2u[xid] = append(lt.x2u[xid], uid)
		return nil, nil
	}

	lt.waitU[xid] = uid
	lt.wait[uid] = append(lt.wait[uid], xid)
	if lt.hasDeadlock() {
		delete(lt.waitU, xid)
		lt.removeWaiter(uid, xid)
		return nil, ErrDeadlock
	}

	ch := make(chan struct{})
	lt.waitCh[xid] = ch
	return ch, nil
}

func (lt *LockTable) removeWaiter(uid, xid uint64) {
	l := lt.wait[uid]
	for idx, x := range l {
		if x == xid {
			l = append(l[:idx], l[idx+1:]...)
			break
		}
	}
	if len(l) == 0 {
		delete(lt.wait, uid)
	} else {
		lt.wait[uid] = l
	}
}

// Remove releases every uid held by xid, handing each to its first waiter which is still
// waiting. If xid is itself waiting, its channel is closed.
func (lt *LockTable) Remove(xid uint64) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	for _, uid := range lt.x2u[xid] {
		lt.selectNewXID(uid)
	}
	delete(lt.x2u, xid)

	if uid, ok := lt.waitU[xid]; ok {
		lt.removeWaiter(uid, xid)
		delete(lt.waitU, xid)
	}
	if ch, ok := lt.waitCh[xid]; ok {
		close(ch)
		delete(lt.waitCh, xid)
	}
}

func (lt *LockTable) selectNewXID(uid uint64) {
	delete(lt.u2x, uid)

	l := lt.wait[uid]
	for len(l) > 0 {
		xid := l[0]
		l = l[1:]

		ch, ok := lt.waitCh[xid]
		if !ok {
			continue
		}
		lt.u2x[uid] = xid
		lt.x2u[xid] = append(lt.x2u[xid], uid)
		delete(lt.waitCh, xid)
		delete(lt.waitU, xid)
		close(ch)
		break
	}

	if len(l) == 0 {
		delete(lt.wait, uid)
	} else {
		lt.wait[uid] = l
	}
}

// hasDeadlock follows, from every transaction holding a uid, the chain of
// xid -> uid it waits for -> holder of that uid. Each chain is stamped; reaching a transaction
// already carrying the current stamp is a cycle.
func (lt *LockTable) hasDeadlock() bool {
	stamps := map[uint64]int{}
	stamp := 1
	for start := range lt.x2u {
		if stamps[start] > 0 {
			continue
		}
		stamp += 1

		xid := start
		for {
			s, ok := stamps[xid]
			if ok && s == stamp {
				return true
			} else if ok {
				break
			}
			stamps[xid] = stamp

			uid, ok := lt.waitU[xid]
			if !ok {
				break
			}
			holder, ok := lt.u2x[uid]
			if !ok {
				break
			}
			xid = holder
		}
	}
	return false
}
