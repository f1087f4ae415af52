package vm

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/storage/dm"
	"github.com/leftmike/mvdb/storage/tm"
)

var (
	ErrDeadlock           = errors.New("vm: deadlock")
	ErrConcurrentUpdate   = errors.New("vm: concurrent update")
	ErrUnknownTransaction = errors.New("vm: unknown transaction")
)

type TransactionManager interface {
	Begin() (uint64, error)
	Commit(xid uint64) error
	Abort(xid uint64) error
	IsCommitted(xid uint64) bool
}

// VM keeps multiple versions of every entry: an entry records the transaction which created
// it (xmin) and the transaction which deleted it (xmax). Entries are never changed in place
// except to set xmax once.
type VM struct {
	tm     TransactionManager
	dm     *dm.DM
	lt     *LockTable
	mutex  sync.Mutex
	active map[uint64]*transaction
}

func New(tmgr TransactionManager, dmgr *dm.DM) *VM {
	return &VM{
		tm: tmgr,
		dm: dmgr,
		lt: NewLockTable(),
		active: map[uint64]*transaction{
			tm.SuperXID: newTransaction(tm.SuperXID, ReadCommitted, nil),
		},
	}
}

func (vm *VM) Begin(level Level) (uint64, error) {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	xid, err := vm.tm.Begin()
	if err != nil {
		return 0, err
	}
	vm.active[xid] = newTransaction(xid, level, vm.active)

	log.WithFields(log.Fields{
		"xid":   xid,
		"level": level,
	}).Debug("vm: begin")
	return xid, nil
}

func (vm *VM) transaction(xid uint64) (*transaction, error) {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	t, ok := vm.active[xid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, xid)
	}
	if t.err != nil {
		return nil, t.err
	}
	return t, nil
}

func (vm *VM) entry(uid uint64) (entry, bool, error) {
	di, err := vm.dm.Read(uid)
	if err != nil {
		return entry{}, false, err
	} else if di == nil {
		return entry{}, false, nil
	} else if len(di.Data()) < entryHdrSize {
		di.Release()
		return entry{}, false, fmt.Errorf("vm: %d is not an entry: %d bytes", uid,
			len(di.Data()))
	}
	return entry{di: di}, true, nil
}

// Read returns the data of the entry uid, or nil if the entry is not visible to xid.
func (vm *VM) Read(xid, uid uint64) ([]byte, error) {
	t, err := vm.transaction(xid)
	if err != nil {
		return nil, err
	}

	e, ok, err := vm.entry(uid)
	if !ok {
		return nil, err
	}
	defer e.release()

	if !isVisible(vm.tm, t, e) {
		return nil, nil
	}
	return e.data(), nil
}

func (vm *VM) Insert(xid uint64, data []byte) (uint64, error) {
	_, err := vm.transaction(xid)
	if err != nil {
		return 0, err
	}
	return vm.dm.Insert(xid, wrapEntry(xid, data))
}

// Delete marks the entry uid as deleted by xid. It returns false if the entry is not visible
// to xid or was already deleted by xid. Writers of the same entry are serialized by the lock
// table; a deadlock or a version skip aborts xid.
func (vm *VM) Delete(xid, uid uint64) (bool, error) {
	t, err := vm.transaction(xid)
	if err != nil {
		return false, err
	}

	e, ok, err := vm.entry(uid)
	if !ok {
		return false, err
	}
	defer e.release()

	if !isVisible(vm.tm, t, e) {
		return false, nil
	}

	ch, err := vm.lt.Add(xid, uid)
	if err != nil {
		log.WithFields(log.Fields{
			"xid": xid,
			"uid": uid,
		}).Info("vm: deadlock")
		return false, vm.autoAbort(t, err)
	}
	if ch != nil {
		<-ch

		// The transaction may have been aborted while waiting.
		t, err = vm.transaction(xid)
		if err != nil {
			return false, err
		}
	}

	if e.xmax() == xid {
		return false, nil
	}
	if isVersionSkip(vm.tm, t, e) {
		return false, vm.autoAbort(t, ErrConcurrentUpdate)
	}
	if !isVisible(vm.tm, t, e) {
		// Deleted by a committed transaction while waiting.
		return false, nil
	}

	err = e.setXmax(xid)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (vm *VM) autoAbort(t *transaction, err error) error {
	vm.mutex.Lock()
	t.err = err
	t.aborted = true
	vm.mutex.Unlock()

	vm.lt.Remove(t.xid)
	aerr := vm.tm.Abort(t.xid)
	if aerr != nil {
		log.WithField("xid", t.xid).WithError(aerr).Error("vm: abort failed")
	}
	return err
}

func (vm *VM) Commit(xid uint64) error {
	if xid == tm.SuperXID {
		return fmt.Errorf("vm: can not commit transaction %d", xid)
	}

	vm.mutex.Lock()
	t, ok := vm.active[xid]
	if !ok {
		vm.mutex.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTransaction, xid)
	}
	if t.err != nil {
		vm.mutex.Unlock()
		return t.err
	}
	delete(vm.active, xid)
	vm.mutex.Unlock()

	vm.lt.Remove(xid)
	log.WithField("xid", xid).Debug("vm: commit")
	return vm.tm.Commit(xid)
}

// Abort ends xid; if xid was already aborted because of a conflict, it is only forgotten.
func (vm *VM) Abort(xid uint64) error {
	if xid == tm.SuperXID {
		return fmt.Errorf("vm: can not abort transaction %d", xid)
	}

	vm.mutex.Lock()
	t, ok := vm.active[xid]
	if !ok {
		vm.mutex.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTransaction, xid)
	}
	delete(vm.active, xid)
	vm.mutex.Unlock()

	if t.aborted {
		return nil
	}
	vm.lt.Remove(xid)
	log.WithField("xid", xid).Debug("vm: abort")
	return vm.tm.Abort(xid)
}
