package vm

import (
	"github.com/leftmike/mvdb/storage/tm"
)

type Level int

const (
	ReadCommitted Level = iota
	RepeatableRead
)

func (l Level) String() string {
	if l == RepeatableRead {
		return "repeatable-read"
	}
	return "read-committed"
}

type transaction struct {
	xid      uint64
	level    Level
	snapshot map[uint64]struct{} // xids active when a repeatable read transaction began
	err      error
	aborted  bool // aborted because of a conflict
}

func newTransaction(xid uint64, level Level, active map[uint64]*transaction) *transaction {
	t := &transaction{
		xid:   xid,
		level: level,
	}
	if level == RepeatableRead {
		t.snapshot = map[uint64]struct{}{}
		for x := range active {
			if x != tm.SuperXID {
				t.snapshot[x] = struct{}{}
			}
		}
	}
	return t
}

func (t *transaction) inSnapshot(xid uint64) bool {
	if xid == tm.SuperXID {
		return false
	}
	_, ok := t.snapshot[xid]
	return ok
}
