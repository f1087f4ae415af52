package vm

// isVisible reports whether t can see e. A transaction always sees its own undeleted entries.
// Read committed sees entries created by committed transactions and not deleted by a
// committed transaction. Repeatable read additionally ignores every transaction which
// began after it or was active when it began.
func isVisible(tm TransactionManager, t *transaction, e entry) bool {
	xmin := e.xmin()
	xmax := e.xmax()
	if xmin == t.xid && xmax == 0 {
		return true
	}

	if t.level == ReadCommitted {
		return tm.IsCommitted(xmin) &&
			(xmax == 0 || (xmax != t.xid && !tm.IsCommitted(xmax)))
	}

	if !tm.IsCommitted(xmin) || xmin >= t.xid || t.inSnapshot(xmin) {
		return false
	}
	return xmax == 0 ||
		(xmax != t.xid && (!tm.IsCommitted(xmax) || xmax > t.xid || t.inSnapshot(xmax)))
}

// isVersionSkip reports whether e was deleted by a committed transaction which t can not
// see; deleting e again would skip over that version. Read committed never skips.
func isVersionSkip(tm TransactionManager, t *transaction, e entry) bool {
	if t.level == ReadCommitted {
		return false
	}
	xmax := e.xmax()
	return tm.IsCommitted(xmax) && (xmax > t.xid || t.inSnapshot(xmax))
}
