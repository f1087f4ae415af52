package vm

import (
	"testing"
)

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestLockTable(t *testing.T) {
	lt := NewLockTable()

	ch, err := lt.Add(1, 100)
	if ch != nil || err != nil {
		t.Fatalf("Add(1, 100) got %v, %v want nil, nil", ch, err)
	}
	ch, err = lt.Add(1, 100)
	if ch != nil || err != nil {
		t.Fatalf("Add(1, 100) again got %v, %v want nil, nil", ch, err)
	}

	ch2, err := lt.Add(2, 100)
	if ch2 == nil || err != nil {
		t.Fatalf("Add(2, 100) got %v, %v want channel", ch2, err)
	}
	ch3, err := lt.Add(3, 100)
	if ch3 == nil || err != nil {
		t.Fatalf("Add(3, 100) got %v, %v want channel", ch3, err)
	}

	lt.Remove(1)
	if !closed(ch2) {
		t.Error("Remove(1): first waiter not granted")
	}
	if closed(ch3) {
		t.Error("Remove(1): second waiter granted")
	}
	if lt.u2x[100] != 2 {
		t.Errorf("u2x[100] got %d want 2", lt.u2x[100])
	}

	lt.Remove(2)
	if !closed(ch3) {
		t.Error("Remove(2): second waiter not granted")
	}
	lt.Remove(3)
	if len(lt.u2x) != 0 || len(lt.x2u) != 0 || len(lt.wait) != 0 || len(lt.waitCh) != 0 ||
		len(lt.waitU) != 0 {

		t.Errorf("lock table not empty: %v %v %v %v %v", lt.u2x, lt.x2u, lt.wait, lt.waitCh,
			lt.waitU)
	}
}

func TestLockTableStaleWaiter(t *testing.T) {
	lt := NewLockTable()

	lt.Add(1, 100)
	ch2, _ := lt.Add(2, 100)
	ch3, _ := lt.Add(3, 100)

	lt.Remove(2)
	if !closed(ch2) {
		t.Error("Remove(2): waiting channel not closed")
	}
	lt.Remove(1)
	if !closed(ch3) {
		t.Error("Remove(1): waiter not granted")
	}
	if lt.u2x[100] != 3 {
		t.Errorf("u2x[100] got %d want 3", lt.u2x[100])
	}
}

func TestLockTableDeadlock(t *testing.T) {
	lt := NewLockTable()

	lt.Add(1, 100)
	lt.Add(2, 200)
	lt.Add(3, 300)

	if _, err := lt.Add(1, 200); err != nil {
		t.Fatalf("Add(1, 200) failed with %s", err)
	}
	if _, err := lt.Add(2, 300); err != nil {
		t.Fatalf("Add(2, 300) failed with %s", err)
	}
	if _, err := lt.Add(3, 100); err != ErrDeadlock {
		t.Fatalf("Add(3, 100) got %v want %s", err, ErrDeadlock)
	}
	if _, ok := lt.waitU[3]; ok {
		t.Error("Add(3, 100): wait not undone")
	}
	if len(lt.wait[100]) != 0 {
		t.Errorf("wait[100] got %v want empty", lt.wait[100])
	}

	// Breaking the chain lets 2 and then 1 proceed.
	lt.Remove(3)
	if lt.u2x[300] != 2 {
		t.Errorf("u2x[300] got %d want 2", lt.u2x[300])
	}
	lt.Remove(2)
	if lt.u2x[200] != 1 {
		t.Errorf("u2x[200] got %d want 1", lt.u2x[200])
	}
}
