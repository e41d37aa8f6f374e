package queue

import (
	"testing"
	"time"
)

func TestImmediateEntriesRunInFIFOOrder(t *testing.T) {
	q := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.RegisterImmediateEntry(func(time.Time) { order = append(order, i) }, nil)
	}
	rem := q.ProcessQueue(time.Now())
	if !rem.IsZero() {
		t.Errorf("remaining = %v, want zero", rem)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

func TestImmediateBeforeTimed(t *testing.T) {
	q := New()
	base := time.Now()
	var order []string
	q.RegisterTimedEntry(base, func(time.Time) { order = append(order, "timed") }, nil)
	q.RegisterImmediateEntry(func(time.Time) { order = append(order, "immediate") }, nil)

	q.ProcessQueue(base)
	if len(order) != 2 || order[0] != "immediate" || order[1] != "timed" {
		t.Errorf("order = %v, want [immediate timed]", order)
	}
}

func TestTimedEntriesOrderedByDeadline(t *testing.T) {
	q := New()
	base := time.Now()
	var order []int
	q.RegisterTimedEntry(base.Add(2*time.Second), func(time.Time) { order = append(order, 2) }, nil)
	q.RegisterTimedEntry(base.Add(1*time.Second), func(time.Time) { order = append(order, 1) }, nil)

	q.ProcessQueue(base.Add(3 * time.Second))
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestProcessQueueStopsAtNotYetDue(t *testing.T) {
	q := New()
	base := time.Now()
	fired := false
	q.RegisterTimedEntry(base.Add(time.Hour), func(time.Time) { fired = true }, nil)

	rem := q.ProcessQueue(base)
	if fired {
		t.Error("callback fired before its deadline")
	}
	if rem.IsZero() {
		t.Error("remaining deadline should not be zero")
	}
}

func TestCallbackMayReregisterItself(t *testing.T) {
	q := New()
	count := 0
	var cb func(time.Time)
	cb = func(time.Time) {
		count++
		if count < 3 {
			q.RegisterImmediateEntry(cb, nil)
		}
	}
	q.RegisterImmediateEntry(cb, nil)
	q.ProcessQueue(time.Now())
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestCleanUpOwnerRemovesWithoutInvoking(t *testing.T) {
	q := New()
	owner := new(int)
	otherOwner := new(int)
	called := false
	q.RegisterImmediateEntry(func(time.Time) { called = true }, owner)
	q.RegisterImmediateEntry(func(time.Time) {}, otherOwner)

	q.CleanUpOwner(owner)
	q.ProcessQueue(time.Now())

	if called {
		t.Error("owned entry's callback should not run after CleanUpOwner")
	}
	if q.Len() != 0 {
		t.Errorf("len = %d, want 0 (other owner's entry should have run)", q.Len())
	}
}

func TestCleanUpOwnerNilMatchesNothing(t *testing.T) {
	q := New()
	q.RegisterImmediateEntry(func(time.Time) {}, nil)
	q.CleanUpOwner(nil)
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
}

func TestCancelRemovesBeforeProcessing(t *testing.T) {
	q := New()
	called := false
	e := q.RegisterImmediateEntry(func(time.Time) { called = true }, nil)
	q.Cancel(e)
	q.ProcessQueue(time.Now())
	if called {
		t.Error("canceled entry's callback should not run")
	}
}
