package threading

import (
	"sync"
	"time"
)

// Cond is a condition variable bound to exactly one [Mutex] at
// construction.
//
// Wakeups are not remembered: a Signal or Broadcast with no goroutine
// blocked in Wait is lost. Avoiding lost wakeups is the caller's
// responsibility, by always checking a predicate under the bound mutex -
// see [Cond.WaitFor].
//
// Condition waits performed on a worker thread are cancellation points; the
// bound mutex is reacquired before the thread unwinds.
type Cond struct {
	m       *Mutex
	mu      sync.Mutex
	waiters []chan struct{}
}

// NewCond returns a condition variable bound to m. Panics if m is nil.
func NewCond(m *Mutex) *Cond {
	if m == nil {
		panic(`threading: nil mutex`)
	}
	return &Cond{m: m}
}

// Wait atomically releases the bound mutex and blocks until woken by
// [Cond.Signal] or [Cond.Broadcast], reacquiring the mutex before
// returning. The caller must hold the bound mutex.
func (x *Cond) Wait() error {
	return x.wait(nil)
}

// WaitTimeout is like [Cond.Wait] but returns [ErrTimeout] if d elapses
// without a wakeup. The bound mutex is reacquired before returning in all
// cases.
func (x *Cond) WaitTimeout(d time.Duration) error {
	if x == nil || x.m == nil {
		return ErrInvalid
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	return x.wait(timer.C)
}

// WaitFor blocks until pred returns true, waiting on the condition between
// evaluations. The caller must hold the bound mutex; pred is always
// evaluated with the mutex held.
func (x *Cond) WaitFor(pred func() bool) error {
	if pred == nil {
		panic(`threading: nil predicate`)
	}
	for !pred() {
		if err := x.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (x *Cond) wait(timeout <-chan time.Time) error {
	if x == nil || x.m == nil {
		return ErrInvalid
	}
	ch := make(chan struct{})
	x.mu.Lock()
	x.waiters = append(x.waiters, ch)
	x.mu.Unlock()

	cancel := currentCancelChan()

	if err := x.m.Unlock(); err != nil {
		x.removeWaiter(ch)
		return err
	}

	var result error
	select {
	case <-ch:
	case <-timeout:
		// A concurrent Signal may have consumed our slot already; treat
		// that as a wakeup so the signal is not lost.
		if !x.removeWaiter(ch) {
			break
		}
		result = ErrTimeout
	case <-cancel:
		// A concurrent Signal may have consumed our slot; cancellation
		// must not swallow it, so hand the wakeup to another waiter.
		if !x.removeWaiter(ch) {
			x.Signal()
		}
		_ = x.m.Lock()
		panic(cancelUnwind{})
	}

	if err := x.m.Lock(); err != nil {
		return err
	}
	return result
}

func (x *Cond) removeWaiter(ch chan struct{}) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, w := range x.waiters {
		if w == ch {
			x.waiters = append(x.waiters[:i], x.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Signal wakes one goroutine blocked in Wait, if any. May be called with or
// without the bound mutex held.
func (x *Cond) Signal() {
	if x == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.waiters) == 0 {
		return
	}
	close(x.waiters[0])
	x.waiters = x.waiters[1:]
}

// Broadcast wakes all goroutines blocked in Wait.
func (x *Cond) Broadcast() {
	if x == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, w := range x.waiters {
		close(w)
	}
	x.waiters = nil
}
