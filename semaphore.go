package threading

import (
	"sync"
	"time"
)

// Semaphore is a counting semaphore with try, timed, and uncancellable wait
// variants.
//
// The zero value is not usable; construct via [NewSemaphore]. Semaphore
// waits performed on a worker thread are cancellation points: if the worker
// is canceled while blocked (and cancellation is not disabled), the wait
// unwinds the worker thread rather than returning.
type Semaphore struct {
	mu     sync.Mutex
	notify chan struct{}
	count  int
	max    int
}

// NewSemaphore returns a semaphore with the given initial count. A max of 0
// leaves the counter unbounded; otherwise posts past max return
// [ErrOverflow]. Panics on a negative count, a negative max, or an initial
// count exceeding max.
func NewSemaphore(initial, max int) *Semaphore {
	if initial < 0 || max < 0 {
		panic(`threading: negative semaphore count`)
	}
	if max > 0 && initial > max {
		panic(`threading: initial semaphore count exceeds maximum`)
	}
	return &Semaphore{
		notify: make(chan struct{}),
		count:  initial,
		max:    max,
	}
}

// Post increments the counter, waking blocked waiters.
func (x *Semaphore) Post() error {
	return x.PostN(1)
}

// PostN increments the counter by n, waking blocked waiters. Returns
// [ErrOverflow], without posting, if the result would exceed the maximum.
func (x *Semaphore) PostN(n int) error {
	if x == nil || x.notify == nil {
		return ErrInvalid
	}
	if n <= 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.max > 0 && x.count+n > x.max {
		return ErrOverflow
	}
	x.count += n
	close(x.notify)
	x.notify = make(chan struct{})
	return nil
}

// TryWait decrements the counter if it is positive, returning [ErrBusy]
// otherwise. Never blocks; not a cancellation point.
func (x *Semaphore) TryWait() error {
	if x == nil || x.notify == nil {
		return ErrInvalid
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.count > 0 {
		x.count--
		return nil
	}
	return ErrBusy
}

// Wait blocks until the counter can be decremented.
func (x *Semaphore) Wait() error {
	return x.wait(nil)
}

// WaitTimeout blocks until the counter can be decremented, returning
// [ErrTimeout] if d elapses first.
func (x *Semaphore) WaitTimeout(d time.Duration) error {
	if x == nil || x.notify == nil {
		return ErrInvalid
	}
	if d <= 0 {
		if err := x.TryWait(); err != nil {
			return ErrTimeout
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	return x.wait(timer.C)
}

// WaitNoCancel behaves like [Semaphore.Wait], but disables the calling
// worker's cancellation points for the duration of the wait, restoring the
// prior cancellation state after. Needed when the wait is performed inside
// a worker whose cancellation must not interrupt it mid-wait while holding
// unrelated resources. Outside a worker thread it is identical to Wait.
func (x *Semaphore) WaitNoCancel() error {
	defer disableCancellation()()
	return x.Wait()
}

// WaitNoCancelTimeout is the timed form of [Semaphore.WaitNoCancel].
func (x *Semaphore) WaitNoCancelTimeout(d time.Duration) error {
	defer disableCancellation()()
	return x.WaitTimeout(d)
}

func (x *Semaphore) wait(timeout <-chan time.Time) error {
	if x == nil || x.notify == nil {
		return ErrInvalid
	}
	cancel := currentCancelChan()
	for {
		x.mu.Lock()
		if x.count > 0 {
			x.count--
			x.mu.Unlock()
			return nil
		}
		notify := x.notify
		x.mu.Unlock()
		select {
		case <-notify:
		case <-timeout:
			return ErrTimeout
		case <-cancel:
			panic(cancelUnwind{})
		}
	}
}

// Count returns the current counter value. The value is immediately stale;
// it is intended for diagnostics.
func (x *Semaphore) Count() int {
	if x == nil || x.notify == nil {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.count
}

// Reset zeroes the counter, discarding pending posts. Waiters already
// blocked remain blocked until the next post.
func (x *Semaphore) Reset() {
	if x == nil || x.notify == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.count = 0
}
