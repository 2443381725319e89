package threading

import (
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// Mutex is a mutual exclusion lock with try and timed acquisition variants.
//
// The zero value is not usable; construct via [NewMutex] or
// [NewRecursiveMutex]. Operations on the zero value return [ErrInvalid].
//
// Locking a non-recursive Mutex that the calling goroutine already holds is
// undefined behavior by contract - it will deadlock. It is documented, not
// prevented; callers that need nested acquisition must construct the
// recursive variant.
type Mutex struct {
	// ch holds a single token; an empty channel means locked. Receiving
	// the token acquires the lock, which establishes the happens-before
	// edge for depth (only ever touched while holding the lock).
	ch        chan struct{}
	owner     atomic.Int64
	depth     int
	recursive bool
}

// NewMutex returns a non-recursive mutex, initially unlocked.
func NewMutex() *Mutex {
	return newMutex(false)
}

// NewRecursiveMutex returns a mutex that may be re-acquired by its current
// owner; the lock is released when unlocks match locks.
func NewRecursiveMutex() *Mutex {
	return newMutex(true)
}

func newMutex(recursive bool) *Mutex {
	m := &Mutex{
		ch:        make(chan struct{}, 1),
		recursive: recursive,
	}
	m.ch <- struct{}{}
	return m
}

// IsRecursive reports whether the mutex was constructed recursive.
func (x *Mutex) IsRecursive() bool {
	return x != nil && x.recursive
}

// Lock blocks until the mutex is acquired. Mutex acquisition is not a
// cancellation point.
func (x *Mutex) Lock() error {
	if x == nil || x.ch == nil {
		return ErrInvalid
	}
	gid := goid.Get()
	if x.recursive && x.owner.Load() == gid {
		x.depth++
		return nil
	}
	<-x.ch
	x.owner.Store(gid)
	x.depth = 1
	return nil
}

// TryLock acquires the mutex if it is immediately available, returning
// [ErrBusy] otherwise.
func (x *Mutex) TryLock() error {
	if x == nil || x.ch == nil {
		return ErrInvalid
	}
	gid := goid.Get()
	if x.recursive && x.owner.Load() == gid {
		x.depth++
		return nil
	}
	select {
	case <-x.ch:
		x.owner.Store(gid)
		x.depth = 1
		return nil
	default:
		return ErrBusy
	}
}

// LockTimeout acquires the mutex, returning [ErrTimeout] if it could not be
// acquired within d. A non-positive d behaves like [Mutex.TryLock], except
// that it returns [ErrTimeout] rather than [ErrBusy].
func (x *Mutex) LockTimeout(d time.Duration) error {
	if x == nil || x.ch == nil {
		return ErrInvalid
	}
	gid := goid.Get()
	if x.recursive && x.owner.Load() == gid {
		x.depth++
		return nil
	}
	if d <= 0 {
		select {
		case <-x.ch:
			x.owner.Store(gid)
			x.depth = 1
			return nil
		default:
			return ErrTimeout
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-x.ch:
		x.owner.Store(gid)
		x.depth = 1
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// Unlock releases the mutex. For a recursive mutex, the lock is only
// released once unlocks match locks; unlocking from a non-owner goroutine,
// or unlocking an unlocked mutex, returns [ErrMisc].
func (x *Mutex) Unlock() error {
	if x == nil || x.ch == nil {
		return ErrInvalid
	}
	if x.recursive {
		if x.owner.Load() != goid.Get() || x.depth <= 0 {
			return ErrMisc
		}
		x.depth--
		if x.depth > 0 {
			return nil
		}
	}
	x.owner.Store(0)
	select {
	case x.ch <- struct{}{}:
		return nil
	default:
		return ErrMisc
	}
}

// Scope acquires the mutex, runs fn, and releases the mutex on all exit
// paths, including panic unwinding. Returns the acquisition error, if any,
// without running fn.
func (x *Mutex) Scope(fn func()) error {
	if err := x.Lock(); err != nil {
		return err
	}
	defer x.Unlock()
	fn()
	return nil
}

// RecreateIfLocked replaces the lock state with a fresh, unlocked one if
// the mutex is currently held, returning true if a replacement occurred.
// Used when the previous holder is known to have abandoned the lock, e.g. a
// worker thread that terminated without running its cleanup.
//
// The caller must guarantee no concurrent use of the mutex; it is intended
// to be called only under an external serialization lock (the worker start
// lock).
func (x *Mutex) RecreateIfLocked() bool {
	if x == nil || x.ch == nil {
		return false
	}
	select {
	case <-x.ch:
		x.ch <- struct{}{}
		return false
	default:
		x.ch = make(chan struct{}, 1)
		x.ch <- struct{}{}
		x.owner.Store(0)
		x.depth = 0
		return true
	}
}
