//go:build linux || darwin

package fdmux

import (
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Flags selects which readiness conditions a registration is interested in.
type Flags int

const (
	// Input selects readability.
	Input Flags = 1 << iota
	// Output selects writability.
	Output
	// Exception selects exceptional conditions (e.g. out-of-band data).
	Exception

	// All selects every readiness condition.
	All = Input | Output | Exception
)

// TimeoutInfinite blocks [Dispatcher.Dispatch] until a descriptor becomes
// ready.
const TimeoutInfinite = -1

var (
	// ErrFDOutOfRange indicates a file descriptor outside the range
	// supported by select(2).
	ErrFDOutOfRange = errors.New(`fdmux: file descriptor out of range`)
	// ErrFDNotRegistered indicates an operation on a descriptor with no
	// current registration.
	ErrFDNotRegistered = errors.New(`fdmux: file descriptor not registered`)
)

type (
	// Handler receives readiness callbacks for a registered descriptor.
	// At most one of the methods is invoked per descriptor per
	// [Dispatcher.Dispatch], in the priority order read, write, exception.
	//
	// Handlers are invoked without the dispatcher's lock held, so they may
	// register and unregister descriptors, including their own.
	Handler interface {
		OnReadReady(fd int)
		OnWriteReady(fd int)
		OnExceptionReady(fd int)
	}

	// HandlerFuncs adapts plain functions to [Handler]. Nil fields are
	// no-ops.
	HandlerFuncs struct {
		ReadReady      func(fd int)
		WriteReady     func(fd int)
		ExceptionReady func(fd int)
	}
)

// OnReadReady implements [Handler].
func (x HandlerFuncs) OnReadReady(fd int) {
	if x.ReadReady != nil {
		x.ReadReady(fd)
	}
}

// OnWriteReady implements [Handler].
func (x HandlerFuncs) OnWriteReady(fd int) {
	if x.WriteReady != nil {
		x.WriteReady(fd)
	}
}

// OnExceptionReady implements [Handler].
func (x HandlerFuncs) OnExceptionReady(fd int) {
	if x.ExceptionReady != nil {
		x.ExceptionReady(fd)
	}
}

type entry struct {
	handler Handler
	flags   Flags
}

// Dispatcher multiplexes readiness notifications for a set of registered
// file descriptors over select(2). Registration and dispatch are safe for
// concurrent use, though Dispatch itself is typically pumped from a single
// loop.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[int]entry
	// maxFD is the highest registered descriptor, -1 when empty.
	maxFD int
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[int]entry),
		maxFD:    -1,
	}
}

// Register adds or replaces the registration for fd, interested in the
// conditions selected by flags. Registering with zero flags removes any
// existing registration. Panics if handler is nil with non-zero flags.
func (x *Dispatcher) Register(fd int, flags Flags, handler Handler) error {
	if fd < 0 || fd >= unix.FD_SETSIZE {
		return ErrFDOutOfRange
	}
	if flags&All == 0 {
		_ = x.Unregister(fd)
		return nil
	}
	if handler == nil {
		panic(`fdmux: nil handler`)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handlers[fd] = entry{handler: handler, flags: flags & All}
	if fd > x.maxFD {
		x.maxFD = fd
	}
	return nil
}

// Unregister removes the registration for fd.
func (x *Dispatcher) Unregister(fd int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.handlers[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(x.handlers, fd)
	if fd == x.maxFD {
		x.maxFD = -1
		for k := range x.handlers {
			if k > x.maxFD {
				x.maxFD = k
			}
		}
	}
	return nil
}

// Registered reports whether fd has a current registration.
func (x *Dispatcher) Registered(fd int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.handlers[fd]
	return ok
}

// Dispatch performs one readiness poll, waiting up to timeoutMs
// milliseconds ([TimeoutInfinite] to wait indefinitely, 0 to poll), then
// invokes one callback per ready descriptor, in ascending descriptor
// order. It returns the number of
// callbacks invoked, 0 on timeout or when nothing is registered, or -1 if
// the underlying select failed. An interrupted wait (EINTR) is reported as
// a plain timeout. A descriptor unregistered during the poll, or by an
// earlier callback in the same pass, is not invoked.
func (x *Dispatcher) Dispatch(timeoutMs int) int {
	x.mu.Lock()
	maxFD := x.maxFD
	if maxFD < 0 {
		x.mu.Unlock()
		return 0
	}
	var readSet, writeSet, exceptSet unix.FdSet
	fds := make([]int, 0, len(x.handlers))
	for fd, e := range x.handlers {
		if e.flags&Input != 0 {
			readSet.Set(fd)
		}
		if e.flags&Output != 0 {
			writeSet.Set(fd)
		}
		if e.flags&Exception != 0 {
			exceptSet.Set(fd)
		}
		fds = append(fds, fd)
	}
	x.mu.Unlock()
	sort.Ints(fds)

	var timeout *unix.Timeval
	if timeoutMs >= 0 {
		tv := unix.NsecToTimeval(int64(timeoutMs) * int64(time.Millisecond))
		timeout = &tv
	}

	n, err := unix.Select(maxFD+1, &readSet, &writeSet, &exceptSet, timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0
		}
		return -1
	}
	if n <= 0 {
		return 0
	}

	// One callback per descriptor, highest-priority ready condition only.
	// The registration is looked up fresh per descriptor, since earlier
	// callbacks in this pass (or a concurrent caller) may have changed it.
	count := 0
	for _, fd := range fds {
		x.mu.Lock()
		e, ok := x.handlers[fd]
		x.mu.Unlock()
		if !ok {
			continue
		}
		switch {
		case e.flags&Input != 0 && readSet.IsSet(fd):
			e.handler.OnReadReady(fd)
		case e.flags&Output != 0 && writeSet.IsSet(fd):
			e.handler.OnWriteReady(fd)
		case e.flags&Exception != 0 && exceptSet.IsSet(fd):
			e.handler.OnExceptionReady(fd)
		default:
			continue
		}
		count++
	}
	return count
}

// HasPending reports whether any registered descriptor is ready right now,
// via a zero-timeout probe.
func (x *Dispatcher) HasPending() bool {
	x.mu.Lock()
	maxFD := x.maxFD
	if maxFD < 0 {
		x.mu.Unlock()
		return false
	}
	var readSet, writeSet, exceptSet unix.FdSet
	for fd, e := range x.handlers {
		if e.flags&Input != 0 {
			readSet.Set(fd)
		}
		if e.flags&Output != 0 {
			writeSet.Set(fd)
		}
		if e.flags&Exception != 0 {
			exceptSet.Set(fd)
		}
	}
	x.mu.Unlock()

	tv := unix.Timeval{}
	n, err := unix.Select(maxFD+1, &readSet, &writeSet, &exceptSet, &tv)
	return err == nil && n > 0
}
