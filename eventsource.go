package threading

import "sync"

// EventSource is a minimal multi-listener notification mechanism.
// Registration is lock-guarded, so listeners may be added and removed
// concurrently with dispatch.
//
// The zero value is ready to use.
type EventSource[T any] struct {
	mu        sync.Mutex
	listeners []*Listener[T]
}

// Listener is a registration handle, used to remove a subscription.
type Listener[T any] struct {
	fn func(T)
}

// Add registers fn, returning its handle. Panics if fn is nil.
func (x *EventSource[T]) Add(fn func(T)) *Listener[T] {
	if fn == nil {
		panic(`threading: nil listener`)
	}
	l := &Listener[T]{fn: fn}
	x.mu.Lock()
	x.listeners = append(x.listeners, l)
	x.mu.Unlock()
	return l
}

// Remove unregisters l, returning false if it was not registered.
func (x *EventSource[T]) Remove(l *Listener[T]) bool {
	if l == nil {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, v := range x.listeners {
		if v == l {
			x.listeners = append(x.listeners[:i], x.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch invokes every currently-registered listener synchronously, in
// registration order, on the calling goroutine. Listener panics are not
// caught: a misbehaving listener can disrupt the dispatching path, which
// callers must be aware of (worker completion events dispatch from the
// worker's cleanup sequence).
func (x *EventSource[T]) Dispatch(v T) {
	x.mu.Lock()
	listeners := make([]*Listener[T], len(x.listeners))
	copy(listeners, x.listeners)
	x.mu.Unlock()
	for _, l := range listeners {
		l.fn(v)
	}
}
