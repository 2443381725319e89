package threading

import "sync/atomic"

// ErrorSlot is a thread-safe, single-error handoff cell. A worker thread
// captures at most one error per run; ownership of the stored error moves
// to whichever goroutine takes it, so a failure is never delivered twice.
//
// The zero value is ready to use.
type ErrorSlot struct {
	p atomic.Pointer[errorBox]
}

type errorBox struct {
	err error
}

// Capture stores err if the slot is empty, returning true on success. A nil
// err, or a slot already holding an error, captures nothing: only the first
// failure of a run is retained.
func (x *ErrorSlot) Capture(err error) bool {
	if err == nil {
		return false
	}
	return x.p.CompareAndSwap(nil, &errorBox{err: err})
}

// TakeAndClear atomically removes and returns the stored error, or nil if
// the slot is empty. At most one caller observes any given capture.
func (x *ErrorSlot) TakeAndClear() error {
	if b := x.p.Swap(nil); b != nil {
		return b.err
	}
	return nil
}

// Pending reports whether an error is currently stored.
func (x *ErrorSlot) Pending() bool {
	return x.p.Load() != nil
}
