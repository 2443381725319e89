package threading

import (
	"errors"
	"fmt"
)

// Sentinel results returned by the synchronization primitives. A nil error
// is the success ("no error") result.
var (
	// ErrBusy indicates a try-style acquisition found the resource held.
	ErrBusy = errors.New(`threading: resource busy`)

	// ErrTimeout indicates a timed wait elapsed without acquisition.
	ErrTimeout = errors.New(`threading: wait timed out`)

	// ErrInvalid indicates the primitive was not constructed via its
	// factory function (the zero value is not usable).
	ErrInvalid = errors.New(`threading: primitive not initialized`)

	// ErrMisc indicates an unspecified primitive failure, e.g. unlocking a
	// mutex the caller does not hold.
	ErrMisc = errors.New(`threading: unspecified primitive failure`)

	// ErrOverflow indicates a semaphore post would exceed its maximum.
	ErrOverflow = errors.New(`threading: semaphore count would exceed maximum`)
)

// TaskErrorKind discriminates the closed set of task failure variants.
type TaskErrorKind int

const (
	// TaskErrorRuntime indicates the task returned a non-nil error.
	TaskErrorRuntime TaskErrorKind = iota

	// TaskErrorPanic indicates the task panicked; the cause is a
	// [PanicError] wrapping the recovered value.
	TaskErrorPanic
)

// String returns a human-readable representation of the kind.
func (k TaskErrorKind) String() string {
	switch k {
	case TaskErrorRuntime:
		return "runtime"
	case TaskErrorPanic:
		return "panic"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// TaskError is the failure captured when a worker's task errors or panics,
// annotated with the worker that raised it. It is delivered, exactly once,
// to whichever goroutine next waits on or cancels the worker.
type TaskError struct {
	Cause  error
	Worker string
	Kind   TaskErrorKind
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("threading: worker %q task failed (%s): %v", e.Worker, e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and
// [errors.As].
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("threading: recovered from panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] matching through the cause chain.
// If the panic value is not an error, returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ThreadCreationError indicates a worker thread could not be brought up:
// either the new thread never posted its startup semaphore within the start
// timeout, or it failed before completing initialization.
type ThreadCreationError struct {
	Cause  error
	Worker string
}

// Error implements the error interface.
func (e *ThreadCreationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("threading: worker %q creation failed: %v", e.Worker, e.Cause)
	}
	return fmt.Sprintf("threading: worker %q never posted its startup semaphore", e.Worker)
}

// Unwrap returns the underlying cause for use with [errors.Is] and
// [errors.As].
func (e *ThreadCreationError) Unwrap() error {
	return e.Cause
}

// cancelUnwind is the panic value used by cancellation points to unwind a
// worker thread. It is recovered by the worker entry sequence, and treated
// as a clean canceled exit, never as a task failure.
type cancelUnwind struct{}

// errCanceledUnwind is the internal task outcome for a cancellation point
// unwind.
var errCanceledUnwind = errors.New(`threading: worker canceled`)
