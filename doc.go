// Package threading provides persistent worker threads with managed
// start/cancel/join lifecycles, plus the timed synchronization primitives
// they are built on.
//
// The core abstraction is [Worker], a restartable, named wrapper around one
// dedicated OS thread (a goroutine pinned via runtime.LockOSThread). A
// worker's owner starts it with a two-phase handshake, so that
// [Worker.Start] never returns before the new thread has established its
// internal state, and joins or cancels it using bounded-slice waits that
// surface any error captured by the worker promptly in the waiting
// goroutine, rather than blocking indefinitely.
//
// The supporting primitives ([Mutex], [Cond], [Semaphore]) offer timed and
// try variants with sentinel error results, and participate in the worker
// cancellation model: semaphore and condition waits performed on a worker
// thread are cancellation points, and may be made uncancellable for a
// window via [Semaphore.WaitNoCancel].
//
// [EventSource] provides a minimal multi-listener notification mechanism,
// used by workers to announce completion, and the fdmux subpackage provides
// a select(2) based file descriptor readiness dispatcher for event-loop
// drivers.
package threading
