package threading

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/petermattis/goid"
)

type (
	// Task is the unit of work run by a [Worker]. ExecuteTask runs on the
	// worker's dedicated thread; ctx is canceled when cancellation of the
	// worker is requested, and long-running tasks are expected to observe
	// it (or call [Worker.TestCancel]) periodically and exit cleanly.
	//
	// Implementations may additionally implement any of [TaskOnStart],
	// [TaskOnStartInThread], and [TaskOnCleanupInThread].
	Task interface {
		ExecuteTask(ctx context.Context) error
	}

	// TaskFunc adapts a plain function to [Task].
	TaskFunc func(ctx context.Context) error

	// TaskOnStart is an optional [Task] extension, invoked on the owner
	// goroutine, under the start lock, before the worker thread is
	// spawned. A non-nil error aborts [Worker.Start].
	TaskOnStart interface {
		OnStart() error
	}

	// TaskOnStartInThread is an optional [Task] extension, invoked on the
	// worker thread, after the worker's internal state is established but
	// before the startup semaphore is posted. The goroutine that called
	// [Worker.Start] is still parked on the handshake, so state set here
	// is visible to it once Start returns.
	TaskOnStartInThread interface {
		OnStartInThread()
	}

	// TaskOnCleanupInThread is an optional [Task] extension, invoked on
	// the worker thread after the task ends or is canceled, before the
	// in-thread mutex is released. It always runs, regardless of the task
	// outcome.
	TaskOnCleanupInThread interface {
		OnCleanupInThread()
	}
)

// ExecuteTask implements [Task].
func (f TaskFunc) ExecuteTask(ctx context.Context) error {
	return f(ctx)
}

// Worker wraps one dedicated OS thread with a managed lifecycle:
// construct, [Worker.Start], run, [Worker.Cancel] or finish, and
// [Worker.Detach] - reusable, in that a finished worker may be started
// again.
//
// While active, the worker thread holds the in-thread mutex, which is the
// single arbiter of "is this worker active": other goroutines block
// against it (via the deadlock-safe bounded-slice waits) to detect
// completion without racing the running flag. The running flag itself is
// cleared by the worker thread as the very last action before it exits,
// so external observers never see a stopped worker whose cleanup is still
// touching shared state.
//
// Start, Cancel, Wait, Detach, and Close must not be called from the
// worker's own thread; violations are reported per [SetAffinityCheckFatal].
// Read-only queries (IsRunning, IsSelf, Name) are safe from any goroutine.
type Worker struct {
	name string
	task Task

	logger           *logiface.Logger[logiface.Event]
	warnRate         *catrate.Limiter
	startTimeout     time.Duration
	selfWaitInterval time.Duration

	// mtxStart serializes Start against Cancel, and both against
	// themselves.
	mtxStart *Mutex
	// inThread is held by the worker thread for its entire active
	// lifetime: acquired at thread entry, released at thread cleanup.
	inThread   *Mutex
	semStartup *Semaphore

	// runCtx/runCancel belong to the current run; written under mtxStart
	// before the thread is spawned, read by the worker thread and under
	// mtxStart.
	runCtx    context.Context
	runCancel context.CancelFunc

	except   ErrorSlot
	finished EventSource[*Worker]

	gid             atomic.Int64
	cancelDisabled  atomic.Int32
	running         atomic.Bool
	detached        atomic.Bool
	cancelRequested atomic.Bool
}

// affinityCheckFatal selects how misuse of thread-affine operations is
// reported: fatal panic, or rate-limited warning and best-effort ignore.
var affinityCheckFatal atomic.Bool

// SetAffinityCheckFatal selects whether calling a thread-affine operation
// from the wrong thread (e.g. [Worker.Cancel] from the worker's own
// thread) panics, instead of being logged and ignored. Off by default;
// enable in development builds.
func SetAffinityCheckFatal(v bool) {
	affinityCheckFatal.Store(v)
}

// NewWorker returns a named worker running task. The name is used only for
// diagnostics. Panics if task is nil.
func NewWorker(name string, task Task, opts ...WorkerOption) *Worker {
	if task == nil {
		panic(`threading: nil task`)
	}
	cfg := resolveWorkerOptions(opts)
	w := &Worker{
		name:             name,
		task:             task,
		logger:           cfg.logger,
		startTimeout:     cfg.startTimeout,
		selfWaitInterval: cfg.selfWaitInterval,
		mtxStart:         NewMutex(),
		inThread:         NewMutex(),
		semStartup:       NewSemaphore(0, 0),
		warnRate: catrate.NewLimiter(map[time.Duration]int{
			3 * time.Second: 1,
			time.Minute:     5,
		}),
	}
	// no thread yet; the first Start has nothing to detach
	w.detached.Store(true)
	return w
}

// Name returns the worker's diagnostic identifier.
func (x *Worker) Name() string {
	return x.name
}

// IsRunning reports whether the worker thread is currently active. True
// from the moment Start returns until the worker thread's final action.
func (x *Worker) IsRunning() bool {
	return x.running.Load()
}

// IsSelf reports whether the calling goroutine is the worker's own thread.
// Always false for a detached worker, since its identity may since have
// been reused.
func (x *Worker) IsSelf() bool {
	return !x.detached.Load() && x.gid.Load() == goid.Get()
}

// Finished exposes the completion event source. Listeners are invoked
// synchronously from the worker thread's cleanup sequence, after the
// cleanup hook, each time a run ends - whether it finished, failed, or was
// canceled.
func (x *Worker) Finished() *EventSource[*Worker] {
	return &x.finished
}

// Start brings up the worker thread, or returns nil immediately if it is
// already running. Must not be called from the worker's own thread.
//
// Start blocks, bounded by the start timeout, until the new thread has
// established its internal state and posted the startup semaphore; any
// state set by [TaskOnStartInThread] is therefore visible once Start
// returns, and IsRunning is guaranteed true. On handshake timeout, the
// error captured by the new thread is returned if present, else a
// [*ThreadCreationError].
func (x *Worker) Start() error {
	if !x.affinityDisallowFromSelf(`Start`) {
		return nil
	}
	_ = x.mtxStart.Lock()
	defer x.mtxStart.Unlock()

	if x.running.Load() {
		return nil
	}

	x.Detach() // release any stale handle from the previous run

	if x.inThread.RecreateIfLocked() {
		// The previous holder never released it - almost certainly a
		// deadlocked or leaked thread from a prior run.
		x.logger.Warning().Str(`worker`, x.name).Log(`replacing abandoned in-thread lock`)
	}
	x.semStartup.Reset()
	x.except.TakeAndClear()

	if h, ok := x.task.(TaskOnStart); ok {
		if err := h.OnStart(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	x.runCtx, x.runCancel = ctx, cancel
	x.cancelRequested.Store(false)

	go x.threadEntry(ctx)

	if err := x.semStartup.WaitTimeout(x.startTimeout); err != nil {
		if captured := x.except.TakeAndClear(); captured != nil {
			return captured
		}
		err = &ThreadCreationError{Worker: x.name}
		x.logger.Err().Err(err).Str(`worker`, x.name).Log(`worker startup handshake timed out`)
		return err
	}

	x.logger.Debug().Str(`worker`, x.name).Log(`worker started`)
	return nil
}

// threadEntry is the worker thread's entry sequence. The release of
// inThread and the clearing of running are the final actions, in that
// order: the running flag may only be cleared once nothing in this run
// touches shared state again.
func (x *Worker) threadEntry(ctx context.Context) {
	runtime.LockOSThread()
	_ = x.inThread.Lock()

	gid := goid.Get()
	x.gid.Store(gid)
	registerCurrentWorker(gid, x)

	x.running.Store(true)
	x.detached.Store(false)
	if h, ok := x.task.(TaskOnStartInThread); ok {
		h.OnStartInThread()
	}

	_ = x.semStartup.Post()

	err := x.runTask(ctx)
	switch {
	case err == nil:
		x.logger.Trace().Str(`worker`, x.name).Log(`worker task finished`)
	case x.isCanceledOutcome(err):
		x.logger.Debug().Str(`worker`, x.name).Log(`worker canceled`)
	default:
		kind := TaskErrorRuntime
		if _, ok := err.(PanicError); ok {
			kind = TaskErrorPanic
		}
		x.except.Capture(&TaskError{Cause: err, Worker: x.name, Kind: kind})
		x.logger.Err().Err(err).Str(`worker`, x.name).Log(`worker task failed`)
	}

	x.runCleanupHook()
	unregisterCurrentWorker(gid)
	x.gid.Store(0)
	x.finished.Dispatch(x)

	_ = x.inThread.Unlock()
	x.running.Store(false)
}

// runTask invokes the user task, converting panics into captured errors. A
// cancellation point unwind is mapped to the internal canceled outcome,
// never to a task failure.
func (x *Worker) runTask(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(cancelUnwind); ok {
				err = errCanceledUnwind
				return
			}
			err = PanicError{Value: r}
		}
	}()
	return x.task.ExecuteTask(ctx)
}

// runCleanupHook invokes the optional cleanup hook, capturing a panic into
// the error slot (if still empty) rather than letting it unwind past the
// cleanup sequence: the in-thread mutex release and the clearing of running
// must happen no matter how the hook behaves.
func (x *Worker) runCleanupHook() {
	h, ok := x.task.(TaskOnCleanupInThread)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := &TaskError{Cause: PanicError{Value: r}, Worker: x.name, Kind: TaskErrorPanic}
			x.except.Capture(err)
			x.logger.Err().Err(err).Str(`worker`, x.name).Log(`worker cleanup hook panicked`)
		}
	}()
	h.OnCleanupInThread()
}

func (x *Worker) isCanceledOutcome(err error) bool {
	if err == errCanceledUnwind {
		return true
	}
	return x.cancelRequested.Load() && errors.Is(err, context.Canceled)
}

// requestCancel arms cancellation for the current run. Caller must hold
// mtxStart. Returns false if there is nothing to cancel: the worker is not
// running, or its handle is detached.
func (x *Worker) requestCancel() bool {
	if !x.running.Load() || x.detached.Load() {
		return false
	}
	x.cancelRequested.Store(true)
	if cancel := x.runCancel; cancel != nil {
		cancel()
	}
	x.logger.Debug().Str(`worker`, x.name).Log(`worker cancellation requested`)
	return true
}

// Cancel requests cancellation of the worker thread, if it is running and
// not detached. Canceling a finished or detached worker is a no-op. Must
// not be called from the worker's own thread.
//
// If block is true, Cancel performs the deadlock-safe wait for the worker
// to finish, detaches the handle, and returns any error the worker
// terminated with (delivered at most once).
func (x *Worker) Cancel(block bool) error {
	if !x.affinityDisallowFromSelf(`Cancel`) {
		return nil
	}
	_ = x.mtxStart.Lock()
	defer x.mtxStart.Unlock()

	if !x.requestCancel() {
		return nil
	}
	if !block {
		return nil
	}
	err := x.WaitOnMutex(x.inThread)
	x.Detach()
	return err
}

// CancelTimeout is the bounded form of a blocking [Worker.Cancel]: it
// requests cancellation and waits up to d for the worker to finish. On
// timeout it returns false without detaching, leaving the worker
// cancelable again later. A true result with a nil error means the worker
// finished cleanly (or was already finished); a non-nil error is the
// failure the worker terminated with.
func (x *Worker) CancelTimeout(d time.Duration) (bool, error) {
	if !x.affinityDisallowFromSelf(`Cancel`) {
		return true, nil
	}
	_ = x.mtxStart.Lock()
	defer x.mtxStart.Unlock()

	if !x.requestCancel() {
		return true, nil
	}
	finished, err := x.WaitOnMutexTimeout(x.inThread, d)
	if !finished {
		return false, nil
	}
	x.Detach()
	return true, err
}

// Wait blocks until the worker finishes, using the deadlock-safe
// bounded-slice wait, and returns the error the worker terminated with, if
// any. The error is consumed: a second Wait returns nil. Waiting on a
// worker that never started returns nil immediately. Must not be called
// from the worker's own thread.
func (x *Worker) Wait() error {
	if !x.affinityDisallowFromSelf(`Wait`) {
		return nil
	}
	return x.WaitOnMutex(x.inThread)
}

// WaitOnMutex is a deadlock-safe wait on a mutex held by the worker
// thread, typically the in-thread mutex. Rather than blocking unbounded,
// it loops on short bounded slices, checking between slices whether the
// worker terminated with an error; a captured error is returned (consumed)
// in the waiting goroutine promptly, instead of being observed only after
// an indefinite block. The mutex is not left held. Must not be called from
// the worker's own thread.
func (x *Worker) WaitOnMutex(m *Mutex) error {
	if !x.affinityDisallowFromSelf(`WaitOnMutex`) {
		return nil
	}
	for {
		switch err := m.LockTimeout(x.selfWaitInterval); err {
		case nil:
			_ = m.Unlock()
			return x.except.TakeAndClear()
		case ErrTimeout:
		default:
			return err
		}
		if x.except.Pending() {
			return x.except.TakeAndClear()
		}
		x.warnStillWaiting()
	}
}

// WaitOnMutexTimeout is the bounded form of [Worker.WaitOnMutex]. The
// bool reports whether the wait completed (the mutex became acquirable, or
// the worker terminated with the returned error); false means d elapsed.
func (x *Worker) WaitOnMutexTimeout(m *Mutex, d time.Duration) (bool, error) {
	if !x.affinityDisallowFromSelf(`WaitOnMutex`) {
		return true, nil
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		switch err := m.LockTimeout(min(remaining, x.selfWaitInterval)); err {
		case nil:
			_ = m.Unlock()
			return true, x.except.TakeAndClear()
		case ErrTimeout:
		default:
			return true, err
		}
		if x.except.Pending() {
			return true, x.except.TakeAndClear()
		}
	}
}

// WaitOnSemaphore is a deadlock-safe wait on a semaphore posted by the
// worker thread, with the same bounded-slice error surfacing as
// [Worker.WaitOnMutex]. Must not be called from the worker's own thread.
func (x *Worker) WaitOnSemaphore(sem *Semaphore) error {
	if !x.affinityDisallowFromSelf(`WaitOnSemaphore`) {
		return nil
	}
	for {
		switch err := sem.WaitTimeout(x.selfWaitInterval); err {
		case nil:
			return nil
		case ErrTimeout:
		default:
			return err
		}
		if x.except.Pending() {
			return x.except.TakeAndClear()
		}
		x.warnStillWaiting()
	}
}

// WaitOnSemaphoreTimeout is the bounded form of [Worker.WaitOnSemaphore].
func (x *Worker) WaitOnSemaphoreTimeout(sem *Semaphore, d time.Duration) (bool, error) {
	if !x.affinityDisallowFromSelf(`WaitOnSemaphore`) {
		return true, nil
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		switch err := sem.WaitTimeout(min(remaining, x.selfWaitInterval)); err {
		case nil:
			return true, nil
		case ErrTimeout:
		default:
			return true, err
		}
		if x.except.Pending() {
			return true, x.except.TakeAndClear()
		}
	}
}

// Detach marks the worker's thread handle as no longer owned, so no join
// will reclaim it. Idempotent under race: only the caller that flips the
// flag observes true. Must not be called from the worker's own thread.
func (x *Worker) Detach() bool {
	if !x.affinityDisallowFromSelf(`Detach`) {
		return false
	}
	return !x.detached.Swap(true)
}

// TestCancel inserts a cancellation point: if cancellation of the worker
// has been requested, and cancellation points are not disabled, the worker
// thread unwinds and exits via its cleanup sequence. Only meaningful from
// the worker's own thread; calls from elsewhere do nothing.
func (x *Worker) TestCancel() {
	if !x.IsSelf() {
		return
	}
	if x.cancelRequested.Load() && x.cancelDisabled.Load() == 0 {
		panic(cancelUnwind{})
	}
}

// Close is the worker's last-chance cleanup: a blocking wait for
// completion if running, a brief yield, then detach. It returns any error
// the worker terminated with. Never call Close from the worker's own
// thread - that is a self-join.
//
// Note that a worker will, by design, not terminate unless its task
// returns or it is canceled; callers should almost always cancel
// explicitly rather than rely on Close blocking.
func (x *Worker) Close() error {
	if !x.affinityDisallowFromSelf(`Close`) {
		return nil
	}
	var err error
	if x.running.Load() {
		err = x.WaitOnMutex(x.inThread)
	}
	time.Sleep(time.Millisecond)
	x.Detach()
	return err
}

// affinityDisallowFromSelf reports whether the operation may proceed,
// handling the misuse case (called from the worker's own thread) per
// SetAffinityCheckFatal.
func (x *Worker) affinityDisallowFromSelf(op string) bool {
	if !x.IsSelf() {
		return true
	}
	if affinityCheckFatal.Load() {
		panic(`threading: ` + op + ` called from its own worker thread`)
	}
	if _, ok := x.warnRate.Allow(`affinity:` + op); ok {
		x.logger.Warning().Str(`worker`, x.name).Str(`op`, op).Log(`operation invoked from its own worker thread; ignored`)
	}
	return false
}

func (x *Worker) warnStillWaiting() {
	if _, ok := x.warnRate.Allow(`slow:` + x.name); ok {
		x.logger.Warning().Str(`worker`, x.name).Dur(`interval`, x.selfWaitInterval).Log(`still waiting for worker to finish`)
	}
}
