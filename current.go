package threading

import (
	"sync"

	"github.com/petermattis/goid"
)

// The current-worker registry maps goroutine IDs to their Worker for the
// duration of the worker thread's run. The map itself is created when the
// first worker registers and torn down when the last one exits, so an idle
// process holds no registry state - an explicit init-refcount/teardown
// pair, rather than ad hoc globals.
var curWorkers struct {
	mu    sync.Mutex
	byGID map[int64]*Worker
	refs  int
}

func registerCurrentWorker(gid int64, w *Worker) {
	curWorkers.mu.Lock()
	defer curWorkers.mu.Unlock()
	if curWorkers.refs == 0 {
		curWorkers.byGID = make(map[int64]*Worker)
	}
	curWorkers.refs++
	curWorkers.byGID[gid] = w
}

func unregisterCurrentWorker(gid int64) {
	curWorkers.mu.Lock()
	defer curWorkers.mu.Unlock()
	if curWorkers.byGID == nil {
		return
	}
	if _, ok := curWorkers.byGID[gid]; !ok {
		return
	}
	delete(curWorkers.byGID, gid)
	curWorkers.refs--
	if curWorkers.refs == 0 {
		curWorkers.byGID = nil
	}
}

// CurrentWorker returns the [Worker] whose thread the calling goroutine is,
// or nil when called from outside any worker thread.
func CurrentWorker() *Worker {
	curWorkers.mu.Lock()
	defer curWorkers.mu.Unlock()
	return curWorkers.byGID[goid.Get()]
}

// currentCancelChan returns the channel that fires when the calling
// worker's cancellation is requested, or nil (which never fires in a
// select) when the caller is not a worker thread, or its cancellation
// points are currently disabled.
func currentCancelChan() <-chan struct{} {
	w := CurrentWorker()
	if w == nil || w.cancelDisabled.Load() != 0 {
		return nil
	}
	if ctx := w.runCtx; ctx != nil {
		return ctx.Done()
	}
	return nil
}

// disableCancellation suppresses the calling worker's cancellation points,
// returning a func restoring the prior state. A no-op outside a worker.
func disableCancellation() func() {
	w := CurrentWorker()
	if w == nil {
		return func() {}
	}
	w.cancelDisabled.Add(1)
	return func() { w.cancelDisabled.Add(-1) }
}
