package threading

import (
	"time"

	"github.com/joeycumines/logiface"
)

const (
	defaultStartTimeout     = 3 * time.Second
	defaultSelfWaitInterval = 333 * time.Millisecond
)

// workerOptions holds configuration resolved from WorkerOption values.
type workerOptions struct {
	logger           *logiface.Logger[logiface.Event]
	startTimeout     time.Duration
	selfWaitInterval time.Duration
}

// WorkerOption configures a [Worker] instance.
type WorkerOption interface {
	applyWorker(*workerOptions)
}

// workerOptionImpl implements WorkerOption.
type workerOptionImpl struct {
	applyWorkerFunc func(*workerOptions)
}

func (x *workerOptionImpl) applyWorker(opts *workerOptions) {
	x.applyWorkerFunc(opts)
}

// WithLogger sets the structured logger used for worker lifecycle and
// diagnostic events. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) {
		opts.logger = logger
	}}
}

// WithStartTimeout bounds how long [Worker.Start] blocks on the startup
// handshake before reporting a creation failure. Defaults to 3s; values
// <= 0 are ignored.
func WithStartTimeout(d time.Duration) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) {
		if d > 0 {
			opts.startTimeout = d
		}
	}}
}

// WithSelfWaitInterval sets the slice length for the deadlock-safe waits
// used to join or cancel the worker. Shorter slices surface worker failures
// to waiting goroutines sooner, at the cost of more wakeups. Defaults to
// 333ms; values <= 0 are ignored.
func WithSelfWaitInterval(d time.Duration) WorkerOption {
	return &workerOptionImpl{func(opts *workerOptions) {
		if d > 0 {
			opts.selfWaitInterval = d
		}
	}}
}

// resolveWorkerOptions applies WorkerOption instances to workerOptions.
func resolveWorkerOptions(opts []WorkerOption) *workerOptions {
	cfg := &workerOptions{
		startTimeout:     defaultStartTimeout,
		selfWaitInterval: defaultSelfWaitInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyWorker(cfg)
	}
	return cfg
}
