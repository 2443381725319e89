// Package fdmux implements a select(2) based readiness multiplexer for
// small, externally-driven sets of file descriptors.
//
// A [Dispatcher] maps registered descriptors to [Handler] callbacks, and
// each [Dispatcher.Dispatch] call performs one bounded readiness poll,
// invoking at most one callback per ready descriptor. The dispatcher has
// no thread of its own; it is intended to be pumped from a worker loop,
// such as a [github.com/joeycumines/go-threading.Worker] task.
//
// Only Unix-like platforms are supported.
package fdmux
