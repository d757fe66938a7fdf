package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Kernel panics mean trusted code broke an invariant: a wedged crypto
// engine, a malformed response from a trusted subsystem, a work counter
// underflow. Untrusted input never reaches this path; malformed apps are
// skipped, not fatal.

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(string)
)

// InPanicMode reports whether the kernel has panicked.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide handler invoked at most once,
// before the Go panic unwinds. It must not panic.
func SetPanicHandler(fn func(msg string)) {
	panicHandler.Store(fn)
}

// Panicf reports a fatal kernel invariant violation and does not return.
func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	panicOnce.Do(func() {
		panicActive.Store(true)
		if v := panicHandler.Load(); v != nil {
			if fn, ok := v.(func(string)); ok && fn != nil {
				fn(msg)
			}
		}
	})
	panic("kernel: " + msg)
}
