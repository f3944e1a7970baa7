package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// Call it in a defer. The panic is not re-raised, so the surrounding
// goroutine survives; use only where a failed run is recoverable, like
// scheduled jobs.
//
//	defer observability.RecoverPanic(logger, "invite sweep")
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
