package activity

import (
	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// Fault describes a failure observed on a pool worker: a task that returned
// an error, a task that panicked, or a completion callback that panicked.
type Fault struct {
	// Worker is the name of the worker goroutine, e.g. "robot-3".
	Worker string
	// Activity is the ID of the activity being run.
	Activity string
	// Err is the task error or a *errors.PanicError.
	Err error
	// Stack holds the panicking goroutine's stack; nil for returned errors.
	Stack []byte
}

// Panicked reports whether the fault came from a recovered panic.
func (f Fault) Panicked() bool {
	return errors.IsPanic(f.Err)
}

// FaultHandler receives every fault a pool observes. It is called on the
// worker that observed the fault, so it must not block for long.
type FaultHandler func(Fault)

// LogFaults returns a FaultHandler that writes each fault to logger at the
// level of its error severity. Panics are logged with their stack.
func LogFaults(logger *logging.Logger) FaultHandler {
	return func(f Fault) {
		msg := "activity failed"
		if f.Panicked() {
			msg = "activity panicked"
		}
		logger.WithWorker(f.Worker).WithActivity(f.Activity).LogError(msg, f.Err)
	}
}
